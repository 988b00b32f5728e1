// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gorillaws "github.com/gorilla/websocket"

	"github.com/arialgardner/techno-canvas-sub001/internal/cache"
	"github.com/arialgardner/techno-canvas-sub001/internal/config"
	"github.com/arialgardner/techno-canvas-sub001/internal/conflict"
	"github.com/arialgardner/techno-canvas-sub001/internal/engine"
	"github.com/arialgardner/techno-canvas-sub001/internal/identity"
	"github.com/arialgardner/techno-canvas-sub001/internal/models"
	"github.com/arialgardner/techno-canvas-sub001/internal/oplog"
	"github.com/arialgardner/techno-canvas-sub001/internal/predict"
	"github.com/arialgardner/techno-canvas-sub001/internal/reconcile"
	"github.com/arialgardner/techno-canvas-sub001/internal/store"
	"github.com/arialgardner/techno-canvas-sub001/internal/websocket"
)

type fakeReconciler struct {
	result reconcile.Result
	err    error
	calls  int
}

func (f *fakeReconciler) Trigger(ctx context.Context, canvasID string) (reconcile.Result, error) {
	f.calls++
	if f.err != nil {
		return reconcile.Result{}, f.err
	}
	f.result.CanvasID = canvasID
	return f.result, nil
}

type apiRig struct {
	server     *httptest.Server
	arena      *store.Arena
	engine     *engine.Engine
	hub        *websocket.Hub
	reconciler *fakeReconciler
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()

	arena := store.NewArena()

	auth, err := store.OpenStore(config.StoreConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("open authoritative store: %v", err)
	}
	t.Cleanup(func() { auth.Close() })

	log, err := oplog.Open(config.OpLogConfig{
		Path:            t.TempDir(),
		MaxEntries:      1000,
		Retention:       time.Hour,
		SubscribeReplay: 100,
		AckTimeout:      5 * time.Second,
	})
	if err != nil {
		t.Fatalf("open oplog: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	ident, err := identity.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open identity: %v", err)
	}
	t.Cleanup(func() { ident.Close() })

	dedup := cache.NewTTL(time.Minute)
	t.Cleanup(dedup.Stop)

	detector := conflict.NewDetector(config.ConflictConfig{Window: time.Second, HistorySize: 100})

	hub := websocket.NewHub()
	hubCtx, hubCancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(hubCtx)
		close(hubDone)
	}()
	t.Cleanup(func() {
		hubCancel()
		<-hubDone
	})

	eng := engine.New(engine.Params{
		Arena:         arena,
		Authoritative: auth,
		Log:           log,
		Identity:      ident,
		Detector:      detector,
		Dedup:         dedup,
		Leases:        store.NewLeaseTable(30 * time.Second),
		Sink:          hub,
	})

	preds := predict.NewManager(config.PredictionConfig{Timeout: 10 * time.Second}, eng.Rollback)
	t.Cleanup(preds.Close)
	eng.SetPredictions(preds)

	rec := &fakeReconciler{result: reconcile.Result{Added: 1}}

	handler := NewHandler(HandlerParams{
		Engine:      eng,
		Arena:       arena,
		Log:         log,
		Detector:    detector,
		Predictions: preds,
		Identity:    ident,
		Reconciler:  rec,
		Hub:         hub,
		CORSOrigins: []string{"*"},
	})

	mw := NewMiddleware(&MiddlewareConfig{
		CORSAllowedOrigins: []string{"*"},
		RateLimitDisabled:  true,
	})

	server := httptest.NewServer(NewRouter(handler, mw).Setup())
	t.Cleanup(server.Close)

	return &apiRig{
		server:     server,
		arena:      arena,
		engine:     eng,
		hub:        hub,
		reconciler: rec,
	}
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, APIResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded APIResponse
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, decoded
}

func TestSubmitOperationCreate(t *testing.T) {
	rig := newAPIRig(t)

	resp, body := doJSON(t, http.MethodPost, rig.server.URL+"/api/v1/canvases/c1/operations", models.MutationRequest{
		Type:      models.OpCreate,
		ShapeID:   "s1",
		Delta:     &models.Delta{X: models.Float64(10), Y: models.Float64(20)},
		BaseState: &models.Shape{Type: models.ShapeRectangle, Width: 100, Height: 50},
	})

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if !body.Success {
		t.Error("response success = false")
	}

	shape, ok := rig.arena.Get("c1", "s1")
	if !ok {
		t.Fatal("shape not in arena after submission")
	}
	if shape.X != 10 || shape.Y != 20 {
		t.Errorf("shape at (%v,%v), want (10,20)", shape.X, shape.Y)
	}
}

func TestSubmitOperationMalformed(t *testing.T) {
	rig := newAPIRig(t)

	resp, body := doJSON(t, http.MethodPost, rig.server.URL+"/api/v1/canvases/c1/operations", models.MutationRequest{
		Type:    models.OpUpdate,
		ShapeID: "s1",
		// Update without a delta is malformed.
	})

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body.Error == nil || body.Error.Code != ErrCodeValidationFailed {
		t.Errorf("error code = %+v, want VALIDATION_FAILED", body.Error)
	}
}

func TestSubmitOperationInvalidJSON(t *testing.T) {
	rig := newAPIRig(t)

	resp, err := http.Post(
		rig.server.URL+"/api/v1/canvases/c1/operations",
		"application/json",
		strings.NewReader("{not json"),
	)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetShape(t *testing.T) {
	rig := newAPIRig(t)
	rig.arena.Put("c1", &models.Shape{ID: "s1", Type: models.ShapeCircle, Radius: 40})

	resp, body := doJSON(t, http.MethodGet, rig.server.URL+"/api/v1/canvases/c1/shapes/s1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	raw, _ := json.Marshal(body.Data)
	var shape models.Shape
	if err := json.Unmarshal(raw, &shape); err != nil {
		t.Fatalf("decode shape: %v", err)
	}
	if shape.ID != "s1" || shape.Radius != 40 {
		t.Errorf("shape = %+v, want s1 with radius 40", shape)
	}
}

func TestGetShapeNotFound(t *testing.T) {
	rig := newAPIRig(t)

	resp, body := doJSON(t, http.MethodGet, rig.server.URL+"/api/v1/canvases/c1/shapes/ghost", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if body.Error == nil || body.Error.Code != ErrCodeNotFound {
		t.Errorf("error = %+v, want NOT_FOUND", body.Error)
	}
}

func TestListShapes(t *testing.T) {
	rig := newAPIRig(t)
	rig.arena.Put("c1", &models.Shape{ID: "s1", Type: models.ShapeRectangle})
	rig.arena.Put("c1", &models.Shape{ID: "s2", Type: models.ShapeCircle})
	rig.arena.Put("c2", &models.Shape{ID: "s3", Type: models.ShapeText})

	resp, body := doJSON(t, http.MethodGet, rig.server.URL+"/api/v1/canvases/c1/shapes", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	data, ok := body.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data has unexpected type %T", body.Data)
	}
	if count, _ := data["count"].(float64); count != 2 {
		t.Errorf("count = %v, want 2", data["count"])
	}
}

func TestReplayOperations(t *testing.T) {
	rig := newAPIRig(t)

	for i := 0; i < 3; i++ {
		resp, _ := doJSON(t, http.MethodPost, rig.server.URL+"/api/v1/canvases/c1/operations", models.MutationRequest{
			Type:      models.OpCreate,
			ShapeID:   "s" + string(rune('1'+i)),
			Delta:     &models.Delta{X: models.Float64(float64(i))},
			BaseState: &models.Shape{Type: models.ShapeRectangle},
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("seed submit status = %d", resp.StatusCode)
		}
	}

	resp, body := doJSON(t, http.MethodGet, rig.server.URL+"/api/v1/canvases/c1/operations?limit=2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data := body.Data.(map[string]interface{})
	if count, _ := data["count"].(float64); count != 2 {
		t.Errorf("count = %v, want 2", data["count"])
	}
}

func TestReplayOperationsBadLimit(t *testing.T) {
	rig := newAPIRig(t)

	resp, _ := doJSON(t, http.MethodGet, rig.server.URL+"/api/v1/canvases/c1/operations?limit=zero", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTriggerReconcile(t *testing.T) {
	rig := newAPIRig(t)

	resp, body := doJSON(t, http.MethodPost, rig.server.URL+"/api/v1/canvases/c1/reconcile", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !body.Success {
		t.Error("response success = false")
	}
	if rig.reconciler.calls != 1 {
		t.Errorf("reconciler calls = %d, want 1", rig.reconciler.calls)
	}
}

func TestTriggerReconcileThrottled(t *testing.T) {
	rig := newAPIRig(t)
	rig.reconciler.err = reconcile.ErrThrottled

	resp, body := doJSON(t, http.MethodPost, rig.server.URL+"/api/v1/canvases/c1/reconcile", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if body.Error == nil || body.Error.Code != ErrCodeTooManyRequests {
		t.Errorf("error = %+v, want TOO_MANY_REQUESTS", body.Error)
	}
}

func TestTriggerReconcileUnavailable(t *testing.T) {
	rig := newAPIRig(t)
	rig.reconciler.err = errors.New("fetch failed")

	resp, _ := doJSON(t, http.MethodPost, rig.server.URL+"/api/v1/canvases/c1/reconcile", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestLeaseLifecycle(t *testing.T) {
	rig := newAPIRig(t)
	rig.arena.Put("c1", &models.Shape{ID: "s1", Type: models.ShapeText, Text: "hi"})

	leaseURL := rig.server.URL + "/api/v1/canvases/c1/shapes/s1/lease"

	resp, _ := doJSON(t, http.MethodPost, leaseURL, leaseRequest{UserID: "alice"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("acquire status = %d, want 200", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, leaseURL, leaseRequest{UserID: "bob"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("competing acquire status = %d, want 409", resp.StatusCode)
	}
	if body.Error == nil || body.Error.Code != ErrCodeConflict {
		t.Errorf("error = %+v, want CONFLICT", body.Error)
	}

	resp, _ = doJSON(t, http.MethodDelete, leaseURL, leaseRequest{UserID: "alice"})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("release status = %d, want 204", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, leaseURL, leaseRequest{UserID: "bob"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("acquire after release status = %d, want 200", resp.StatusCode)
	}
}

func TestLeaseRequiresUserID(t *testing.T) {
	rig := newAPIRig(t)

	resp, _ := doJSON(t, http.MethodPost, rig.server.URL+"/api/v1/canvases/c1/shapes/s1/lease", leaseRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSyncStatus(t *testing.T) {
	rig := newAPIRig(t)

	resp, body := doJSON(t, http.MethodGet, rig.server.URL+"/api/v1/sync/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	raw, _ := json.Marshal(body.Data)
	var status SyncStatusData
	if err := json.Unmarshal(raw, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.ClientID == "" {
		t.Error("clientId missing from sync status")
	}
	if status.PredictionAccuracy != 1 {
		t.Errorf("accuracy = %v, want 1 with no predictions resolved", status.PredictionAccuracy)
	}
}

func TestHealth(t *testing.T) {
	rig := newAPIRig(t)

	resp, body := doJSON(t, http.MethodGet, rig.server.URL+"/api/v1/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !body.Success {
		t.Error("health response success = false")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rig := newAPIRig(t)

	resp, err := http.Get(rig.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestWebSocketReceivesEvents(t *testing.T) {
	rig := newAPIRig(t)

	wsURL := "ws" + strings.TrimPrefix(rig.server.URL, "http") + "/ws?canvasId=c1"
	conn, resp, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	// Give the hub a moment to register the client.
	time.Sleep(50 * time.Millisecond)

	rig.hub.Emit(engine.Event{
		Type:     engine.EventShapeApplied,
		CanvasID: "c1",
		ShapeID:  "s1",
		Shape:    &models.Shape{ID: "s1", Type: models.ShapeRectangle, X: 5},
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg websocket.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != string(engine.EventShapeApplied) {
		t.Errorf("message type = %q, want shape_applied", msg.Type)
	}
	if msg.CanvasID != "c1" {
		t.Errorf("message canvas = %q, want c1", msg.CanvasID)
	}
}

func TestWebSocketCanvasIsolation(t *testing.T) {
	rig := newAPIRig(t)

	wsURL := "ws" + strings.TrimPrefix(rig.server.URL, "http") + "/ws?canvasId=other"
	conn, resp, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)

	rig.hub.Emit(engine.Event{Type: engine.EventShapeApplied, CanvasID: "c1", ShapeID: "s1"})

	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var msg websocket.Message
	if err := conn.ReadJSON(&msg); err == nil {
		t.Errorf("received %q for a canvas the client does not follow", msg.Type)
	}
}
