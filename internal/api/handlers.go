// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	gorillaws "github.com/gorilla/websocket"

	"github.com/arialgardner/techno-canvas-sub001/internal/conflict"
	"github.com/arialgardner/techno-canvas-sub001/internal/engine"
	"github.com/arialgardner/techno-canvas-sub001/internal/identity"
	"github.com/arialgardner/techno-canvas-sub001/internal/logging"
	"github.com/arialgardner/techno-canvas-sub001/internal/models"
	"github.com/arialgardner/techno-canvas-sub001/internal/oplog"
	"github.com/arialgardner/techno-canvas-sub001/internal/predict"
	"github.com/arialgardner/techno-canvas-sub001/internal/reconcile"
	"github.com/arialgardner/techno-canvas-sub001/internal/store"
	"github.com/arialgardner/techno-canvas-sub001/internal/validation"
	"github.com/arialgardner/techno-canvas-sub001/internal/websocket"
)

// maxRequestBody bounds mutation payloads. A shape with a long pen path fits
// comfortably under this.
const maxRequestBody = 1 << 20 // 1 MB

// ReconcileTrigger is the reconciler surface the handlers need.
type ReconcileTrigger interface {
	Trigger(ctx context.Context, canvasID string) (reconcile.Result, error)
}

// Handler serves the synchronization HTTP API.
type Handler struct {
	engine      *engine.Engine
	arena       *store.Arena
	log         oplog.Log
	detector    *conflict.Detector
	predictions *predict.Manager
	identity    *identity.Store
	reconciler  ReconcileTrigger
	hub         *websocket.Hub
	upgrader    gorillaws.Upgrader
}

// HandlerParams carries the handler's dependencies.
type HandlerParams struct {
	Engine      *engine.Engine
	Arena       *store.Arena
	Log         oplog.Log
	Detector    *conflict.Detector
	Predictions *predict.Manager
	Identity    *identity.Store
	Reconciler  ReconcileTrigger
	Hub         *websocket.Hub
	CORSOrigins []string
}

// NewHandler creates the API handler.
func NewHandler(p HandlerParams) *Handler {
	allowed := make(map[string]bool, len(p.CORSOrigins))
	for _, origin := range p.CORSOrigins {
		allowed[origin] = true
	}

	return &Handler{
		engine:      p.Engine,
		arena:       p.Arena,
		log:         p.Log,
		detector:    p.Detector,
		predictions: p.Predictions,
		identity:    p.Identity,
		reconciler:  p.Reconciler,
		hub:         p.Hub,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return allowed["*"] || allowed[origin]
			},
		},
	}
}

// SubmitOperation handles POST /api/v1/canvases/{canvasID}/operations.
// The mutation is applied optimistically; the response carries the assigned
// operation and its prediction.
func (h *Handler) SubmitOperation(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	canvasID := chi.URLParam(r, "canvasID")

	var req models.MutationRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		rw.BadRequest("invalid JSON body: " + err.Error())
		return
	}

	op, prediction, err := h.engine.SubmitLocal(r.Context(), canvasID, &req)
	switch {
	case errors.Is(err, validation.ErrMalformedOperation):
		rw.ValidationError("malformed mutation", err.Error())
		return
	case errors.Is(err, engine.ErrShapeLocked):
		rw.Locked("shape text is being edited by another user")
		return
	case err != nil:
		// The optimistic application succeeded but the append failed; the
		// client keeps its prediction and the timeout arbitrates.
		logging.Warn().Err(err).Str("canvas_id", canvasID).Msg("operation submission degraded")
		rw.writeJSON(http.StatusAccepted, APIResponse{
			Success: true,
			Data:    submitResponse{Operation: op, Prediction: prediction},
		})
		return
	}

	rw.Created(submitResponse{Operation: op, Prediction: prediction})
}

type submitResponse struct {
	Operation  *models.Operation  `json:"operation"`
	Prediction *models.Prediction `json:"prediction,omitempty"`
}

// ListShapes handles GET /api/v1/canvases/{canvasID}/shapes.
func (h *Handler) ListShapes(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	canvasID := chi.URLParam(r, "canvasID")

	shapes := h.arena.List(canvasID)
	rw.Success(map[string]interface{}{
		"canvasId": canvasID,
		"shapes":   shapes,
		"count":    len(shapes),
	})
}

// GetShape handles GET /api/v1/canvases/{canvasID}/shapes/{shapeID}.
func (h *Handler) GetShape(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	canvasID := chi.URLParam(r, "canvasID")
	shapeID := chi.URLParam(r, "shapeID")

	shape, ok := h.arena.Get(canvasID, shapeID)
	if !ok {
		rw.NotFound("shape not found")
		return
	}
	rw.Success(shape)
}

// ReplayOperations handles GET /api/v1/canvases/{canvasID}/operations.
// Returns the most recent operations in ascending sequence order.
func (h *Handler) ReplayOperations(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	canvasID := chi.URLParam(r, "canvasID")

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			rw.BadRequest("limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := h.log.Replay(r.Context(), canvasID, limit)
	if err != nil {
		logging.Error().Err(err).Str("canvas_id", canvasID).Msg("operation replay failed")
		rw.InternalError("failed to replay operations")
		return
	}

	rw.Success(map[string]interface{}{
		"canvasId":   canvasID,
		"operations": entries,
		"count":      len(entries),
	})
}

// TriggerReconcile handles POST /api/v1/canvases/{canvasID}/reconcile.
// On-demand convergence is rate limited; a throttled trigger returns 429.
func (h *Handler) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	canvasID := chi.URLParam(r, "canvasID")

	result, err := h.reconciler.Trigger(r.Context(), canvasID)
	switch {
	case errors.Is(err, reconcile.ErrThrottled):
		rw.TooManyRequests("reconcile rate limit exceeded, try again later")
		return
	case err != nil:
		logging.Warn().Err(err).Str("canvas_id", canvasID).Msg("on-demand reconcile failed")
		rw.ServiceUnavailable("authoritative store unavailable")
		return
	}

	rw.Success(result)
}

// ListConflicts handles GET /api/v1/conflicts.
func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	history := h.detector.History()
	rw.Success(map[string]interface{}{
		"conflicts": history,
		"count":     len(history),
		"total":     h.detector.Total(),
	})
}

type leaseRequest struct {
	UserID string `json:"userId"`
}

// AcquireLease handles POST /api/v1/canvases/{canvasID}/shapes/{shapeID}/lease.
func (h *Handler) AcquireLease(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	canvasID := chi.URLParam(r, "canvasID")
	shapeID := chi.URLParam(r, "shapeID")

	var req leaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		rw.BadRequest("userId is required")
		return
	}

	if !h.engine.AcquireTextLease(canvasID, shapeID, req.UserID) {
		rw.Conflict("lease is held by another user")
		return
	}
	rw.Success(map[string]string{
		"canvasId": canvasID,
		"shapeId":  shapeID,
		"lockedBy": req.UserID,
	})
}

// ReleaseLease handles DELETE /api/v1/canvases/{canvasID}/shapes/{shapeID}/lease.
func (h *Handler) ReleaseLease(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	canvasID := chi.URLParam(r, "canvasID")
	shapeID := chi.URLParam(r, "shapeID")

	var req leaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		rw.BadRequest("userId is required")
		return
	}

	if !h.engine.ReleaseTextLease(canvasID, shapeID, req.UserID) {
		rw.Conflict("lease is not held by this user")
		return
	}
	rw.NoContent()
}

// SyncStatusData is the payload of GET /api/v1/sync/status.
type SyncStatusData struct {
	ClientID            string  `json:"clientId"`
	Sequence            uint64  `json:"sequence"`
	PredictionAccuracy  float64 `json:"predictionAccuracy"`
	PredictionsInFlight int     `json:"predictionsInFlight"`
	ConflictsDetected   uint64  `json:"conflictsDetected"`
	WebSocketClients    int     `json:"websocketClients"`
	PendingOperations   *int    `json:"pendingOperations,omitempty"`
	Timestamp           int64   `json:"timestamp"`
}

// SyncStatus handles GET /api/v1/sync/status.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	status := SyncStatusData{
		ClientID:            h.identity.ClientID(),
		Sequence:            h.identity.Sequence(),
		PredictionAccuracy:  h.predictions.Accuracy(),
		PredictionsInFlight: h.predictions.InFlightCount(),
		ConflictsDetected:   h.detector.Total(),
		WebSocketClients:    h.hub.ClientCount(),
		Timestamp:           time.Now().UnixMilli(),
	}

	if canvasID := r.URL.Query().Get("canvasId"); canvasID != "" {
		if pending, err := h.log.PendingCount(canvasID); err == nil {
			status.PendingOperations = &pending
		}
	}

	rw.Success(status)
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	rw.Success(map[string]interface{}{
		"status":    "ok",
		"clientId":  h.identity.ClientID(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// WebSocket handles GET /ws. The canvasId query parameter scopes the client
// to one canvas; subscribe messages can switch it later.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	canvasID := r.URL.Query().Get("canvasId")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := websocket.NewClient(h.hub, conn, canvasID)
	h.hub.Register <- client
	client.Start()
}
