// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package websocket

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/arialgardner/techno-canvas-sub001/internal/engine"
	"github.com/arialgardner/techno-canvas-sub001/internal/logging"
	"github.com/arialgardner/techno-canvas-sub001/internal/models"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

// setupHub starts a hub under a cancellable context.
func setupHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(10 * time.Millisecond)
	return hub
}

func createTestClient(hub *Hub, canvasID string) *Client {
	return &Client{
		id:       clientIDCounter.Add(1),
		hub:      hub,
		send:     make(chan Message, 256),
		canvasID: canvasID,
	}
}

func registerClient(hub *Hub, client *Client) {
	hub.Register <- client
	time.Sleep(20 * time.Millisecond)
}

func recvMessage(t *testing.T, client *Client) Message {
	t.Helper()
	select {
	case msg := <-client.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub()

	if hub == nil {
		t.Fatal("NewHub returned nil")
	}
	if hub.clients == nil || hub.broadcast == nil || hub.Register == nil || hub.Unregister == nil {
		t.Error("hub channels not initialized")
	}
	if len(hub.clients) != 0 {
		t.Error("clients map should start empty")
	}
}

func TestClientRegistration(t *testing.T) {
	hub := setupHub(t)
	client := createTestClient(hub, "c1")
	registerClient(hub, client)

	if hub.ClientCount() != 1 {
		t.Errorf("client count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister <- client
	time.Sleep(20 * time.Millisecond)

	if hub.ClientCount() != 0 {
		t.Errorf("client count after unregister = %d, want 0", hub.ClientCount())
	}
	if _, ok := <-client.send; ok {
		t.Error("send channel should be closed after unregister")
	}
}

func TestEmitRoutesByCanvas(t *testing.T) {
	hub := setupHub(t)
	c1 := createTestClient(hub, "canvas-a")
	c2 := createTestClient(hub, "canvas-b")
	registerClient(hub, c1)
	registerClient(hub, c2)

	hub.Emit(engine.Event{
		Type:     engine.EventShapeApplied,
		CanvasID: "canvas-a",
		ShapeID:  "s1",
		Shape:    &models.Shape{ID: "s1", Type: models.ShapeRectangle},
	})

	msg := recvMessage(t, c1)
	if msg.Type != string(engine.EventShapeApplied) {
		t.Errorf("message type = %q, want shape_applied", msg.Type)
	}
	if msg.CanvasID != "canvas-a" {
		t.Errorf("message canvas = %q, want canvas-a", msg.CanvasID)
	}

	select {
	case msg := <-c2.send:
		t.Errorf("client on canvas-b received %q for canvas-a", msg.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitWithoutCanvasReachesAll(t *testing.T) {
	hub := setupHub(t)
	c1 := createTestClient(hub, "canvas-a")
	c2 := createTestClient(hub, "canvas-b")
	registerClient(hub, c1)
	registerClient(hub, c2)

	// An event without a canvas is a global notification.
	hub.Emit(engine.Event{Type: engine.EventReconcileCompleted})

	for _, c := range []*Client{c1, c2} {
		if msg := recvMessage(t, c); msg.Type != string(engine.EventReconcileCompleted) {
			t.Errorf("message type = %q, want reconcile_completed", msg.Type)
		}
	}
}

func TestSubscribeSwitchesCanvas(t *testing.T) {
	hub := setupHub(t)
	client := createTestClient(hub, "canvas-a")
	registerClient(hub, client)

	client.setCanvas("canvas-b")

	hub.Emit(engine.Event{Type: engine.EventShapeApplied, CanvasID: "canvas-b", ShapeID: "s1"})
	if msg := recvMessage(t, client); msg.CanvasID != "canvas-b" {
		t.Errorf("message canvas = %q, want canvas-b", msg.CanvasID)
	}

	hub.Emit(engine.Event{Type: engine.EventShapeApplied, CanvasID: "canvas-a", ShapeID: "s1"})
	select {
	case msg := <-client.send:
		t.Errorf("received %q for canvas no longer followed", msg.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStalledClientDropped(t *testing.T) {
	hub := setupHub(t)

	// A send buffer of one with no reader stalls after the first message.
	stalled := &Client{
		id:       clientIDCounter.Add(1),
		hub:      hub,
		send:     make(chan Message, 1),
		canvasID: "c1",
	}
	healthy := createTestClient(hub, "c1")
	registerClient(hub, stalled)
	registerClient(hub, healthy)

	for i := 0; i < 3; i++ {
		hub.Emit(engine.Event{Type: engine.EventShapeApplied, CanvasID: "c1", ShapeID: "s1"})
	}
	time.Sleep(50 * time.Millisecond)

	if hub.ClientCount() != 1 {
		t.Errorf("client count = %d, want 1 after dropping stalled client", hub.ClientCount())
	}
	if got := len(healthy.send); got != 3 {
		t.Errorf("healthy client buffered %d messages, want 3", got)
	}
}

func TestRunWithContextShutdown(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- hub.RunWithContext(ctx) }()
	time.Sleep(10 * time.Millisecond)

	client := createTestClient(hub, "c1")
	hub.Register <- client
	time.Sleep(20 * time.Millisecond)

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithContext returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("hub did not stop after cancellation")
	}

	if hub.ClientCount() != 0 {
		t.Errorf("client count after shutdown = %d, want 0", hub.ClientCount())
	}
	if _, ok := <-client.send; ok {
		t.Error("client send channel should be closed after shutdown")
	}
}

func TestFollows(t *testing.T) {
	tests := []struct {
		name     string
		client   string
		canvas   string
		expected bool
	}{
		{"matching canvas", "c1", "c1", true},
		{"different canvas", "c1", "c2", false},
		{"unscoped client receives all", "", "c2", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := createTestClient(nil, tt.client)
			if got := c.follows(tt.canvas); got != tt.expected {
				t.Errorf("follows(%q) = %v, want %v", tt.canvas, got, tt.expected)
			}
		})
	}
}
