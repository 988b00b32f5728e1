// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

// Package websocket fans synchronization events out to connected editors.
// The hub implements engine.EventSink: every event the engine emits is
// broadcast to the clients following that canvas.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/arialgardner/techno-canvas-sub001/internal/engine"
	"github.com/arialgardner/techno-canvas-sub001/internal/logging"
	"github.com/arialgardner/techno-canvas-sub001/internal/metrics"
)

// Control message types exchanged with clients. Event messages use the
// engine's event type names directly.
const (
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeSubscribe = "subscribe"
)

// Message is one frame on the wire.
type Message struct {
	Type     string      `json:"type"`
	CanvasID string      `json:"canvasId,omitempty"`
	Data     interface{} `json:"data,omitempty"`
}

// SubscribeData is the payload of a subscribe control message.
type SubscribeData struct {
	CanvasID string `json:"canvasId"`
}

// Hub maintains the set of active clients and routes events to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a hub. Run it with RunWithContext under the supervisor.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// Emit implements engine.EventSink. Events are dropped rather than blocking
// the engine when the broadcast buffer is full.
func (h *Hub) Emit(ev engine.Event) {
	msg := Message{
		Type:     string(ev.Type),
		CanvasID: ev.CanvasID,
		Data:     ev,
	}
	select {
	case h.broadcast <- msg:
	default:
		logging.Warn().Str("event_type", string(ev.Type)).Msg("broadcast channel full, dropping event")
	}
}

// RunWithContext runs the hub loop until ctx is cancelled.
//
// Channel selection is prioritized so behavior stays deterministic when
// several channels are ready at once: shutdown first, then client lifecycle,
// then broadcasts. Client state is therefore always settled before a message
// fans out.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.register(client)

		case client := <-h.Unregister:
			h.unregister(client)

		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// broadcastToClients delivers a message to every client following its canvas.
// Clients are visited in ID order so delivery order is reproducible. A client
// whose send buffer is full is dropped; its write pump has stalled.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		if message.CanvasID != "" && !client.follows(message.CanvasID) {
			continue
		}
		select {
		case client.send <- message:
			metrics.WebSocketMessagesSent.WithLabelValues(message.Type).Inc()
		default:
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
	if len(toRemove) > 0 {
		metrics.WebSocketClients.Set(float64(len(h.clients)))
		logging.Warn().Int("dropped", len(toRemove)).Msg("dropped stalled websocket clients")
	}
}

// shutdown closes every client and logs the cancellation. Context errors are
// expected here and are not logged as failures.
func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	reason := "context_canceled"
	if ctx.Err() == context.DeadlineExceeded {
		reason = "context_deadline"
	}
	metrics.WebSocketClients.Set(0)
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", reason).
		Int("clients_closed", len(clients)).
		Msg("websocket hub stopped")
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
