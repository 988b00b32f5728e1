// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

// Package store holds canvas shape state on both tiers: the in-memory Arena
// the engine mutates synchronously, and the Badger-backed authoritative
// Store the reconciler converges against. It also owns the advisory text
// lease, the one place mutual exclusion is used instead of transformation.
package store

import (
	"errors"
	"sync"

	"github.com/arialgardner/techno-canvas-sub001/internal/delta"
	"github.com/arialgardner/techno-canvas-sub001/internal/models"
)

// ErrShapeNotFound is returned when mutating a shape that does not exist.
var ErrShapeNotFound = errors.New("shape not found")

// Arena is the in-memory working state for all canvases. Mutation is
// serialized by the engine; the mutex exists so read paths (API, websocket
// snapshots) can run concurrently with it.
type Arena struct {
	mu       sync.RWMutex
	canvases map[string]map[string]*models.Shape
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{canvases: make(map[string]map[string]*models.Shape)}
}

// Get returns a copy of one shape.
func (a *Arena) Get(canvasID, shapeID string) (*models.Shape, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.canvases[canvasID][shapeID]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// Put inserts or replaces a shape. The arena stores its own copy.
func (a *Arena) Put(canvasID string, shape *models.Shape) {
	a.mu.Lock()
	defer a.mu.Unlock()

	canvas, ok := a.canvases[canvasID]
	if !ok {
		canvas = make(map[string]*models.Shape)
		a.canvases[canvasID] = canvas
	}
	canvas[shape.ID] = shape.Clone()
}

// Delete removes a shape and reports whether it existed.
func (a *Arena) Delete(canvasID, shapeID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	canvas, ok := a.canvases[canvasID]
	if !ok {
		return false
	}
	if _, ok := canvas[shapeID]; !ok {
		return false
	}
	delete(canvas, shapeID)
	return true
}

// ApplyDelta merges d into an existing shape and returns a copy of the
// result.
func (a *Arena) ApplyDelta(canvasID, shapeID string, d *models.Delta) (*models.Shape, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	canvas, ok := a.canvases[canvasID]
	if !ok {
		return nil, ErrShapeNotFound
	}
	s, ok := canvas[shapeID]
	if !ok {
		return nil, ErrShapeNotFound
	}

	next := delta.Apply(s, d)
	canvas[shapeID] = next
	return next.Clone(), nil
}

// List returns copies of every shape on a canvas.
func (a *Arena) List(canvasID string) []*models.Shape {
	a.mu.RLock()
	defer a.mu.RUnlock()

	canvas := a.canvases[canvasID]
	out := make([]*models.Shape, 0, len(canvas))
	for _, s := range canvas {
		out = append(out, s.Clone())
	}
	return out
}

// Snapshot returns a copied shape map for one canvas, keyed by shape ID.
func (a *Arena) Snapshot(canvasID string) map[string]*models.Shape {
	a.mu.RLock()
	defer a.mu.RUnlock()

	canvas := a.canvases[canvasID]
	out := make(map[string]*models.Shape, len(canvas))
	for id, s := range canvas {
		out[id] = s.Clone()
	}
	return out
}

// Count returns the number of shapes on a canvas.
func (a *Arena) Count(canvasID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.canvases[canvasID])
}

// CanvasIDs lists the canvases currently held in memory.
func (a *Arena) CanvasIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.canvases))
	for id := range a.canvases {
		out = append(out, id)
	}
	return out
}
