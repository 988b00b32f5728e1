// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

// Package conflict detects concurrent edits to the same shape. Detection is
// observational: it classifies and records conflicts for diagnostics and
// metrics, while resolution is entirely the transform package's job.
package conflict

import (
	"sync"
	"time"

	"github.com/arialgardner/techno-canvas-sub001/internal/config"
	"github.com/arialgardner/techno-canvas-sub001/internal/logging"
	"github.com/arialgardner/techno-canvas-sub001/internal/metrics"
	"github.com/arialgardner/techno-canvas-sub001/internal/models"
)

// Detector classifies concurrent operations and keeps a bounded rolling
// history of detected conflicts.
type Detector struct {
	window  time.Duration
	maxHist int

	mu      sync.RWMutex
	history []*models.ConflictRecord
	total   uint64
}

// NewDetector builds a detector from the conflict configuration.
func NewDetector(cfg config.ConflictConfig) *Detector {
	return &Detector{
		window:  cfg.Window,
		maxHist: cfg.HistorySize,
	}
}

// Concurrent reports whether two operations target the same shape within
// the concurrency window. The window is a wall-clock heuristic: client
// clocks are trusted to be roughly synchronized.
func (d *Detector) Concurrent(a, b *models.Operation) bool {
	if a == nil || b == nil {
		return false
	}
	if a.ShapeID != b.ShapeID {
		return false
	}
	diff := a.Timestamp - b.Timestamp
	if diff < 0 {
		diff = -diff
	}
	return diff < d.window.Milliseconds()
}

// Conflicts reports whether two concurrent operations actually collide:
// a delete against anything, or updates touching at least one common field.
func (d *Detector) Conflicts(a, b *models.Operation) bool {
	if !d.Concurrent(a, b) {
		return false
	}
	if a.Type == models.OpDelete || b.Type == models.OpDelete {
		return true
	}
	return a.Delta.Intersects(b.Delta)
}

// Classify determines the conflict type for two colliding operations.
// Delete conflicts dominate; otherwise the overlap is positional if any
// shared field is spatial, and a property conflict if not.
func Classify(a, b *models.Operation) models.ConflictType {
	if a.Type == models.OpDelete || b.Type == models.OpDelete {
		return models.ConflictDelete
	}

	shared := make(map[string]struct{}, 4)
	for _, k := range a.Delta.Keys() {
		shared[k] = struct{}{}
	}
	for _, k := range b.Delta.Keys() {
		if _, ok := shared[k]; !ok {
			continue
		}
		switch models.CategoryOf(k) {
		case models.CategoryPosition, models.CategorySize, models.CategoryRotation:
			return models.ConflictPosition
		}
	}
	return models.ConflictProperty
}

// Detect checks a pair of operations and, if they conflict, records and
// returns the conflict. The returned record is nil when there is none.
func (d *Detector) Detect(local, remote *models.Operation) *models.ConflictRecord {
	if !d.Conflicts(local, remote) {
		return nil
	}

	rec := &models.ConflictRecord{
		LocalOp:   local.Clone(),
		RemoteOp:  remote.Clone(),
		Type:      Classify(local, remote),
		Timestamp: time.Now(),
	}
	d.record(rec)

	metrics.ConflictsDetected.WithLabelValues(string(rec.Type)).Inc()
	logging.Debug().
		Str("shape_id", local.ShapeID).
		Str("type", string(rec.Type)).
		Str("local_op", local.OperationID).
		Str("remote_op", remote.OperationID).
		Msg("conflict detected")
	return rec
}

func (d *Detector) record(rec *models.ConflictRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.total++
	d.history = append(d.history, rec)
	if len(d.history) > d.maxHist {
		// Drop the oldest; the history is a diagnostics window, not a log.
		copy(d.history, d.history[len(d.history)-d.maxHist:])
		d.history = d.history[:d.maxHist]
	}
}

// History returns a snapshot of the recorded conflicts, oldest first.
func (d *Detector) History() []*models.ConflictRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*models.ConflictRecord, len(d.history))
	copy(out, d.history)
	return out
}

// Total returns the number of conflicts detected since startup, including
// ones already evicted from the history window.
func (d *Detector) Total() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.total
}
