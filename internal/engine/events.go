// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package engine

import (
	"github.com/arialgardner/techno-canvas-sub001/internal/models"
	"github.com/arialgardner/techno-canvas-sub001/internal/reconcile"
)

// EventType tags a downstream event.
type EventType string

const (
	// EventShapePredicted: a local edit was applied optimistically.
	EventShapePredicted EventType = "shape_predicted"
	// EventShapeConfirmed: the authoritative side acknowledged an operation.
	EventShapeConfirmed EventType = "shape_confirmed"
	// EventShapeRolledBack: an optimistic edit was reverted.
	EventShapeRolledBack EventType = "shape_rolled_back"
	// EventShapeApplied: a remote operation was applied to local state.
	EventShapeApplied EventType = "shape_applied"
	// EventShapeDeleted: a shape was removed.
	EventShapeDeleted EventType = "shape_deleted"
	// EventConflictDetected: two concurrent operations collided.
	EventConflictDetected EventType = "conflict_detected"
	// EventReconcileCompleted: a convergence pass finished.
	EventReconcileCompleted EventType = "reconcile_completed"
)

// Event is the downstream notification contract. Only the fields relevant
// to the event type are populated.
type Event struct {
	Type        EventType              `json:"type"`
	CanvasID    string                 `json:"canvasId"`
	ShapeID     string                 `json:"shapeId,omitempty"`
	OperationID string                 `json:"operationId,omitempty"`
	Shape       *models.Shape          `json:"shape,omitempty"`
	Prediction  *models.Prediction     `json:"prediction,omitempty"`
	Conflict    *models.ConflictRecord `json:"conflict,omitempty"`
	Reconcile   *reconcile.Result      `json:"reconcile,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
}

// EventSink receives downstream events. The websocket hub implements this;
// a nil-safe no-op sink is used when nothing is attached.
type EventSink interface {
	Emit(Event)
}

type nopSink struct{}

func (nopSink) Emit(Event) {}
