// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package models

import "time"

// PredictionStatus is the lifecycle state of an optimistic local edit.
type PredictionStatus string

const (
	PredictionPending    PredictionStatus = "pending"
	PredictionConfirmed  PredictionStatus = "confirmed"
	PredictionRolledBack PredictionStatus = "rolledBack"
)

// Prediction is the client-local bookkeeping record for one optimistically
// applied operation. It exists purely to make rollback exact and to measure
// prediction accuracy; it is never transmitted.
type Prediction struct {
	PredictionID string           `json:"predictionId"`
	ShapeID      string           `json:"shapeId"`
	Delta        *Delta           `json:"delta"`
	BaseState    *Shape           `json:"baseState,omitempty"`
	OperationID  string           `json:"operationId"`
	Status       PredictionStatus `json:"status"`
	CreatedAt    time.Time        `json:"createdAt"`
}
