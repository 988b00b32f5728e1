// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package models

import (
	"fmt"
)

// OperationType is the kind of mutation an operation performs.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// Priority orders operation types for conflict resolution:
// delete > update > create. Unknown types rank lowest.
func (t OperationType) Priority() int {
	switch t {
	case OpDelete:
		return 3
	case OpUpdate:
		return 2
	case OpCreate:
		return 1
	default:
		return 0
	}
}

// Valid reports whether t is one of the known operation types.
func (t OperationType) Valid() bool {
	switch t {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Operation is an atomic create/update/delete request on one shape.
//
// Operations are immutable once created. OperationID is unique and strictly
// increasing within the originating client only; it carries no cross-client
// order. Timestamp (millisecond wall clock) is used heuristically by the
// conflict window and last-write-wins rules.
//
// BaseState is the pre-image snapshot at creation time, retained only for
// update operations to support single-level inversion on rollback.
type Operation struct {
	OperationID    string        `json:"operationId"`
	Type           OperationType `json:"type"`
	ShapeID        string        `json:"shapeId"`
	UserID         string        `json:"userId"`
	SequenceNumber uint64        `json:"sequenceNumber"`
	Timestamp      int64         `json:"timestamp"`
	Delta          *Delta        `json:"delta,omitempty"`
	BaseState      *Shape        `json:"baseState,omitempty"`
}

// DedupKey identifies an operation for duplicate suppression. Two operations
// with the same shape, timestamp, user and type are treated as the same
// logical edit regardless of delivery path.
func (o *Operation) DedupKey() string {
	return fmt.Sprintf("%s|%d|%s|%s", o.ShapeID, o.Timestamp, o.UserID, o.Type)
}

// Clone returns a deep copy of the operation.
func (o *Operation) Clone() *Operation {
	if o == nil {
		return nil
	}
	dup := *o
	dup.Delta = o.Delta.Clone()
	dup.BaseState = o.BaseState.Clone()
	return &dup
}

// MutationRequest is the boundary contract with the upstream mutation source
// (the editing UI). Malformed requests are rejected before entering the core.
type MutationRequest struct {
	Type      OperationType `json:"type" validate:"required,oneof=create update delete"`
	ShapeID   string        `json:"shapeId" validate:"required,max=128"`
	Delta     *Delta        `json:"delta" validate:"required_unless=Type delete"`
	BaseState *Shape        `json:"baseState,omitempty"`
}
