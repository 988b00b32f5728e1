// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package models

import "time"

// ConflictType classifies a detected conflict between two concurrent
// operations on the same shape.
type ConflictType string

const (
	// ConflictDelete: at least one of the operations is a delete.
	ConflictDelete ConflictType = "delete"
	// ConflictPosition: overlapping update fields include spatial coordinates.
	ConflictPosition ConflictType = "position"
	// ConflictProperty: overlapping update fields are non-spatial.
	ConflictProperty ConflictType = "property"
)

// ConflictRecord captures one detected conflict for diagnostics. Records are
// kept in a bounded rolling window and never affect correctness.
type ConflictRecord struct {
	LocalOp   *Operation   `json:"localOp"`
	RemoteOp  *Operation   `json:"remoteOp"`
	Type      ConflictType `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
}
