// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

// Package models defines the shared data types of the synchronization core:
// shapes, field-level deltas, operations, predictions and conflict records.
//
// Deltas are deliberately a struct of optional fields rather than an untyped
// map. Every mutable shape field belongs to exactly one FieldCategory, which
// makes the operational-transform rule dispatch exhaustive and statically
// checkable.
package models
