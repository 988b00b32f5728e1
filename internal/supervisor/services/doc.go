// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

// Package services wraps the long-running components as suture services.
// Each wrapper accepts a narrow interface rather than the concrete type so
// the supervisor layer stays free of the packages it supervises.
package services
