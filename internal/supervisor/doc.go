// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

// Package supervisor builds the suture supervision tree that keeps the
// long-running pieces of the synchronization core alive: the operation log
// maintenance loop, the WebSocket hub, the acknowledgment pump (NATS feed
// bridge or local loopback), the periodic reconciler and the HTTP server.
// Services restart independently; the tree applies exponential backoff when
// a service fails repeatedly.
package supervisor
