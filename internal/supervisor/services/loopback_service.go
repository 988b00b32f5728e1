// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package services

import (
	"context"

	"github.com/arialgardner/techno-canvas-sub001/internal/logging"
	"github.com/arialgardner/techno-canvas-sub001/internal/oplog"
)

// LoopbackService closes the acknowledgment loop in single-instance
// deployments that run without a NATS feed. Installed as the operation
// log's publisher hook, it pumps every appended entry back through the
// engine, where a local operation's echo becomes its acknowledgment and a
// peer entry (after a restore or import) applies as remote.
//
// Delivery happens on the service's own goroutine, never on the appending
// caller's stack.
type LoopbackService struct {
	engine  RemoteHandler
	entries chan *oplog.Entry
}

// NewLoopbackService builds the loopback pump. buffer bounds the number of
// undelivered entries; a full buffer drops the entry and the affected
// prediction rolls back at its timeout instead of confirming.
func NewLoopbackService(engine RemoteHandler, buffer int) *LoopbackService {
	if buffer <= 0 {
		buffer = 256
	}
	return &LoopbackService{
		engine:  engine,
		entries: make(chan *oplog.Entry, buffer),
	}
}

// Deliver enqueues an appended entry for the pump. Safe to install as
// oplog.BadgerLog's publisher hook; it never blocks the append.
func (s *LoopbackService) Deliver(entry *oplog.Entry) {
	select {
	case s.entries <- entry:
	default:
		logging.Warn().
			Str("operation_id", entry.Op.OperationID).
			Msg("loopback buffer full, dropping entry")
	}
}

// Serve implements suture.Service.
func (s *LoopbackService) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry := <-s.entries:
			s.engine.HandleRemote(ctx, entry)
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *LoopbackService) String() string {
	return "oplog-loopback"
}
