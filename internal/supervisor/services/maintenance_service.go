// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package services

import (
	"context"
	"errors"
	"time"

	"github.com/arialgardner/techno-canvas-sub001/internal/logging"
	"github.com/arialgardner/techno-canvas-sub001/internal/oplog"
)

// PrunableLog is the operation log subset the maintenance loop drives.
type PrunableLog interface {
	Prune(ctx context.Context) (int, error)
	PendingOlderThan(ctx context.Context, age time.Duration) ([]*oplog.Entry, error)
}

// LeaseExpirer releases text-editing leases whose holders went away.
type LeaseExpirer interface {
	Expire() int
}

// PredictionRejecter matches *predict.Manager's Reject method. Reject
// reports false when the operation is not tracked by this process.
type PredictionRejecter interface {
	Reject(operationID string) bool
}

// MaintenanceService periodically prunes the operation log, expires stale
// text leases and hands operations stuck in pending state past the ack
// timeout to the prediction manager as rollback candidates. The manager's
// per-operation timer usually fires first; this scan is the backstop for
// predictions whose timeout outlives the ack window. Stuck entries stay in
// the log so a later replay can still deliver them.
type MaintenanceService struct {
	log         PrunableLog
	leases      LeaseExpirer
	predictions PredictionRejecter
	interval    time.Duration
	ackTimeout  time.Duration
}

// NewMaintenanceService builds the maintenance loop. leases and
// predictions may be nil.
func NewMaintenanceService(log PrunableLog, leases LeaseExpirer, predictions PredictionRejecter, interval, ackTimeout time.Duration) *MaintenanceService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &MaintenanceService{
		log:         log,
		leases:      leases,
		predictions: predictions,
		interval:    interval,
		ackTimeout:  ackTimeout,
	}
}

// Serve implements suture.Service.
func (s *MaintenanceService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *MaintenanceService) tick(ctx context.Context) {
	pruned, err := s.log.Prune(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Warn().Err(err).Msg("operation log prune failed")
	} else if pruned > 0 {
		logging.Debug().Int("pruned", pruned).Msg("operation log pruned")
	}

	if s.ackTimeout > 0 {
		stale, err := s.log.PendingOlderThan(ctx, s.ackTimeout)
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Warn().Err(err).Msg("pending scan failed")
		}
		for _, entry := range stale {
			rolledBack := s.predictions != nil && s.predictions.Reject(entry.Op.OperationID)
			logging.Warn().
				Str("operation_id", entry.Op.OperationID).
				Str("canvas_id", entry.CanvasID).
				Int64("appended_at", entry.AppendedAt).
				Bool("rollback_triggered", rolledBack).
				Msg("operation pending past ack timeout")
		}
	}

	if s.leases != nil {
		if expired := s.leases.Expire(); expired > 0 {
			logging.Debug().Int("expired", expired).Msg("text leases expired")
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (s *MaintenanceService) String() string {
	return "oplog-maintenance"
}
