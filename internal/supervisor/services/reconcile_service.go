// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package services

import (
	"context"
)

// Runner matches *reconcile.Reconciler's Run method.
type Runner interface {
	Run(ctx context.Context) error
}

// ReconcileService runs the periodic authoritative-state reconciler under
// supervision.
type ReconcileService struct {
	runner Runner
}

// NewReconcileService wraps runner as a supervised service.
func NewReconcileService(runner Runner) *ReconcileService {
	return &ReconcileService{runner: runner}
}

// Serve implements suture.Service.
func (s *ReconcileService) Serve(ctx context.Context) error {
	return s.runner.Run(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (s *ReconcileService) String() string {
	return "reconciler"
}
