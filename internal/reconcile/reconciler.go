// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

// Package reconcile is the convergence backstop. It periodically fetches
// the authoritative shape set and folds it into the in-memory arena with a
// last-writer-wins pass, catching anything the log-based fast path missed,
// typically after a reconnection. Shapes with in-flight predictions are
// excluded so an optimistic edit is never clobbered mid-flight.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/arialgardner/techno-canvas-sub001/internal/config"
	"github.com/arialgardner/techno-canvas-sub001/internal/logging"
	"github.com/arialgardner/techno-canvas-sub001/internal/metrics"
	"github.com/arialgardner/techno-canvas-sub001/internal/models"
	"github.com/arialgardner/techno-canvas-sub001/internal/store"
)

// ErrThrottled is returned when an on-demand reconcile exceeds the manual
// trigger budget.
var ErrThrottled = errors.New("reconcile trigger throttled")

// Fetcher supplies the authoritative shape set for a canvas.
type Fetcher interface {
	FetchAll(ctx context.Context, canvasID string) ([]*models.Shape, error)
}

// SkipSetFunc returns the shape IDs with in-flight predictions at the time
// of the call.
type SkipSetFunc func() map[string]struct{}

// Result summarizes one convergence pass.
type Result struct {
	CanvasID string `json:"canvasId"`
	Added    int    `json:"added"`
	Updated  int    `json:"updated"`
	Removed  int    `json:"removed"`
	Skipped  int    `json:"skipped"`
}

// Reconciler runs last-writer-wins convergence passes against the
// authoritative store, with a circuit breaker on the fetch path and a rate
// limit on manual triggers.
type Reconciler struct {
	cfg     config.ReconcileConfig
	fetcher Fetcher
	arena   *store.Arena
	skipSet SkipSetFunc
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]*models.Shape]

	// onComplete, when set, receives every successful pass.
	onComplete func(Result)
}

// NewReconciler wires a reconciler. skipSet may be nil when no prediction
// manager is attached; onComplete may be nil.
func NewReconciler(cfg config.ReconcileConfig, fetcher Fetcher, arena *store.Arena, skipSet SkipSetFunc, onComplete func(Result)) *Reconciler {
	const breakerName = "authoritative-fetch"
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	breaker := gobreaker.NewCircuitBreaker[[]*models.Shape](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", stateString(from)).
				Str("to", stateString(to)).
				Msg("fetch circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	perMinute := cfg.OnDemandPerMinute
	if perMinute <= 0 {
		perMinute = 6
	}
	burst := cfg.OnDemandBurst
	if burst <= 0 {
		burst = 1
	}

	return &Reconciler{
		cfg:        cfg,
		fetcher:    fetcher,
		arena:      arena,
		skipSet:    skipSet,
		limiter:    rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst),
		breaker:    breaker,
		onComplete: onComplete,
	}
}

// Reconcile runs one convergence pass for a canvas.
func (r *Reconciler) Reconcile(ctx context.Context, canvasID string) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	fetchCtx := ctx
	if r.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, r.cfg.FetchTimeout)
		defer cancel()
	}

	remote, err := r.breaker.Execute(func() ([]*models.Shape, error) {
		return r.fetcher.FetchAll(fetchCtx, canvasID)
	})
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("fetch_error").Inc()
		return Result{CanvasID: canvasID}, fmt.Errorf("fetch authoritative shapes: %w", err)
	}

	res := r.merge(canvasID, remote)
	metrics.ReconcileRuns.WithLabelValues("ok").Inc()

	logging.Debug().
		Str("canvas_id", canvasID).
		Int("added", res.Added).
		Int("updated", res.Updated).
		Int("removed", res.Removed).
		Int("skipped", res.Skipped).
		Msg("reconcile pass complete")

	if r.onComplete != nil {
		r.onComplete(res)
	}
	return res, nil
}

// merge folds the remote shape set into the arena. Remote-only shapes are
// added, shared shapes are overwritten only when the remote copy is strictly
// newer, local-only shapes are removed. The skip set is exempt from all
// three actions.
func (r *Reconciler) merge(canvasID string, remote []*models.Shape) Result {
	res := Result{CanvasID: canvasID}

	skip := map[string]struct{}{}
	if r.skipSet != nil {
		skip = r.skipSet()
	}

	local := r.arena.Snapshot(canvasID)
	seen := make(map[string]struct{}, len(remote))

	for _, rs := range remote {
		seen[rs.ID] = struct{}{}

		if _, skipped := skip[rs.ID]; skipped {
			res.Skipped++
			metrics.ReconcileCorrections.WithLabelValues("skipped").Inc()
			continue
		}

		ls, exists := local[rs.ID]
		switch {
		case !exists:
			r.arena.Put(canvasID, rs)
			res.Added++
			metrics.ReconcileCorrections.WithLabelValues("added").Inc()
		case rs.LastModified > ls.LastModified:
			r.arena.Put(canvasID, rs)
			res.Updated++
			metrics.ReconcileCorrections.WithLabelValues("updated").Inc()
		}
	}

	for id := range local {
		if _, ok := seen[id]; ok {
			continue
		}
		if _, skipped := skip[id]; skipped {
			res.Skipped++
			metrics.ReconcileCorrections.WithLabelValues("skipped").Inc()
			continue
		}
		r.arena.Delete(canvasID, id)
		res.Removed++
		metrics.ReconcileCorrections.WithLabelValues("removed").Inc()
	}

	return res
}

// Trigger runs an on-demand pass, subject to the manual rate limit.
func (r *Reconciler) Trigger(ctx context.Context, canvasID string) (Result, error) {
	if !r.limiter.Allow() {
		metrics.ReconcileRuns.WithLabelValues("throttled").Inc()
		return Result{CanvasID: canvasID}, ErrThrottled
	}
	return r.Reconcile(ctx, canvasID)
}

// Run reconciles every in-memory canvas on the configured interval until
// ctx is cancelled. Fetch errors are logged and retried next tick.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, canvasID := range r.arena.CanvasIDs() {
				if _, err := r.Reconcile(ctx, canvasID); err != nil {
					logging.Warn().Err(err).Str("canvas_id", canvasID).Msg("periodic reconcile failed")
				}
			}
		}
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
