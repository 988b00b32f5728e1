// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

// Package engine orchestrates the synchronization core. Local edits flow
// validate -> identify -> predict -> append; remote log entries flow
// dedup -> echo/ack -> conflict -> transform -> apply. The engine owns no
// state itself: the arena, stores, log and managers are all injected.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/arialgardner/techno-canvas-sub001/internal/cache"
	"github.com/arialgardner/techno-canvas-sub001/internal/conflict"
	"github.com/arialgardner/techno-canvas-sub001/internal/delta"
	"github.com/arialgardner/techno-canvas-sub001/internal/identity"
	"github.com/arialgardner/techno-canvas-sub001/internal/logging"
	"github.com/arialgardner/techno-canvas-sub001/internal/metrics"
	"github.com/arialgardner/techno-canvas-sub001/internal/models"
	"github.com/arialgardner/techno-canvas-sub001/internal/oplog"
	"github.com/arialgardner/techno-canvas-sub001/internal/predict"
	"github.com/arialgardner/techno-canvas-sub001/internal/reconcile"
	"github.com/arialgardner/techno-canvas-sub001/internal/store"
	"github.com/arialgardner/techno-canvas-sub001/internal/transform"
	"github.com/arialgardner/techno-canvas-sub001/internal/validation"
)

// ErrShapeLocked is returned when a text edit is attempted on a shape whose
// advisory lease is held by another user.
var ErrShapeLocked = errors.New("shape text is leased by another user")

// Params carries the engine's injected dependencies.
type Params struct {
	Arena         *store.Arena
	Authoritative *store.Store
	Log           oplog.Log
	Identity      *identity.Store
	Detector      *conflict.Detector
	Predictions   *predict.Manager
	Dedup         *cache.TTL
	Leases        *store.LeaseTable
	Sink          EventSink
}

// Engine binds the synchronization pipeline together.
type Engine struct {
	arena         *store.Arena
	authoritative *store.Store
	log           oplog.Log
	identity      *identity.Store
	detector      *conflict.Detector
	predictions   *predict.Manager
	dedup         *cache.TTL
	leases        *store.LeaseTable
	sink          EventSink

	mu      sync.Mutex
	pending map[string]*pendingOp // keyed by operation ID
}

type pendingOp struct {
	canvasID string
	op       *models.Operation
}

// New assembles an engine. The prediction manager's rollback callback must
// be wired to the returned engine via predict.NewManager(cfg, e.Rollback)
// before predictions are tracked; see cmd/server for the wiring order.
func New(p Params) *Engine {
	sink := p.Sink
	if sink == nil {
		sink = nopSink{}
	}
	return &Engine{
		arena:         p.Arena,
		authoritative: p.Authoritative,
		log:           p.Log,
		identity:      p.Identity,
		detector:      p.Detector,
		predictions:   p.Predictions,
		dedup:         p.Dedup,
		leases:        p.Leases,
		sink:          sink,
	}
}

// SetPredictions attaches the prediction manager. Split from New because
// the manager's rollback callback needs the engine, and the engine needs
// the manager.
func (e *Engine) SetPredictions(m *predict.Manager) {
	e.predictions = m
}

// SubmitLocal runs the optimistic local pipeline for one mutation request:
// the edit is visible in the arena before the append returns. An append
// failure leaves the prediction in place; the timeout rolls it back if no
// acknowledgment ever arrives.
func (e *Engine) SubmitLocal(ctx context.Context, canvasID string, req *models.MutationRequest) (*models.Operation, *models.Prediction, error) {
	if err := validation.ValidateMutation(req); err != nil {
		metrics.MalformedOperations.Inc()
		logging.Warn().Err(err).Str("canvas_id", canvasID).Msg("rejecting malformed mutation")
		return nil, nil, err
	}

	if req.Type != models.OpDelete && req.Delta != nil && req.Delta.Text != nil {
		if holder, _, held := e.leases.Holder(canvasID, req.ShapeID); held && holder != e.identity.ClientID() {
			return nil, nil, fmt.Errorf("%w: held by %s", ErrShapeLocked, holder)
		}
	}

	base, _ := e.arena.Get(canvasID, req.ShapeID)

	opID, _, err := e.identity.NextOperationID()
	if err != nil {
		return nil, nil, fmt.Errorf("next operation ID: %w", err)
	}

	op := &models.Operation{
		OperationID: opID,
		Type:        req.Type,
		ShapeID:     req.ShapeID,
		UserID:      e.identity.ClientID(),
		Timestamp:   time.Now().UnixMilli(),
		Delta:       req.Delta.Clone(),
	}
	if req.Type == models.OpUpdate {
		op.BaseState = base.Clone()
	}

	shape, err := e.applyLocal(canvasID, op, req.BaseState)
	if err != nil {
		return nil, nil, err
	}

	prediction := e.predictions.Track(op, base)
	e.trackPending(canvasID, op)

	e.sink.Emit(Event{
		Type:        EventShapePredicted,
		CanvasID:    canvasID,
		ShapeID:     op.ShapeID,
		OperationID: op.OperationID,
		Shape:       shape,
		Prediction:  prediction,
	})

	if _, err := e.log.Append(ctx, canvasID, op); err != nil {
		// Not fatal: the prediction times out and rolls back if the
		// operation never makes it into the log.
		logging.Warn().Err(err).Str("operation_id", op.OperationID).Msg("operation append failed")
		return op, prediction, fmt.Errorf("append operation: %w", err)
	}

	return op, prediction, nil
}

// applyLocal mutates the arena for a local operation and returns the
// resulting shape (nil for deletes).
func (e *Engine) applyLocal(canvasID string, op *models.Operation, initial *models.Shape) (*models.Shape, error) {
	switch op.Type {
	case models.OpCreate:
		shape := e.buildShape(op, initial)
		e.arena.Put(canvasID, shape)
		return shape, nil

	case models.OpUpdate:
		next, err := e.arena.ApplyDelta(canvasID, op.ShapeID, op.Delta)
		if err != nil {
			return nil, fmt.Errorf("apply local update: %w", err)
		}
		next.LastModified = op.Timestamp
		next.LastModifiedBy = op.UserID
		e.arena.Put(canvasID, next)
		return next, nil

	case models.OpDelete:
		e.arena.Delete(canvasID, op.ShapeID)
		e.leases.Release(canvasID, op.ShapeID, op.UserID)
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown operation type %q", op.Type)
	}
}

// buildShape materializes a created shape from its initial state and delta.
func (e *Engine) buildShape(op *models.Operation, initial *models.Shape) *models.Shape {
	seed := initial.Clone()
	if seed == nil {
		seed = &models.Shape{}
	}
	seed.ID = op.ShapeID

	shape := seed
	if op.Delta != nil {
		shape = delta.Apply(seed, op.Delta)
	}
	shape.CreatedBy = op.UserID
	shape.CreatedAt = op.Timestamp
	shape.LastModified = op.Timestamp
	shape.LastModifiedBy = op.UserID
	return shape
}

// HandleRemote processes one entry delivered by the log subscription.
// Errors are absorbed: a remote entry that cannot be applied is logged and
// dropped, and the reconciler restores convergence later.
func (e *Engine) HandleRemote(ctx context.Context, entry *oplog.Entry) {
	if entry == nil || entry.Op == nil {
		return
	}
	op := entry.Op

	// Idempotence: a redelivered operation is a silent no-op.
	if !e.dedup.AddIfAbsent(op.DedupKey()) {
		metrics.DuplicateOperations.Inc()
		return
	}

	// Our own operations come back around through the subscription; that
	// echo is the acknowledgment, not a remote edit.
	if strings.HasPrefix(op.OperationID, e.identity.ClientID()+"-") {
		e.acknowledge(ctx, entry.CanvasID, op)
		return
	}

	if err := validation.ValidateOperation(op); err != nil {
		metrics.MalformedOperations.Inc()
		logging.Warn().Err(err).Str("operation_id", op.OperationID).Msg("rejecting malformed remote operation")
		return
	}

	// Transform against every pending local operation that conflicts.
	candidate := op
	for _, local := range e.pendingForShape(entry.CanvasID, op.ShapeID) {
		rec := e.detector.Detect(local, candidate)
		if rec == nil {
			continue
		}
		e.sink.Emit(Event{
			Type:     EventConflictDetected,
			CanvasID: entry.CanvasID,
			ShapeID:  op.ShapeID,
			Conflict: rec,
		})

		candidate = transform.Transform(candidate, local)
		if candidate == nil {
			logging.Debug().
				Str("operation_id", op.OperationID).
				Msg("remote operation discarded by transform")
			return
		}
	}

	e.applyRemote(ctx, entry.CanvasID, candidate)
}

// acknowledge resolves the round trip of one of our own operations.
func (e *Engine) acknowledge(ctx context.Context, canvasID string, op *models.Operation) {
	if err := e.log.Acknowledge(ctx, canvasID, op.OperationID); err != nil && !errors.Is(err, oplog.ErrEntryNotFound) {
		logging.Warn().Err(err).Str("operation_id", op.OperationID).Msg("acknowledge failed")
	}

	e.predictions.Confirm(op.OperationID)
	e.untrackPending(op.OperationID)

	// Fold the confirmed state into the authoritative store.
	if shape, ok := e.arena.Get(canvasID, op.ShapeID); ok {
		if err := e.authoritative.SaveShape(ctx, canvasID, shape); err != nil {
			logging.Warn().Err(err).Str("shape_id", op.ShapeID).Msg("authoritative save failed")
		}
	} else if op.Type == models.OpDelete {
		if err := e.authoritative.DeleteShape(ctx, canvasID, op.ShapeID); err != nil {
			logging.Warn().Err(err).Str("shape_id", op.ShapeID).Msg("authoritative delete failed")
		}
	}

	e.sink.Emit(Event{
		Type:        EventShapeConfirmed,
		CanvasID:    canvasID,
		ShapeID:     op.ShapeID,
		OperationID: op.OperationID,
	})
}

// applyRemote folds a (possibly transformed) remote operation into local
// and authoritative state.
func (e *Engine) applyRemote(ctx context.Context, canvasID string, op *models.Operation) {
	switch op.Type {
	case models.OpCreate:
		shape := e.buildShape(op, op.BaseState)
		e.arena.Put(canvasID, shape)
		e.saveAuthoritative(ctx, canvasID, shape)
		e.emitApplied(canvasID, op, shape)

	case models.OpUpdate:
		next, err := e.arena.ApplyDelta(canvasID, op.ShapeID, op.Delta)
		if errors.Is(err, store.ErrShapeNotFound) {
			// The create may have been pruned before we subscribed; the
			// reconciler will recover this shape.
			logging.Debug().Str("shape_id", op.ShapeID).Msg("remote update for unknown shape dropped")
			return
		}
		if err != nil {
			logging.Warn().Err(err).Str("shape_id", op.ShapeID).Msg("remote update failed")
			return
		}
		next.LastModified = op.Timestamp
		next.LastModifiedBy = op.UserID
		e.arena.Put(canvasID, next)
		e.saveAuthoritative(ctx, canvasID, next)
		e.emitApplied(canvasID, op, next)

	case models.OpDelete:
		e.arena.Delete(canvasID, op.ShapeID)
		e.leases.Release(canvasID, op.ShapeID, op.UserID)
		if err := e.authoritative.DeleteShape(ctx, canvasID, op.ShapeID); err != nil {
			logging.Warn().Err(err).Str("shape_id", op.ShapeID).Msg("authoritative delete failed")
		}
		e.sink.Emit(Event{
			Type:        EventShapeDeleted,
			CanvasID:    canvasID,
			ShapeID:     op.ShapeID,
			OperationID: op.OperationID,
		})
	}
}

func (e *Engine) saveAuthoritative(ctx context.Context, canvasID string, shape *models.Shape) {
	if err := e.authoritative.SaveShape(ctx, canvasID, shape); err != nil {
		logging.Warn().Err(err).Str("shape_id", shape.ID).Msg("authoritative save failed")
	}
}

func (e *Engine) emitApplied(canvasID string, op *models.Operation, shape *models.Shape) {
	e.sink.Emit(Event{
		Type:        EventShapeApplied,
		CanvasID:    canvasID,
		ShapeID:     op.ShapeID,
		OperationID: op.OperationID,
		Shape:       shape,
	})
}

// Rollback is the prediction manager's callback: it reverts the arena to
// the pre-edit state and notifies downstream.
func (e *Engine) Rollback(rb predict.Rollback) {
	p := rb.Prediction

	canvasID := ""
	e.mu.Lock()
	if pend, ok := e.pending[p.OperationID]; ok {
		canvasID = pend.canvasID
		delete(e.pending, p.OperationID)
	}
	e.mu.Unlock()
	if canvasID == "" {
		logging.Warn().Str("operation_id", p.OperationID).Msg("rollback for untracked operation")
		return
	}

	var shape *models.Shape
	switch {
	case p.BaseState == nil:
		// Predicted create: remove the shape entirely.
		e.arena.Delete(canvasID, p.ShapeID)
	case p.Delta == nil:
		// Predicted delete: resurrect the pre-image.
		e.arena.Put(canvasID, p.BaseState)
		shape = p.BaseState.Clone()
	default:
		next, err := e.arena.ApplyDelta(canvasID, p.ShapeID, rb.Inverse)
		if err != nil {
			// Shape vanished between prediction and rollback; restore the
			// pre-image wholesale.
			e.arena.Put(canvasID, p.BaseState)
			next = p.BaseState.Clone()
		}
		shape = next
	}

	e.sink.Emit(Event{
		Type:        EventShapeRolledBack,
		CanvasID:    canvasID,
		ShapeID:     p.ShapeID,
		OperationID: p.OperationID,
		Shape:       shape,
		Reason:      string(rb.Reason),
	})
}

// Follow subscribes to a canvas and pumps entries through HandleRemote
// until ctx is cancelled.
func (e *Engine) Follow(ctx context.Context, canvasID string) error {
	entries, cancel, err := e.log.Subscribe(ctx, canvasID)
	if err != nil {
		return fmt.Errorf("subscribe to canvas %s: %w", canvasID, err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-entries:
			if !ok {
				return nil
			}
			e.HandleRemote(ctx, entry)
		}
	}
}

// AcquireTextLease grants the advisory text lease and stamps the lock onto
// the shape so other clients can render the held state.
func (e *Engine) AcquireTextLease(canvasID, shapeID, userID string) bool {
	if !e.leases.Acquire(canvasID, shapeID, userID) {
		return false
	}
	if shape, ok := e.arena.Get(canvasID, shapeID); ok {
		shape.LockedBy = userID
		shape.LockedAt = time.Now().UnixMilli()
		e.arena.Put(canvasID, shape)
	}
	return true
}

// ReleaseTextLease releases the advisory text lease.
func (e *Engine) ReleaseTextLease(canvasID, shapeID, userID string) bool {
	if !e.leases.Release(canvasID, shapeID, userID) {
		return false
	}
	if shape, ok := e.arena.Get(canvasID, shapeID); ok {
		shape.LockedBy = ""
		shape.LockedAt = 0
		e.arena.Put(canvasID, shape)
	}
	return true
}

// SkipSet exposes the in-flight prediction shapes for the reconciler.
func (e *Engine) SkipSet() map[string]struct{} {
	return e.predictions.InFlightShapeIDs()
}

// ReconcileCompleted forwards a finished convergence pass downstream. It is
// wired as the reconciler's onComplete callback.
func (e *Engine) ReconcileCompleted(res reconcile.Result) {
	e.sink.Emit(Event{
		Type:      EventReconcileCompleted,
		CanvasID:  res.CanvasID,
		Reconcile: &res,
	})
}

func (e *Engine) trackPending(canvasID string, op *models.Operation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		e.pending = make(map[string]*pendingOp)
	}
	e.pending[op.OperationID] = &pendingOp{canvasID: canvasID, op: op.Clone()}
}

func (e *Engine) untrackPending(operationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, operationID)
}

// pendingForShape returns the pending local operations touching one shape.
func (e *Engine) pendingForShape(canvasID, shapeID string) []*models.Operation {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*models.Operation
	for _, pend := range e.pending {
		if pend.canvasID == canvasID && pend.op.ShapeID == shapeID {
			out = append(out, pend.op)
		}
	}
	return out
}
