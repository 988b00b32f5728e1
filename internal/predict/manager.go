// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

// Package predict tracks optimistically applied local operations. Each
// tracked prediction races an acknowledgment signal against a timeout; the
// loser of the race determines whether the optimistic edit stands or is
// rolled back through its inverse delta.
package predict

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arialgardner/techno-canvas-sub001/internal/config"
	"github.com/arialgardner/techno-canvas-sub001/internal/delta"
	"github.com/arialgardner/techno-canvas-sub001/internal/logging"
	"github.com/arialgardner/techno-canvas-sub001/internal/metrics"
	"github.com/arialgardner/techno-canvas-sub001/internal/models"
)

// RollbackReason distinguishes why a prediction was undone.
type RollbackReason string

const (
	ReasonTimeout  RollbackReason = "timeout"
	ReasonRejected RollbackReason = "rejected"
)

// Rollback describes one rollback the owner must apply to its shape state.
type Rollback struct {
	Prediction *models.Prediction
	Inverse    *models.Delta
	Reason     RollbackReason
}

// Manager tracks in-flight predictions. The owner feeds acknowledgments and
// rejections in by operation ID; the manager pushes required rollbacks out
// through the callback given at construction.
type Manager struct {
	cfg        config.PredictionConfig
	onRollback func(Rollback)

	mu       sync.Mutex
	inflight map[string]*tracked // keyed by operation ID
	closed   bool

	confirmed  uint64
	rolledBack uint64
}

type tracked struct {
	prediction *models.Prediction
	ack        chan bool // true = confirmed, false = rejected
	done       chan struct{}
}

// NewManager creates a prediction manager. onRollback is called from the
// prediction's own goroutine whenever an edit must be undone; it may be nil.
func NewManager(cfg config.PredictionConfig, onRollback func(Rollback)) *Manager {
	return &Manager{
		cfg:        cfg,
		onRollback: onRollback,
		inflight:   make(map[string]*tracked),
	}
}

// Track registers a prediction for op. The caller has already applied the
// optimistic delta; Track only starts the confirm-vs-timeout race. The base
// state snapshot is what rollback inverts against.
func (m *Manager) Track(op *models.Operation, base *models.Shape) *models.Prediction {
	p := &models.Prediction{
		PredictionID: uuid.New().String(),
		ShapeID:      op.ShapeID,
		Delta:        op.Delta.Clone(),
		BaseState:    base.Clone(),
		OperationID:  op.OperationID,
		Status:       models.PredictionPending,
		CreatedAt:    time.Now(),
	}

	t := &tracked{
		prediction: p,
		ack:        make(chan bool, 1),
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return p
	}
	m.inflight[op.OperationID] = t
	m.mu.Unlock()

	metrics.PredictionsCreated.Inc()
	go m.await(t)
	return p
}

// await decides the prediction's fate: whichever of acknowledgment and
// timeout arrives first wins.
func (m *Manager) await(t *tracked) {
	defer close(t.done)

	timer := time.NewTimer(m.cfg.Timeout)
	defer timer.Stop()

	select {
	case ok := <-t.ack:
		if ok {
			m.confirm(t)
			return
		}
		m.rollback(t, ReasonRejected)
	case <-timer.C:
		m.rollback(t, ReasonTimeout)
	}
}

func (m *Manager) confirm(t *tracked) {
	m.mu.Lock()
	t.prediction.Status = models.PredictionConfirmed
	delete(m.inflight, t.prediction.OperationID)
	m.confirmed++
	m.mu.Unlock()

	metrics.PredictionsConfirmed.Inc()
	m.updateAccuracy()
}

func (m *Manager) rollback(t *tracked, reason RollbackReason) {
	inverse := delta.Invert(t.prediction.Delta, t.prediction.BaseState)

	m.mu.Lock()
	t.prediction.Status = models.PredictionRolledBack
	delete(m.inflight, t.prediction.OperationID)
	m.rolledBack++
	m.mu.Unlock()

	metrics.PredictionsRolledBack.WithLabelValues(string(reason)).Inc()
	m.updateAccuracy()

	logging.Warn().
		Str("operation_id", t.prediction.OperationID).
		Str("shape_id", t.prediction.ShapeID).
		Str("reason", string(reason)).
		Msg("prediction rolled back")

	if m.onRollback != nil {
		// RollbackDelay keeps the optimistic state visible briefly so the
		// revert is perceivable rather than a flicker.
		if m.cfg.RollbackDelay > 0 {
			time.Sleep(m.cfg.RollbackDelay)
		}
		m.onRollback(Rollback{
			Prediction: t.prediction,
			Inverse:    inverse,
			Reason:     reason,
		})
	}
}

// Confirm resolves the prediction linked to operationID as correct. It
// reports whether such a prediction was still in flight.
func (m *Manager) Confirm(operationID string) bool {
	return m.signal(operationID, true)
}

// Reject resolves the prediction linked to operationID as wrong, triggering
// an immediate rollback instead of waiting for the timeout.
func (m *Manager) Reject(operationID string) bool {
	return m.signal(operationID, false)
}

func (m *Manager) signal(operationID string, ok bool) bool {
	m.mu.Lock()
	t, found := m.inflight[operationID]
	m.mu.Unlock()
	if !found {
		return false
	}

	select {
	case t.ack <- ok:
		return true
	default:
		// Race already decided by the timeout.
		return false
	}
}

// InFlightShapeIDs returns the shapes with a pending prediction. The
// reconciler excludes these from its convergence pass.
func (m *Manager) InFlightShapeIDs() map[string]struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]struct{}, len(m.inflight))
	for _, t := range m.inflight {
		out[t.prediction.ShapeID] = struct{}{}
	}
	return out
}

// InFlightCount returns the number of unresolved predictions.
func (m *Manager) InFlightCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// Accuracy returns confirmed / (confirmed + rolledBack), or 1 before any
// prediction has resolved. Low accuracy signals that optimistic application
// is mispredicting; it never disables anything by itself.
func (m *Manager) Accuracy() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accuracyLocked()
}

func (m *Manager) accuracyLocked() float64 {
	total := m.confirmed + m.rolledBack
	if total == 0 {
		return 1
	}
	return float64(m.confirmed) / float64(total)
}

func (m *Manager) updateAccuracy() {
	m.mu.Lock()
	acc := m.accuracyLocked()
	m.mu.Unlock()
	metrics.PredictionAccuracy.Set(acc)
}

// Close stops accepting new predictions and rejects everything in flight.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pending := make([]*tracked, 0, len(m.inflight))
	for _, t := range m.inflight {
		pending = append(pending, t)
	}
	m.mu.Unlock()

	for _, t := range pending {
		select {
		case t.ack <- false:
		default:
		}
		<-t.done
	}
}
