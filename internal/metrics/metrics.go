// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

// Package metrics defines the Prometheus collectors for the synchronization
// core: operation log throughput, conflict detection, transform outcomes,
// prediction accuracy, reconciliation passes and the HTTP/WebSocket surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Operation log metrics
	OperationsAppended = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oplog_operations_appended_total",
			Help: "Total operations appended to the operation log",
		},
		[]string{"type"}, // create, update, delete
	)

	OperationsAcknowledged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "oplog_operations_acknowledged_total",
			Help: "Total operations acknowledged by the authoritative side",
		},
	)

	OperationsPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oplog_operations_pruned_total",
			Help: "Total operations removed by the pruning timer",
		},
		[]string{"reason"}, // "age", "count"
	)

	OperationsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "oplog_operations_pending",
			Help: "Operations currently awaiting acknowledgment",
		},
	)

	AppendLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "oplog_append_duration_seconds",
			Help:    "Latency of operation log appends",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Duplicate suppression
	DuplicateOperations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_duplicate_operations_total",
			Help: "Remote operations ignored by the deduplication cache",
		},
	)

	MalformedOperations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_malformed_operations_total",
			Help: "Operations rejected at the boundary as malformed",
		},
	)

	// Conflict detection metrics
	ConflictsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conflicts_detected_total",
			Help: "Conflicts detected between concurrent operations",
		},
		[]string{"type"}, // position, property, delete
	)

	// Transform metrics
	TransformOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transform_outcomes_total",
			Help: "Operational transform outcomes",
		},
		[]string{"outcome"}, // "merged", "discarded", "kept", "passthrough"
	)

	// Prediction metrics
	PredictionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "predictions_created_total",
			Help: "Optimistic predictions created for local edits",
		},
	)

	PredictionsConfirmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "predictions_confirmed_total",
			Help: "Predictions confirmed by acknowledgment",
		},
	)

	PredictionsRolledBack = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictions_rolled_back_total",
			Help: "Predictions rolled back",
		},
		[]string{"reason"}, // "timeout", "rejected"
	)

	PredictionAccuracy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "prediction_accuracy_ratio",
			Help: "Running prediction accuracy: confirmed / (confirmed + incorrect)",
		},
	)

	// Reconciliation metrics
	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_runs_total",
			Help: "Reconciliation passes by outcome",
		},
		[]string{"outcome"}, // "ok", "fetch_error", "throttled"
	)

	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconcile_duration_seconds",
			Help:    "Duration of reconciliation passes",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	ReconcileCorrections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_corrections_total",
			Help: "Shape corrections applied by the reconciler",
		},
		[]string{"action"}, // "added", "updated", "removed", "skipped"
	)

	// Circuit breaker state for the authoritative fetch path.
	// 0 = closed, 1 = half-open, 2 = open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// WebSocket metrics
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connected_clients",
			Help: "Currently connected WebSocket clients",
		},
	)

	WebSocketMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "WebSocket messages broadcast to clients",
		},
		[]string{"type"},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP API request duration",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)
)
