// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

// Package config defines the application configuration and loads it through
// Koanf v2 with layered sources: built-in defaults, an optional YAML file,
// and environment variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Identity   IdentityConfig   `koanf:"identity"`
	OpLog      OpLogConfig      `koanf:"oplog"`
	NATS       NATSConfig       `koanf:"nats"`
	Conflict   ConflictConfig   `koanf:"conflict"`
	Prediction PredictionConfig `koanf:"prediction"`
	Reconcile  ReconcileConfig  `koanf:"reconcile"`
	Store      StoreConfig      `koanf:"store"`
	Lease      LeaseConfig      `koanf:"lease"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// IdentityConfig configures the durable local identity store.
type IdentityConfig struct {
	// Path is the BadgerDB directory holding the client ID and counter.
	Path string `koanf:"path"`
}

// OpLogConfig configures the append-only operation log.
type OpLogConfig struct {
	Path string `koanf:"path"`

	// MaxEntries bounds each canvas log; oldest entries beyond it are pruned.
	MaxEntries int `koanf:"max_entries"`

	// Retention is the age beyond which entries are pruned regardless of count.
	Retention time.Duration `koanf:"retention"`

	// SubscribeReplay is how many recent operations a new subscription replays.
	SubscribeReplay int `koanf:"subscribe_replay"`

	// AckTimeout is how long an operation may stay pending before it is
	// surfaced to the prediction manager as a rollback candidate.
	AckTimeout time.Duration `koanf:"ack_timeout"`

	// PruneInterval is how often the pruning timer fires.
	PruneInterval time.Duration `koanf:"prune_interval"`

	// DedupTTL bounds the duplicate-operation suppression window.
	DedupTTL time.Duration `koanf:"dedup_ttl"`

	SyncWrites bool `koanf:"sync_writes"`
}

// NATSConfig configures the optional JetStream fanout feed.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	StreamName     string `koanf:"stream_name"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`
}

// ConflictConfig configures concurrency detection.
type ConflictConfig struct {
	// Window is the timestamp distance under which two operations on the
	// same shape are considered concurrent.
	Window time.Duration `koanf:"window"`

	// HistorySize bounds the rolling conflict record window.
	HistorySize int `koanf:"history_size"`
}

// PredictionConfig configures optimistic local application.
type PredictionConfig struct {
	// Timeout is how long a prediction waits for acknowledgment before
	// rolling back.
	Timeout time.Duration `koanf:"timeout"`

	// RollbackDelay keeps a rolled-back prediction visible briefly so the
	// UI can animate the revert.
	RollbackDelay time.Duration `koanf:"rollback_delay"`
}

// ReconcileConfig configures the convergence backstop.
type ReconcileConfig struct {
	Interval     time.Duration `koanf:"interval"`
	FetchTimeout time.Duration `koanf:"fetch_timeout"`

	// OnDemandPerMinute throttles manual reconcile triggers.
	OnDemandPerMinute int `koanf:"on_demand_per_minute"`
	OnDemandBurst     int `koanf:"on_demand_burst"`
}

// StoreConfig configures the authoritative shape store.
type StoreConfig struct {
	Path       string `koanf:"path"`
	SyncWrites bool   `koanf:"sync_writes"`
}

// LeaseConfig configures the advisory text-edit lease.
type LeaseConfig struct {
	Duration time.Duration `koanf:"duration"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Addr returns the host:port the HTTP server binds to.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the loaded configuration for values the core cannot
// operate with. It returns the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if c.OpLog.MaxEntries <= 0 {
		return fmt.Errorf("oplog.max_entries must be positive, got %d", c.OpLog.MaxEntries)
	}
	if c.OpLog.Retention <= 0 {
		return fmt.Errorf("oplog.retention must be positive, got %v", c.OpLog.Retention)
	}
	if c.OpLog.SubscribeReplay < 0 || c.OpLog.SubscribeReplay > c.OpLog.MaxEntries {
		return fmt.Errorf("oplog.subscribe_replay must be in 0..%d, got %d", c.OpLog.MaxEntries, c.OpLog.SubscribeReplay)
	}
	if c.OpLog.AckTimeout <= 0 {
		return fmt.Errorf("oplog.ack_timeout must be positive, got %v", c.OpLog.AckTimeout)
	}
	if c.Conflict.Window <= 0 {
		return fmt.Errorf("conflict.window must be positive, got %v", c.Conflict.Window)
	}
	if c.Conflict.HistorySize <= 0 {
		return fmt.Errorf("conflict.history_size must be positive, got %d", c.Conflict.HistorySize)
	}
	if c.Prediction.Timeout <= 0 {
		return fmt.Errorf("prediction.timeout must be positive, got %v", c.Prediction.Timeout)
	}
	if c.Reconcile.Interval <= 0 {
		return fmt.Errorf("reconcile.interval must be positive, got %v", c.Reconcile.Interval)
	}
	if c.Lease.Duration <= 0 {
		return fmt.Errorf("lease.duration must be positive, got %v", c.Lease.Duration)
	}
	if c.NATS.Enabled && c.NATS.URL == "" && !c.NATS.EmbeddedServer {
		return fmt.Errorf("nats.url is required when nats is enabled without the embedded server")
	}
	return nil
}
