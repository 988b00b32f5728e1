// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate, got: %v", err)
	}
}

func TestDefaultProtocolConstants(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Conflict.Window != time.Second {
		t.Errorf("conflict window = %v, want 1s", cfg.Conflict.Window)
	}
	if cfg.Prediction.Timeout != 5*time.Second {
		t.Errorf("prediction timeout = %v, want 5s", cfg.Prediction.Timeout)
	}
	if cfg.OpLog.AckTimeout != 5*time.Second {
		t.Errorf("ack timeout = %v, want 5s", cfg.OpLog.AckTimeout)
	}
	if cfg.OpLog.MaxEntries != 1000 {
		t.Errorf("oplog max entries = %d, want 1000", cfg.OpLog.MaxEntries)
	}
	if cfg.OpLog.Retention != time.Hour {
		t.Errorf("oplog retention = %v, want 1h", cfg.OpLog.Retention)
	}
	if cfg.OpLog.DedupTTL != 5*time.Minute {
		t.Errorf("dedup ttl = %v, want 5m", cfg.OpLog.DedupTTL)
	}
	if cfg.Lease.Duration != 30*time.Second {
		t.Errorf("lease duration = %v, want 30s", cfg.Lease.Duration)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }},
		{"zero max entries", func(c *Config) { c.OpLog.MaxEntries = 0 }},
		{"negative retention", func(c *Config) { c.OpLog.Retention = -time.Hour }},
		{"replay above max entries", func(c *Config) { c.OpLog.SubscribeReplay = c.OpLog.MaxEntries + 1 }},
		{"zero ack timeout", func(c *Config) { c.OpLog.AckTimeout = 0 }},
		{"zero conflict window", func(c *Config) { c.Conflict.Window = 0 }},
		{"zero history size", func(c *Config) { c.Conflict.HistorySize = 0 }},
		{"zero prediction timeout", func(c *Config) { c.Prediction.Timeout = 0 }},
		{"zero reconcile interval", func(c *Config) { c.Reconcile.Interval = 0 }},
		{"zero lease duration", func(c *Config) { c.Lease.Duration = 0 }},
		{"nats enabled without url or embedded", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.URL = ""
			c.NATS.EmbeddedServer = false
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"HTTP_PORT", "server.port"},
		{"OPLOG_MAX_ENTRIES", "oplog.max_entries"},
		{"NATS_URL", "nats.url"},
		{"PREDICTION_TIMEOUT", "prediction.timeout"},
		{"LOG_LEVEL", "logging.level"},
		{"SOME_RANDOM_VAR", ""},
	}

	for _, tt := range tests {
		if got := envTransformFunc(tt.env); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  port: 9999\nconflict:\n  window: 2s\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("server port = %d, want 9999 from config file", cfg.Server.Port)
	}
	if cfg.Conflict.Window != 2*time.Second {
		t.Errorf("conflict window = %v, want 2s from config file", cfg.Conflict.Window)
	}
	// Untouched values keep defaults.
	if cfg.OpLog.MaxEntries != 1000 {
		t.Errorf("oplog max entries = %d, want default 1000", cfg.OpLog.MaxEntries)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HTTP_PORT", "8123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 8123 {
		t.Errorf("server port = %d, want env override 8123", cfg.Server.Port)
	}
}
