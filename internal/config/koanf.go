// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in priority order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/technocanvas/config.yaml",
	"/etc/technocanvas/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with the built-in defaults. These reflect
// the protocol constants of the sync core: 1s concurrency window, 5s ack
// timeout and prediction timeout, 1h/1000-entry log retention, 30s advisory
// lease, 5-minute dedup window.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8471,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   120,
			RateLimitWindow: time.Minute,
		},
		Identity: IdentityConfig{
			Path: "/data/identity",
		},
		OpLog: OpLogConfig{
			Path:            "/data/oplog",
			MaxEntries:      1000,
			Retention:       time.Hour,
			SubscribeReplay: 1000,
			AckTimeout:      5 * time.Second,
			PruneInterval:   time.Minute,
			DedupTTL:        5 * time.Minute,
			SyncWrites:      false,
		},
		NATS: NATSConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: false,
			StoreDir:       "/data/nats/jetstream",
			StreamName:     "CANVAS_OPS",
			MaxMemory:      1 << 30,  // 1GB
			MaxStore:       10 << 30, // 10GB
		},
		Conflict: ConflictConfig{
			Window:      time.Second,
			HistorySize: 100,
		},
		Prediction: PredictionConfig{
			Timeout:       5 * time.Second,
			RollbackDelay: 500 * time.Millisecond,
		},
		Reconcile: ReconcileConfig{
			Interval:          30 * time.Second,
			FetchTimeout:      10 * time.Second,
			OnDemandPerMinute: 6,
			OnDemandBurst:     2,
		},
		Store: StoreConfig{
			Path:       "/data/shapes",
			SyncWrites: true,
		},
		Lease: LeaseConfig{
			Duration: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration with layered sources:
//  1. Defaults from defaultConfig
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file found, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are the config paths parsed as comma-separated slices
// when they arrive through environment variables.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields converts comma-separated env values into slices for the
// known slice fields. YAML-sourced slices pass through untouched.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
//
// Examples:
//   - HTTP_PORT           -> server.port
//   - OPLOG_MAX_ENTRIES   -> oplog.max_entries
//   - NATS_URL            -> nats.url
//   - LOG_LEVEL           -> logging.level
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"http_host":              "server.host",
		"http_port":              "server.port",
		"http_timeout":           "server.timeout",
		"shutdown_timeout":       "server.shutdown_timeout",
		"cors_origins":           "server.cors_origins",
		"rate_limit_reqs":        "server.rate_limit_reqs",
		"rate_limit_window":      "server.rate_limit_window",
		"identity_path":          "identity.path",
		"oplog_path":             "oplog.path",
		"oplog_max_entries":      "oplog.max_entries",
		"oplog_retention":        "oplog.retention",
		"oplog_subscribe_replay": "oplog.subscribe_replay",
		"oplog_ack_timeout":      "oplog.ack_timeout",
		"oplog_prune_interval":   "oplog.prune_interval",
		"oplog_dedup_ttl":        "oplog.dedup_ttl",
		"oplog_sync_writes":      "oplog.sync_writes",
		"nats_enabled":           "nats.enabled",
		"nats_url":               "nats.url",
		"nats_embedded_server":   "nats.embedded_server",
		"nats_store_dir":         "nats.store_dir",
		"nats_stream_name":       "nats.stream_name",
		"nats_max_memory":        "nats.max_memory",
		"nats_max_store":         "nats.max_store",
		"conflict_window":        "conflict.window",
		"conflict_history_size":  "conflict.history_size",
		"prediction_timeout":     "prediction.timeout",
		"rollback_delay":         "prediction.rollback_delay",
		"reconcile_interval":     "reconcile.interval",
		"reconcile_fetch_timeout": "reconcile.fetch_timeout",
		"reconcile_on_demand_per_minute": "reconcile.on_demand_per_minute",
		"reconcile_on_demand_burst":      "reconcile.on_demand_burst",
		"store_path":             "store.path",
		"store_sync_writes":      "store.sync_writes",
		"lease_duration":         "lease.duration",
		"log_level":              "logging.level",
		"log_format":             "logging.format",
		"log_caller":             "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unknown variables are dropped rather than guessed at.
	return ""
}
