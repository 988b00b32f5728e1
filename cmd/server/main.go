// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

// Command server runs the canvas synchronization core: the operation log,
// the transform engine, the WebSocket fan-out hub and the HTTP API, all
// under a suture supervision tree.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arialgardner/techno-canvas-sub001/internal/api"
	"github.com/arialgardner/techno-canvas-sub001/internal/cache"
	"github.com/arialgardner/techno-canvas-sub001/internal/config"
	"github.com/arialgardner/techno-canvas-sub001/internal/conflict"
	"github.com/arialgardner/techno-canvas-sub001/internal/engine"
	"github.com/arialgardner/techno-canvas-sub001/internal/identity"
	"github.com/arialgardner/techno-canvas-sub001/internal/logging"
	"github.com/arialgardner/techno-canvas-sub001/internal/oplog"
	"github.com/arialgardner/techno-canvas-sub001/internal/predict"
	"github.com/arialgardner/techno-canvas-sub001/internal/reconcile"
	"github.com/arialgardner/techno-canvas-sub001/internal/store"
	"github.com/arialgardner/techno-canvas-sub001/internal/supervisor"
	"github.com/arialgardner/techno-canvas-sub001/internal/supervisor/services"
	ws "github.com/arialgardner/techno-canvas-sub001/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr()).
		Str("oplog_path", cfg.OpLog.Path).
		Bool("nats_enabled", cfg.NATS.Enabled).
		Msg("Starting Technocanvas synchronization core")

	ident, err := identity.Open(cfg.Identity.Path)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open identity store")
	}
	defer closeQuietly("identity store", ident.Close)
	logging.Info().Str("client_id", ident.ClientID()).Msg("Client identity loaded")

	log, err := oplog.Open(cfg.OpLog)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open operation log")
	}
	defer closeQuietly("operation log", log.Close)

	authoritative, err := store.OpenStore(cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open authoritative store")
	}
	defer closeQuietly("authoritative store", authoritative.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional NATS feed. An embedded server keeps single-binary deployments
	// free of external infrastructure.
	var feed *oplog.Feed
	if cfg.NATS.Enabled {
		natsCfg := cfg.NATS
		if natsCfg.EmbeddedServer {
			embedded, err := oplog.StartEmbeddedServer(natsCfg)
			if err != nil {
				logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
			}
			defer func() {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if err := embedded.Shutdown(shutdownCtx); err != nil {
					logging.Error().Err(err).Msg("Embedded NATS shutdown failed")
				}
			}()
			natsCfg.URL = embedded.ClientURL()
			logging.Info().Str("url", natsCfg.URL).Msg("Embedded NATS server started")
		}

		feed, err = oplog.NewFeed(ctx, natsCfg)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to connect operation feed")
		}
		defer closeQuietly("operation feed", feed.Close)

		log.SetPublisher(func(entry *oplog.Entry) {
			pubCtx, pubCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer pubCancel()
			if err := feed.Publish(pubCtx, entry); err != nil {
				logging.Warn().Err(err).
					Str("operation_id", entry.Op.OperationID).
					Msg("Feed publish failed, local log remains authoritative")
			}
		})
		logging.Info().Str("stream", natsCfg.StreamName).Msg("Operation feed connected")
	}

	arena := store.NewArena()
	detector := conflict.NewDetector(cfg.Conflict)
	leases := store.NewLeaseTable(cfg.Lease.Duration)
	dedup := cache.NewTTL(cfg.OpLog.DedupTTL)
	hub := ws.NewHub()

	eng := engine.New(engine.Params{
		Arena:         arena,
		Authoritative: authoritative,
		Log:           log,
		Identity:      ident,
		Detector:      detector,
		Dedup:         dedup,
		Leases:        leases,
		Sink:          hub,
	})

	predictions := predict.NewManager(cfg.Prediction, eng.Rollback)
	defer predictions.Close()
	eng.SetPredictions(predictions)

	reconciler := reconcile.NewReconciler(cfg.Reconcile, authoritative, arena, eng.SkipSet, eng.ReconcileCompleted)

	handler := api.NewHandler(api.HandlerParams{
		Engine:      eng,
		Arena:       arena,
		Log:         log,
		Detector:    detector,
		Predictions: predictions,
		Identity:    ident,
		Reconciler:  reconciler,
		Hub:         hub,
		CORSOrigins: cfg.Server.CORSOrigins,
	})
	router := api.NewRouter(handler, api.NewMiddleware(&api.MiddlewareConfig{
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		RateLimitRequests:  cfg.Server.RateLimitReqs,
		RateLimitWindow:    cfg.Server.RateLimitWindow,
	}))

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	tree.AddDataService(services.NewMaintenanceService(log, leases, predictions, cfg.OpLog.PruneInterval, cfg.OpLog.AckTimeout))
	tree.AddSyncService(services.NewHubService(hub))
	tree.AddSyncService(services.NewReconcileService(reconciler))

	// Close the acknowledgment loop. With a feed, entries come back through
	// the JetStream consumer; without one, the loopback pump replays local
	// appends into the engine so own echoes still confirm predictions.
	if feed != nil {
		tree.AddSyncService(services.NewFeedBridgeService(feed, eng))
	} else {
		loopback := services.NewLoopbackService(eng, 256)
		log.SetPublisher(loopback.Deliver)
		tree.AddSyncService(loopback)
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Synchronization core stopped gracefully")
}

func closeQuietly(name string, fn func() error) {
	if err := fn(); err != nil {
		logging.Error().Err(err).Str("component", name).Msg("Close failed")
	}
}
