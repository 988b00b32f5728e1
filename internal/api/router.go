// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router assembles the HTTP surface.
type Router struct {
	handler    *Handler
	middleware *Middleware
}

// NewRouter creates a router over the given handler and middleware stack.
func NewRouter(handler *Handler, mw *Middleware) *Router {
	if mw == nil {
		mw = NewMiddleware(nil)
	}
	return &Router{handler: handler, middleware: mw}
}

// Setup wires all routes and returns the root handler.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.middleware.CORS())

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(SecurityHeaders())
		r.Get("/", router.handler.Health)
	})

	r.Route("/api/v1/canvases/{canvasID}", func(r chi.Router) {
		r.Use(SecurityHeaders())
		r.Use(PrometheusMetrics)

		// Reads
		r.With(router.middleware.RateLimit()).Get("/shapes", router.handler.ListShapes)
		r.With(router.middleware.RateLimit()).Get("/shapes/{shapeID}", router.handler.GetShape)
		r.With(router.middleware.RateLimit()).Get("/operations", router.handler.ReplayOperations)

		// Writes get the stricter limiter.
		r.Group(func(r chi.Router) {
			r.Use(router.middleware.RateLimitWrite())
			r.Post("/operations", router.handler.SubmitOperation)
			r.Post("/reconcile", router.handler.TriggerReconcile)
			r.Post("/shapes/{shapeID}/lease", router.handler.AcquireLease)
			r.Delete("/shapes/{shapeID}/lease", router.handler.ReleaseLease)
		})
	})

	r.Route("/api/v1/sync", func(r chi.Router) {
		r.Use(SecurityHeaders())
		r.Use(PrometheusMetrics)
		r.Use(router.middleware.RateLimit())
		r.Get("/status", router.handler.SyncStatus)
	})

	r.Route("/api/v1/conflicts", func(r chi.Router) {
		r.Use(SecurityHeaders())
		r.Use(PrometheusMetrics)
		r.Use(router.middleware.RateLimit())
		r.Get("/", router.handler.ListConflicts)
	})

	// Websocket upgrade. Rate limited on the upgrade itself, not per message.
	r.With(router.middleware.RateLimit()).Get("/ws", router.handler.WebSocket)

	r.Handle("/metrics", promhttp.Handler())

	return r
}
