// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/stagesense/internal/detection"
	"github.com/tomtom215/stagesense/internal/settings"
)

// BreakerStater reports the catalog breaker state for health checks.
type BreakerStater interface {
	State() string
}

// RouterConfig holds the HTTP-surface settings.
type RouterConfig struct {
	CORSOrigins     []string
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// Router wires the engine's HTTP surface.
type Router struct {
	controller *detection.Controller
	store      *settings.Store
	breaker    BreakerStater // nil when the catalog has no breaker
	cfg        RouterConfig
}

// NewRouter creates the API router over the engine components.
func NewRouter(controller *detection.Controller, store *settings.Store, breaker BreakerStater, cfg RouterConfig) *Router {
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if cfg.RateLimitReqs <= 0 {
		cfg.RateLimitReqs = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	return &Router{controller: controller, store: store, breaker: breaker, cfg: cfg}
}

// Setup builds the route tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: router.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		MaxAge:         300,
	}))

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", router.HealthLive)
		r.Get("/ready", router.HealthReady)
		r.Get("/", router.Health)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(router.cfg.RateLimitReqs, router.cfg.RateLimitWindow))
		r.Use(Metrics)

		r.Post("/detect", router.Detect)
		r.Post("/detect/fail", router.DetectFail)
		r.Post("/retry", router.Retry)
		r.Get("/session", router.Session)
		r.Get("/settings", router.GetSettings)
		r.Put("/settings", router.PutSettings)
		r.Get("/stats/{showID}", router.ShowStats)
	})

	return r
}
