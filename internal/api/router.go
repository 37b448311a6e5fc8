// Package api provides the HTTP API for FleetPulse.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/fleetpulse/fleetpulse/internal/api/handler"
	"github.com/fleetpulse/fleetpulse/internal/api/middleware"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string

	// HealthSource serves GET /v1/health.
	HealthSource handler.HealthSource

	// MetricsSource serves the /v1/metrics endpoints; nil when metrics
	// are disabled (the endpoints then answer 503).
	MetricsSource handler.MetricsSource

	// Components lists the monitored component keys.
	Components []string

	// Ready gates the readiness endpoint; nil means always ready.
	Ready handler.ReadinessCheck

	// RateLimit / RateLimitWindow tune the per-IP limit; zero means the
	// standard 60 req/min.
	RateLimit       int
	RateLimitWindow time.Duration
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "fleetpulse"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS)
	r.Use(middleware.ContentTypeJSON)

	healthHandler := handler.NewHealthHandler(cfg.HealthSource)
	metricsHandler := handler.NewMetricsHandler(cfg.MetricsSource, cfg.Components)
	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Ready)

	rateLimit := middleware.RateLimitByIP(middleware.RateLimitConfig{
		RequestLimit: cfg.RateLimit,
		WindowLength: cfg.RateLimitWindow,
	})

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints are exempt from rate limiting so orchestrator
		// probes never get throttled.
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		r.Group(func(r chi.Router) {
			r.Use(rateLimit)

			r.Get("/health", healthHandler.Ecosystem)

			r.Route("/metrics", func(r chi.Router) {
				r.Get("/uptime", metricsHandler.Uptime)
				r.Get("/uptime/{component}", metricsHandler.ComponentUptime)
				r.Get("/incidents", metricsHandler.Incidents)
				r.Get("/history", metricsHandler.History)
				r.Get("/stats", metricsHandler.Stats)
			})
		})
	})

	return r
}
