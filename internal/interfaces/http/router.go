// Package http serves the engine API over chi.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/CrimeSight-Intelligence/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/CrimeSight-Intelligence/internal/interfaces/http/handlers"
	"github.com/turtacn/CrimeSight-Intelligence/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handlers and middleware of the route tree.
// Nil entries are skipped.
type RouterConfig struct {
	EngineHandler *handlers.EngineHandler
	HealthHandler *handlers.HealthHandler

	CORS        *middleware.CORSConfig
	RateLimiter *middleware.TokenBucketLimiter

	Logger    logging.Logger
	Metrics   *prometheus.EngineMetrics
	Collector *prometheus.Collector
}

// NewRouter builds the route tree.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogging(logger, cfg.Metrics, middleware.DefaultLoggingConfig()))
	r.Use(chimw.Recoverer)
	if cfg.CORS != nil {
		r.Use(middleware.CORS(*cfg.CORS))
	}

	if cfg.HealthHandler != nil {
		r.Get("/healthz", cfg.HealthHandler.Liveness)
		r.Get("/readyz", cfg.HealthHandler.Readiness)
	}
	if cfg.Collector != nil {
		r.Handle("/metrics", cfg.Collector.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if cfg.RateLimiter != nil {
			api.Use(middleware.RateLimit(cfg.RateLimiter))
		}
		registerEngineRoutes(api, cfg.EngineHandler)
	})
	return r
}

// registerEngineRoutes mounts the engine operations under /engines.
func registerEngineRoutes(r chi.Router, h *handlers.EngineHandler) {
	if h == nil {
		return
	}
	r.Get("/engines", h.List)
	r.Route("/engines/{engine}", func(er chi.Router) {
		er.Get("/snapshot", h.Snapshot)
		er.Post("/spatial/bin", h.Bin)
		er.Post("/risk/score", h.ScoreRisk)
		er.Post("/risk/entities", h.ScoreEntities)
		er.Post("/hotspots/detect", h.DetectHotspots)
		er.Post("/hotspots/evolution", h.TrackEvolution)
		er.Post("/forecast", h.Forecast)
		er.Post("/patrol/route", h.OptimizePatrol)
		er.Post("/allocation/optimize", h.AllocateResources)
	})
}
