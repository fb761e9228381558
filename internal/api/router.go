// Package api provides the caregiver agent's local HTTP API.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/careviah/caregiver/internal/api/handler"
	"github.com/careviah/caregiver/internal/api/middleware"
	"github.com/careviah/caregiver/internal/geolocation"
	"github.com/careviah/caregiver/internal/resilience"
	"github.com/careviah/caregiver/internal/schedule"
	"github.com/careviah/caregiver/internal/worker"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	// Token, when set, is required as a bearer token on /v1 routes other
	// than ops.
	Token string

	Store    *schedule.Store
	Sessions *schedule.Sessions
	Executor *schedule.Executor
	Poller   *worker.Poller

	// Reported receives positions posted to /v1/location (optional).
	Reported *geolocation.Reported

	// Upstream is pinged by the readiness check (optional).
	Upstream handler.Pinger
	Registry *resilience.Registry
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "caregiver-agent"
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = schedule.NewSessions()
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.SecurityHeaders)      // Security headers
	r.Use(middleware.ContentTypeJSON)      // JSON content type

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Poller:    cfg.Poller,
		Store:     cfg.Store,
		Upstream:  cfg.Upstream,
		Registry:  cfg.Registry,
	})
	scheduleHandler := handler.NewScheduleHandler(cfg.Store, cfg.Poller)
	visitHandler := handler.NewVisitHandler(cfg.Store, sessions, cfg.Executor, cfg.Logger)
	sessionHandler := handler.NewSessionHandler(cfg.Poller, cfg.Reported, cfg.Logger)

	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)
	refreshRateLimit := middleware.RateLimitByIP(middleware.RefreshRateLimit)
	transitionRateLimit := middleware.RateLimitByIP(middleware.TransitionRateLimit)

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.LocalToken(cfg.Token))
			r.Use(middleware.RequireJSON)

			r.Route("/schedule", func(r chi.Router) {
				r.With(standardRateLimit).Get("/today", scheduleHandler.Today)
				r.With(refreshRateLimit).Post("/refresh", scheduleHandler.Refresh)
			})

			r.Route("/visits/{visitId}", func(r chi.Router) {
				r.With(standardRateLimit).Get("/", visitHandler.GetVisit)
				r.With(standardRateLimit).Put("/tasks/{taskId}", visitHandler.UpdateTask)
				r.With(transitionRateLimit).Post("/clock-in", visitHandler.ClockIn)
				r.With(transitionRateLimit).Post("/clock-out", visitHandler.ClockOut)
			})

			r.Route("/session", func(r chi.Router) {
				r.Use(standardRateLimit)
				r.Post("/visibility", sessionHandler.Visibility)
			})

			r.With(standardRateLimit).Post("/location", sessionHandler.ReportLocation)
		})
	})

	return r
}
