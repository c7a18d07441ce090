// Package api provides the HTTP API of the pvcast forecast service.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/pvcast/pvcast/internal/api/handler"
	"github.com/pvcast/pvcast/internal/api/middleware"
	"github.com/pvcast/pvcast/internal/auth"
	"github.com/pvcast/pvcast/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	// Service computes and stores forecasts (required).
	Service handler.ForecastService

	// Registry reports weather source health.
	Registry *resilience.Registry

	// ReadinessChecks are run by /v1/ops/ready.
	ReadinessChecks map[string]handler.ReadinessCheck

	// Tokens validates bearer tokens. When nil the API is open.
	Tokens middleware.TokenValidator

	// DefaultHorizon applies when a request names no horizon.
	DefaultHorizon time.Duration

	// RequireTLS rejects requests forwarded over plain HTTP.
	RequireTLS bool
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "pvcast-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	model := cfg.Service.Topology()

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Sources:   cfg.Service.Sources(),
		Registry:  cfg.Registry,
		Checks:    cfg.ReadinessChecks,
	})
	plantHandler := handler.NewPlantHandler(model)
	forecastHandler := handler.NewForecastHandler(cfg.Service, cfg.DefaultHorizon, cfg.Logger)
	adminHandler := handler.NewAdminHandler(cfg.Service, cfg.DefaultHorizon, cfg.Logger)

	readAuth := requireScope(cfg.Tokens, auth.ScopeForecastRead)
	adminAuth := requireScope(cfg.Tokens, auth.ScopeAdmin)

	forecastRateLimit := middleware.RateLimitByClient(middleware.ForecastRateLimit) // 30 req/min
	standardRateLimit := middleware.RateLimitByClient(middleware.StandardRateLimit) // 100 req/min
	adminRateLimit := middleware.RateLimitByClient(middleware.AdminRateLimit)       // 5 req/min

	r.Route("/v1", func(r chi.Router) {
		// Liveness and readiness stay public for orchestrators.
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(readAuth, standardRateLimit).Get("/sources", opsHandler.SourceStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(readAuth)

			r.With(standardRateLimit).Get("/plants", plantHandler.ListPlants)
			r.With(standardRateLimit).Get("/runs/{runId}", forecastHandler.GetRun)

			r.Route("/forecast/{plant}", func(r chi.Router) {
				r.With(forecastRateLimit).Get("/", forecastHandler.GetForecast)
				r.With(forecastRateLimit).Get("/energy", forecastHandler.GetEnergy)
				r.With(standardRateLimit).Get("/latest", forecastHandler.GetLatest)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(adminAuth)
			r.Use(adminRateLimit)
			r.Use(middleware.RequireJSON)
			r.Post("/refresh", adminHandler.Refresh)
		})
	})

	return r
}

// requireScope returns the auth middleware for scope, or a passthrough when
// token validation is disabled.
func requireScope(tokens middleware.TokenValidator, scope string) func(http.Handler) http.Handler {
	if tokens == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.Auth(tokens, scope)
}
