// Package main provides the entrypoint for the pvcast API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pvcast/pvcast/internal/api"
	"github.com/pvcast/pvcast/internal/api/handler"
	"github.com/pvcast/pvcast/internal/api/middleware"
	"github.com/pvcast/pvcast/internal/auth"
	"github.com/pvcast/pvcast/internal/bootstrap"
	"github.com/pvcast/pvcast/internal/database"
	"github.com/pvcast/pvcast/internal/forecast"
	"github.com/pvcast/pvcast/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "pvcast-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting pvcast API")

	// Get configuration from environment
	port := getEnv("APP_PORT", "8080")
	env := getEnv("APP_ENV", "development")
	otlpEndpoint := getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	configPath := getEnv("PVCAST_CONFIG", "pvcast.yaml")
	requireTLS, _ := strconv.ParseBool(os.Getenv("REQUIRE_TLS"))

	// Initialize OpenTelemetry
	ctx := context.Background()
	telemetryEnabled := os.Getenv("OTEL_ENABLED") == "true"

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		OTLPEndpoint:   otlpEndpoint,
		Enabled:        telemetryEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if telemetryEnabled {
		log.Info().
			Str("otlp_endpoint", otlpEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics(tp.Meter)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	checks := map[string]handler.ReadinessCheck{}

	// Connect to database when configured; otherwise runs stay in memory.
	var repo forecast.Repository
	if os.Getenv("DB_HOST") != "" {
		dbConfig := database.ConfigFromEnv()
		pool, err := database.Connect(ctx, dbConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		log.Info().
			Str("host", dbConfig.Host).
			Int("port", dbConfig.Port).
			Str("database", dbConfig.Database).
			Msg("database connected")

		repo = forecast.NewPostgresRepository(pool)
		checks["postgres"] = pool.Ping
	} else {
		log.Warn().Msg("DB_HOST not set - forecast runs are kept in memory")
	}

	app, err := bootstrap.Build(bootstrap.Options{
		ConfigPath:  configPath,
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		Logger:      log,
		Instruments: tp.Instruments,
		Repository:  repo,
	})
	if err != nil {
		log.Fatal().Err(err).Str("config", configPath).Msg("failed to load configuration")
	}
	defer app.Close()
	if app.Redis != nil {
		checks["redis"] = app.PingRedis
	}

	// Bearer tokens protect the API when a signing key is configured.
	var tokens middleware.TokenValidator
	if key := os.Getenv("API_SIGNING_KEY"); key != "" {
		tokens = auth.NewTokenService(auth.TokenConfig{SigningKey: key})
	} else {
		log.Warn().Msg("API_SIGNING_KEY not set - API is open without authentication")
	}

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:         Version,
		BuildTime:       BuildTime,
		Logger:          log,
		ServiceName:     serviceName,
		Metrics:         metrics,
		Service:         app.Service,
		Registry:        app.Registry,
		ReadinessChecks: checks,
		Tokens:          tokens,
		DefaultHorizon:  app.Config.Forecast.DefaultHorizon,
		RequireTLS:      requireTLS,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
