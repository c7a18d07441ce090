// Package main provides the entrypoint for the pvcast refresh worker.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/pvcast/pvcast/internal/bootstrap"
	"github.com/pvcast/pvcast/internal/database"
	"github.com/pvcast/pvcast/internal/forecast"
	"github.com/pvcast/pvcast/internal/telemetry"
	"github.com/pvcast/pvcast/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "pvcast-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting pvcast worker")

	// Worker also exposes a health endpoint for the container platform.
	port := getEnv("APP_PORT", "8080")
	configPath := getEnv("PVCAST_CONFIG", "pvcast.yaml")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    getEnv("APP_ENV", "development"),
		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Enabled:        os.Getenv("OTEL_ENABLED") == "true",
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

	var repo forecast.Repository
	if os.Getenv("DB_HOST") != "" {
		pool, err := database.Connect(ctx, database.ConfigFromEnv())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		repo = forecast.NewPostgresRepository(pool)
	} else {
		log.Warn().Msg("DB_HOST not set - refreshed runs are not persisted across restarts")
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

	refreshCfg := worker.DefaultRefreshConfig()
	if schedule := os.Getenv("REFRESH_SCHEDULE"); schedule != "" {
		refreshCfg.Schedule = schedule
	}
	if h, err := time.ParseDuration(os.Getenv("REFRESH_HORIZON")); err == nil && h > 0 {
		refreshCfg.Horizon = h
	}
	refreshCfg.Retention = app.Config.Forecast.Retention

	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:    refreshCfg,
		Logger:    log,
		Refresher: app.Service,
		Pruner:    app.Repository,
		Cache:     app.Cache,
	})

	scheduler, err := worker.NewScheduler(job, log)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid refresh schedule")
	}
	go func() {
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	// Pub/Sub triggers are optional next to the schedule.
	project, subscription := os.Getenv("PUBSUB_PROJECT"), os.Getenv("PUBSUB_SUBSCRIPTION")
	if project != "" && subscription != "" {
		ps, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        project,
			SubscriptionName: subscription,
			RefreshJob:       job,
			Logger:           log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub handler")
		}
		defer ps.Close()
		go func() {
			if err := ps.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("pubsub handler stopped")
			}
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		status := http.StatusOK
		// Unhealthy only once a refresh has been attempted.
		if job.GetMetrics().TotalRefreshes > 0 && !job.Healthy() {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"version": Version,
			"refresh": job.MetricsSnapshot(),
		})
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
