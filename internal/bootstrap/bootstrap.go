// Package bootstrap assembles the forecast service from a configuration
// file. It is shared by the API and worker binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pvcast/pvcast/internal/config"
	"github.com/pvcast/pvcast/internal/forecast"
	"github.com/pvcast/pvcast/internal/provider/resilience"
	"github.com/pvcast/pvcast/internal/telemetry"
	"github.com/pvcast/pvcast/internal/topology"
	"github.com/pvcast/pvcast/internal/weather"
)

// Options configures Build.
type Options struct {
	// ConfigPath is the YAML plant and source configuration.
	ConfigPath string

	// RedisAddr overrides cache.redis_addr from the configuration.
	RedisAddr string

	Logger      zerolog.Logger
	Instruments *telemetry.Instruments

	// Repository stores forecast runs. Nil keeps runs in memory.
	Repository forecast.Repository
}

// App holds the assembled components.
type App struct {
	Config     *config.File
	Topology   *topology.Model
	Registry   *resilience.Registry
	Sources    []weather.Source
	Repository forecast.Repository
	Service    *forecast.Service
	Cache      *weather.Cache

	// Redis is the second-level cache client, nil when disabled.
	Redis *redis.Client
}

// Build loads the configuration and wires the forecast service.
func Build(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	return BuildFromConfig(cfg, opts)
}

// BuildFromConfig wires the forecast service from a parsed configuration.
func BuildFromConfig(cfg *config.File, opts Options) (*App, error) {
	log := opts.Logger

	model, err := cfg.Topology()
	if err != nil {
		return nil, fmt.Errorf("building topology: %w", err)
	}

	registry := resilience.NewRegistry()
	sources, err := cfg.BuildSources(config.SourceDeps{Logger: log, Registry: registry})
	if err != nil {
		return nil, fmt.Errorf("building sources: %w", err)
	}

	app := &App{
		Config:     cfg,
		Topology:   model,
		Registry:   registry,
		Sources:    sources,
		Repository: opts.Repository,
	}
	if app.Repository == nil {
		app.Repository = forecast.NewInMemoryRepository()
	}

	cacheCfg := weather.CacheConfig{
		Logger:       log,
		FetchTimeout: cfg.Cache.FetchTimeout,
		Instruments:  opts.Instruments,
	}
	redisAddr := cfg.Cache.RedisAddr
	if opts.RedisAddr != "" {
		redisAddr = opts.RedisAddr
	}
	if redisAddr != "" {
		app.Redis = redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		cacheCfg.Store = weather.NewRedisStore(app.Redis, cfg.Cache.Prefix)
		log.Info().Str("addr", redisAddr).Msg("redis weather cache enabled")
	}

	app.Cache = weather.NewCache(cacheCfg)
	aggregator := weather.NewAggregator(weather.AggregatorConfig{
		Logger:       log,
		Cache:        app.Cache,
		Step:         cfg.Forecast.Step,
		FetchTimeout: cfg.Forecast.FetchTimeout,
	})

	app.Service = forecast.NewService(forecast.ServiceConfig{
		Logger:         log,
		Topology:       model,
		Sources:        sources,
		Aggregator:     aggregator,
		Repository:     app.Repository,
		Health:         registry,
		Instruments:    opts.Instruments,
		RequestTimeout: cfg.Forecast.RequestTimeout,
		Parallelism:    cfg.Forecast.Parallelism,
	})

	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name()
	}
	log.Info().
		Strs("plants", model.PlantNames()).
		Strs("sources", names).
		Msg("forecast service initialized")

	return app, nil
}

// PingRedis checks the cache connection; it succeeds when Redis is disabled.
func (a *App) PingRedis(ctx context.Context) error {
	if a.Redis == nil {
		return nil
	}
	return a.Redis.Ping(ctx).Err()
}

// Close releases the Redis client.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	return errors.Join(errs...)
}
