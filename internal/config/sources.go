package config

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pvcast/pvcast/internal/provider/resilience"
	"github.com/pvcast/pvcast/internal/weather"
	"github.com/pvcast/pvcast/internal/weather/clearoutside"
	"github.com/pvcast/pvcast/internal/weather/homeassistant"
	"github.com/pvcast/pvcast/internal/weather/openmeteo"
	"github.com/pvcast/pvcast/internal/weather/openweathermap"
)

// Source types.
const (
	TypeOpenMeteo      = openmeteo.Kind
	TypeOpenWeatherMap = openweathermap.Kind
	TypeClearOutside   = clearoutside.Kind
	TypeHomeAssistant  = homeassistant.Kind
)

// SourceDeps are shared by every source built from configuration.
type SourceDeps struct {
	Logger zerolog.Logger
	// Registry, when set, tracks every source's circuit breaker.
	Registry *resilience.Registry
}

// BuildSources creates the configured weather sources in priority order.
func (f *File) BuildSources(deps SourceDeps) ([]weather.Source, error) {
	out := make([]weather.Source, 0, len(f.Sources))
	for _, sc := range f.Sources {
		src, err := sc.build(deps)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", sc.Name, err)
		}
		out = append(out, src)
	}
	return out, nil
}

func (s SourceConfig) build(deps SourceDeps) (weather.Source, error) {
	logger := deps.Logger.With().Str("source", s.Name).Logger()

	switch s.Type {
	case TypeOpenMeteo:
		return openmeteo.NewClient(openmeteo.ClientConfig{
			Name:       s.Name,
			BaseURL:    s.URL,
			Freshness:  s.Freshness,
			HTTPClient: s.httpClient(deps.Registry),
			Logger:     logger,
		}), nil
	case TypeOpenWeatherMap:
		return openweathermap.NewClient(openweathermap.ClientConfig{
			Name:       s.Name,
			APIKey:     s.APIKey,
			OneCallURL: s.URL,
			Freshness:  s.Freshness,
			HTTPClient: s.httpClient(deps.Registry),
			Logger:     logger,
		}), nil
	case TypeClearOutside:
		return clearoutside.NewClient(clearoutside.ClientConfig{
			Name:       s.Name,
			BaseURL:    s.URL,
			Freshness:  s.Freshness,
			HTTPClient: s.httpClient(deps.Registry),
			Logger:     logger,
		}), nil
	case TypeHomeAssistant:
		c, err := homeassistant.NewClient(homeassistant.ClientConfig{
			Name:       s.Name,
			URL:        s.URL,
			Token:      s.Token,
			EntityID:   s.EntityID,
			MaxHorizon: s.MaxHorizon,
			Freshness:  s.Freshness,
			MaxRetries: s.MaxRetries,
			Registry:   deps.Registry,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: unknown source type %q", ErrInvalidConfig, s.Type)
}

func (s SourceConfig) httpClient(registry *resilience.Registry) *resilience.Client {
	cfg := resilience.DefaultClientConfig(s.Name)
	if s.Timeout > 0 {
		cfg.Timeout = s.Timeout
	}
	if s.MaxRetries > 0 {
		cfg.MaxRetries = s.MaxRetries
	}
	cfg.Registry = registry
	return resilience.NewClient(cfg)
}
