package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/pvcast/pvcast"

// Instruments records forecast pipeline metrics. A nil *Instruments is valid
// and records nothing, so components can run without telemetry in tests.
type Instruments struct {
	fetchDuration    metric.Float64Histogram
	fetchTotal       metric.Int64Counter
	cacheHits        metric.Int64Counter
	cacheMisses      metric.Int64Counter
	forecastDuration metric.Float64Histogram
	forecastTotal    metric.Int64Counter
	forecastGaps     metric.Int64Counter
}

// NewInstruments creates the pipeline instruments on the given meter. A nil
// meter falls back to the global meter provider.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	fetchDuration, err := meter.Float64Histogram(
		"weather.source.fetch.duration",
		metric.WithDescription("Duration of weather source fetches in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	fetchTotal, err := meter.Int64Counter(
		"weather.source.fetch.total",
		metric.WithDescription("Total number of weather source fetches"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	cacheHits, err := meter.Int64Counter(
		"weather.cache.hit",
		metric.WithDescription("Number of weather cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, err
	}

	cacheMisses, err := meter.Int64Counter(
		"weather.cache.miss",
		metric.WithDescription("Number of weather cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, err
	}

	forecastDuration, err := meter.Float64Histogram(
		"forecast.run.duration",
		metric.WithDescription("Duration of forecast runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	forecastTotal, err := meter.Int64Counter(
		"forecast.run.total",
		metric.WithDescription("Total number of forecast runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	forecastGaps, err := meter.Int64Counter(
		"forecast.gap.total",
		metric.WithDescription("Number of forecast samples left as gaps"),
		metric.WithUnit("{sample}"),
	)
	if err != nil {
		return nil, err
	}

	return &Instruments{
		fetchDuration:    fetchDuration,
		fetchTotal:       fetchTotal,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		forecastDuration: forecastDuration,
		forecastTotal:    forecastTotal,
		forecastGaps:     forecastGaps,
	}, nil
}

// RecordFetch records one weather source fetch.
func (i *Instruments) RecordFetch(source string, duration time.Duration, err error) {
	if i == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("source.name", source)}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}

	// Background context so cancelled requests still get recorded.
	ctx := context.Background()
	i.fetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	i.fetchTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCacheHit records a weather cache hit.
func (i *Instruments) RecordCacheHit(source string) {
	if i == nil {
		return
	}
	i.cacheHits.Add(context.Background(), 1, metric.WithAttributes(attribute.String("source.name", source)))
}

// RecordCacheMiss records a weather cache miss.
func (i *Instruments) RecordCacheMiss(source string) {
	if i == nil {
		return
	}
	i.cacheMisses.Add(context.Background(), 1, metric.WithAttributes(attribute.String("source.name", source)))
}

// RecordForecast records a completed forecast run.
func (i *Instruments) RecordForecast(kind string, duration time.Duration, gaps int, err error) {
	if i == nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("forecast.kind", kind)}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}

	ctx := context.Background()
	i.forecastDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	i.forecastTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	if gaps > 0 {
		i.forecastGaps.Add(ctx, int64(gaps), metric.WithAttributes(attrs...))
	}
}
