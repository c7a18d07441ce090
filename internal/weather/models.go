// Package weather ingests forecast weather from external sources, caches it,
// and consolidates it onto a single canonical time grid.
package weather

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pvcast/pvcast/internal/topology"
)

// Weather errors.
var (
	ErrSourceUnavailable = errors.New("weather source unavailable")
	ErrAllSourcesFailed  = errors.New("all weather sources failed")
	ErrHorizonOutOfRange = errors.New("forecast horizon out of range")
	ErrInvalidHorizon    = errors.New("forecast horizon must be positive")
)

// Variable names a weather quantity.
type Variable string

const (
	GHI         Variable = "ghi"         // W/m2
	DNI         Variable = "dni"         // W/m2
	DHI         Variable = "dhi"         // W/m2
	CloudCover  Variable = "cloud_cover" // percent 0-100
	Temperature Variable = "temperature" // C
	WindSpeed   Variable = "wind_speed"  // m/s
	Humidity    Variable = "humidity"    // percent 0-100
)

// Variables lists every known variable in a stable order.
var Variables = []Variable{GHI, DNI, DHI, CloudCover, Temperature, WindSpeed, Humidity}

// Continuous reports whether the variable may be linearly interpolated.
// Cloud cover is reported in coarse buckets by most sources and is treated
// as categorical.
func (v Variable) Continuous() bool {
	return v != CloudCover
}

// Record is the weather at one instant. Absent variables are missing, which
// is different from zero.
type Record struct {
	Time   time.Time            `json:"time"`
	Values map[Variable]float64 `json:"values"`
}

// Get returns a variable and whether it is present.
func (r Record) Get(v Variable) (float64, bool) {
	val, ok := r.Values[v]
	return val, ok
}

// Series is the normalized output of one source fetch.
type Series struct {
	Source     string        `json:"source"`
	FetchedAt  time.Time     `json:"fetched_at"`
	Freshness  time.Duration `json:"freshness"`
	Resolution time.Duration `json:"resolution"`
	Records    []Record      `json:"records"`
}

// NewSeries builds a series with UTC, strictly increasing timestamps. Later
// records win over earlier ones with the same timestamp.
func NewSeries(source string, fetchedAt time.Time, caps Capabilities, records []Record) *Series {
	byTime := make(map[int64]Record, len(records))
	for _, r := range records {
		if len(r.Values) == 0 {
			continue
		}
		t := r.Time.UTC()
		byTime[t.UnixNano()] = Record{Time: t, Values: r.Values}
	}

	out := make([]Record, 0, len(byTime))
	for _, r := range byTime {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })

	return &Series{
		Source:     source,
		FetchedAt:  fetchedAt.UTC(),
		Freshness:  caps.Freshness,
		Resolution: caps.Resolution,
		Records:    out,
	}
}

// ExpiresAt returns when the series stops being fresh.
func (s *Series) ExpiresAt() time.Time {
	return s.FetchedAt.Add(s.Freshness)
}

// Coverage returns the first and last record times.
func (s *Series) Coverage() (time.Time, time.Time, bool) {
	if len(s.Records) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return s.Records[0].Time, s.Records[len(s.Records)-1].Time, true
}

// Capabilities describes what a source can deliver.
type Capabilities struct {
	Kind       string
	Variables  []Variable
	Resolution time.Duration
	Freshness  time.Duration
	MaxHorizon time.Duration
}

// Supports reports whether the source can cover the horizon.
func (c Capabilities) Supports(horizon time.Duration) bool {
	return c.MaxHorizon <= 0 || horizon <= c.MaxHorizon
}

// Source fetches forecast weather for a location.
type Source interface {
	// Name returns the configured source name, unique per deployment.
	Name() string

	// Capabilities returns the static description of the source.
	Capabilities() Capabilities

	// Fetch returns normalized records covering at least the horizon from now,
	// or a *SourceError. It never returns an empty series without an error.
	Fetch(ctx context.Context, loc *topology.Location, horizon time.Duration) (*Series, error)
}

// ErrorKind classifies a source failure.
type ErrorKind string

const (
	KindTimeout      ErrorKind = "timeout"
	KindUnavailable  ErrorKind = "unavailable"
	KindMalformed    ErrorKind = "malformed"
	KindAuth         ErrorKind = "auth"
	KindRateLimited  ErrorKind = "rate_limited"
	KindOutOfRange   ErrorKind = "horizon_out_of_range"
	KindNotSupported ErrorKind = "not_supported"
)

// SourceError is returned by sources once their own retries are exhausted.
type SourceError struct {
	Source string
	Kind   ErrorKind
	Err    error
}

func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("weather source %s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("weather source %s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Is matches ErrSourceUnavailable for every kind, and ErrHorizonOutOfRange for
// out-of-range failures.
func (e *SourceError) Is(target error) bool {
	switch target {
	case ErrSourceUnavailable:
		return true
	case ErrHorizonOutOfRange:
		return e.Kind == KindOutOfRange
	}
	return false
}

// NewSourceError wraps err for the named source.
func NewSourceError(source string, kind ErrorKind, err error) *SourceError {
	return &SourceError{Source: source, Kind: kind, Err: err}
}

// AllSourcesFailedError carries the failure of every configured source.
type AllSourcesFailedError struct {
	Failures map[string]error
}

func (e *AllSourcesFailedError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for n := range e.Failures {
		names = append(names, n)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", n, e.Failures[n]))
	}
	return fmt.Sprintf("%s (%s)", ErrAllSourcesFailed, strings.Join(parts, "; "))
}

func (e *AllSourcesFailedError) Is(target error) bool {
	return target == ErrAllSourcesFailed
}

// CheckHorizon validates a requested horizon against a source's window
// before any network call.
func CheckHorizon(source string, caps Capabilities, horizon time.Duration) error {
	if horizon <= 0 {
		return ErrInvalidHorizon
	}
	if !caps.Supports(horizon) {
		return NewSourceError(source, KindOutOfRange,
			fmt.Errorf("horizon %s exceeds maximum %s", horizon, caps.MaxHorizon))
	}
	return nil
}
