package weather

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pvcast/pvcast/internal/topology"
)

const tracerName = "github.com/pvcast/pvcast/internal/weather"

// SourceStatus reports how one source took part in a consolidation.
type SourceStatus struct {
	Name      string    `json:"name"`
	Priority  int       `json:"priority"`
	OK        bool      `json:"ok"`
	Kind      ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	// Contributed counts grid points per variable won by this source.
	Contributed map[Variable]int `json:"contributed,omitempty"`

	err error
}

// Err returns the failure, if any.
func (s SourceStatus) Err() error {
	return s.err
}

// Consolidated is the reconciled weather on the canonical grid.
type Consolidated struct {
	Grid Grid
	// Records holds one record per grid point. Variables no source could
	// provide are absent.
	Records []Record
	// Provenance names the winning source per variable per grid point.
	Provenance []map[Variable]string
	Sources    []SourceStatus
	// ValidUntil is the earliest expiry among contributing sources.
	ValidUntil time.Time
}

// AggregatorConfig holds configuration for the weather aggregator.
type AggregatorConfig struct {
	Logger zerolog.Logger
	Cache  *Cache

	// Step is the canonical grid step (default: 1 hour).
	Step time.Duration

	// MaxSkew is how far a source timestamp may sit from a grid point and
	// still be snapped onto it (default: step/6).
	MaxSkew time.Duration

	// MaxGap is the widest source spacing bridged by interpolation
	// (default: 3 hours).
	MaxGap time.Duration

	// FetchTimeout bounds the whole fan-out (default: 20 seconds). Sources
	// still pending at the deadline count as failed.
	FetchTimeout time.Duration

	// Policies override interpolation per variable.
	Policies map[Variable]Policy

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Aggregator fetches all sources and reconciles them by priority.
type Aggregator struct {
	logger       zerolog.Logger
	cache        *Cache
	step         time.Duration
	resample     ResampleOptions
	fetchTimeout time.Duration
	now          func() time.Time
}

// NewAggregator creates a new aggregator.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	step := cfg.Step
	if step == 0 {
		step = time.Hour
	}

	maxSkew := cfg.MaxSkew
	if maxSkew == 0 {
		maxSkew = step / 6
	}

	maxGap := cfg.MaxGap
	if maxGap == 0 {
		maxGap = 3 * time.Hour
	}

	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout == 0 {
		fetchTimeout = 20 * time.Second
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	cache := cfg.Cache
	if cache == nil {
		cache = NewCache(CacheConfig{Logger: cfg.Logger, Now: now})
	}

	return &Aggregator{
		logger: cfg.Logger,
		cache:  cache,
		step:   step,
		resample: ResampleOptions{
			MaxSkew:  maxSkew,
			MaxGap:   maxGap,
			Policies: cfg.Policies,
		},
		fetchTimeout: fetchTimeout,
		now:          now,
	}
}

// Step returns the canonical grid step.
func (a *Aggregator) Step() time.Duration {
	return a.step
}

// Grid returns the grid a Build call made now would use.
func (a *Aggregator) Grid(horizon time.Duration) Grid {
	return NewGrid(a.now(), a.step, horizon)
}

// MaxHorizon returns the longest horizon any of the sources supports. Zero
// means unlimited.
func MaxHorizon(sources []Source) time.Duration {
	var longest time.Duration
	for _, s := range sources {
		m := s.Capabilities().MaxHorizon
		if m <= 0 {
			return 0
		}
		if m > longest {
			longest = m
		}
	}
	return longest
}

// CheckSourcesHorizon rejects a horizon that no source can serve.
func CheckSourcesHorizon(sources []Source, horizon time.Duration) error {
	if horizon <= 0 {
		return ErrInvalidHorizon
	}
	for _, s := range sources {
		if s.Capabilities().Supports(horizon) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s exceeds the maximum of every source (%s)",
		ErrHorizonOutOfRange, horizon, MaxHorizon(sources))
}

// Build fetches every source and consolidates the results. Sources are given
// in priority order, highest first. The horizon is validated before any
// fetch.
func (a *Aggregator) Build(ctx context.Context, loc *topology.Location, horizon time.Duration, sources []Source) (*Consolidated, error) {
	if len(sources) == 0 {
		return nil, &AllSourcesFailedError{Failures: map[string]error{}}
	}
	if err := CheckSourcesHorizon(sources, horizon); err != nil {
		return nil, err
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "weather.Build")
	defer span.End()
	span.SetAttributes(
		attribute.Int("weather.sources", len(sources)),
		attribute.String("weather.horizon", horizon.String()),
	)

	statuses, series := a.fetchAll(ctx, loc, horizon, sources)

	failures := make(map[string]error)
	for _, st := range statuses {
		if !st.OK {
			failures[st.Name] = st.err
		}
	}
	if len(failures) == len(sources) {
		err := &AllSourcesFailedError{Failures: failures}
		span.RecordError(err)
		span.SetStatus(codes.Error, "all sources failed")
		return nil, err
	}

	grid := a.Grid(horizon)
	out := a.reconcile(grid, statuses, series)

	a.logger.Debug().
		Int("grid_points", grid.Count).
		Int("failed_sources", len(failures)).
		Time("valid_until", out.ValidUntil).
		Msg("weather consolidated")

	return out, nil
}

func (a *Aggregator) fetchAll(ctx context.Context, loc *topology.Location, horizon time.Duration, sources []Source) ([]SourceStatus, []*Series) {
	ctx, cancel := context.WithTimeout(ctx, a.fetchTimeout)
	defer cancel()

	statuses := make([]SourceStatus, len(sources))
	series := make([]*Series, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		statuses[i] = SourceStatus{Name: src.Name(), Priority: i}

		if err := CheckHorizon(src.Name(), src.Capabilities(), horizon); err != nil {
			statuses[i].setErr(err)
			continue
		}

		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			s, err := a.cache.GetOrFetch(ctx, src, loc, horizon)
			if err != nil {
				statuses[i].setErr(err)
				return
			}
			series[i] = s
			statuses[i].OK = true
			statuses[i].FetchedAt = s.FetchedAt
			statuses[i].ExpiresAt = s.ExpiresAt()
		}(i, src)
	}
	wg.Wait()

	for _, st := range statuses {
		if !st.OK {
			a.logger.Warn().
				Str("source", st.Name).
				Str("kind", string(st.Kind)).
				Err(st.err).
				Msg("weather source failed")
		}
	}
	return statuses, series
}

func (s *SourceStatus) setErr(err error) {
	s.OK = false
	s.err = err
	s.Error = err.Error()
	s.Kind = KindUnavailable
	var serr *SourceError
	if errors.As(err, &serr) {
		s.Kind = serr.Kind
	}
}

// reconcile picks, per grid point and variable, the value of the highest
// priority source that has one.
func (a *Aggregator) reconcile(grid Grid, statuses []SourceStatus, series []*Series) *Consolidated {
	aligned := make([][]map[Variable]float64, len(series))
	for i, s := range series {
		if s != nil {
			aligned[i] = Resample(s, grid, a.resample)
		}
	}

	out := &Consolidated{
		Grid:       grid,
		Records:    make([]Record, grid.Count),
		Provenance: make([]map[Variable]string, grid.Count),
		Sources:    statuses,
	}

	for t := 0; t < grid.Count; t++ {
		rec := Record{Time: grid.At(t), Values: make(map[Variable]float64)}
		prov := make(map[Variable]string)
		for _, v := range Variables {
			for i := range aligned {
				if aligned[i] == nil {
					continue
				}
				if val, ok := aligned[i][t][v]; ok {
					rec.Values[v] = val
					prov[v] = statuses[i].Name
					if statuses[i].Contributed == nil {
						statuses[i].Contributed = make(map[Variable]int)
					}
					statuses[i].Contributed[v]++
					break
				}
			}
		}
		out.Records[t] = rec
		out.Provenance[t] = prov
	}

	for _, st := range statuses {
		if !st.OK || len(st.Contributed) == 0 {
			continue
		}
		if out.ValidUntil.IsZero() || st.ExpiresAt.Before(out.ValidUntil) {
			out.ValidUntil = st.ExpiresAt
		}
	}
	if out.ValidUntil.IsZero() {
		out.ValidUntil = a.now().UTC()
	}
	return out
}
