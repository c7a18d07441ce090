package forecast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/pvcast/pvcast/internal/pvmodel"
	"github.com/pvcast/pvcast/internal/solar"
	"github.com/pvcast/pvcast/internal/telemetry"
	"github.com/pvcast/pvcast/internal/topology"
	"github.com/pvcast/pvcast/internal/weather"
)

const tracerName = "github.com/pvcast/pvcast/internal/forecast"

// HealthRecorder receives per-source outcomes of each run.
type HealthRecorder interface {
	RecordSuccess(name string)
	RecordFailure(name string, err error)
}

// Request selects what to forecast.
type Request struct {
	Selection topology.Selection
	Horizon   time.Duration
	Kind      Kind
}

// ServiceConfig holds configuration for the forecast service.
type ServiceConfig struct {
	Logger zerolog.Logger

	// Topology is the validated plant model (required).
	Topology *topology.Model

	// Sources are the weather sources in priority order, highest first.
	Sources []weather.Source

	// Aggregator builds consolidated weather (default: hourly aggregator).
	Aggregator *weather.Aggregator

	// Power is the array power model (default: pvmodel defaults).
	Power *pvmodel.Model

	// Repository, when set, receives runs from Refresh.
	Repository Repository

	// Health, when set, records source outcomes.
	Health HealthRecorder

	Instruments *telemetry.Instruments

	// RequestTimeout bounds a whole forecast (default: 30 seconds).
	RequestTimeout time.Duration

	// Parallelism bounds concurrent array computations (default: 4).
	Parallelism int

	Now func() time.Time
}

// Service produces forecasts.
type Service struct {
	logger      zerolog.Logger
	topology    *topology.Model
	sources     []weather.Source
	aggregator  *weather.Aggregator
	power       *pvmodel.Model
	repo        Repository
	health      HealthRecorder
	instruments *telemetry.Instruments
	timeout     time.Duration
	parallelism int
	now         func() time.Time
}

// NewService creates a new forecast service.
func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	aggregator := cfg.Aggregator
	if aggregator == nil {
		aggregator = weather.NewAggregator(weather.AggregatorConfig{Logger: cfg.Logger, Now: now})
	}
	power := cfg.Power
	if power == nil {
		power = pvmodel.New(pvmodel.DefaultConfig())
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 4
	}

	return &Service{
		logger:      cfg.Logger,
		topology:    cfg.Topology,
		sources:     cfg.Sources,
		aggregator:  aggregator,
		power:       power,
		repo:        cfg.Repository,
		health:      cfg.Health,
		instruments: cfg.Instruments,
		timeout:     timeout,
		parallelism: parallelism,
		now:         now,
	}
}

// Topology returns the plant model.
func (s *Service) Topology() *topology.Model {
	return s.topology
}

// Sources returns the configured weather sources in priority order.
func (s *Service) Sources() []weather.Source {
	return s.sources
}

// Forecast computes a forecast for the selection. The selection and horizon
// are validated before any weather is fetched.
func (s *Service) Forecast(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := s.forecast(ctx, req)

	gaps := 0
	if res != nil {
		gaps = res.Diagnostics.Gaps
	}
	label := string(req.Kind)
	if label == "" {
		label = string(KindLive)
	}
	s.instruments.RecordForecast(label, time.Since(start), gaps, err)
	return res, err
}

func (s *Service) forecast(ctx context.Context, req Request) (*Result, error) {
	kind, err := ParseKind(string(req.Kind))
	if err != nil {
		return nil, err
	}
	if req.Horizon <= 0 {
		return nil, fmt.Errorf("%w: %s", weather.ErrInvalidHorizon, req.Horizon)
	}

	plants, err := s.topology.Resolve(req.Selection)
	if err != nil {
		return nil, err
	}
	if kind == KindLive {
		if err := weather.CheckSourcesHorizon(s.sources, req.Horizon); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "forecast.Forecast")
	defer span.End()
	span.SetAttributes(
		attribute.String("forecast.kind", string(kind)),
		attribute.String("forecast.plant", req.Selection.Plant),
		attribute.String("forecast.horizon", req.Horizon.String()),
	)

	loc := s.topology.Location()

	var (
		grid       weather.Grid
		records    []weather.Record
		positions  []solar.Position
		validUntil time.Time
		sources    []SourceSummary
		failures   []string
	)

	switch kind {
	case KindLive:
		cons, err := s.aggregator.Build(ctx, loc, req.Horizon, s.sources)
		if err != nil {
			s.recordAllFailed(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "weather unavailable")
			return nil, err
		}
		grid = cons.Grid
		records = cons.Records
		positions = s.power.Positions(loc, grid.Times())
		validUntil = cons.ValidUntil
		sources, failures = s.summarize(cons.Sources)
	case KindClearSky:
		grid = s.aggregator.Grid(req.Horizon)
		positions = s.power.Positions(loc, grid.Times())
		records = make([]weather.Record, grid.Count)
		for i, t := range grid.Times() {
			records[i] = s.power.ClearSkyRecord(positions[i], t)
		}
		validUntil = grid.End()
	}

	plantSeries, err := s.compute(ctx, plants, grid, records, positions)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compute failed")
		return nil, err
	}

	res := &Result{
		RunID:      uuid.New().String(),
		Kind:       kind,
		CreatedAt:  s.now().UTC(),
		Selection:  req.Selection,
		Start:      grid.Start,
		Step:       grid.Step,
		Count:      grid.Count,
		Plants:     plantSeries,
		ValidFrom:  grid.Start,
		ValidUntil: validUntil,
		Sources:    sources,
	}

	if req.Selection.Array != "" {
		res.Total = narrowToArray(plantSeries, req.Selection.Array)
	} else {
		totals := make([][]Sample, len(plantSeries))
		for i, p := range plantSeries {
			totals[i] = p.Samples
		}
		res.Total = SumSamples(totals)
	}
	res.Diagnostics = diagnose(res, failures)

	span.SetAttributes(attribute.Int("forecast.gaps", res.Diagnostics.Gaps))

	s.logger.Info().
		Str("run_id", res.RunID).
		Str("kind", string(kind)).
		Int("plants", len(plantSeries)).
		Int("grid_points", grid.Count).
		Int("gaps", res.Diagnostics.Gaps).
		Strs("failed_sources", failures).
		Msg("forecast computed")

	return res, nil
}

// compute models every array in parallel and aggregates bottom-up.
func (s *Service) compute(ctx context.Context, plants []topology.Plant, grid weather.Grid, records []weather.Record, positions []solar.Position) ([]PlantSeries, error) {
	type job struct {
		plant, inverter, array int
		spec                   pvmodel.ArraySpec
	}

	arrays := make([][][]ArraySeries, len(plants))
	var jobs []job
	for pi, p := range plants {
		arrays[pi] = make([][]ArraySeries, len(p.Inverters))
		for ii, inv := range p.Inverters {
			arrays[pi][ii] = make([]ArraySeries, len(inv.Arrays))
			for ai, arr := range inv.Arrays {
				spec, err := pvmodel.NewArraySpec(p.Name, inv, arr, s.topology.Catalog())
				if err != nil {
					return nil, err
				}
				jobs = append(jobs, job{plant: pi, inverter: ii, array: ai, spec: spec})
			}
		}
	}

	times := grid.Times()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outputs := make([]pvmodel.ArrayOutput, len(times))
			for i, t := range times {
				outputs[i] = s.power.ComputePower(j.spec, records[i], positions[i], t)
			}
			// Each job owns a distinct slot.
			arrays[j.plant][j.inverter][j.array] = ArraySeries{
				Key:     j.spec.Key,
				Modules: j.spec.Modules,
				Outputs: outputs,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]PlantSeries, len(plants))
	for pi, p := range plants {
		inverters := make([]InverterSeries, len(p.Inverters))
		for ii, inv := range p.Inverters {
			spec, err := s.topology.Catalog().Inverter(inv.Model)
			if err != nil {
				return nil, err
			}
			is := AggregateInverter(spec, inv.Microinverter, arrays[pi][ii])
			is.Plant = p.Name
			is.Name = inv.Name
			inverters[ii] = is
		}
		ps := AggregatePlant(inverters)
		ps.Name = p.Name
		out[pi] = ps
	}
	return out, nil
}

// narrowToArray drops every array but the named one from the single
// resolved inverter and returns that array's samples. Inverter and plant
// samples keep the bus total the array was clipped against.
func narrowToArray(plants []PlantSeries, array string) []Sample {
	for pi := range plants {
		for ii := range plants[pi].Inverters {
			inv := &plants[pi].Inverters[ii]
			for _, a := range inv.Arrays {
				if a.Key.Array == array {
					inv.Arrays = []ArraySeries{a}
					return a.Samples()
				}
			}
		}
	}
	return nil
}

// summarize converts source statuses and feeds the health recorder.
func (s *Service) summarize(statuses []weather.SourceStatus) ([]SourceSummary, []string) {
	out := make([]SourceSummary, 0, len(statuses))
	var failures []string
	for _, st := range statuses {
		sum := SourceSummary{
			Name:        st.Name,
			OK:          st.OK,
			ErrorKind:   st.Kind,
			Error:       st.Error,
			Contributed: st.Contributed,
		}
		if !st.FetchedAt.IsZero() {
			fetched := st.FetchedAt
			sum.FetchedAt = &fetched
		}
		out = append(out, sum)

		if st.OK {
			s.recordSuccess(st.Name)
		} else {
			failures = append(failures, st.Name)
			s.recordFailure(st.Name, st.Err())
		}
	}
	return out, failures
}

func (s *Service) recordAllFailed(err error) {
	var all *weather.AllSourcesFailedError
	if !errors.As(err, &all) {
		return
	}
	for name, ferr := range all.Failures {
		s.recordFailure(name, ferr)
	}
}

func (s *Service) recordSuccess(name string) {
	if s.health != nil {
		s.health.RecordSuccess(name)
	}
}

func (s *Service) recordFailure(name string, err error) {
	if s.health != nil {
		s.health.RecordFailure(name, err)
	}
}

func diagnose(res *Result, failures []string) Diagnostics {
	d := Diagnostics{SourceFailures: failures}
	for _, t := range res.Total {
		if !t.Valid {
			d.Gaps++
		}
	}
	for _, p := range res.Plants {
		for _, inv := range p.Inverters {
			d.Clipped += inv.Clipped
			for _, a := range inv.Arrays {
				for _, o := range a.Outputs {
					for _, c := range o.Clamps {
						if d.Clamps == nil {
							d.Clamps = make(map[pvmodel.Clamp]int)
						}
						d.Clamps[c]++
					}
				}
			}
		}
	}
	sort.Strings(d.SourceFailures)
	return d
}

// Refresh computes a live forecast for every plant and stores it. It is the
// unit of work of the background worker.
func (s *Service) Refresh(ctx context.Context, horizon time.Duration) (*Result, error) {
	res, err := s.Forecast(ctx, Request{
		Selection: topology.Selection{Plant: topology.AllPlants},
		Horizon:   horizon,
		Kind:      KindLive,
	})
	if err != nil {
		return nil, err
	}
	if s.repo != nil {
		if err := s.repo.Save(ctx, res); err != nil {
			return nil, fmt.Errorf("save forecast run: %w", err)
		}
	}
	return res, nil
}

// Latest returns the newest stored run covering the plant.
func (s *Service) Latest(ctx context.Context, plant string, kind Kind) (*Result, error) {
	if s.repo == nil {
		return nil, ErrRunNotFound
	}
	return s.repo.Latest(ctx, plant, kind)
}

// Run returns a stored run by id.
func (s *Service) Run(ctx context.Context, runID string) (*Result, error) {
	if s.repo == nil {
		return nil, ErrRunNotFound
	}
	return s.repo.Get(ctx, runID)
}
