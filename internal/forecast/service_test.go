package forecast_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvcast/pvcast/internal/forecast"
	"github.com/pvcast/pvcast/internal/topology"
	"github.com/pvcast/pvcast/internal/weather"
	"github.com/pvcast/pvcast/internal/weather/weathertest"
)

const (
	testModule   = "JA_Solar_JAM54S30_410_MR"
	testInverter = "SMA_America__SB5_0_1SP_US_40__240V_"
	testMicro    = "Enphase_Energy_Inc___IQ7PLUS_72_2_US__240V_"
)

var svcNow = time.Date(2024, 6, 1, 10, 20, 0, 0, time.UTC)

type healthLog struct {
	mu       sync.Mutex
	success  []string
	failures map[string]error
}

func (h *healthLog) RecordSuccess(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.success = append(h.success, name)
}

func (h *healthLog) RecordFailure(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failures == nil {
		h.failures = make(map[string]error)
	}
	h.failures[name] = err
}

func testModel(t *testing.T) *topology.Model {
	t.Helper()
	m, err := topology.NewModel(
		topology.Location{Latitude: 52.35, Longitude: 4.9, Elevation: 10},
		[]topology.Plant{
			{
				Name: "home",
				Inverters: []topology.Inverter{{
					Name:  "main",
					Model: testInverter,
					Arrays: []topology.Array{
						{Name: "east", Tilt: 30, Azimuth: 90, Module: testModule, ModulesPerString: 7, Strings: 1},
						{Name: "west", Tilt: 30, Azimuth: 270, Module: testModule, ModulesPerString: 7, Strings: 1},
					},
				}},
			},
			{
				Name: "shed",
				Inverters: []topology.Inverter{{
					Name:          "micro",
					Model:         testMicro,
					Microinverter: true,
					Arrays: []topology.Array{
						{Name: "roof", Tilt: 20, Azimuth: 180, Module: testModule, ModulesPerString: 4, Strings: 1},
					},
				}},
			},
		},
		nil,
	)
	require.NoError(t, err)
	return m
}

func sunnySource(name string) *weathertest.Source {
	start := svcNow.Truncate(time.Hour)
	s := weathertest.New(name, weathertest.Hourly(start, 72, func(int) map[weather.Variable]float64 {
		return map[weather.Variable]float64{
			weather.GHI:         800,
			weather.DNI:         700,
			weather.DHI:         150,
			weather.Temperature: 22,
			weather.WindSpeed:   2,
		}
	}))
	s.Now = func() time.Time { return svcNow }
	return s
}

func tempOnlySource(name string) *weathertest.Source {
	start := svcNow.Truncate(time.Hour)
	s := weathertest.New(name, weathertest.Hourly(start, 72, func(int) map[weather.Variable]float64 {
		return map[weather.Variable]float64{weather.Temperature: 15, weather.CloudCover: 50}
	}))
	s.Now = func() time.Time { return svcNow }
	return s
}

func newService(t *testing.T, repo forecast.Repository, health forecast.HealthRecorder, sources ...weather.Source) *forecast.Service {
	t.Helper()
	now := func() time.Time { return svcNow }
	logger := zerolog.New(io.Discard)
	return forecast.NewService(forecast.ServiceConfig{
		Logger:   logger,
		Topology: testModel(t),
		Sources:  sources,
		Aggregator: weather.NewAggregator(weather.AggregatorConfig{
			Logger: logger,
			Cache:  weather.NewCache(weather.CacheConfig{Logger: logger, Now: now}),
			Now:    now,
		}),
		Repository: repo,
		Health:     health,
		Now:        now,
	})
}

func TestService_LiveForecast(t *testing.T) {
	a := sunnySource("A")
	b := tempOnlySource("B")
	health := &healthLog{}
	svc := newService(t, nil, health, a, b)

	res, err := svc.Forecast(context.Background(), forecast.Request{
		Selection: topology.Selection{Plant: topology.AllPlants},
		Horizon:   24 * time.Hour,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, forecast.KindLive, res.Kind)
	assert.Equal(t, 24, res.Count)
	assert.True(t, res.Start.Equal(svcNow.Truncate(time.Hour)))
	require.Len(t, res.Plants, 2)
	require.Len(t, res.Total, 24)

	grid := res.Grid()
	for _, p := range res.Plants {
		require.Len(t, p.Samples, grid.Count, p.Name)
		for _, inv := range p.Inverters {
			for i, s := range inv.Samples {
				assert.True(t, s.Time.Equal(grid.At(i)))
				assert.LessOrEqual(t, s.AC, inv.Nameplate+1e-6, "%s/%s at %s", p.Name, inv.Name, s.Time)
				assert.GreaterOrEqual(t, s.AC, 0.0)
			}
		}
	}

	// Around local noon the plant must be producing.
	assert.True(t, res.Total[1].Valid)
	assert.Greater(t, res.Total[1].AC, 1000.0)
	for i := range res.Total {
		assert.InDelta(t, res.Plants[0].Samples[i].AC+res.Plants[1].Samples[i].AC, res.Total[i].AC, 1e-6)
	}

	require.Len(t, res.Sources, 2)
	assert.Equal(t, "A", res.Sources[0].Name)
	assert.True(t, res.Sources[0].OK)
	assert.Empty(t, res.Diagnostics.SourceFailures)
	assert.ElementsMatch(t, []string{"A", "B"}, health.success)
	assert.True(t, res.ValidUntil.After(svcNow))
}

func TestService_SelectionNarrowsTree(t *testing.T) {
	svc := newService(t, nil, nil, sunnySource("A"))

	res, err := svc.Forecast(context.Background(), forecast.Request{
		Selection: topology.Selection{Plant: "home", Inverter: "main", Array: "west"},
		Horizon:   6 * time.Hour,
	})
	require.NoError(t, err)

	require.Len(t, res.Plants, 1)
	require.Len(t, res.Plants[0].Inverters, 1)
	require.Len(t, res.Plants[0].Inverters[0].Arrays, 1)
	assert.Equal(t, "west", res.Plants[0].Inverters[0].Arrays[0].Key.Array)
}

func TestService_ArraySelectionSharesInverterBus(t *testing.T) {
	svc := newService(t, nil, nil, sunnySource("A"))
	ctx := context.Background()

	full, err := svc.Forecast(ctx, forecast.Request{
		Selection: topology.Selection{Plant: "home"},
		Horizon:   6 * time.Hour,
	})
	require.NoError(t, err)
	east, err := svc.Forecast(ctx, forecast.Request{
		Selection: topology.Selection{Plant: "home", Inverter: "main", Array: "east"},
		Horizon:   6 * time.Hour,
	})
	require.NoError(t, err)

	fullInv := full.Plants[0].Inverters[0]
	var fullEast forecast.ArraySeries
	for _, a := range fullInv.Arrays {
		if a.Key.Array == "east" {
			fullEast = a
		}
	}
	require.NotEmpty(t, fullEast.Outputs)

	selInv := east.Plants[0].Inverters[0]
	require.Len(t, selInv.Arrays, 1)
	require.Len(t, east.Total, len(full.Total))

	for i := range full.Total {
		assert.InDelta(t, fullEast.Outputs[i].AC, selInv.Arrays[0].Outputs[i].AC, 1e-9, "array AC at %d", i)
		assert.InDelta(t, fullEast.Outputs[i].AC, east.Total[i].AC, 1e-9, "total at %d", i)
		assert.InDelta(t, fullInv.Samples[i].AC, selInv.Samples[i].AC, 1e-9, "inverter AC at %d", i)
	}
	assert.Greater(t, selInv.Samples[1].AC, east.Total[1].AC)
}

func TestService_ClearSkyDoesNotFetch(t *testing.T) {
	a := sunnySource("A")
	svc := newService(t, nil, nil, a)

	res, err := svc.Forecast(context.Background(), forecast.Request{
		Selection: topology.Selection{Plant: "home"},
		Horizon:   24 * time.Hour,
		Kind:      forecast.KindClearSky,
	})
	require.NoError(t, err)

	assert.Zero(t, a.Calls())
	assert.Equal(t, forecast.KindClearSky, res.Kind)
	assert.Empty(t, res.Sources)
	assert.Greater(t, res.Total[1].AC, 0.0)
	assert.Zero(t, res.Diagnostics.Gaps)
}

func TestService_AllSourcesFailed(t *testing.T) {
	a := sunnySource("A")
	a.Err = weather.NewSourceError("A", weather.KindUnavailable, errors.New("down"))
	b := tempOnlySource("B")
	b.Err = weather.NewSourceError("B", weather.KindAuth, errors.New("bad key"))
	health := &healthLog{}
	svc := newService(t, nil, health, a, b)

	res, err := svc.Forecast(context.Background(), forecast.Request{
		Selection: topology.Selection{Plant: topology.AllPlants},
		Horizon:   24 * time.Hour,
	})

	assert.Nil(t, res)
	assert.ErrorIs(t, err, weather.ErrAllSourcesFailed)
	assert.Len(t, health.failures, 2)
	assert.Empty(t, health.success)
}

func TestService_PartialFailureIsReported(t *testing.T) {
	a := sunnySource("A")
	b := tempOnlySource("B")
	b.Err = weather.NewSourceError("B", weather.KindTimeout, context.DeadlineExceeded)
	health := &healthLog{}
	svc := newService(t, nil, health, a, b)

	res, err := svc.Forecast(context.Background(), forecast.Request{
		Selection: topology.Selection{Plant: "home"},
		Horizon:   12 * time.Hour,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"B"}, res.Diagnostics.SourceFailures)
	assert.False(t, res.Sources[1].OK)
	assert.Equal(t, weather.KindTimeout, res.Sources[1].ErrorKind)
	assert.Contains(t, health.failures, "B")
}

func TestService_ValidatesBeforeFetching(t *testing.T) {
	tests := []struct {
		name    string
		req     forecast.Request
		wantErr error
	}{
		{
			name:    "horizon beyond every source",
			req:     forecast.Request{Selection: topology.Selection{Plant: "home"}, Horizon: 10 * 24 * time.Hour},
			wantErr: weather.ErrHorizonOutOfRange,
		},
		{
			name:    "zero horizon",
			req:     forecast.Request{Selection: topology.Selection{Plant: "home"}},
			wantErr: weather.ErrInvalidHorizon,
		},
		{
			name:    "unknown plant",
			req:     forecast.Request{Selection: topology.Selection{Plant: "garage"}, Horizon: time.Hour},
			wantErr: topology.ErrInvalidTopologyReference,
		},
		{
			name:    "unknown array",
			req:     forecast.Request{Selection: topology.Selection{Plant: "home", Inverter: "main", Array: "north"}, Horizon: time.Hour},
			wantErr: topology.ErrInvalidTopologyReference,
		},
		{
			name:    "unknown kind",
			req:     forecast.Request{Selection: topology.Selection{Plant: "home"}, Horizon: time.Hour, Kind: "historic"},
			wantErr: forecast.ErrInvalidKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := sunnySource("A")
			svc := newService(t, nil, nil, a)

			res, err := svc.Forecast(context.Background(), tt.req)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, a.Calls())
		})
	}
}

func TestService_CachedWeatherGivesIdenticalForecast(t *testing.T) {
	a := sunnySource("A")
	svc := newService(t, nil, nil, a)
	req := forecast.Request{Selection: topology.Selection{Plant: "home"}, Horizon: 24 * time.Hour}

	first, err := svc.Forecast(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Forecast(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, a.Calls())
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Total, second.Total)
}

func TestService_RefreshStoresRun(t *testing.T) {
	repo := forecast.NewInMemoryRepository()
	svc := newService(t, repo, nil, sunnySource("A"))

	_, err := svc.Latest(context.Background(), "home", forecast.KindLive)
	assert.ErrorIs(t, err, forecast.ErrRunNotFound)

	res, err := svc.Refresh(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	latest, err := svc.Latest(context.Background(), "shed", forecast.KindLive)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, latest.RunID)

	_, err = svc.Latest(context.Background(), "shed", forecast.KindClearSky)
	assert.ErrorIs(t, err, forecast.ErrRunNotFound)

	stored, err := svc.Run(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, res.Total, stored.Total)
}

func TestService_LatestWithoutRepository(t *testing.T) {
	svc := newService(t, nil, nil, sunnySource("A"))
	_, err := svc.Latest(context.Background(), "home", forecast.KindLive)
	assert.ErrorIs(t, err, forecast.ErrRunNotFound)
	_, err = svc.Run(context.Background(), "run_missing")
	assert.ErrorIs(t, err, forecast.ErrRunNotFound)
}
