package forecast_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvcast/pvcast/internal/forecast"
)

func hourly(start time.Time, ac ...float64) []forecast.Sample {
	out := make([]forecast.Sample, len(ac))
	for i, w := range ac {
		out[i] = forecast.Sample{Time: start.Add(time.Duration(i) * time.Hour), AC: w, DC: w * 1.05, Valid: w >= 0}
		if w < 0 {
			out[i].AC, out[i].DC = 0, 0
			out[i].GapReason = "missing"
		}
	}
	return out
}

func TestEnergyBuckets_DayInLocalTime(t *testing.T) {
	ams, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)

	// 20:00 UTC is 22:00 in Amsterdam, so hours 0-1 belong to June 1 and
	// hours 2-3 to June 2 local.
	start := time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC)
	samples := hourly(start, 100, 200, 300, -1)

	buckets, err := forecast.EnergyBuckets(samples, time.Hour, forecast.PeriodDay, ams)
	require.NoError(t, err)
	require.Len(t, buckets, 2)

	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, ams), buckets[0].Start)
	assert.InDelta(t, 300, buckets[0].Wh, 1e-9)
	assert.True(t, buckets[0].Complete)

	assert.InDelta(t, 300, buckets[1].Wh, 1e-9)
	assert.False(t, buckets[1].Complete, "a gap makes the bucket incomplete")
	assert.Equal(t, time.Date(2024, 6, 3, 0, 0, 0, 0, ams), buckets[1].End)
}

func TestEnergyBuckets_HourWithSubHourlySteps(t *testing.T) {
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	var samples []forecast.Sample
	for i := 0; i < 8; i++ {
		samples = append(samples, forecast.Sample{Time: start.Add(time.Duration(i) * 15 * time.Minute), AC: 400, Valid: true})
	}

	buckets, err := forecast.EnergyBuckets(samples, 15*time.Minute, forecast.PeriodHour, nil)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.InDelta(t, 400, buckets[0].Wh, 1e-9)
	assert.InDelta(t, 400, buckets[1].Wh, 1e-9)
}

func TestEnergyBuckets_InvalidPeriod(t *testing.T) {
	_, err := forecast.EnergyBuckets(nil, time.Hour, forecast.Period("week"), nil)
	assert.ErrorIs(t, err, forecast.ErrInvalidPeriod)

	_, err = forecast.ParsePeriod("fortnight")
	assert.ErrorIs(t, err, forecast.ErrInvalidPeriod)
	p, err := forecast.ParsePeriod("")
	require.NoError(t, err)
	assert.Equal(t, forecast.PeriodHour, p)
}

func TestCumulative(t *testing.T) {
	samples := hourly(t0, 100, 200, -1, 300)
	points := forecast.Cumulative(samples, time.Hour)

	require.Len(t, points, 4)
	assert.InDelta(t, 100, points[0].Wh, 1e-9)
	assert.InDelta(t, 300, points[1].Wh, 1e-9)
	assert.True(t, points[1].Valid)
	assert.False(t, points[2].Valid)
	assert.False(t, points[3].Valid, "totals after a gap are unknown")
}

func TestUpsample(t *testing.T) {
	samples := hourly(t0, 0, 600, -1)

	out, err := forecast.Upsample(samples, time.Hour, 15*time.Minute)
	require.NoError(t, err)

	// Two intervals of four points plus the final sample.
	require.Len(t, out, 9)
	for i, s := range out {
		assert.True(t, s.Time.Equal(t0.Add(time.Duration(i)*15*time.Minute)))
	}
	assert.InDelta(t, 150, out[1].AC, 1e-9)
	assert.InDelta(t, 450, out[3].AC, 1e-9)
	assert.InDelta(t, 600, out[4].AC, 1e-9)
	assert.False(t, out[5].Valid, "points next to a gap are gaps")
	assert.False(t, out[8].Valid)
}

func TestUpsample_InvalidInterval(t *testing.T) {
	samples := hourly(t0, 1, 2)
	for _, iv := range []time.Duration{0, 7 * time.Minute, 2 * time.Hour} {
		_, err := forecast.Upsample(samples, time.Hour, iv)
		assert.ErrorIs(t, err, forecast.ErrInvalidInterval, iv.String())
	}

	same, err := forecast.Upsample(samples, time.Hour, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, samples, same)
}
