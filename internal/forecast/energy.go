package forecast

import (
	"fmt"
	"time"
)

// Period is an energy accumulation period in the plant's local time.
type Period string

const (
	PeriodHour Period = "hour"
	PeriodDay  Period = "day"
)

// ParsePeriod parses a period, defaulting to hour.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodHour:
		return PeriodHour, nil
	case PeriodDay:
		return PeriodDay, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
}

// EnergyBucket is the energy produced in one period.
type EnergyBucket struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Wh    float64   `json:"wh"`
	// Complete is false when the period contains a gap.
	Complete bool `json:"complete"`
}

// EnergyBuckets integrates AC power into energy per period, assuming constant
// power over each step starting at the sample time. Periods are aligned to
// local midnight or the local hour in tz.
func EnergyBuckets(samples []Sample, step time.Duration, period Period, tz *time.Location) ([]EnergyBucket, error) {
	if tz == nil {
		tz = time.UTC
	}
	if step <= 0 {
		return nil, fmt.Errorf("%w: step %s", ErrInvalidInterval, step)
	}

	var floor func(time.Time) (time.Time, time.Time)
	switch period {
	case PeriodHour:
		floor = func(t time.Time) (time.Time, time.Time) {
			l := t.In(tz)
			start := time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), 0, 0, 0, tz)
			return start, start.Add(time.Hour)
		}
	case PeriodDay:
		floor = func(t time.Time) (time.Time, time.Time) {
			l := t.In(tz)
			start := time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, tz)
			return start, time.Date(l.Year(), l.Month(), l.Day()+1, 0, 0, 0, 0, tz)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}

	hours := step.Hours()
	var out []EnergyBucket
	for _, s := range samples {
		start, end := floor(s.Time)
		if len(out) == 0 || !out[len(out)-1].Start.Equal(start) {
			out = append(out, EnergyBucket{Start: start, End: end, Complete: true})
		}
		b := &out[len(out)-1]
		if !s.Valid {
			b.Complete = false
			continue
		}
		b.Wh += s.AC * hours
	}
	return out, nil
}

// CumulativePoint is the energy produced from the first sample up to and
// including the step that starts at Time.
type CumulativePoint struct {
	Time  time.Time `json:"time"`
	Wh    float64   `json:"wh"`
	Valid bool      `json:"valid"`
}

// Cumulative returns running energy totals. Once a gap is met every later
// point is invalid because the running total is unknown.
func Cumulative(samples []Sample, step time.Duration) []CumulativePoint {
	out := make([]CumulativePoint, len(samples))
	total := 0.0
	valid := true
	for i, s := range samples {
		if !s.Valid {
			valid = false
		}
		if valid {
			total += s.AC * step.Hours()
		}
		out[i] = CumulativePoint{Time: s.Time, Wh: total, Valid: valid}
		if !valid {
			out[i].Wh = 0
		}
	}
	return out
}

// Upsample linearly interpolates samples spaced step apart onto a finer
// interval. The interval must divide step. Points between a gap and its
// neighbours are gaps. Nothing is extrapolated past the last sample.
func Upsample(samples []Sample, step, interval time.Duration) ([]Sample, error) {
	if interval <= 0 || step <= 0 || interval > step || step%interval != 0 {
		return nil, fmt.Errorf("%w: %s does not divide %s", ErrInvalidInterval, interval, step)
	}
	if interval == step || len(samples) < 2 {
		return append([]Sample(nil), samples...), nil
	}

	k := int(step / interval)
	out := make([]Sample, 0, (len(samples)-1)*k+1)
	for i := 0; i < len(samples)-1; i++ {
		a, b := samples[i], samples[i+1]
		out = append(out, a)
		for j := 1; j < k; j++ {
			t := a.Time.Add(time.Duration(j) * interval)
			if !a.Valid || !b.Valid {
				reason := a.GapReason
				if a.Valid {
					reason = b.GapReason
				}
				out = append(out, Sample{Time: t, GapReason: reason})
				continue
			}
			f := float64(j) / float64(k)
			out = append(out, Sample{
				Time:  t,
				AC:    a.AC + f*(b.AC-a.AC),
				DC:    a.DC + f*(b.DC-a.DC),
				Valid: true,
			})
		}
	}
	return append(out, samples[len(samples)-1]), nil
}
