// Package weathertest provides a scriptable weather source for tests.
package weathertest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pvcast/pvcast/internal/topology"
	"github.com/pvcast/pvcast/internal/weather"
)

// Source is an in-memory weather.Source that counts its fetches.
type Source struct {
	SourceName string
	Caps       weather.Capabilities
	// Records builds the payload for each fetch.
	Records func(loc *topology.Location, horizon time.Duration) []weather.Record
	// Err, when set, is returned by every fetch.
	Err error
	// Delay is applied before answering; fetches honour context cancellation.
	Delay time.Duration
	// Now stamps FetchedAt; defaults to time.Now.
	Now func() time.Time

	calls atomic.Int32
}

// New creates a source with hourly resolution, one hour freshness and a
// seven day window.
func New(name string, records func(loc *topology.Location, horizon time.Duration) []weather.Record) *Source {
	return &Source{
		SourceName: name,
		Caps: weather.Capabilities{
			Kind:       "test",
			Variables:  weather.Variables,
			Resolution: time.Hour,
			Freshness:  time.Hour,
			MaxHorizon: 7 * 24 * time.Hour,
		},
		Records: records,
	}
}

func (s *Source) Name() string                       { return s.SourceName }
func (s *Source) Capabilities() weather.Capabilities { return s.Caps }

// Calls returns how many times Fetch ran.
func (s *Source) Calls() int {
	return int(s.calls.Load())
}

func (s *Source) Fetch(ctx context.Context, loc *topology.Location, horizon time.Duration) (*weather.Series, error) {
	s.calls.Add(1)

	if err := weather.CheckHorizon(s.SourceName, s.Caps, horizon); err != nil {
		return nil, err
	}

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, weather.NewSourceError(s.SourceName, weather.KindTimeout, ctx.Err())
		}
	}

	if s.Err != nil {
		return nil, s.Err
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	var records []weather.Record
	if s.Records != nil {
		records = s.Records(loc, horizon)
	}
	return weather.NewSeries(s.SourceName, now(), s.Caps, records), nil
}

// Hourly returns a records builder producing one record per hour from start
// for n hours, with values produced by fn.
func Hourly(start time.Time, n int, fn func(i int) map[weather.Variable]float64) func(*topology.Location, time.Duration) []weather.Record {
	return func(*topology.Location, time.Duration) []weather.Record {
		out := make([]weather.Record, 0, n)
		for i := 0; i < n; i++ {
			vals := fn(i)
			if vals == nil {
				continue
			}
			out = append(out, weather.Record{Time: start.Add(time.Duration(i) * time.Hour), Values: vals})
		}
		return out
	}
}
