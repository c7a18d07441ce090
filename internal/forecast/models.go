// Package forecast turns consolidated weather and plant topology into power
// forecasts for arrays, inverters and plants.
package forecast

import (
	"errors"
	"time"

	"github.com/pvcast/pvcast/internal/pvmodel"
	"github.com/pvcast/pvcast/internal/topology"
	"github.com/pvcast/pvcast/internal/weather"
)

// Forecast errors.
var (
	ErrInvalidKind     = errors.New("invalid forecast kind")
	ErrInvalidInterval = errors.New("invalid interval")
	ErrInvalidPeriod   = errors.New("invalid energy period")
	ErrRunNotFound     = errors.New("forecast run not found")
)

// Kind selects the weather a forecast is computed from.
type Kind string

const (
	// KindLive uses consolidated weather from the configured sources.
	KindLive Kind = "live"
	// KindClearSky assumes a cloudless sky and needs no weather source.
	KindClearSky Kind = "clearsky"
)

// ParseKind parses a kind, defaulting to live.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindLive:
		return KindLive, nil
	case KindClearSky:
		return KindClearSky, nil
	}
	return "", ErrInvalidKind
}

// Sample is the power of one element at one grid point. An invalid sample is
// a gap; its power fields are zero and carry no meaning.
type Sample struct {
	Time      time.Time `json:"time"`
	AC        float64   `json:"ac"`
	DC        float64   `json:"dc"`
	Valid     bool      `json:"valid"`
	GapReason string    `json:"gap_reason,omitempty"`
}

// ArraySeries is the modelled output of one array over the grid.
type ArraySeries struct {
	Key     topology.ArrayKey     `json:"key"`
	Modules int                   `json:"modules"`
	Outputs []pvmodel.ArrayOutput `json:"outputs"`
}

// Samples returns the array output reduced to samples.
func (a ArraySeries) Samples() []Sample {
	out := make([]Sample, len(a.Outputs))
	for i, o := range a.Outputs {
		out[i] = Sample{Time: o.Time, AC: o.AC, DC: o.DC, Valid: o.Valid, GapReason: o.GapReason}
	}
	return out
}

// InverterSeries is an inverter's output with its arrays.
type InverterSeries struct {
	Plant         string        `json:"plant"`
	Name          string        `json:"name"`
	Microinverter bool          `json:"microinverter"`
	Nameplate     float64       `json:"nameplate"`
	Arrays        []ArraySeries `json:"arrays"`
	Samples       []Sample      `json:"samples"`
	// Clipped counts grid points limited by the nameplate.
	Clipped int `json:"clipped"`
}

// PlantSeries is a plant's output with its inverters.
type PlantSeries struct {
	Name      string           `json:"name"`
	Capacity  float64          `json:"capacity"`
	Inverters []InverterSeries `json:"inverters"`
	Samples   []Sample         `json:"samples"`
}

// SourceSummary reports one weather source's part in a run.
type SourceSummary struct {
	Name        string                   `json:"name"`
	OK          bool                     `json:"ok"`
	ErrorKind   weather.ErrorKind        `json:"error_kind,omitempty"`
	Error       string                   `json:"error,omitempty"`
	FetchedAt   *time.Time               `json:"fetched_at,omitempty"`
	Contributed map[weather.Variable]int `json:"contributed,omitempty"`
}

// Diagnostics collects the quality notes of a run.
type Diagnostics struct {
	// Gaps counts grid points where the total is undefined.
	Gaps           int                   `json:"gaps"`
	Clamps         map[pvmodel.Clamp]int `json:"clamps,omitempty"`
	Clipped        int                   `json:"clipped"`
	SourceFailures []string              `json:"source_failures,omitempty"`
}

// Result is an immutable forecast run.
type Result struct {
	RunID     string             `json:"run_id"`
	Kind      Kind               `json:"kind"`
	CreatedAt time.Time          `json:"created_at"`
	Selection topology.Selection `json:"selection"`
	Start     time.Time          `json:"start"`
	Step      time.Duration      `json:"step"`
	Count     int                `json:"count"`
	Plants    []PlantSeries      `json:"plants"`
	// Total is the pointwise sum over Plants, or the selected array's
	// share of its inverter when the selection names an array.
	Total       []Sample        `json:"total"`
	ValidFrom   time.Time       `json:"valid_from"`
	ValidUntil  time.Time       `json:"valid_until"`
	Sources     []SourceSummary `json:"sources,omitempty"`
	Diagnostics Diagnostics     `json:"diagnostics"`
}

// Grid returns the canonical grid every series of the run shares.
func (r *Result) Grid() weather.Grid {
	return weather.Grid{Start: r.Start, Step: r.Step, Count: r.Count}
}

// Plant returns the series of a plant by name.
func (r *Result) Plant(name string) (PlantSeries, bool) {
	for _, p := range r.Plants {
		if p.Name == name {
			return p, true
		}
	}
	return PlantSeries{}, false
}
