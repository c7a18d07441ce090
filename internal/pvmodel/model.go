package pvmodel

import (
	"fmt"
	"math"
	"time"

	"github.com/pvcast/pvcast/internal/solar"
	"github.com/pvcast/pvcast/internal/topology"
	"github.com/pvcast/pvcast/internal/weather"
)

// Ambient conditions assumed by clear-sky forecasts.
const (
	ClearSkyTemperature = 20.0
	ClearSkyWindSpeed   = 1.0
)

// Plausible ambient temperature range in C.
const (
	minTemperature = -60.0
	maxTemperature = 60.0
)

// Config holds configuration for the power model.
type Config struct {
	// Library supplies the physics (default: solar.NewStandard with defaults).
	Library solar.Library

	// IAMCoefficient is the ASHRAE b0 parameter (default: 0.05).
	IAMCoefficient float64
}

// DefaultConfig returns the default power model configuration.
func DefaultConfig() Config {
	return Config{
		Library:        solar.NewStandard(solar.Config{}),
		IAMCoefficient: 0.05,
	}
}

// Model computes array power. It is stateless and safe for concurrent use.
type Model struct {
	lib solar.Library
	b0  float64
}

// New creates a power model.
func New(cfg Config) *Model {
	if cfg.Library == nil {
		cfg.Library = solar.NewStandard(solar.Config{})
	}
	if cfg.IAMCoefficient == 0 {
		cfg.IAMCoefficient = 0.05
	}
	return &Model{lib: cfg.Library, b0: cfg.IAMCoefficient}
}

// Positions returns the sun position for each time at the location.
func (m *Model) Positions(loc *topology.Location, times []time.Time) []solar.Position {
	out := make([]solar.Position, len(times))
	for i, t := range times {
		out[i] = m.lib.Position(t, loc.Latitude, loc.Longitude)
	}
	return out
}

// ClearSkyRecord returns the weather assumed by a clear-sky forecast.
func (m *Model) ClearSkyRecord(pos solar.Position, t time.Time) weather.Record {
	irr := m.lib.ClearSky(pos, m.lib.ExtraterrestrialDNI(t))
	return weather.Record{
		Time: t,
		Values: map[weather.Variable]float64{
			weather.GHI:         irr.GHI,
			weather.DNI:         irr.DNI,
			weather.DHI:         irr.DHI,
			weather.Temperature: ClearSkyTemperature,
			weather.WindSpeed:   ClearSkyWindSpeed,
		},
	}
}

// ComputePower models one array at time t. With the sun at or below the
// horizon the output is exactly zero whatever the weather, and so is it when
// no irradiance reaches the array. Otherwise missing irradiance (with no
// cloud cover to fall back on) or missing temperature yields a gap.
func (m *Model) ComputePower(spec ArraySpec, rec weather.Record, pos solar.Position, t time.Time) ArrayOutput {
	if !pos.Up() {
		return ArrayOutput{Time: t, Valid: true}
	}

	out := ArrayOutput{Time: t}
	dniExtra := m.lib.ExtraterrestrialDNI(t)

	irr, origin, err := m.resolveIrradiance(rec, pos, dniExtra, &out.Clamps)
	if err != nil {
		return gap(t, err)
	}
	out.Irradiance = irr
	out.Origin = origin
	out.POA = m.lib.PlaneOfArray(spec.Surface, pos, irr, dniExtra)

	temp, hasTemp := rec.Get(weather.Temperature)
	// No light on the array is a known zero; temperature cannot change it.
	if out.POA.Global <= 0 {
		out.Valid = true
		out.CellTemp = temp
		return out
	}
	if !hasTemp {
		return gap(t, fmt.Errorf("%w: %s", ErrMissingVariable, weather.Temperature))
	}
	if temp < minTemperature || temp > maxTemperature {
		temp = math.Min(math.Max(temp, minTemperature), maxTemperature)
		out.Clamps = append(out.Clamps, ClampTemperature)
	}

	// Missing wind means no wind cooling.
	wind, _ := rec.Get(weather.WindSpeed)
	if wind < 0 {
		wind = 0
		out.Clamps = append(out.Clamps, ClampNegativeWind)
	}

	out.Valid = true
	iam := solar.IAM(solar.CosAOI(spec.Surface, pos), m.b0)
	effective := out.POA.Direct*iam + out.POA.Diffuse()

	out.CellTemp = m.lib.CellTemperature(out.POA.Global, temp, wind, spec.Module.Efficiency)
	perModule := solar.PVWattsDC(effective, out.CellTemp, spec.Module.PowerSTC, spec.Module.GammaPdc)
	out.DC = perModule * float64(spec.Modules)

	if spec.Microinverter {
		unit := solar.PVWattsInverter(perModule, spec.Inverter.Paco, spec.Inverter.NominalEfficiency)
		out.AC = unit * float64(spec.Modules)
	}
	return out
}

// resolveIrradiance picks the best available irradiance: full components,
// then GHI with Erbs decomposition, then cloud cover scaling of clear sky.
func (m *Model) resolveIrradiance(rec weather.Record, pos solar.Position, dniExtra float64, clamps *[]Clamp) (solar.Irradiance, IrradianceOrigin, error) {
	ghi, hasGHI := rec.Get(weather.GHI)
	dni, hasDNI := rec.Get(weather.DNI)
	dhi, hasDHI := rec.Get(weather.DHI)

	ceiling := dniExtra
	if ceiling <= 0 {
		ceiling = solar.SolarConstant * 1.035
	}
	limit := func(v float64) float64 {
		if v < 0 {
			*clamps = appendOnce(*clamps, ClampNegativeIrradiance)
			return 0
		}
		if v > ceiling {
			*clamps = appendOnce(*clamps, ClampIrradianceCeiling)
			return ceiling
		}
		return v
	}

	switch {
	case hasGHI && hasDNI && hasDHI:
		return solar.Irradiance{GHI: limit(ghi), DNI: limit(dni), DHI: limit(dhi)}, OriginMeasured, nil
	case !hasGHI && hasDNI && hasDHI:
		dni, dhi = limit(dni), limit(dhi)
		cosZ := math.Max(math.Cos(pos.Zenith*math.Pi/180), 0)
		return solar.Irradiance{GHI: dhi + dni*cosZ, DNI: dni, DHI: dhi}, OriginMeasured, nil
	case hasGHI:
		return m.lib.Decompose(limit(ghi), pos, dniExtra), OriginDecomposed, nil
	}

	cc, ok := rec.Get(weather.CloudCover)
	if !ok {
		return solar.Irradiance{}, OriginNone, fmt.Errorf("%w: irradiance or %s", ErrMissingVariable, weather.CloudCover)
	}
	if cc < 0 || cc > 100 {
		*clamps = appendOnce(*clamps, ClampCloudCover)
	}
	cs := m.lib.ClearSky(pos, dniExtra)
	ghi = solar.GHIFromCloudCover(cc, cs.GHI)
	return m.lib.Decompose(ghi, pos, dniExtra), OriginCloudCover, nil
}

func appendOnce(clamps []Clamp, c Clamp) []Clamp {
	for _, existing := range clamps {
		if existing == c {
			return clamps
		}
	}
	return append(clamps, c)
}
