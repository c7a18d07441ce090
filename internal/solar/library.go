package solar

import "time"

// Library is the physics capability consumed by the power model.
type Library interface {
	Position(t time.Time, lat, lon float64) Position
	ExtraterrestrialDNI(t time.Time) float64
	ClearSky(pos Position, dniExtra float64) Irradiance
	Decompose(ghi float64, pos Position, dniExtra float64) Irradiance
	PlaneOfArray(s Surface, pos Position, irr Irradiance, dniExtra float64) POA
	CellTemperature(poa, ambient, wind, efficiency float64) float64
}

// Config selects the models used by Standard.
type Config struct {
	Transposition Transposition
	Albedo        float64
	Thermal       ThermalParams
}

// Standard implements Library with the models in this package.
type Standard struct {
	cfg Config
}

// NewStandard creates a physics library. Zero fields take defaults:
// Hay-Davies transposition, albedo 0.25 and freestanding PVsyst coefficients.
func NewStandard(cfg Config) *Standard {
	if cfg.Transposition == "" {
		cfg.Transposition = HayDavies
	}
	if cfg.Albedo == 0 {
		cfg.Albedo = DefaultAlbedo
	}
	if cfg.Thermal == (ThermalParams{}) {
		cfg.Thermal = Freestanding
	}
	return &Standard{cfg: cfg}
}

func (s *Standard) Position(t time.Time, lat, lon float64) Position {
	return SunPosition(t, lat, lon)
}

func (s *Standard) ExtraterrestrialDNI(t time.Time) float64 {
	return ExtraterrestrialDNI(t)
}

func (s *Standard) ClearSky(pos Position, dniExtra float64) Irradiance {
	return ClearSky(pos, dniExtra)
}

func (s *Standard) Decompose(ghi float64, pos Position, dniExtra float64) Irradiance {
	return Erbs(ghi, pos, dniExtra)
}

func (s *Standard) PlaneOfArray(surface Surface, pos Position, irr Irradiance, dniExtra float64) POA {
	return PlaneOfArray(s.cfg.Transposition, surface, pos, irr, dniExtra, s.cfg.Albedo)
}

func (s *Standard) CellTemperature(poa, ambient, wind, efficiency float64) float64 {
	return CellTemperature(poa, ambient, wind, efficiency, s.cfg.Thermal)
}
