package solar

import "math"

// ThermalParams are PVsyst cell temperature model coefficients.
type ThermalParams struct {
	// UC is the constant heat loss factor in W/(m2 K).
	UC float64
	// UV is the wind dependent heat loss factor in W/(m2 K)/(m/s).
	UV float64
	// Absorption is the fraction of irradiance absorbed by the module.
	Absorption float64
}

// Freestanding is the PVsyst default for open rack mounting.
var Freestanding = ThermalParams{UC: 29, UV: 0, Absorption: 0.9}

// CellTemperature returns the PVsyst module cell temperature in C.
func CellTemperature(poa, ambient, wind, efficiency float64, p ThermalParams) float64 {
	u := p.UC + p.UV*math.Max(wind, 0)
	if u <= 0 {
		return ambient
	}
	return ambient + poa*p.Absorption*(1-efficiency)/u
}

// PVWattsDC returns module DC power for effective irradiance and cell
// temperature. pdc0 is the rated power at 1000 W/m2 and 25 C.
func PVWattsDC(effective, cellTemp, pdc0, gamma float64) float64 {
	if effective <= 0 {
		return 0
	}
	return math.Max(effective/1000*pdc0*(1+gamma*(cellTemp-25)), 0)
}

const pvwattsEtaRef = 0.9637

// PVWattsInverter converts DC to AC with the PVWatts efficiency curve and
// clips at the rated AC output paco. The result is zero for zero input and
// never decreases as pdc grows.
func PVWattsInverter(pdc, paco, etaNom float64) float64 {
	if pdc <= 0 || paco <= 0 {
		return 0
	}
	if etaNom <= 0 {
		etaNom = 0.96
	}
	pdc0 := paco / etaNom
	zeta := pdc / pdc0
	if zeta >= 1 {
		return paco
	}
	eta := etaNom / pvwattsEtaRef * (-0.0162*zeta - 0.0059/zeta + 0.9858)
	ac := eta * pdc
	return clamp(ac, 0, paco)
}
