package solar

import "math"

// Irradiance holds horizontal irradiance components in W/m2.
type Irradiance struct {
	GHI float64
	DNI float64
	DHI float64
}

// CloudCoverOffset is the share of clear-sky GHI that still reaches the
// ground under full overcast in the cloud cover scaling model.
const CloudCoverOffset = 0.35

// ClearSkyGHI returns the Haurwitz clear-sky global horizontal irradiance.
func ClearSkyGHI(pos Position) float64 {
	cosZ := math.Cos(rad(pos.ApparentZenith))
	if cosZ <= 0 {
		return 0
	}
	return 1098 * cosZ * math.Exp(-0.059/cosZ)
}

// ClearSky returns a complete clear-sky irradiance estimate.
func ClearSky(pos Position, dniExtra float64) Irradiance {
	return Erbs(ClearSkyGHI(pos), pos, dniExtra)
}

// GHIFromCloudCover scales clear-sky GHI by cloud cover given in percent:
// GHI = (offset + (1-offset)(1-cc)) * GHI_clear.
func GHIFromCloudCover(cloudCover, clearGHI float64) float64 {
	cc := clamp(cloudCover/100, 0, 1)
	return (CloudCoverOffset + (1-CloudCoverOffset)*(1-cc)) * clearGHI
}

// Erbs splits GHI into beam and diffuse parts using the Erbs diffuse
// fraction correlation.
func Erbs(ghi float64, pos Position, dniExtra float64) Irradiance {
	if ghi <= 0 {
		return Irradiance{}
	}
	cosZ := math.Cos(rad(pos.Zenith))
	kt := ClearnessIndex(ghi, pos.Zenith, dniExtra)

	var df float64
	switch {
	case kt <= 0.22:
		df = 1 - 0.09*kt
	case kt <= 0.8:
		df = 0.9511 - 0.1604*kt + 4.388*kt*kt - 16.638*math.Pow(kt, 3) + 12.336*math.Pow(kt, 4)
	default:
		df = 0.165
	}

	dhi := df * ghi
	dni := 0.0
	if pos.Zenith < 87 && cosZ > 0 {
		dni = math.Max((ghi-dhi)/cosZ, 0)
	}
	if dni == 0 {
		dhi = ghi
	}
	return Irradiance{GHI: ghi, DNI: dni, DHI: dhi}
}

// ClearnessIndex is the ratio of GHI to extraterrestrial horizontal
// irradiance, bounded to [0, 2].
func ClearnessIndex(ghi, zenith, dniExtra float64) float64 {
	cosZ := math.Max(math.Cos(rad(zenith)), 0.065)
	if dniExtra <= 0 {
		return 0
	}
	return clamp(ghi/(dniExtra*cosZ), 0, 2)
}
