// Package solar implements the sun geometry and irradiance physics used to
// turn weather into plane-of-array irradiance and module power.
package solar

import (
	"math"
	"time"
)

// SolarConstant in W/m2.
const SolarConstant = 1367.0

// Position is the sun's place in the sky for an observer. Angles are degrees.
type Position struct {
	// Zenith is the true (geometric) zenith angle.
	Zenith float64
	// ApparentZenith includes atmospheric refraction.
	ApparentZenith float64
	// Elevation is the apparent elevation above the horizon.
	Elevation float64
	// Azimuth is measured clockwise from north.
	Azimuth float64
}

// Up reports whether the sun is above the horizon.
func (p Position) Up() bool {
	return p.Elevation > 0
}

// SunPosition computes the solar position using the NOAA solar calculator
// equations. Accuracy is well within a tenth of a degree for 1800-2100.
func SunPosition(t time.Time, lat, lon float64) Position {
	t = t.UTC()
	jc := julianCentury(t)

	l0 := math.Mod(280.46646+jc*(36000.76983+jc*0.0003032), 360)
	m := 357.52911 + jc*(35999.05029-0.0001537*jc)
	e := 0.016708634 - jc*(0.000042037+0.0000001267*jc)

	mRad := rad(m)
	center := math.Sin(mRad)*(1.914602-jc*(0.004817+0.000014*jc)) +
		math.Sin(2*mRad)*(0.019993-0.000101*jc) +
		math.Sin(3*mRad)*0.000289
	trueLong := l0 + center
	omega := 125.04 - 1934.136*jc
	appLong := trueLong - 0.00569 - 0.00478*math.Sin(rad(omega))

	meanObliq := 23 + (26+(21.448-jc*(46.815+jc*(0.00059-jc*0.001813)))/60)/60
	obliq := meanObliq + 0.00256*math.Cos(rad(omega))

	decl := math.Asin(math.Sin(rad(obliq)) * math.Sin(rad(appLong)))

	y := math.Pow(math.Tan(rad(obliq)/2), 2)
	l0Rad := rad(l0)
	eqTime := 4 * deg(y*math.Sin(2*l0Rad)-
		2*e*math.Sin(mRad)+
		4*e*y*math.Sin(mRad)*math.Cos(2*l0Rad)-
		0.5*y*y*math.Sin(4*l0Rad)-
		1.25*e*e*math.Sin(2*mRad))

	minutes := float64(t.Hour()*60+t.Minute()) + float64(t.Second())/60 + float64(t.Nanosecond())/6e10
	trueSolar := math.Mod(minutes+eqTime+4*lon, 1440)
	if trueSolar < 0 {
		trueSolar += 1440
	}
	hourAngle := trueSolar/4 - 180

	latRad := rad(lat)
	cosZen := math.Sin(latRad)*math.Sin(decl) + math.Cos(latRad)*math.Cos(decl)*math.Cos(rad(hourAngle))
	cosZen = clamp(cosZen, -1, 1)
	zenith := deg(math.Acos(cosZen))

	var azimuth float64
	denom := math.Cos(latRad) * math.Sin(rad(zenith))
	if math.Abs(denom) < 1e-9 {
		azimuth = 180
		if lat < deg(decl) {
			azimuth = 0
		}
	} else {
		a := deg(math.Acos(clamp((math.Sin(latRad)*cosZen-math.Sin(decl))/denom, -1, 1)))
		if hourAngle > 0 {
			azimuth = math.Mod(a+180, 360)
		} else {
			azimuth = math.Mod(540-a, 360)
		}
	}

	elevation := 90 - zenith
	apparent := elevation + refraction(elevation)

	return Position{
		Zenith:         zenith,
		ApparentZenith: 90 - apparent,
		Elevation:      apparent,
		Azimuth:        azimuth,
	}
}

// refraction returns the atmospheric refraction correction in degrees.
func refraction(elevation float64) float64 {
	if elevation > 85 {
		return 0
	}
	te := math.Tan(rad(elevation))
	var arcsec float64
	switch {
	case elevation > 5:
		arcsec = 58.1/te - 0.07/math.Pow(te, 3) + 0.000086/math.Pow(te, 5)
	case elevation > -0.575:
		arcsec = 1735 + elevation*(-518.2+elevation*(103.4+elevation*(-12.79+elevation*0.711)))
	default:
		arcsec = -20.772 / te
	}
	return arcsec / 3600
}

// ExtraterrestrialDNI returns the top-of-atmosphere normal irradiance for the
// day of year, corrected for Earth-Sun distance.
func ExtraterrestrialDNI(t time.Time) float64 {
	b := 2 * math.Pi * float64(t.UTC().YearDay()-1) / 365
	r := 1.00011 + 0.034221*math.Cos(b) + 0.00128*math.Sin(b) +
		0.000719*math.Cos(2*b) + 0.000077*math.Sin(2*b)
	return SolarConstant * r
}

func julianCentury(t time.Time) float64 {
	jd := float64(t.Unix())/86400 + 2440587.5
	return (jd - 2451545) / 36525
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
