package solar

import "math"

// Transposition selects the sky diffuse model.
type Transposition string

const (
	Isotropic Transposition = "isotropic"
	HayDavies Transposition = "haydavies"
)

// DefaultAlbedo is the ground reflectance used when none is configured.
const DefaultAlbedo = 0.25

// Surface describes a tilted receiving plane.
type Surface struct {
	Tilt    float64
	Azimuth float64
}

// POA is plane-of-array irradiance in W/m2.
type POA struct {
	Global        float64
	Direct        float64
	SkyDiffuse    float64
	GroundDiffuse float64
}

// Diffuse returns the total diffuse contribution.
func (p POA) Diffuse() float64 {
	return p.SkyDiffuse + p.GroundDiffuse
}

// CosAOI returns the cosine of the angle of incidence between the sun and the
// surface normal.
func CosAOI(s Surface, pos Position) float64 {
	zen := rad(pos.Zenith)
	tilt := rad(s.Tilt)
	c := math.Cos(zen)*math.Cos(tilt) +
		math.Sin(zen)*math.Sin(tilt)*math.Cos(rad(pos.Azimuth-s.Azimuth))
	return clamp(c, -1, 1)
}

// PlaneOfArray transposes horizontal irradiance onto the surface.
func PlaneOfArray(model Transposition, s Surface, pos Position, irr Irradiance, dniExtra, albedo float64) POA {
	cosAOI := CosAOI(s, pos)
	beam := math.Max(irr.DNI*cosAOI, 0)

	tilt := rad(s.Tilt)
	viewSky := (1 + math.Cos(tilt)) / 2

	var sky float64
	switch model {
	case HayDavies:
		cosZ := math.Max(math.Cos(rad(pos.Zenith)), 0.01745)
		rb := math.Max(cosAOI, 0) / cosZ
		ai := 0.0
		if dniExtra > 0 {
			ai = clamp(irr.DNI/dniExtra, 0, 1)
		}
		sky = irr.DHI * (ai*rb + (1-ai)*viewSky)
	default:
		sky = irr.DHI * viewSky
	}
	sky = math.Max(sky, 0)

	ground := math.Max(irr.GHI*albedo*(1-math.Cos(tilt))/2, 0)

	return POA{
		Global:        beam + sky + ground,
		Direct:        beam,
		SkyDiffuse:    sky,
		GroundDiffuse: ground,
	}
}

// IAM returns the ASHRAE incidence angle modifier for the beam component.
func IAM(cosAOI, b0 float64) float64 {
	if cosAOI <= 0 {
		return 0
	}
	return clamp(1-b0*(1/cosAOI-1), 0, 1)
}
