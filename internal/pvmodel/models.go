// Package pvmodel converts weather at one instant into the electrical output
// of a single array.
package pvmodel

import (
	"errors"
	"time"

	"github.com/pvcast/pvcast/internal/solar"
	"github.com/pvcast/pvcast/internal/topology"
)

// ErrMissingVariable marks a timestep whose weather cannot support a power
// estimate. It produces a gap, never a zero.
var ErrMissingVariable = errors.New("missing weather variable")

// Clamp names a correction applied to an out-of-range input.
type Clamp string

const (
	ClampNegativeIrradiance Clamp = "negative_irradiance"
	ClampIrradianceCeiling  Clamp = "irradiance_above_extraterrestrial"
	ClampTemperature        Clamp = "temperature_out_of_range"
	ClampNegativeWind       Clamp = "negative_wind"
	ClampCloudCover         Clamp = "cloud_cover_out_of_range"
)

// IrradianceOrigin records how horizontal irradiance was obtained.
type IrradianceOrigin string

const (
	OriginNone       IrradianceOrigin = ""
	OriginMeasured   IrradianceOrigin = "components"
	OriginDecomposed IrradianceOrigin = "ghi_decomposed"
	OriginCloudCover IrradianceOrigin = "cloud_cover"
)

// ArraySpec is everything the model needs about one array.
type ArraySpec struct {
	Key     topology.ArrayKey
	Surface solar.Surface
	Module  topology.ModuleSpec
	Modules int

	// Microinverter means each module has its own unit, and Inverter is that
	// unit. Arrays on a string inverter report DC only; their AC is
	// allocated by the inverter aggregation.
	Microinverter bool
	Inverter      topology.InverterSpec
}

// NewArraySpec builds an ArraySpec from the topology and catalog.
func NewArraySpec(plant string, inv topology.Inverter, arr topology.Array, catalog *topology.Catalog) (ArraySpec, error) {
	module, err := catalog.Module(arr.Module)
	if err != nil {
		return ArraySpec{}, err
	}
	invSpec, err := catalog.Inverter(inv.Model)
	if err != nil {
		return ArraySpec{}, err
	}
	return ArraySpec{
		Key:           topology.ArrayKey{Plant: plant, Inverter: inv.Name, Array: arr.Name},
		Surface:       solar.Surface{Tilt: arr.Tilt, Azimuth: arr.Azimuth},
		Module:        module,
		Modules:       arr.ModuleCount(),
		Microinverter: inv.Microinverter,
		Inverter:      invSpec,
	}, nil
}

// ArrayOutput is the modelled output of one array at one instant.
type ArrayOutput struct {
	Time time.Time `json:"time"`

	// Valid is false for a gap. DC and AC are meaningless then.
	Valid     bool   `json:"valid"`
	GapReason string `json:"gap_reason,omitempty"`
	Err       error  `json:"-"`

	DC float64 `json:"dc"`
	AC float64 `json:"ac"`

	Irradiance solar.Irradiance `json:"irradiance"`
	Origin     IrradianceOrigin `json:"irradiance_origin,omitempty"`
	POA        solar.POA        `json:"poa"`
	CellTemp   float64          `json:"cell_temperature"`
	Clamps     []Clamp          `json:"clamps,omitempty"`
}

func gap(t time.Time, err error) ArrayOutput {
	return ArrayOutput{Time: t, Err: err, GapReason: err.Error()}
}
