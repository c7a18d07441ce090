// Package topology describes the physical layout of PV installations:
// the shared site location, plants, inverters and the module arrays wired
// into them.
package topology

import (
	"errors"
	"fmt"
	"time"
)

// Topology errors.
var (
	ErrInvalidTopologyReference = errors.New("invalid topology reference")
	ErrInvalidTopology          = errors.New("invalid topology")
	ErrUnknownDevice            = errors.New("unknown device model")
)

// Location is the site shared by every plant of a deployment.
type Location struct {
	Latitude  float64
	Longitude float64
	// Elevation above sea level in meters.
	Elevation float64
	// TimeZone is used for local-time grouping such as daily energy.
	TimeZone *time.Location
}

// Zone returns the location's time zone, UTC when unset.
func (l *Location) Zone() *time.Location {
	if l == nil || l.TimeZone == nil {
		return time.UTC
	}
	return l.TimeZone
}

// Validate checks coordinate ranges.
func (l *Location) Validate() error {
	if l == nil {
		return fmt.Errorf("%w: location is required", ErrInvalidTopology)
	}
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("%w: latitude %.4f out of range", ErrInvalidTopology, l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("%w: longitude %.4f out of range", ErrInvalidTopology, l.Longitude)
	}
	return nil
}

// Plant is a named installation made of one or more inverters.
type Plant struct {
	Name      string
	Inverters []Inverter
}

// Inverter groups the arrays feeding one power conversion device.
type Inverter struct {
	Name string
	// Model is the catalog identifier of the inverter.
	Model string
	// Microinverter means every module has its own conversion unit, so arrays
	// never share a DC bus. A string inverter clips the combined DC of all
	// its arrays once.
	Microinverter bool
	Arrays        []Array
}

// Array is a group of identical modules sharing orientation.
type Array struct {
	Name string
	// Tilt from horizontal in degrees (0-90).
	Tilt float64
	// Azimuth in degrees clockwise from north (0-360).
	Azimuth float64
	// Module is the catalog identifier of the PV module.
	Module           string
	ModulesPerString int
	Strings          int
}

// ModuleCount returns the total number of modules in the array.
func (a Array) ModuleCount() int {
	return a.ModulesPerString * a.Strings
}

// ModuleCount returns the number of modules across all arrays.
func (i Inverter) ModuleCount() int {
	n := 0
	for _, a := range i.Arrays {
		n += a.ModuleCount()
	}
	return n
}

// ArrayKey identifies an array by its position in the tree.
type ArrayKey struct {
	Plant    string `json:"plant"`
	Inverter string `json:"inverter"`
	Array    string `json:"array"`
}

func (k ArrayKey) String() string {
	return k.Plant + "/" + k.Inverter + "/" + k.Array
}

// AllPlants selects every plant of the model.
const AllPlants = "all"

// Selection narrows a forecast to a plant, an inverter within it, or a single
// array. Empty inverter and array fields select everything below the plant.
type Selection struct {
	Plant    string
	Inverter string
	Array    string
}
