package weather

import (
	"fmt"
	"strings"
)

// Speed conversion factors to m/s.
const (
	MphToMS  = 0.44704
	KmhToMS  = 1 / 3.6
	FtsToMS  = 0.3048
	KnotToMS = 0.514444
)

// ToCelsius converts a temperature reported in the given unit.
func ToCelsius(value float64, unit string) (float64, error) {
	switch strings.TrimSpace(strings.ToUpper(strings.TrimPrefix(unit, "°"))) {
	case "C", "":
		return value, nil
	case "F":
		return (value - 32) * 5 / 9, nil
	case "K":
		return value - 273.15, nil
	default:
		return 0, fmt.Errorf("unsupported temperature unit %q", unit)
	}
}

// ToMetersPerSecond converts a speed reported in the given unit.
func ToMetersPerSecond(value float64, unit string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "m/s", "":
		return value, nil
	case "km/h", "kph":
		return value * KmhToMS, nil
	case "mph":
		return value * MphToMS, nil
	case "ft/s":
		return value * FtsToMS, nil
	case "kn", "kt", "knots":
		return value * KnotToMS, nil
	default:
		return 0, fmt.Errorf("unsupported speed unit %q", unit)
	}
}
