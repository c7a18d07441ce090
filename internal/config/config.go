// Package config loads the plant and weather source configuration file.
//
// The file is YAML. ${VAR} references are replaced from the environment
// before parsing, so secrets such as API keys and access tokens stay out of
// the file itself.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pvcast/pvcast/internal/topology"
)

// ErrInvalidConfig is returned for configuration that parses but cannot be
// used.
var ErrInvalidConfig = errors.New("invalid configuration")

// File is the configuration file layout.
type File struct {
	Location LocationConfig `yaml:"location"`
	Devices  DevicesConfig  `yaml:"devices"`
	Plants   []PlantConfig  `yaml:"plants"`
	// Sources are listed in priority order, highest first.
	Sources  []SourceConfig `yaml:"sources"`
	Cache    CacheConfig    `yaml:"cache"`
	Forecast ForecastConfig `yaml:"forecast"`
}

// LocationConfig is the site shared by all plants.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Elevation float64 `yaml:"elevation"`
	TimeZone  string  `yaml:"timezone"`
}

// DevicesConfig adds devices to the built-in catalog.
type DevicesConfig struct {
	Modules   []topology.ModuleSpec   `yaml:"modules"`
	Inverters []topology.InverterSpec `yaml:"inverters"`
}

// PlantConfig describes one plant.
type PlantConfig struct {
	Name      string           `yaml:"name"`
	Inverters []InverterConfig `yaml:"inverters"`
}

// InverterConfig describes one inverter and its arrays.
type InverterConfig struct {
	Name          string        `yaml:"name"`
	Model         string        `yaml:"model"`
	Microinverter bool          `yaml:"microinverter"`
	Arrays        []ArrayConfig `yaml:"arrays"`
}

// ArrayConfig describes one group of identically oriented modules.
type ArrayConfig struct {
	Name             string  `yaml:"name"`
	Tilt             float64 `yaml:"tilt"`
	Azimuth          float64 `yaml:"azimuth"`
	Module           string  `yaml:"module"`
	ModulesPerString int     `yaml:"modules_per_string"`
	Strings          int     `yaml:"strings"`
}

// SourceConfig configures a weather source. Which fields apply depends on
// Type.
type SourceConfig struct {
	Type string `yaml:"type"`
	// Name defaults to Type and must be unique.
	Name string `yaml:"name"`

	// URL overrides the provider endpoint; required for homeassistant.
	URL string `yaml:"url"`

	APIKey   string `yaml:"api_key"`
	Token    string `yaml:"token"`
	EntityID string `yaml:"entity_id"`

	Freshness  time.Duration `yaml:"freshness"`
	MaxHorizon time.Duration `yaml:"max_horizon"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries uint64        `yaml:"max_retries"`
}

// CacheConfig configures the optional shared weather cache.
type CacheConfig struct {
	// RedisAddr enables the Redis second-level cache when set.
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Prefix        string        `yaml:"prefix"`
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
}

// ForecastConfig tunes the forecast pipeline.
type ForecastConfig struct {
	// Step is the canonical grid step (default: 1 hour).
	Step time.Duration `yaml:"step"`
	// DefaultHorizon is used when a request names none (default: 24 hours).
	DefaultHorizon time.Duration `yaml:"default_horizon"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	Parallelism    int           `yaml:"parallelism"`
	// Retention is how long stored runs are kept (default: 7 days).
	Retention time.Duration `yaml:"retention"`
}

// Load reads and validates a configuration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse expands environment references, decodes and validates data.
// Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	expanded := os.Expand(string(data), os.Getenv)

	var f File
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	f.applyDefaults()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) applyDefaults() {
	if f.Forecast.Step == 0 {
		f.Forecast.Step = time.Hour
	}
	if f.Forecast.DefaultHorizon == 0 {
		f.Forecast.DefaultHorizon = 24 * time.Hour
	}
	if f.Forecast.Retention == 0 {
		f.Forecast.Retention = 7 * 24 * time.Hour
	}
	for i := range f.Sources {
		s := &f.Sources[i]
		s.Type = strings.ToLower(strings.TrimSpace(s.Type))
		if s.Name == "" {
			s.Name = s.Type
		}
	}
}

// Validate checks everything that can be checked without building the
// topology.
func (f *File) Validate() error {
	var errs []error
	if len(f.Plants) == 0 {
		errs = append(errs, errors.New("at least one plant is required"))
	}
	if len(f.Sources) == 0 {
		errs = append(errs, errors.New("at least one weather source is required"))
	}
	if f.Forecast.Step < time.Minute || time.Hour%f.Forecast.Step != 0 {
		errs = append(errs, fmt.Errorf("forecast step %s must divide one hour", f.Forecast.Step))
	}
	if f.Forecast.DefaultHorizon < 0 {
		errs = append(errs, errors.New("forecast default_horizon must be positive"))
	}

	seen := make(map[string]bool, len(f.Sources))
	for _, s := range f.Sources {
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("duplicate source name %q", s.Name))
		}
		seen[s.Name] = true
		if err := s.validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (s SourceConfig) validate() error {
	switch s.Type {
	case TypeOpenMeteo, TypeClearOutside:
		return nil
	case TypeOpenWeatherMap:
		if s.APIKey == "" {
			return fmt.Errorf("source %q: api_key is required", s.Name)
		}
	case TypeHomeAssistant:
		var missing []string
		if s.URL == "" {
			missing = append(missing, "url")
		}
		if s.Token == "" {
			missing = append(missing, "token")
		}
		if s.EntityID == "" {
			missing = append(missing, "entity_id")
		}
		if len(missing) > 0 {
			return fmt.Errorf("source %q: %s required", s.Name, strings.Join(missing, ", "))
		}
	case "":
		return fmt.Errorf("source %q: type is required", s.Name)
	default:
		return fmt.Errorf("source %q: unknown type %q", s.Name, s.Type)
	}
	return nil
}

// Topology builds the validated plant model, registering any configured
// devices in the catalog first.
func (f *File) Topology() (*topology.Model, error) {
	catalog := topology.NewCatalog()
	for _, m := range f.Devices.Modules {
		if err := catalog.AddModule(m); err != nil {
			return nil, err
		}
	}
	for _, i := range f.Devices.Inverters {
		if err := catalog.AddInverter(i); err != nil {
			return nil, err
		}
	}

	loc := topology.Location{
		Latitude:  f.Location.Latitude,
		Longitude: f.Location.Longitude,
		Elevation: f.Location.Elevation,
	}
	if f.Location.TimeZone != "" {
		tz, err := time.LoadLocation(f.Location.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("%w: timezone %q: %w", ErrInvalidConfig, f.Location.TimeZone, err)
		}
		loc.TimeZone = tz
	}

	plants := make([]topology.Plant, 0, len(f.Plants))
	for _, p := range f.Plants {
		plant := topology.Plant{Name: p.Name}
		for _, inv := range p.Inverters {
			inverter := topology.Inverter{
				Name:          inv.Name,
				Model:         inv.Model,
				Microinverter: inv.Microinverter,
			}
			for _, a := range inv.Arrays {
				inverter.Arrays = append(inverter.Arrays, topology.Array{
					Name:             a.Name,
					Tilt:             a.Tilt,
					Azimuth:          a.Azimuth,
					Module:           a.Module,
					ModulesPerString: a.ModulesPerString,
					Strings:          a.Strings,
				})
			}
			plant.Inverters = append(plant.Inverters, inverter)
		}
		plants = append(plants, plant)
	}

	return topology.NewModel(loc, plants, catalog)
}

// Example returns a commented sample configuration.
func Example() []byte {
	return []byte(example)
}

const example = `# pvcast configuration
location:
  latitude: 52.3676
  longitude: 4.9041
  elevation: 10
  timezone: Europe/Amsterdam

plants:
  - name: home
    inverters:
      - name: main
        model: SMA_America__SB5_0_1SP_US_40__240V_
        arrays:
          - name: east
            tilt: 30
            azimuth: 90
            module: JA_Solar_JAM54S30_410_MR
            modules_per_string: 7
            strings: 1

# Highest priority first.
sources:
  - type: openmeteo
  - type: openweathermap
    api_key: ${OPENWEATHERMAP_API_KEY}
  - type: clearoutside
`
