package topology

import (
	"fmt"
	"strings"
)

// Model is the validated, read-only description of a deployment. It is built
// once at load time and shared by every forecast request.
type Model struct {
	location  *Location
	plants    []Plant
	catalog   *Catalog
	plantByID map[string]int
}

// NewModel validates the topology and resolves every device reference
// against the catalog. A nil catalog uses the built-in devices only.
func NewModel(loc Location, plants []Plant, catalog *Catalog) (*Model, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	if catalog == nil {
		catalog = NewCatalog()
	}
	if len(plants) == 0 {
		return nil, fmt.Errorf("%w: at least one plant is required", ErrInvalidTopology)
	}

	m := &Model{
		location:  &loc,
		plants:    make([]Plant, 0, len(plants)),
		catalog:   catalog,
		plantByID: make(map[string]int, len(plants)),
	}

	for _, p := range plants {
		if err := validatePlant(p, catalog); err != nil {
			return nil, err
		}
		if strings.EqualFold(p.Name, AllPlants) {
			return nil, fmt.Errorf("%w: plant name %q is reserved", ErrInvalidTopology, p.Name)
		}
		if _, dup := m.plantByID[p.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate plant name %q", ErrInvalidTopology, p.Name)
		}
		m.plantByID[p.Name] = len(m.plants)
		m.plants = append(m.plants, clonePlant(p))
	}

	return m, nil
}

func validatePlant(p Plant, catalog *Catalog) error {
	if p.Name == "" {
		return fmt.Errorf("%w: plant name is required", ErrInvalidTopology)
	}
	if len(p.Inverters) == 0 {
		return fmt.Errorf("%w: plant %q has no inverters", ErrInvalidTopology, p.Name)
	}

	seenInv := make(map[string]struct{}, len(p.Inverters))
	for _, inv := range p.Inverters {
		if inv.Name == "" {
			return fmt.Errorf("%w: plant %q has an unnamed inverter", ErrInvalidTopology, p.Name)
		}
		if _, dup := seenInv[inv.Name]; dup {
			return fmt.Errorf("%w: duplicate inverter %q in plant %q", ErrInvalidTopology, inv.Name, p.Name)
		}
		seenInv[inv.Name] = struct{}{}

		if _, err := catalog.Inverter(inv.Model); err != nil {
			return fmt.Errorf("plant %q inverter %q: %w", p.Name, inv.Name, err)
		}
		if len(inv.Arrays) == 0 {
			return fmt.Errorf("%w: inverter %q in plant %q has no arrays", ErrInvalidTopology, inv.Name, p.Name)
		}

		seenArr := make(map[string]struct{}, len(inv.Arrays))
		for _, a := range inv.Arrays {
			if err := validateArray(a, catalog); err != nil {
				return fmt.Errorf("plant %q inverter %q: %w", p.Name, inv.Name, err)
			}
			if _, dup := seenArr[a.Name]; dup {
				return fmt.Errorf("%w: duplicate array %q in inverter %q", ErrInvalidTopology, a.Name, inv.Name)
			}
			seenArr[a.Name] = struct{}{}
		}
	}
	return nil
}

func validateArray(a Array, catalog *Catalog) error {
	if a.Name == "" {
		return fmt.Errorf("%w: array name is required", ErrInvalidTopology)
	}
	if a.Tilt < 0 || a.Tilt > 90 {
		return fmt.Errorf("%w: array %q tilt %.1f out of range [0,90]", ErrInvalidTopology, a.Name, a.Tilt)
	}
	if a.Azimuth < 0 || a.Azimuth >= 360 {
		return fmt.Errorf("%w: array %q azimuth %.1f out of range [0,360)", ErrInvalidTopology, a.Name, a.Azimuth)
	}
	if a.ModulesPerString <= 0 || a.Strings <= 0 {
		return fmt.Errorf("%w: array %q needs positive modules_per_string and strings", ErrInvalidTopology, a.Name)
	}
	if _, err := catalog.Module(a.Module); err != nil {
		return fmt.Errorf("array %q: %w", a.Name, err)
	}
	return nil
}

func clonePlant(p Plant) Plant {
	out := Plant{Name: p.Name, Inverters: make([]Inverter, len(p.Inverters))}
	for i, inv := range p.Inverters {
		out.Inverters[i] = inv
		out.Inverters[i].Arrays = append([]Array(nil), inv.Arrays...)
	}
	return out
}

// Location returns the shared site location.
func (m *Model) Location() *Location {
	return m.location
}

// Catalog returns the device catalog used to validate the model.
func (m *Model) Catalog() *Catalog {
	return m.catalog
}

// Plants returns a copy of all plants in configuration order.
func (m *Model) Plants() []Plant {
	out := make([]Plant, len(m.plants))
	for i, p := range m.plants {
		out[i] = clonePlant(p)
	}
	return out
}

// PlantNames returns plant names in configuration order.
func (m *Model) PlantNames() []string {
	names := make([]string, len(m.plants))
	for i, p := range m.plants {
		names[i] = p.Name
	}
	return names
}

// Plant looks up a plant by name.
func (m *Model) Plant(name string) (Plant, error) {
	idx, ok := m.plantByID[name]
	if !ok {
		return Plant{}, fmt.Errorf("%w: plant %q", ErrInvalidTopologyReference, name)
	}
	return clonePlant(m.plants[idx]), nil
}

// Resolve returns the sub-tree named by sel. Plants and inverters outside the
// selection are dropped; the result is a copy. An array selection keeps every
// array of its inverter, since arrays on one DC bus clip together. Callers
// narrow the output to the array after aggregation.
func (m *Model) Resolve(sel Selection) ([]Plant, error) {
	if sel.Plant == "" || strings.EqualFold(sel.Plant, AllPlants) {
		if sel.Inverter != "" || sel.Array != "" {
			return nil, fmt.Errorf("%w: inverter or array requires a single plant", ErrInvalidTopologyReference)
		}
		return m.Plants(), nil
	}

	plant, err := m.Plant(sel.Plant)
	if err != nil {
		return nil, err
	}
	if sel.Inverter == "" {
		if sel.Array != "" {
			return nil, fmt.Errorf("%w: array %q requires an inverter", ErrInvalidTopologyReference, sel.Array)
		}
		return []Plant{plant}, nil
	}

	for _, inv := range plant.Inverters {
		if inv.Name != sel.Inverter {
			continue
		}
		if sel.Array == "" {
			return []Plant{{Name: plant.Name, Inverters: []Inverter{inv}}}, nil
		}
		for _, a := range inv.Arrays {
			if a.Name == sel.Array {
				return []Plant{{Name: plant.Name, Inverters: []Inverter{inv}}}, nil
			}
		}
		return nil, fmt.Errorf("%w: array %q in inverter %q", ErrInvalidTopologyReference, sel.Array, sel.Inverter)
	}
	return nil, fmt.Errorf("%w: inverter %q in plant %q", ErrInvalidTopologyReference, sel.Inverter, sel.Plant)
}

// Capacity returns the summed AC nameplate of a plant's inverters in watts.
// Microinverter nameplate scales with the number of modules.
func (m *Model) Capacity(p Plant) float64 {
	total := 0.0
	for _, inv := range p.Inverters {
		spec, err := m.catalog.Inverter(inv.Model)
		if err != nil {
			continue
		}
		total += InverterNameplate(inv, spec)
	}
	return total
}

// InverterNameplate returns the maximum AC output of an inverter.
func InverterNameplate(inv Inverter, spec InverterSpec) float64 {
	if inv.Microinverter {
		return spec.Paco * float64(inv.ModuleCount())
	}
	return spec.Paco
}
