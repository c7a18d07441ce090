package topology

import (
	"fmt"
	"sort"
	"sync"
)

// ModuleSpec holds the electrical characteristics of a PV module at STC.
type ModuleSpec struct {
	Name string `yaml:"name" json:"name"`
	// PowerSTC is the rated DC power at 1000 W/m2 and 25 C cell temperature.
	PowerSTC float64 `yaml:"power_stc" json:"power_stc"`
	// GammaPdc is the power temperature coefficient in 1/C, e.g. -0.0037.
	GammaPdc float64 `yaml:"gamma_pdc" json:"gamma_pdc"`
	// Efficiency is the module efficiency used by the thermal model.
	Efficiency float64 `yaml:"efficiency" json:"efficiency"`
}

// InverterSpec holds the electrical characteristics of an inverter unit.
type InverterSpec struct {
	Name string `yaml:"name" json:"name"`
	// Paco is the rated (nameplate) AC output in watts.
	Paco float64 `yaml:"paco" json:"paco"`
	// NominalEfficiency is the efficiency at rated power, e.g. 0.96.
	NominalEfficiency float64 `yaml:"nominal_efficiency" json:"nominal_efficiency"`
}

// Pdc0 returns the DC input at which the inverter delivers rated AC output.
func (s InverterSpec) Pdc0() float64 {
	if s.NominalEfficiency <= 0 {
		return s.Paco
	}
	return s.Paco / s.NominalEfficiency
}

// Catalog resolves module and inverter identifiers to electrical specs.
type Catalog struct {
	mu        sync.RWMutex
	modules   map[string]ModuleSpec
	inverters map[string]InverterSpec
}

// NewCatalog creates a catalog pre-populated with the built-in devices.
func NewCatalog() *Catalog {
	c := &Catalog{
		modules:   make(map[string]ModuleSpec),
		inverters: make(map[string]InverterSpec),
	}
	for _, m := range builtinModules {
		c.modules[m.Name] = m
	}
	for _, i := range builtinInverters {
		c.inverters[i.Name] = i
	}
	return c
}

// AddModule registers or replaces a module spec.
func (c *Catalog) AddModule(m ModuleSpec) error {
	if m.Name == "" {
		return fmt.Errorf("%w: module name is required", ErrInvalidTopology)
	}
	if m.PowerSTC <= 0 {
		return fmt.Errorf("%w: module %q power_stc must be positive", ErrInvalidTopology, m.Name)
	}
	if m.Efficiency == 0 {
		m.Efficiency = 0.2
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[m.Name] = m
	return nil
}

// AddInverter registers or replaces an inverter spec.
func (c *Catalog) AddInverter(i InverterSpec) error {
	if i.Name == "" {
		return fmt.Errorf("%w: inverter name is required", ErrInvalidTopology)
	}
	if i.Paco <= 0 {
		return fmt.Errorf("%w: inverter %q paco must be positive", ErrInvalidTopology, i.Name)
	}
	if i.NominalEfficiency == 0 {
		i.NominalEfficiency = 0.96
	}
	if i.NominalEfficiency < 0 || i.NominalEfficiency > 1 {
		return fmt.Errorf("%w: inverter %q nominal_efficiency must be in (0,1]", ErrInvalidTopology, i.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inverters[i.Name] = i
	return nil
}

// Module looks up a module spec.
func (c *Catalog) Module(name string) (ModuleSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[name]
	if !ok {
		return ModuleSpec{}, fmt.Errorf("%w: module %q", ErrUnknownDevice, name)
	}
	return m, nil
}

// Inverter looks up an inverter spec.
func (c *Catalog) Inverter(name string) (InverterSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.inverters[name]
	if !ok {
		return InverterSpec{}, fmt.Errorf("%w: inverter %q", ErrUnknownDevice, name)
	}
	return i, nil
}

// ModuleNames returns the sorted list of known module identifiers.
func (c *Catalog) ModuleNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.modules))
	for n := range c.modules {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// InverterNames returns the sorted list of known inverter identifiers.
func (c *Catalog) InverterNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.inverters))
	for n := range c.inverters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var builtinModules = []ModuleSpec{
	{Name: "Trina_Solar_TSM_330DD14A_II_", PowerSTC: 330, GammaPdc: -0.0039, Efficiency: 0.17},
	{Name: "JA_Solar_JAM54S30_410_MR", PowerSTC: 410, GammaPdc: -0.0035, Efficiency: 0.21},
	{Name: "LONGi_LR5_54HPH_420M", PowerSTC: 420, GammaPdc: -0.0034, Efficiency: 0.215},
	{Name: "Canadian_Solar_CS6R_400MS", PowerSTC: 400, GammaPdc: -0.0034, Efficiency: 0.205},
	{Name: "REC_Alpha_Pure_R_430", PowerSTC: 430, GammaPdc: -0.0026, Efficiency: 0.223},
}

var builtinInverters = []InverterSpec{
	{Name: "Enphase_Energy_Inc___IQ7PLUS_72_2_US__240V_", Paco: 290, NominalEfficiency: 0.97},
	{Name: "Enphase_Energy_Inc___IQ8PLUS_72_2_US__240V_", Paco: 300, NominalEfficiency: 0.97},
	{Name: "SolarEdge_Technologies_Ltd___SE3000H_US__240V_", Paco: 3000, NominalEfficiency: 0.99},
	{Name: "SMA_America__SB5_0_1SP_US_40__240V_", Paco: 5000, NominalEfficiency: 0.97},
	{Name: "Fronius_International_GmbH__Primo_8_2_1_208_240__240V_", Paco: 8200, NominalEfficiency: 0.965},
	{Name: "SolaX_X1_Hybrid_3_7", Paco: 3680, NominalEfficiency: 0.97},
}
