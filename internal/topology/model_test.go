package topology_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvcast/pvcast/internal/topology"
)

const (
	testModule   = "JA_Solar_JAM54S30_410_MR"
	testInverter = "SMA_America__SB5_0_1SP_US_40__240V_"
	testMicro    = "Enphase_Energy_Inc___IQ7PLUS_72_2_US__240V_"
)

func testLocation() topology.Location {
	return topology.Location{Latitude: 52.35, Longitude: 4.9, Elevation: 10}
}

func testPlants() []topology.Plant {
	return []topology.Plant{
		{
			Name: "home",
			Inverters: []topology.Inverter{
				{
					Name:  "main",
					Model: testInverter,
					Arrays: []topology.Array{
						{Name: "east", Tilt: 30, Azimuth: 90, Module: testModule, ModulesPerString: 6, Strings: 1},
						{Name: "west", Tilt: 30, Azimuth: 270, Module: testModule, ModulesPerString: 6, Strings: 1},
					},
				},
			},
		},
		{
			Name: "shed",
			Inverters: []topology.Inverter{
				{
					Name:          "micro",
					Model:         testMicro,
					Microinverter: true,
					Arrays: []topology.Array{
						{Name: "roof", Tilt: 20, Azimuth: 180, Module: testModule, ModulesPerString: 4, Strings: 2},
					},
				},
			},
		},
	}
}

func TestNewModel(t *testing.T) {
	m, err := topology.NewModel(testLocation(), testPlants(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"home", "shed"}, m.PlantNames())
	assert.InDelta(t, 52.35, m.Location().Latitude, 1e-9)
}

func TestNewModel_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(loc *topology.Location, plants []topology.Plant) []topology.Plant
		want   error
	}{
		{
			name: "latitude out of range",
			mutate: func(loc *topology.Location, p []topology.Plant) []topology.Plant {
				loc.Latitude = 95
				return p
			},
			want: topology.ErrInvalidTopology,
		},
		{
			name: "duplicate plant",
			mutate: func(_ *topology.Location, p []topology.Plant) []topology.Plant {
				p[1].Name = "home"
				return p
			},
			want: topology.ErrInvalidTopology,
		},
		{
			name: "duplicate array",
			mutate: func(_ *topology.Location, p []topology.Plant) []topology.Plant {
				p[0].Inverters[0].Arrays[1].Name = "east"
				return p
			},
			want: topology.ErrInvalidTopology,
		},
		{
			name: "tilt out of range",
			mutate: func(_ *topology.Location, p []topology.Plant) []topology.Plant {
				p[0].Inverters[0].Arrays[0].Tilt = 95
				return p
			},
			want: topology.ErrInvalidTopology,
		},
		{
			name: "unknown module",
			mutate: func(_ *topology.Location, p []topology.Plant) []topology.Plant {
				p[0].Inverters[0].Arrays[0].Module = "nope"
				return p
			},
			want: topology.ErrUnknownDevice,
		},
		{
			name: "unknown inverter",
			mutate: func(_ *topology.Location, p []topology.Plant) []topology.Plant {
				p[0].Inverters[0].Model = "nope"
				return p
			},
			want: topology.ErrUnknownDevice,
		},
		{
			name: "reserved name",
			mutate: func(_ *topology.Location, p []topology.Plant) []topology.Plant {
				p[0].Name = "all"
				return p
			},
			want: topology.ErrInvalidTopology,
		},
		{
			name: "no plants",
			mutate: func(_ *topology.Location, _ []topology.Plant) []topology.Plant {
				return nil
			},
			want: topology.ErrInvalidTopology,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := testLocation()
			plants := tt.mutate(&loc, testPlants())

			_, err := topology.NewModel(loc, plants, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestModel_Resolve(t *testing.T) {
	m, err := topology.NewModel(testLocation(), testPlants(), nil)
	require.NoError(t, err)

	t.Run("all plants", func(t *testing.T) {
		plants, err := m.Resolve(topology.Selection{Plant: "all"})
		require.NoError(t, err)
		assert.Len(t, plants, 2)
	})

	t.Run("single array keeps its inverter whole", func(t *testing.T) {
		plants, err := m.Resolve(topology.Selection{Plant: "home", Inverter: "main", Array: "west"})
		require.NoError(t, err)
		require.Len(t, plants, 1)
		require.Len(t, plants[0].Inverters, 1)
		assert.Equal(t, "main", plants[0].Inverters[0].Name)
		require.Len(t, plants[0].Inverters[0].Arrays, 2)
	})

	t.Run("unknown references", func(t *testing.T) {
		for _, sel := range []topology.Selection{
			{Plant: "garage"},
			{Plant: "home", Inverter: "backup"},
			{Plant: "home", Inverter: "main", Array: "north"},
			{Plant: "home", Array: "east"},
			{Plant: "all", Inverter: "main"},
		} {
			_, err := m.Resolve(sel)
			assert.ErrorIs(t, err, topology.ErrInvalidTopologyReference, "selection %+v", sel)
		}
	})

	t.Run("result is a copy", func(t *testing.T) {
		plants, err := m.Resolve(topology.Selection{Plant: "home"})
		require.NoError(t, err)
		plants[0].Inverters[0].Arrays[0].Tilt = 80

		again, err := m.Resolve(topology.Selection{Plant: "home"})
		require.NoError(t, err)
		assert.InDelta(t, 30.0, again[0].Inverters[0].Arrays[0].Tilt, 1e-9)
	})
}

func TestModel_Capacity(t *testing.T) {
	m, err := topology.NewModel(testLocation(), testPlants(), nil)
	require.NoError(t, err)

	home, err := m.Plant("home")
	require.NoError(t, err)
	assert.InDelta(t, 5000.0, m.Capacity(home), 1e-9)

	shed, err := m.Plant("shed")
	require.NoError(t, err)
	assert.InDelta(t, 290.0*8, m.Capacity(shed), 1e-9)
}

func TestCatalog_AddDevices(t *testing.T) {
	c := topology.NewCatalog()

	require.NoError(t, c.AddModule(topology.ModuleSpec{Name: "custom", PowerSTC: 300, GammaPdc: -0.004}))
	require.NoError(t, c.AddInverter(topology.InverterSpec{Name: "tiny", Paco: 1800}))

	mod, err := c.Module("custom")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, mod.Efficiency, 1e-9)

	inv, err := c.Inverter("tiny")
	require.NoError(t, err)
	assert.InDelta(t, 0.96, inv.NominalEfficiency, 1e-9)
	assert.InDelta(t, 1875.0, inv.Pdc0(), 1e-9)

	assert.Error(t, c.AddModule(topology.ModuleSpec{Name: "bad"}))
	assert.Error(t, c.AddInverter(topology.InverterSpec{Name: "bad", Paco: 100, NominalEfficiency: 1.5}))
	assert.Contains(t, c.InverterNames(), "tiny")
}
