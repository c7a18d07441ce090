package handler

import (
	"net/http"

	"github.com/pvcast/pvcast/internal/api/models"
	"github.com/pvcast/pvcast/internal/api/response"
	"github.com/pvcast/pvcast/internal/topology"
)

// PlantHandler serves the configured topology.
type PlantHandler struct {
	topology *topology.Model
}

// NewPlantHandler creates a new PlantHandler.
func NewPlantHandler(model *topology.Model) *PlantHandler {
	return &PlantHandler{topology: model}
}

// ListPlants handles GET /v1/plants - the site and every plant with its
// inverters and arrays.
func (h *PlantHandler) ListPlants(w http.ResponseWriter, r *http.Request) {
	loc := h.topology.Location()
	out := models.PlantList{
		Location: models.Location{
			Latitude:  loc.Latitude,
			Longitude: loc.Longitude,
			Elevation: loc.Elevation,
			TimeZone:  loc.Zone().String(),
		},
		Plants: make([]models.Plant, 0, len(h.topology.PlantNames())),
	}

	for _, p := range h.topology.Plants() {
		plant := models.Plant{
			Name:      p.Name,
			CapacityW: models.Watts(h.topology.Capacity(p)),
			Inverters: make([]models.Inverter, 0, len(p.Inverters)),
		}
		for _, inv := range p.Inverters {
			plant.Modules += inv.ModuleCount()
			item := models.Inverter{
				Name:          inv.Name,
				Model:         inv.Model,
				Microinverter: inv.Microinverter,
				Arrays:        make([]models.Array, 0, len(inv.Arrays)),
			}
			if spec, err := h.topology.Catalog().Inverter(inv.Model); err == nil {
				item.NameplateW = models.Watts(topology.InverterNameplate(inv, spec))
			}
			for _, a := range inv.Arrays {
				item.Arrays = append(item.Arrays, models.Array{
					Name:             a.Name,
					Tilt:             a.Tilt,
					Azimuth:          a.Azimuth,
					Module:           a.Module,
					ModulesPerString: a.ModulesPerString,
					Strings:          a.Strings,
				})
			}
			plant.Inverters = append(plant.Inverters, item)
		}
		out.Plants = append(out.Plants, plant)
	}

	response.JSON(w, r, http.StatusOK, out)
}
