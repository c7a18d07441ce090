package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/pvcast/pvcast/internal/api/response"
	"github.com/pvcast/pvcast/internal/forecast"
	"github.com/pvcast/pvcast/internal/topology"
	"github.com/pvcast/pvcast/internal/weather"
)

// ForecastHandler handles forecast and energy endpoints.
type ForecastHandler struct {
	service        ForecastService
	defaultHorizon time.Duration
	logger         zerolog.Logger
}

// NewForecastHandler creates a new ForecastHandler. A zero defaultHorizon
// means 24 hours.
func NewForecastHandler(service ForecastService, defaultHorizon time.Duration, logger zerolog.Logger) *ForecastHandler {
	if defaultHorizon <= 0 {
		defaultHorizon = 24 * time.Hour
	}
	return &ForecastHandler{
		service:        service,
		defaultHorizon: defaultHorizon,
		logger:         logger,
	}
}

// GetForecast handles GET /v1/forecast/{plant} - compute a power forecast.
// Query parameters: horizon, interval, kind, inverter, array.
func (h *ForecastHandler) GetForecast(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parseRequest(w, r)
	if !ok {
		return
	}
	interval, err := queryDuration(r, "interval", 0)
	if err != nil {
		writeForecastError(w, r, h.logger, fmt.Errorf("%w: %q", forecast.ErrInvalidInterval, r.URL.Query().Get("interval")))
		return
	}

	res, err := h.service.Forecast(r.Context(), req)
	if err != nil {
		writeForecastError(w, r, h.logger, err)
		return
	}

	out, err := toForecast(res, "", interval)
	if err != nil {
		writeForecastError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, out)
}

// GetEnergy handles GET /v1/forecast/{plant}/energy - expected energy per
// hour or day in the site time zone. Query parameters: horizon, period, kind.
func (h *ForecastHandler) GetEnergy(w http.ResponseWriter, r *http.Request) {
	period, err := forecast.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeForecastError(w, r, h.logger, err)
		return
	}
	req, ok := h.parseRequest(w, r)
	if !ok {
		return
	}
	if req.Selection.Inverter != "" || req.Selection.Array != "" {
		response.BadRequest(w, r, "energy is computed per plant; inverter and array are not supported", nil)
		return
	}

	res, err := h.service.Forecast(r.Context(), req)
	if err != nil {
		writeForecastError(w, r, h.logger, err)
		return
	}

	out, err := toEnergy(res, plantParam(r), period, h.service.Topology().Location().Zone())
	if err != nil {
		writeForecastError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, out)
}

// GetLatest handles GET /v1/forecast/{plant}/latest - the newest stored
// forecast covering the plant. Query parameters: kind, interval.
func (h *ForecastHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	kind, err := forecast.ParseKind(r.URL.Query().Get("kind"))
	if err != nil {
		writeForecastError(w, r, h.logger, err)
		return
	}
	interval, err := queryDuration(r, "interval", 0)
	if err != nil {
		writeForecastError(w, r, h.logger, fmt.Errorf("%w: %q", forecast.ErrInvalidInterval, r.URL.Query().Get("interval")))
		return
	}

	plant := plantParam(r)
	lookup := plant
	if plant == topology.AllPlants {
		names := h.service.Topology().PlantNames()
		if len(names) == 0 {
			response.NotFound(w, r, "no plants configured")
			return
		}
		lookup = names[0]
	} else if _, err := h.service.Topology().Plant(plant); err != nil {
		writeForecastError(w, r, h.logger, err)
		return
	}

	res, err := h.service.Latest(r.Context(), lookup, kind)
	if err != nil {
		writeForecastError(w, r, h.logger, err)
		return
	}

	out, err := toForecast(res, plant, interval)
	if err != nil {
		writeForecastError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, out)
}

// GetRun handles GET /v1/runs/{runId} - a stored forecast run.
func (h *ForecastHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	if runID == "" {
		response.BadRequest(w, r, "runId is required", nil)
		return
	}

	res, err := h.service.Run(r.Context(), runID)
	if err != nil {
		writeForecastError(w, r, h.logger, err)
		return
	}

	out, err := toForecast(res, "", 0)
	if err != nil {
		writeForecastError(w, r, h.logger, err)
		return
	}
	response.JSON(w, r, http.StatusOK, out)
}

// parseRequest reads the plant, selection, horizon and kind of a forecast
// request. It writes the error response and returns false on bad input.
func (h *ForecastHandler) parseRequest(w http.ResponseWriter, r *http.Request) (forecast.Request, bool) {
	q := r.URL.Query()

	horizon, err := queryDuration(r, "horizon", h.defaultHorizon)
	if err != nil {
		writeForecastError(w, r, h.logger, fmt.Errorf("%w: %q", weather.ErrInvalidHorizon, q.Get("horizon")))
		return forecast.Request{}, false
	}
	kind, err := forecast.ParseKind(q.Get("kind"))
	if err != nil {
		writeForecastError(w, r, h.logger, err)
		return forecast.Request{}, false
	}

	return forecast.Request{
		Selection: topology.Selection{
			Plant:    plantParam(r),
			Inverter: q.Get("inverter"),
			Array:    q.Get("array"),
		},
		Horizon: horizon,
		Kind:    kind,
	}, true
}

// plantParam returns the plant path parameter, normalizing "all".
func plantParam(r *http.Request) string {
	plant := chi.URLParam(r, "plant")
	if plant == "" || strings.EqualFold(plant, topology.AllPlants) {
		return topology.AllPlants
	}
	return plant
}
