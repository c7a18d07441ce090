// Package handler provides the HTTP handlers of the pvcast forecast API.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pvcast/pvcast/internal/api/models"
	"github.com/pvcast/pvcast/internal/api/response"
	"github.com/pvcast/pvcast/internal/forecast"
	"github.com/pvcast/pvcast/internal/topology"
	"github.com/pvcast/pvcast/internal/weather"
)

// allSourcesFailedRetry is advertised in Retry-After when no weather source
// answered.
const allSourcesFailedRetry = time.Minute

// ForecastService is the part of forecast.Service the handlers use.
type ForecastService interface {
	Topology() *topology.Model
	Sources() []weather.Source
	Forecast(ctx context.Context, req forecast.Request) (*forecast.Result, error)
	Refresh(ctx context.Context, horizon time.Duration) (*forecast.Result, error)
	Latest(ctx context.Context, plant string, kind forecast.Kind) (*forecast.Result, error)
	Run(ctx context.Context, runID string) (*forecast.Result, error)
}

// queryDuration parses an optional duration query parameter.
func queryDuration(r *http.Request, name string, def time.Duration) (time.Duration, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return time.ParseDuration(v)
}

// writeForecastError maps forecast, weather and topology errors to problems.
func writeForecastError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, weather.ErrInvalidHorizon):
		response.BadRequest(w, r, err.Error(), []models.FieldError{
			{Field: "horizon", Message: "must be a positive duration", Code: "INVALID_HORIZON"},
		})
	case errors.Is(err, forecast.ErrInvalidKind):
		response.BadRequest(w, r, err.Error(), []models.FieldError{
			{Field: "kind", Message: "must be live or clearsky", Code: "INVALID_KIND"},
		})
	case errors.Is(err, forecast.ErrInvalidInterval):
		response.BadRequest(w, r, err.Error(), []models.FieldError{
			{Field: "interval", Message: "must divide the forecast step", Code: "INVALID_INTERVAL"},
		})
	case errors.Is(err, forecast.ErrInvalidPeriod):
		response.BadRequest(w, r, err.Error(), []models.FieldError{
			{Field: "period", Message: "must be hour or day", Code: "INVALID_PERIOD"},
		})
	case errors.Is(err, topology.ErrInvalidTopologyReference):
		response.NotFound(w, r, err.Error())
	case errors.Is(err, forecast.ErrRunNotFound):
		response.NotFound(w, r, err.Error())
	case errors.Is(err, weather.ErrHorizonOutOfRange):
		response.HorizonOutOfRange(w, r, err.Error())
	case errors.Is(err, weather.ErrAllSourcesFailed):
		event := log.Warn().Err(err)
		var failed *weather.AllSourcesFailedError
		if errors.As(err, &failed) {
			event = event.Int("sources", len(failed.Failures))
		}
		event.Msg("all weather sources failed")
		response.ServiceUnavailable(w, r, "no weather source could be reached", allSourcesFailedRetry)
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn().Err(err).Msg("forecast deadline exceeded")
		response.ServiceUnavailable(w, r, "forecast timed out", 0)
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("forecast request failed")
		response.InternalError(w, r, "an unexpected error occurred")
	}
}
