package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/pvcast/pvcast/internal/api/models"
	"github.com/pvcast/pvcast/internal/api/response"
	"github.com/pvcast/pvcast/internal/weather"
)

// maxRefreshBody bounds the refresh request body.
const maxRefreshBody = 1 << 10

// AdminHandler handles operational actions.
type AdminHandler struct {
	service        ForecastService
	defaultHorizon time.Duration
	logger         zerolog.Logger
	running        atomic.Bool
}

// NewAdminHandler creates a new AdminHandler. A zero defaultHorizon means
// 24 hours.
func NewAdminHandler(service ForecastService, defaultHorizon time.Duration, logger zerolog.Logger) *AdminHandler {
	if defaultHorizon <= 0 {
		defaultHorizon = 24 * time.Hour
	}
	return &AdminHandler{
		service:        service,
		defaultHorizon: defaultHorizon,
		logger:         logger,
	}
}

// Refresh handles POST /v1/admin/refresh - compute and store a live forecast
// for every plant. Only one refresh runs at a time per process.
func (h *AdminHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var input models.RefreshRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRefreshBody)).Decode(&input); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	horizon := h.defaultHorizon
	if input.Horizon != "" {
		d, err := time.ParseDuration(input.Horizon)
		if err != nil {
			writeForecastError(w, r, h.logger, fmt.Errorf("%w: %q", weather.ErrInvalidHorizon, input.Horizon))
			return
		}
		horizon = d
	}

	if !h.running.CompareAndSwap(false, true) {
		response.Conflict(w, r, "a refresh is already running")
		return
	}
	defer h.running.Store(false)

	res, err := h.service.Refresh(r.Context(), horizon)
	if err != nil {
		writeForecastError(w, r, h.logger, err)
		return
	}

	plants := make([]string, len(res.Plants))
	for i, p := range res.Plants {
		plants[i] = p.Name
	}

	h.logger.Info().
		Str("run_id", res.RunID).
		Dur("horizon", horizon).
		Int("gaps", res.Diagnostics.Gaps).
		Strs("source_failures", res.Diagnostics.SourceFailures).
		Msg("forecast refreshed")

	response.Created(w, r, "/v1/runs/"+res.RunID, models.RefreshResult{
		RunID:          res.RunID,
		CreatedAt:      models.Timestamp(res.CreatedAt),
		ValidUntil:     models.Timestamp(res.ValidUntil),
		Plants:         plants,
		Gaps:           res.Diagnostics.Gaps,
		SourceFailures: res.Diagnostics.SourceFailures,
	})
}
