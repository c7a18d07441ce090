package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/pvcast/pvcast/internal/api/models"
	"github.com/pvcast/pvcast/internal/api/response"
	"github.com/pvcast/pvcast/internal/provider/resilience"
	"github.com/pvcast/pvcast/internal/weather"
)

// readinessTimeout bounds each readiness check.
const readinessTimeout = 2 * time.Second

// ReadinessCheck reports whether a dependency such as the database is usable.
type ReadinessCheck func(ctx context.Context) error

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	sources   []weather.Source
	registry  *resilience.Registry
	checks    map[string]ReadinessCheck
}

// OpsConfig holds the dependencies of the ops endpoints.
type OpsConfig struct {
	Version   string
	BuildTime string
	// Sources in priority order.
	Sources  []weather.Source
	Registry *resilience.Registry
	// Checks are run by the readiness endpoint, keyed by dependency name.
	Checks map[string]ReadinessCheck
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	registry := cfg.Registry
	if registry == nil {
		registry = resilience.NewRegistry()
	}
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		sources:   cfg.Sources,
		registry:  registry,
		checks:    cfg.Checks,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - runs the dependency checks.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := models.HealthStatusOK
	details := make(map[string]interface{}, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		err := h.checks[name](ctx)
		cancel()
		if err != nil {
			status = models.HealthStatusFail
			details[name] = err.Error()
			continue
		}
		details[name] = "ok"
	}

	health := models.Health{
		Status: status,
		Time:   models.Timestamp(time.Now()),
	}
	if len(details) > 0 {
		health.Details = details
	}

	code := http.StatusOK
	if status != models.HealthStatusOK {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, health)
}

// SourceStatus handles GET /v1/ops/sources - weather source health in
// priority order.
func (h *OpsHandler) SourceStatus(w http.ResponseWriter, r *http.Request) {
	out := models.SourcesStatus{
		Time:    models.Timestamp(time.Now()),
		Sources: make([]models.SourceStatus, 0, len(h.sources)),
	}

	failed := 0
	degraded := 0
	for i, src := range h.sources {
		caps := src.Capabilities()
		status := models.SourceStatus{
			Name:     src.Name(),
			Kind:     caps.Kind,
			Priority: i + 1,
			Status:   models.HealthStatusOK,
			Circuit:  "closed",
		}
		if caps.MaxHorizon > 0 {
			status.MaxHorizon = caps.MaxHorizon.String()
		}

		if health := h.registry.Health(src.Name()); health != nil {
			status.Circuit = health.State
			status.LastSuccessAt = models.TimestampPtr(health.LastSuccessAt)
			status.LastFailureAt = models.TimestampPtr(health.LastFailureAt)
			if health.LastError != "" {
				msg := health.LastError
				status.Message = &msg
			}
			status.Status = sourceHealthStatus(health)
		}

		switch status.Status {
		case models.HealthStatusFail:
			failed++
		case models.HealthStatusDegraded:
			degraded++
		}
		out.Sources = append(out.Sources, status)
	}

	switch {
	case len(h.sources) > 0 && failed == len(h.sources):
		out.Status = models.HealthStatusFail
	case failed > 0 || degraded > 0:
		out.Status = models.HealthStatusDegraded
	default:
		out.Status = models.HealthStatusOK
	}
	response.JSON(w, r, http.StatusOK, out)
}

// sourceHealthStatus maps breaker state and the last outcome to a status.
// A closed breaker whose most recent fetch failed is degraded.
func sourceHealthStatus(h *resilience.SourceHealth) models.HealthStatus {
	switch {
	case h.IsUnhealthy():
		return models.HealthStatusFail
	case h.IsDegraded():
		return models.HealthStatusDegraded
	case h.LastFailureAt != nil && (h.LastSuccessAt == nil || h.LastFailureAt.After(*h.LastSuccessAt)):
		return models.HealthStatusDegraded
	}
	return models.HealthStatusOK
}
