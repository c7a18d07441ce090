package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/pvcast/pvcast/internal/forecast"
)

// ErrRefreshRunning is returned when a refresh is requested while another
// one is still in flight.
var ErrRefreshRunning = errors.New("a refresh is already running")

// Refresher computes and stores a forecast for every plant.
// *forecast.Service implements it.
type Refresher interface {
	Refresh(ctx context.Context, horizon time.Duration) (*forecast.Result, error)
}

// Pruner deletes stored runs older than a cutoff.
// forecast.Repository implementations satisfy it.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// CachePruner drops expired weather cache entries. *weather.Cache
// implements it.
type CachePruner interface {
	Prune() int
}

// RefreshJob refreshes and prunes stored forecast runs.
type RefreshJob struct {
	config    RefreshConfig
	logger    zerolog.Logger
	refresher Refresher
	pruner    Pruner
	cache     CachePruner
	now       func() time.Time

	running atomic.Bool
	metrics *RefreshMetrics
}

// RefreshMetrics tracks refresh job statistics.
type RefreshMetrics struct {
	mu sync.RWMutex

	// Counters
	TotalRefreshes    int64
	SuccessfulRefresh int64
	FailedRefreshes   int64
	SkippedRefreshes  int64
	PrunedRuns        int64
	EvictedEntries    int64

	// Last outcome
	LastRunID           string
	LastError           string
	LastRefreshAt       time.Time
	LastSuccessAt       time.Time
	LastRefreshDuration time.Duration
	TotalDuration       time.Duration
}

// RefreshJobConfig holds configuration for creating a RefreshJob.
type RefreshJobConfig struct {
	Config    RefreshConfig
	Logger    zerolog.Logger
	Refresher Refresher
	// Pruner is optional; without it runs are never pruned.
	Pruner Pruner
	// Cache is optional; expired entries are dropped after every run.
	Cache CachePruner
	Now   func() time.Time
}

// NewRefreshJob creates a new refresh job.
func NewRefreshJob(cfg RefreshJobConfig) *RefreshJob {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &RefreshJob{
		config:    cfg.Config.withDefaults(),
		logger:    cfg.Logger,
		refresher: cfg.Refresher,
		pruner:    cfg.Pruner,
		cache:     cfg.Cache,
		now:       now,
		metrics:   &RefreshMetrics{},
	}
}

// Config returns the effective configuration.
func (j *RefreshJob) Config() RefreshConfig {
	return j.config
}

// RefreshResult contains the result of a refresh operation.
type RefreshResult struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	RunID          string
	Plants         []string
	Gaps           int
	SourceFailures []string
	Pruned         int
	Evicted        int

	// Err is the refresh error; pruning errors are only logged.
	Err error
}

// Run refreshes with the configured horizon.
func (j *RefreshJob) Run(ctx context.Context) *RefreshResult {
	return j.RunHorizon(ctx, j.config.Horizon)
}

// RunHorizon refreshes every plant for the given horizon, then prunes runs
// older than the retention. Only one refresh runs at a time; a concurrent
// call returns ErrRefreshRunning without doing any work.
func (j *RefreshJob) RunHorizon(ctx context.Context, horizon time.Duration) *RefreshResult {
	startTime := j.now()
	result := &RefreshResult{StartTime: startTime}

	if !j.running.CompareAndSwap(false, true) {
		result.Err = ErrRefreshRunning
		result.EndTime = startTime
		j.metrics.mu.Lock()
		j.metrics.SkippedRefreshes++
		j.metrics.mu.Unlock()
		j.logger.Warn().Msg("refresh skipped, previous run still in flight")
		return result
	}
	defer j.running.Store(false)

	j.logger.Info().
		Str("horizon", horizon.String()).
		Msg("starting forecast refresh")

	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	res, err := j.refresher.Refresh(ctx, horizon)
	if err != nil {
		result.Err = err
	} else {
		result.RunID = res.RunID
		result.Gaps = res.Diagnostics.Gaps
		result.SourceFailures = res.Diagnostics.SourceFailures
		for _, p := range res.Plants {
			result.Plants = append(result.Plants, p.Name)
		}
		result.Pruned = j.prune(ctx)
	}
	if j.cache != nil {
		result.Evicted = j.cache.Prune()
	}

	result.EndTime = j.now()
	result.Duration = result.EndTime.Sub(startTime)
	j.updateMetrics(result)

	if result.Err != nil {
		j.logger.Error().
			Err(result.Err).
			Dur("duration", result.Duration).
			Msg("forecast refresh failed")
		return result
	}

	j.logger.Info().
		Str("run_id", result.RunID).
		Strs("plants", result.Plants).
		Int("gaps", result.Gaps).
		Strs("source_failures", result.SourceFailures).
		Int("pruned", result.Pruned).
		Int("evicted", result.Evicted).
		Dur("duration", result.Duration).
		Msg("forecast refresh completed")

	return result
}

func (j *RefreshJob) prune(ctx context.Context) int {
	if j.pruner == nil || j.config.Retention <= 0 {
		return 0
	}
	n, err := j.pruner.Prune(ctx, j.now().Add(-j.config.Retention))
	if err != nil {
		j.logger.Warn().Err(err).Msg("pruning forecast runs failed")
		return 0
	}
	return n
}

func (j *RefreshJob) updateMetrics(result *RefreshResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRefreshes++
	j.metrics.LastRefreshAt = result.EndTime
	j.metrics.LastRefreshDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
	j.metrics.PrunedRuns += int64(result.Pruned)
	j.metrics.EvictedEntries += int64(result.Evicted)

	if result.Err != nil {
		j.metrics.FailedRefreshes++
		j.metrics.LastError = result.Err.Error()
		return
	}
	j.metrics.SuccessfulRefresh++
	j.metrics.LastRunID = result.RunID
	j.metrics.LastSuccessAt = result.EndTime
	j.metrics.LastError = ""
}

// GetMetrics returns a copy of the current metrics.
func (j *RefreshJob) GetMetrics() RefreshMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return RefreshMetrics{
		TotalRefreshes:      j.metrics.TotalRefreshes,
		SuccessfulRefresh:   j.metrics.SuccessfulRefresh,
		FailedRefreshes:     j.metrics.FailedRefreshes,
		SkippedRefreshes:    j.metrics.SkippedRefreshes,
		PrunedRuns:          j.metrics.PrunedRuns,
		EvictedEntries:      j.metrics.EvictedEntries,
		LastRunID:           j.metrics.LastRunID,
		LastError:           j.metrics.LastError,
		LastRefreshAt:       j.metrics.LastRefreshAt,
		LastSuccessAt:       j.metrics.LastSuccessAt,
		LastRefreshDuration: j.metrics.LastRefreshDuration,
		TotalDuration:       j.metrics.TotalDuration,
	}
}

// Healthy reports whether a refresh succeeded within StaleAfter.
func (j *RefreshJob) Healthy() bool {
	m := j.GetMetrics()
	if m.LastSuccessAt.IsZero() {
		return false
	}
	return j.now().Sub(m.LastSuccessAt) <= j.config.StaleAfter
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *RefreshJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_refreshes":       m.TotalRefreshes,
		"successful_refreshes":  m.SuccessfulRefresh,
		"failed_refreshes":      m.FailedRefreshes,
		"skipped_refreshes":     m.SkippedRefreshes,
		"pruned_runs":           m.PrunedRuns,
		"evicted_cache_entries": m.EvictedEntries,
		"last_run_id":           m.LastRunID,
		"last_error":            m.LastError,
		"last_refresh_at":       m.LastRefreshAt,
		"last_success_at":       m.LastSuccessAt,
		"last_refresh_duration": m.LastRefreshDuration.String(),
		"total_duration":        m.TotalDuration.String(),
	}
}
