// Package worker runs the background forecast refresh for pvcast.
package worker

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
)

// ErrInvalidSchedule is returned for a cron expression that cannot be parsed
// or never fires.
var ErrInvalidSchedule = errors.New("invalid refresh schedule")

// RefreshConfig holds configuration for the forecast refresh job.
type RefreshConfig struct {
	// Schedule is a cron expression for scheduled refreshes.
	// Default: every 15 minutes.
	Schedule string

	// Horizon is how far ahead each refresh forecasts.
	// Default: 48 hours
	Horizon time.Duration

	// Timeout bounds one refresh including persistence.
	// Default: 2 minutes
	Timeout time.Duration

	// Retention is how long stored runs are kept. Zero disables pruning.
	Retention time.Duration

	// StaleAfter is the age of the last successful refresh beyond which the
	// worker reports itself unhealthy.
	// Default: 1 hour
	StaleAfter time.Duration

	// RunOnStart triggers one refresh as soon as the scheduler starts.
	RunOnStart bool
}

// DefaultRefreshConfig returns the default refresh configuration.
func DefaultRefreshConfig() RefreshConfig {
	return RefreshConfig{
		Schedule:   "*/15 * * * *",
		Horizon:    48 * time.Hour,
		Timeout:    2 * time.Minute,
		Retention:  7 * 24 * time.Hour,
		StaleAfter: time.Hour,
		RunOnStart: true,
	}
}

// withDefaults fills zero fields from DefaultRefreshConfig. Retention and
// RunOnStart keep their zero values.
func (c RefreshConfig) withDefaults() RefreshConfig {
	def := DefaultRefreshConfig()
	if c.Schedule == "" {
		c.Schedule = def.Schedule
	}
	if c.Horizon <= 0 {
		c.Horizon = def.Horizon
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = def.StaleAfter
	}
	return c
}

// ParseSchedule parses a cron expression and checks that it fires at least
// once after now.
func ParseSchedule(expr string, now time.Time) (*cronexpr.Expression, error) {
	parsed, err := cronexpr.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	if parsed.Next(now).IsZero() {
		return nil, fmt.Errorf("%w: %q never fires", ErrInvalidSchedule, expr)
	}
	return parsed, nil
}
