package worker

import (
	"context"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/rs/zerolog"
)

// Scheduler triggers the refresh job on a cron schedule.
type Scheduler struct {
	expr   *cronexpr.Expression
	job    *RefreshJob
	logger zerolog.Logger
	now    func() time.Time
}

// NewScheduler creates a scheduler for the job's configured schedule.
func NewScheduler(job *RefreshJob, logger zerolog.Logger) (*Scheduler, error) {
	expr, err := ParseSchedule(job.config.Schedule, job.now())
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		expr:   expr,
		job:    job,
		logger: logger,
		now:    job.now,
	}, nil
}

// Next returns the first scheduled time strictly after from.
func (s *Scheduler) Next(from time.Time) time.Time {
	return s.expr.Next(from)
}

// Run blocks, refreshing at every scheduled time until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().
		Str("schedule", s.job.config.Schedule).
		Bool("run_on_start", s.job.config.RunOnStart).
		Msg("starting refresh scheduler")

	if s.job.config.RunOnStart {
		s.job.Run(ctx)
	}

	for {
		next := s.expr.Next(s.now())
		if next.IsZero() {
			return ErrInvalidSchedule
		}
		s.logger.Debug().Time("next_run", next).Msg("refresh scheduled")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			s.job.Run(ctx)
		}
	}
}
