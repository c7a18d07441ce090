package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvcast/pvcast/internal/worker"
)

func TestScheduler_Next(t *testing.T) {
	job := newJob(&mockRefresher{}, nil, worker.RefreshConfig{Schedule: "*/15 * * * *"})
	s, err := worker.NewScheduler(job, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC), s.Next(testNow))
	assert.Equal(t, time.Date(2024, 6, 1, 10, 45, 0, 0, time.UTC), s.Next(time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)))
}

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	job := newJob(&mockRefresher{}, nil, worker.RefreshConfig{Schedule: "sometimes"})

	_, err := worker.NewScheduler(job, zerolog.Nop())
	assert.ErrorIs(t, err, worker.ErrInvalidSchedule)
}

func TestScheduler_RunOnStartAndStop(t *testing.T) {
	refresher := &mockRefresher{}
	// Yearly schedule: only the start-up refresh fires during the test.
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:    worker.RefreshConfig{Schedule: "0 0 1 1 *", RunOnStart: true},
		Logger:    zerolog.Nop(),
		Refresher: refresher,
	})
	s, err := worker.NewScheduler(job, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return refresher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	refresher := &mockRefresher{}
	// Seven fields: seconds first, so this fires every second.
	job := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config:    worker.RefreshConfig{Schedule: "* * * * * * *"},
		Logger:    zerolog.Nop(),
		Refresher: refresher,
	})
	s, err := worker.NewScheduler(job, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	assert.Eventually(t, func() bool { return refresher.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}
