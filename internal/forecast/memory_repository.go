package forecast

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing and single-process deployments. Production
// should use PostgresRepository.
type InMemoryRepository struct {
	mu   sync.RWMutex
	runs map[string]*Result
}

// NewInMemoryRepository creates a new in-memory forecast repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		runs: make(map[string]*Result),
	}
}

// Save stores a run. Results are immutable, so the pointer is kept as is.
func (r *InMemoryRepository) Save(_ context.Context, res *Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[res.RunID] = res
	return nil
}

// Get retrieves a run by id.
func (r *InMemoryRepository) Get(_ context.Context, runID string) (*Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return res, nil
}

// Latest retrieves the newest run of a kind that covers the plant.
func (r *InMemoryRepository) Latest(_ context.Context, plant string, kind Kind) (*Result, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *Result
	for _, res := range r.runs {
		if res.Kind != kind {
			continue
		}
		if _, ok := res.Plant(plant); !ok {
			continue
		}
		if latest == nil || res.CreatedAt.After(latest.CreatedAt) {
			latest = res
		}
	}
	if latest == nil {
		return nil, ErrRunNotFound
	}
	return latest, nil
}

// Prune deletes runs created before the cutoff.
func (r *InMemoryRepository) Prune(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, res := range r.runs {
		if res.CreatedAt.Before(before) {
			delete(r.runs, id)
			n++
		}
	}
	return n, nil
}
