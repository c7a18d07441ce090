package forecast

import (
	"context"
	"time"
)

// Repository defines the interface for forecast run persistence.
type Repository interface {
	// Save stores a run. Saving a run id twice replaces the earlier copy.
	Save(ctx context.Context, r *Result) error

	// Get retrieves a run by id.
	// Returns ErrRunNotFound if the run doesn't exist.
	Get(ctx context.Context, runID string) (*Result, error)

	// Latest retrieves the newest run of a kind that covers the plant.
	// Returns ErrRunNotFound if there is none.
	Latest(ctx context.Context, plant string, kind Kind) (*Result, error)

	// Prune deletes runs created before the cutoff and returns how many.
	Prune(ctx context.Context, before time.Time) (int, error)
}

func plantNames(r *Result) []string {
	names := make([]string, len(r.Plants))
	for i, p := range r.Plants {
		names[i] = p.Name
	}
	return names
}
