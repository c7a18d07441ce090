package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository. Runs are
// stored as JSONB with the columns needed for lookup alongside.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL forecast repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Save stores a run.
func (r *PostgresRepository) Save(ctx context.Context, res *Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode forecast run: %w", err)
	}

	query := `
		INSERT INTO forecast_runs (
			id, kind, plants, created_at, valid_from, valid_until, gaps, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			plants = EXCLUDED.plants,
			created_at = EXCLUDED.created_at,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			gaps = EXCLUDED.gaps,
			payload = EXCLUDED.payload
	`

	_, err = r.pool.Exec(ctx, query,
		res.RunID,
		string(res.Kind),
		plantNames(res),
		res.CreatedAt,
		res.ValidFrom,
		res.ValidUntil,
		res.Diagnostics.Gaps,
		payload,
	)
	if err != nil {
		return fmt.Errorf("insert forecast run: %w", err)
	}
	return nil
}

// Get retrieves a run by id.
func (r *PostgresRepository) Get(ctx context.Context, runID string) (*Result, error) {
	query := `SELECT payload FROM forecast_runs WHERE id = $1`
	return r.scanRun(ctx, query, runID)
}

// Latest retrieves the newest run of a kind that covers the plant.
func (r *PostgresRepository) Latest(ctx context.Context, plant string, kind Kind) (*Result, error) {
	query := `
		SELECT payload
		FROM forecast_runs
		WHERE kind = $1 AND $2 = ANY(plants)
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.scanRun(ctx, query, string(kind), plant)
}

// Prune deletes runs created before the cutoff.
func (r *PostgresRepository) Prune(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM forecast_runs WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune forecast runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanRun scans a run payload from a query result.
func (r *PostgresRepository) scanRun(ctx context.Context, query string, args ...interface{}) (*Result, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, query, args...).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	var res Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode forecast run: %w", err)
	}
	return &res, nil
}
