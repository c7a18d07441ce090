package forecast_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvcast/pvcast/internal/forecast"
)

func run(id string, kind forecast.Kind, created time.Time, plants ...string) *forecast.Result {
	res := &forecast.Result{RunID: id, Kind: kind, CreatedAt: created}
	for _, p := range plants {
		res.Plants = append(res.Plants, forecast.PlantSeries{Name: p})
	}
	return res
}

func TestInMemoryRepository_SaveAndGet(t *testing.T) {
	repo := forecast.NewInMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, run("r1", forecast.KindLive, t0, "home")))

	got, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RunID)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, forecast.ErrRunNotFound)
}

func TestInMemoryRepository_Latest(t *testing.T) {
	repo := forecast.NewInMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, run("old", forecast.KindLive, t0, "home", "shed")))
	require.NoError(t, repo.Save(ctx, run("new", forecast.KindLive, t0.Add(time.Hour), "home")))
	require.NoError(t, repo.Save(ctx, run("clear", forecast.KindClearSky, t0.Add(2*time.Hour), "home")))

	got, err := repo.Latest(ctx, "home", forecast.KindLive)
	require.NoError(t, err)
	assert.Equal(t, "new", got.RunID)

	got, err = repo.Latest(ctx, "shed", forecast.KindLive)
	require.NoError(t, err)
	assert.Equal(t, "old", got.RunID)

	_, err = repo.Latest(ctx, "garage", forecast.KindLive)
	assert.ErrorIs(t, err, forecast.ErrRunNotFound)
}

func TestInMemoryRepository_Prune(t *testing.T) {
	repo := forecast.NewInMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, run("a", forecast.KindLive, t0, "home")))
	require.NoError(t, repo.Save(ctx, run("b", forecast.KindLive, t0.Add(2*time.Hour), "home")))

	n, err := repo.Prune(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = repo.Get(ctx, "a")
	assert.ErrorIs(t, err, forecast.ErrRunNotFound)
	_, err = repo.Get(ctx, "b")
	assert.NoError(t, err)
}
