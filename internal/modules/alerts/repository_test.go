package alerts

import (
	"context"
	"testing"

	"github.com/aristath/arbiter/internal/database"
	"github.com/aristath/arbiter/internal/domain"
	testingpkg "github.com/aristath/arbiter/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *Repository {
	db := testingpkg.NewTestDB(t, database.NameOperations)
	return NewRepository(db.Conn(), zerolog.Nop())
}

func TestRepository_Lifecycle(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	a, err := repo.Create(ctx, CreateRequest{
		SearchQuery:        "nikon d750",
		MinPrice:           dec("100"),
		MaxPrice:           dec("900.50"),
		NotificationMethod: MethodWebhook,
		NotificationTarget: "https://hooks.example/x",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, a.Status)

	got, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "900.5", got.MaxPrice.String())
	assert.Nil(t, got.LastTriggeredAt)

	require.NoError(t, repo.Pause(ctx, a.ID))
	assert.True(t, domain.IsValidation(repo.Pause(ctx, a.ID)), "pausing a paused alert is rejected")

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, repo.Resume(ctx, a.ID))
	assert.True(t, domain.IsValidation(repo.Resume(ctx, a.ID)))

	require.NoError(t, repo.Delete(ctx, a.ID))
	got, err = repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, got.Status)

	assert.ErrorIs(t, repo.Pause(ctx, 9999), domain.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, 9999), domain.ErrNotFound)
}

func TestRepository_ListFiltersByStatus(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c"} {
		_, err := repo.Create(ctx, CreateRequest{SearchQuery: q, NotificationTarget: "x@y"})
		require.NoError(t, err)
	}
	all, total, err := repo.List(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 3, total)

	require.NoError(t, repo.Pause(ctx, all[0].ID))
	paused, total, err := repo.List(ctx, StatusPaused, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, all[0].ID, paused[0].ID)
}

func TestRepository_RecordMatchBumpsTriggerCount(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	a, err := repo.Create(ctx, CreateRequest{SearchQuery: "lens", NotificationTarget: "x@y"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		m := &Match{AlertID: a.ID, ListingID: int64(i + 1), ListingTitle: "Lens", ListingPrice: decimal.NewFromInt(10)}
		require.NoError(t, repo.RecordMatch(ctx, m))
		require.NotZero(t, m.ID)
		if i == 0 {
			require.NoError(t, repo.MarkNotified(ctx, m.ID))
		}
	}

	got, err := repo.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TriggerCount)
	assert.NotNil(t, got.LastTriggeredAt)

	matches, total, err := repo.Matches(ctx, a.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, matches, 2)

	sent := 0
	for _, m := range matches {
		if m.NotificationSent {
			sent++
		}
	}
	assert.Equal(t, 1, sent)

	_, _, err = repo.Matches(ctx, 9999, 10)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
