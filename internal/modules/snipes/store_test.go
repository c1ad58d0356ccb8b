package snipes

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/arbiter/internal/database"
	"github.com/aristath/arbiter/internal/domain"
	testingpkg "github.com/aristath/arbiter/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db := testingpkg.NewTestDB(t, database.NameOperations)
	return NewStore(db.Conn(), zerolog.Nop())
}

// createSnipe stores a snipe firing at fireAt, bypassing request validation
func createSnipe(t *testing.T, store *Store, url string, fireAt time.Time) *Snipe {
	t.Helper()
	sn := &Snipe{
		ListingURL:      url,
		MaxBid:          decimal.RequireFromString("120.00"),
		AuctionEndTime:  fireAt.Add(5 * time.Second),
		LeadTimeSeconds: 5,
	}
	require.NoError(t, store.Create(context.Background(), sn))
	return sn
}

func TestStore_BeginExecutionExactlyOnce(t *testing.T) {
	store := newStore(t)
	sn := createSnipe(t, store, "https://auction.example/1", time.Now())

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.BeginExecution(context.Background(), sn.ID)
			assert.NoError(t, err)
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
	got, err := store.Get(context.Background(), sn.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, got.Status)
}

func TestStore_CancelOnlyFromScheduled(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	scheduled := createSnipe(t, store, "https://auction.example/a", time.Now().Add(time.Hour))
	ok, err := store.Cancel(ctx, scheduled.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	armed := createSnipe(t, store, "https://auction.example/b", time.Now().Add(time.Hour))
	ok, err = store.Arm(ctx, armed.ID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.Cancel(ctx, armed.ID)
	require.NoError(t, err)
	assert.False(t, ok, "armed snipes are past the cancel point")

	executing := createSnipe(t, store, "https://auction.example/c", time.Now())
	ok, err = store.BeginExecution(ctx, executing.ID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.Cancel(ctx, executing.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.Get(ctx, executing.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, got.Status)
}

func TestStore_TerminalStatesAreFinal(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	sn := createSnipe(t, store, "https://auction.example/1", time.Now())

	ok, err := store.BeginExecution(ctx, sn.ID)
	require.NoError(t, err)
	require.True(t, ok)

	price := decimal.RequireFromString("99.5")
	ok, err = store.Finish(ctx, sn.ID, StatusCompleted, &Outcome{Accepted: true, FinalPrice: &price, Attempts: 1}, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	for _, try := range []func() (bool, error){
		func() (bool, error) { return store.Cancel(ctx, sn.ID) },
		func() (bool, error) { return store.BeginExecution(ctx, sn.ID) },
		func() (bool, error) { return store.MarkMissed(ctx, sn.ID, &Outcome{Error: "x"}) },
		func() (bool, error) {
			return store.Finish(ctx, sn.ID, StatusFailed, &Outcome{Error: "late"}, time.Now())
		},
	} {
		ok, err := try()
		require.NoError(t, err)
		assert.False(t, ok)
	}

	got, err := store.Get(ctx, sn.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.True(t, got.Result.Accepted)
	assert.Equal(t, "99.5", got.Result.FinalPrice.String())
	assert.NotNil(t, got.ExecutedAt)
}

func TestStore_ListAndPending(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now()

	late := createSnipe(t, store, "https://auction.example/late", now.Add(2*time.Hour))
	early := createSnipe(t, store, "https://auction.example/early", now.Add(time.Hour))
	gone := createSnipe(t, store, "https://auction.example/gone", now.Add(time.Minute))
	_, err := store.Cancel(ctx, gone.ID)
	require.NoError(t, err)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, early.ID, pending[0].ID, "ordered by fire time")
	assert.Equal(t, late.ID, pending[1].ID)

	cancelled, total, err := store.List(ctx, StatusCancelled, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, gone.ID, cancelled[0].ID)

	_, err = store.Get(ctx, 12345)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
