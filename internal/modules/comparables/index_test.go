package comparables

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/arbiter/internal/database"
	testingpkg "github.com/aristath/arbiter/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_RefreshFromRepository(t *testing.T) {
	db := testingpkg.NewTestDB(t, database.NameMarket)
	repo := NewRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, repo.InsertSale(ctx, &Sale{Title: "Nikon D750", Price: decimal.NewFromInt(600), SoldAt: now.Add(-time.Hour)}))
	require.NoError(t, repo.InsertSale(ctx, &Sale{Title: "nikon d750!", Price: decimal.NewFromInt(700), SoldAt: now.Add(-2 * time.Hour)}))
	// Outside the window
	require.NoError(t, repo.InsertSale(ctx, &Sale{Title: "Nikon D750", Price: decimal.NewFromInt(50), SoldAt: now.AddDate(0, 0, -200)}))

	path := filepath.Join(t.TempDir(), "comparables.msgpack")
	idx := NewIndex(repo, IndexConfig{SalesWindow: 90 * 24 * time.Hour, SnapshotPath: path}, zerolog.Nop())

	_, found := idx.LookupTitle("", "Nikon D750")
	assert.False(t, found)

	snap, err := idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())

	agg, found := idx.LookupTitle("", "NIKON   d750")
	require.True(t, found)
	assert.Equal(t, 2, agg.Count)
	assert.Equal(t, "650", agg.MedianPrice.String())

	persisted, err := repo.LoadAggregates(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, 2, persisted[0].Count)

	// A fresh index warms from the snapshot file
	warm := NewIndex(repo, IndexConfig{SnapshotPath: path}, zerolog.Nop())
	require.NoError(t, warm.Warm(ctx))
	agg, found = warm.LookupTitle("", "nikon d750")
	require.True(t, found)
	assert.Equal(t, "650", agg.MedianPrice.String())
	assert.WithinDuration(t, snap.ComputedAt(), warm.Snapshot().ComputedAt(), time.Millisecond)

	// And from the database when there is no file
	cold := NewIndex(repo, IndexConfig{}, zerolog.Nop())
	require.NoError(t, cold.Warm(ctx))
	_, found = cold.LookupTitle("", "nikon d750")
	assert.True(t, found)
}

// generationStore returns, on refresh n, n sales in each of two buckets.
// A coherent snapshot therefore always has equal counts in both buckets.
type generationStore struct {
	gen atomic.Int64
}

func (s *generationStore) SalesSince(context.Context, time.Time) ([]Sale, error) {
	n := int(s.gen.Add(1))
	sales := make([]Sale, 0, 2*n)
	for i := 0; i < n; i++ {
		price := decimal.NewFromInt(int64(100 + i))
		sales = append(sales, Sale{Title: "left", Price: price}, Sale{Title: "right", Price: price})
	}
	return sales, nil
}

func (s *generationStore) ReplaceAggregates(context.Context, []Aggregate) error { return nil }

func (s *generationStore) LoadAggregates(context.Context) ([]Aggregate, error) { return nil, nil }

func TestIndex_ReadersNeverSeeTornSnapshot(t *testing.T) {
	idx := NewIndex(&generationStore{}, IndexConfig{}, zerolog.Nop())
	_, err := idx.Refresh(context.Background())
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		stop atomic.Bool
		torn atomic.Int64
	)

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				snap := idx.Snapshot()
				left, okL := snap.Lookup(NewKey("", "left"))
				right, okR := snap.Lookup(NewKey("", "right"))
				if !okL || !okR || left.Count != right.Count {
					torn.Add(1)
				}
			}
		}()
	}

	var refreshers sync.WaitGroup
	for w := 0; w < 4; w++ {
		refreshers.Add(1)
		go func() {
			defer refreshers.Done()
			for i := 0; i < 25; i++ {
				if _, err := idx.Refresh(context.Background()); err != nil {
					panic(fmt.Sprintf("refresh failed: %v", err))
				}
			}
		}()
	}
	refreshers.Wait()
	stop.Store(true)
	wg.Wait()

	assert.Zero(t, torn.Load())
	final, ok := idx.Lookup(NewKey("", "left"))
	require.True(t, ok)
	assert.Equal(t, 101, final.Count)
}
