package snipes

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListings map[int64]*domain.Listing

func (f fakeListings) Get(_ context.Context, id int64) (*domain.Listing, error) {
	l, ok := f[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return l, nil
}

func newService(t *testing.T, listings ListingLookup) (*Service, *Store, *fakeExecutor) {
	t.Helper()
	store := newStore(t)
	exec := &fakeExecutor{}
	cfg := testConfig()
	cfg.ArmAhead = time.Minute
	s := startScheduler(t, store, exec, cfg)
	return NewService(store, s, listings, nil, 5*time.Second, zerolog.Nop()), store, exec
}

func TestService_CreateValidation(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name  string
		req   CreateRequest
		field string
	}{
		{"missing url", CreateRequest{MaxBid: decimal.NewFromInt(10), AuctionEndTime: future}, "listing_url"},
		{"zero bid", CreateRequest{ListingURL: "u", AuctionEndTime: future}, "max_bid"},
		{"past auction", CreateRequest{ListingURL: "u", MaxBid: decimal.NewFromInt(1), AuctionEndTime: time.Now().Add(-time.Second)}, "auction_end_time"},
		{"lead too long", CreateRequest{ListingURL: "u", MaxBid: decimal.NewFromInt(1), AuctionEndTime: future, LeadTimeSeconds: 301}, "lead_time_seconds"},
		{"negative lead", CreateRequest{ListingURL: "u", MaxBid: decimal.NewFromInt(1), AuctionEndTime: future, LeadTimeSeconds: -1}, "lead_time_seconds"},
		{"bad metadata", CreateRequest{ListingURL: "u", MaxBid: decimal.NewFromInt(1), AuctionEndTime: future, Metadata: json.RawMessage(`{`)}, "metadata"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}

	_, total, err := svc.List(ctx, "", 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestService_CreateDefaultsLeadTime(t *testing.T) {
	svc, _, _ := newService(t, nil)
	end := time.Now().Add(time.Hour).Truncate(time.Millisecond)

	sn, err := svc.Create(context.Background(), CreateRequest{
		ListingURL:     "https://auction.example/1",
		MaxBid:         decimal.RequireFromString("55.10"),
		AuctionEndTime: end,
		Metadata:       json.RawMessage(`{"note":"camera"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, sn.LeadTimeSeconds)
	assert.True(t, sn.FireAt.Equal(end.Add(-5*time.Second)))
	assert.Equal(t, StatusScheduled, sn.Status)

	got, err := svc.Get(context.Background(), sn.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"note":"camera"}`, got.Metadata)
	assert.True(t, got.FireAt.Equal(sn.FireAt))
}

func TestService_CreateFromListing(t *testing.T) {
	listings := fakeListings{
		7: {ID: 7, URL: "https://market.example/7", Title: "Leica M6", Status: domain.ListingStatusActive},
		8: {ID: 8, URL: "https://market.example/8", Title: "Sold one", Status: domain.ListingStatusSold},
	}
	svc, _, _ := newService(t, listings)
	ctx := context.Background()
	end := time.Now().Add(time.Hour)

	sn, err := svc.Create(ctx, CreateRequest{ListingID: 7, MaxBid: decimal.NewFromInt(900), AuctionEndTime: end})
	require.NoError(t, err)
	assert.Equal(t, "https://market.example/7", sn.ListingURL)
	assert.Equal(t, "Leica M6", sn.ListingTitle)

	_, err = svc.Create(ctx, CreateRequest{ListingID: 8, MaxBid: decimal.NewFromInt(1), AuctionEndTime: end})
	assert.True(t, domain.IsValidation(err))
	_, err = svc.Create(ctx, CreateRequest{ListingID: 99, MaxBid: decimal.NewFromInt(1), AuctionEndTime: end})
	assert.True(t, domain.IsValidation(err))
}

func TestService_CancelIsNoOpPastScheduled(t *testing.T) {
	svc, store, _ := newService(t, nil)
	ctx := context.Background()

	executing := createSnipe(t, store, "https://auction.example/x", time.Now().Add(time.Hour))
	ok, err := store.BeginExecution(ctx, executing.ID)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := svc.Cancel(ctx, executing.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, got.Status)

	ok, err = store.Finish(ctx, executing.ID, StatusCompleted, &Outcome{Accepted: true}, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	got, err = svc.Cancel(ctx, executing.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	_, err = svc.Cancel(ctx, 4242)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestService_ListRejectsUnknownStatus(t *testing.T) {
	svc, _, _ := newService(t, nil)
	_, _, err := svc.List(context.Background(), Status("sleeping"), 10)
	assert.True(t, domain.IsValidation(err))
}
