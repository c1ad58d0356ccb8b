package snipes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPExecutor_SubmitBid(t *testing.T) {
	var gotKey, gotAuth string
	var gotBody bidPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bids", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted":true,"final_price":"81.5"}`))
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(srv.URL+"/", "secret", zerolog.Nop())
	res, err := exec.SubmitBid(context.Background(), domain.BidRequest{
		IdempotencyKey: "key-1",
		ListingURL:     "https://auction.example/1",
		MaxBid:         decimal.NewFromInt(90),
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	require.NotNil(t, res.FinalPrice)
	assert.Equal(t, "81.5", res.FinalPrice.String())
	assert.Equal(t, "key-1", gotKey)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "https://auction.example/1", gotBody.ListingURL)
}

func TestHTTPExecutor_StatusHandling(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   bool
		wantError string
	}{
		{"server error is transient", http.StatusBadGateway, true, ""},
		{"rate limit is transient", http.StatusTooManyRequests, true, ""},
		{"conflict is a rejection", http.StatusConflict, false, "auction closed"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte("auction closed"))
			}))
			defer srv.Close()

			res, err := NewHTTPExecutor(srv.URL, "", zerolog.Nop()).SubmitBid(context.Background(), domain.BidRequest{MaxBid: decimal.NewFromInt(1)})
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.False(t, res.Accepted)
			assert.Equal(t, tc.wantError, res.Error)
		})
	}
}

func TestHTTPExecutor_HonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := NewHTTPExecutor(srv.URL, "", zerolog.Nop()).SubmitBid(ctx, domain.BidRequest{MaxBid: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDryRunExecutor(t *testing.T) {
	res, err := NewDryRunExecutor(zerolog.Nop()).SubmitBid(context.Background(), domain.BidRequest{MaxBid: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Nil(t, res.FinalPrice)
}
