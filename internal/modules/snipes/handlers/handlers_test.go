package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aristath/arbiter/internal/database"
	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/modules/snipes"
	testingpkg "github.com/aristath/arbiter/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listingLookup map[int64]*domain.Listing

func (l listingLookup) Get(_ context.Context, id int64) (*domain.Listing, error) {
	if listing, ok := l[id]; ok {
		return listing, nil
	}
	return nil, domain.ErrNotFound
}

func setup(t *testing.T, start bool) http.Handler {
	t.Helper()
	db := testingpkg.NewTestDB(t, database.NameOperations)
	store := snipes.NewStore(db.Conn(), zerolog.Nop())
	scheduler := snipes.NewScheduler(store, snipes.NewDryRunExecutor(zerolog.Nop()), snipes.Config{
		GraceWindow:      2 * time.Second,
		ArmAhead:         30 * time.Second,
		MaxAttempts:      1,
		ExecutionTimeout: time.Second,
		Workers:          1,
		RescanInterval:   time.Hour,
		ShardCount:       1,
	}, zerolog.Nop())
	if start {
		require.NoError(t, scheduler.Start(context.Background()))
		t.Cleanup(scheduler.Stop)
	}

	listings := listingLookup{
		5: {ID: 5, URL: "https://auction.example/5", Title: "Hasselblad 500C", Status: domain.ListingStatusActive},
	}
	svc := snipes.NewService(store, scheduler, listings, nil, 5*time.Second, zerolog.Nop())

	r := chi.NewRouter()
	NewHandler(svc, zerolog.Nop()).RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func endsIn(d time.Duration) string {
	return time.Now().Add(d).UTC().Format(time.RFC3339)
}

func TestSnipes_CreateGetCancel(t *testing.T) {
	h := setup(t, true)

	code, body := do(t, h, http.MethodPost, "/snipes",
		`{"listing_id":5,"max_bid":"450","auction_end_time":"`+endsIn(time.Hour)+`"}`)
	require.Equal(t, http.StatusCreated, code, body)
	created := body["data"].(map[string]interface{})
	assert.Equal(t, "scheduled", created["status"])
	assert.Equal(t, float64(5), created["lead_time_seconds"])
	assert.Equal(t, "https://auction.example/5", created["listing_url"])
	id := int64(created["id"].(float64))

	code, body = do(t, h, http.MethodGet, fmt.Sprintf("/snipes/%d", id), "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "450", body["data"].(map[string]interface{})["max_bid"])

	code, body = do(t, h, http.MethodPost, fmt.Sprintf("/snipes/%d/cancel", id), "")
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, true, data["cancelled"])

	// Cancelling again is a no-op, not an error
	code, body = do(t, h, http.MethodPost, fmt.Sprintf("/snipes/%d/cancel", id), "")
	require.Equal(t, http.StatusOK, code)
	data = body["data"].(map[string]interface{})
	assert.Equal(t, false, data["cancelled"])
	assert.Equal(t, "cancelled", data["snipe"].(map[string]interface{})["status"])

	code, _ = do(t, h, http.MethodPost, "/snipes/4242/cancel", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSnipes_CreateValidation(t *testing.T) {
	h := setup(t, true)

	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"past auction", `{"listing_url":"https://a","max_bid":"10","auction_end_time":"` + endsIn(-time.Minute) + `"}`, "auction_end_time"},
		{"zero bid", `{"listing_url":"https://a","max_bid":"0","auction_end_time":"` + endsIn(time.Hour) + `"}`, "max_bid"},
		{"lead out of range", `{"listing_url":"https://a","max_bid":"10","lead_time_seconds":900,"auction_end_time":"` + endsIn(time.Hour) + `"}`, "lead_time_seconds"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := do(t, h, http.MethodPost, "/snipes", tc.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Contains(t, body["error"], tc.field)
		})
	}
}

func TestSnipes_ListAndStats(t *testing.T) {
	h := setup(t, true)

	for i := 0; i < 3; i++ {
		code, _ := do(t, h, http.MethodPost, "/snipes",
			fmt.Sprintf(`{"listing_url":"https://a/%d","max_bid":"10","auction_end_time":"%s"}`, i, endsIn(time.Duration(i+1)*time.Hour)))
		require.Equal(t, http.StatusCreated, code)
	}

	code, body := do(t, h, http.MethodGet, "/snipes?status=scheduled&limit=2", "")
	require.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["count"])
	assert.Equal(t, float64(3), data["total"])

	code, _ = do(t, h, http.MethodGet, "/snipes?status=sleeping", "")
	assert.Equal(t, http.StatusBadRequest, code)

	require.Eventually(t, func() bool {
		code, body = do(t, h, http.MethodGet, "/snipes/stats", "")
		return code == http.StatusOK && body["data"].(map[string]interface{})["pending"] == float64(3)
	}, time.Second, 10*time.Millisecond)
}

func TestSnipes_StatsWhenStopped(t *testing.T) {
	h := setup(t, false)

	code, _ := do(t, h, http.MethodGet, "/snipes/stats", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
