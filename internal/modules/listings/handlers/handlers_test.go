package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/modules/ledger"
	"github.com/aristath/arbiter/internal/modules/listings"
	"github.com/aristath/arbiter/internal/modules/valuation"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	listings   map[int64]*domain.Listing
	lastFilter listings.Filter
	lastModel  int64
	sold       map[int64]decimal.Decimal
}

func newFakeService() *fakeService {
	return &fakeService{
		listings: map[int64]*domain.Listing{
			1: {ID: 1, URL: "https://m.example/1", Title: "Leica M6", BasePrice: decimal.NewFromInt(100), Status: domain.ListingStatusActive},
		},
		sold: make(map[int64]decimal.Decimal),
	}
}

func (f *fakeService) Ingest(_ context.Context, req listings.IngestRequest) (*listings.IngestResult, error) {
	if req.URL == "" {
		return nil, domain.NewValidationError("url", "is required")
	}
	for _, l := range f.listings {
		if l.URL == req.URL {
			return &listings.IngestResult{Listing: *l}, nil
		}
	}
	l := domain.Listing{ID: int64(len(f.listings) + 1), URL: req.URL, Title: req.Title, BasePrice: req.BasePrice}
	f.listings[l.ID] = &l
	return &listings.IngestResult{Listing: l, Created: true, Valuation: &valuation.Valuation{FinalPrice: req.BasePrice}}, nil
}

func (f *fakeService) Get(_ context.Context, id int64) (*domain.Listing, error) {
	l, ok := f.listings[id]
	if !ok {
		return nil, fmt.Errorf("listing %d: %w", id, domain.ErrNotFound)
	}
	return l, nil
}

func (f *fakeService) List(_ context.Context, filter listings.Filter) ([]domain.Listing, int, error) {
	f.lastFilter = filter
	out := make([]domain.Listing, 0, len(f.listings))
	for _, l := range f.listings {
		out = append(out, *l)
	}
	return out, len(out), nil
}

func (f *fakeService) Damages(_ context.Context, id int64) ([]domain.DamageAssessment, error) {
	return []domain.DamageAssessment{{ListingID: id, DamageType: "scratch", ImpactPct: 5}}, nil
}

func (f *fakeService) AddDamage(_ context.Context, id int64, d domain.DamageAssessment) (*domain.DamageAssessment, *valuation.Valuation, error) {
	if err := d.Validate(); err != nil {
		return nil, nil, err
	}
	d.ID = 9
	d.ListingID = id
	return &d, &valuation.Valuation{ListingID: id, FinalPrice: decimal.NewFromInt(95)}, nil
}

func (f *fakeService) Revalue(_ context.Context, id, modelID int64) (*valuation.Valuation, *ledger.Change, error) {
	f.lastModel = modelID
	if _, ok := f.listings[id]; !ok {
		return nil, nil, domain.ErrNotFound
	}
	return &valuation.Valuation{ListingID: id, ModelID: modelID}, &ledger.Change{ListingID: id}, nil
}

func (f *fakeService) MarkSold(_ context.Context, id int64, price decimal.Decimal, _ string) error {
	l, ok := f.listings[id]
	if !ok {
		return domain.ErrNotFound
	}
	if l.Status != domain.ListingStatusActive {
		return domain.NewValidationError("status", "listing is "+string(l.Status))
	}
	l.Status = domain.ListingStatusSold
	f.sold[id] = price
	return nil
}

func newRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	NewHandler(svc, zerolog.Nop()).RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func TestHandleIngest(t *testing.T) {
	h := newRouter(newFakeService())

	code, body := do(t, h, http.MethodPost, "/listings", `{"url":"https://m.example/2","title":"Nikon F3","base_price":"80"}`)
	assert.Equal(t, http.StatusCreated, code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, true, data["created"])

	code, _ = do(t, h, http.MethodPost, "/listings", `{"url":"https://m.example/2","title":"Nikon F3","base_price":"80"}`)
	assert.Equal(t, http.StatusOK, code)

	code, body = do(t, h, http.MethodPost, "/listings", `{"title":"no url"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "url")

	code, _ = do(t, h, http.MethodPost, "/listings", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandleList(t *testing.T) {
	svc := newFakeService()
	h := newRouter(svc)

	code, body := do(t, h, http.MethodGet, "/listings?status=active&q=leica&limit=10&offset=5", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, domain.ListingStatusActive, svc.lastFilter.Status)
	assert.Equal(t, "leica", svc.lastFilter.Query)
	assert.Equal(t, 10, svc.lastFilter.Limit)
	assert.Equal(t, 5, svc.lastFilter.Offset)
	assert.Equal(t, float64(1), body["data"].(map[string]interface{})["total"])

	code, _ = do(t, h, http.MethodGet, "/listings?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandleGet(t *testing.T) {
	h := newRouter(newFakeService())

	code, body := do(t, h, http.MethodGet, "/listings/1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Leica M6", body["data"].(map[string]interface{})["title"])

	code, _ = do(t, h, http.MethodGet, "/listings/404", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, h, http.MethodGet, "/listings/x", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandleDamages(t *testing.T) {
	h := newRouter(newFakeService())

	code, body := do(t, h, http.MethodPost, "/listings/1/damages", `{"damage_type":"dent","impact_pct":5}`)
	require.Equal(t, http.StatusCreated, code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "95", data["valuation"].(map[string]interface{})["final_price"])

	code, _ = do(t, h, http.MethodPost, "/listings/1/damages", `{"damage_type":"dent","impact_pct":150}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, h, http.MethodGet, "/listings/1/damages", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["data"].(map[string]interface{})["count"])
}

func TestHandleRevalue(t *testing.T) {
	svc := newFakeService()
	h := newRouter(svc)

	code, _ := do(t, h, http.MethodPost, "/listings/1/revalue", `{"model_id":3}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(3), svc.lastModel)

	code, _ = do(t, h, http.MethodPost, "/listings/1/revalue", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(0), svc.lastModel)

	code, _ = do(t, h, http.MethodPost, "/listings/2/revalue", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHandleMarkSold(t *testing.T) {
	svc := newFakeService()
	h := newRouter(svc)

	code, _ := do(t, h, http.MethodPost, "/listings/1/sold", `{"price":"0"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, h, http.MethodPost, "/listings/1/sold", `{"price":"120.50"}`)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, svc.sold[1].Equal(decimal.RequireFromString("120.50")))

	code, _ = do(t, h, http.MethodPost, "/listings/1/sold", `{"price":"120.50"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}
