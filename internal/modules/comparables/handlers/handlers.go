// Package handlers provides HTTP handlers for comparable sales statistics.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/arbiter/internal/modules/comparables"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Index is the comparables index surface used by the handlers
type Index interface {
	Snapshot() *comparables.Snapshot
	LookupTitle(category, title string) (*comparables.Aggregate, bool)
	Refresh(ctx context.Context) (*comparables.Snapshot, error)
}

// SaleRecorder stores sales reported outside the listing lifecycle
type SaleRecorder interface {
	InsertSale(ctx context.Context, sale *comparables.Sale) error
}

// Handler handles comparables HTTP requests
type Handler struct {
	index      Index
	sales      SaleRecorder
	staleAfter time.Duration
	log        zerolog.Logger
}

// NewHandler creates a new comparables handler
func NewHandler(index Index, sales SaleRecorder, staleAfter time.Duration, log zerolog.Logger) *Handler {
	return &Handler{
		index:      index,
		sales:      sales,
		staleAfter: staleAfter,
		log:        log.With().Str("handler", "comparables").Logger(),
	}
}

// HandleLookup handles GET /api/comparables/lookup?title=...&category=...
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	title := r.URL.Query().Get("title")
	if strings.TrimSpace(title) == "" {
		h.writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	category := r.URL.Query().Get("category")

	agg, ok := h.index.LookupTitle(category, title)
	if !ok {
		h.writeError(w, http.StatusNotFound, "No comparables for "+comparables.NewKey(category, title).String())
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"aggregate": agg,
		"stale":     agg.IsStale(time.Now(), h.staleAfter),
	})
}

// HandleSummary handles GET /api/comparables. Buckets are ordered by sale
// count, largest first.
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	snap := h.index.Snapshot()
	buckets := snap.All()
	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i].Count > buckets[j].Count
	})
	if len(buckets) > limit {
		buckets = buckets[:limit]
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"computed_at":  snap.ComputedAt(),
		"window_start": snap.WindowStart(),
		"total":        snap.Len(),
		"buckets":      buckets,
	})
}

// HandleRecordSale handles POST /api/comparables/sales
func (h *Handler) HandleRecordSale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source   string          `json:"source"`
		Category string          `json:"category"`
		Title    string          `json:"title"`
		Price    decimal.Decimal `json:"price"`
		Currency string          `json:"currency"`
		SoldAt   *time.Time      `json:"sold_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if comparables.NormalizeTitle(req.Title) == "" {
		h.writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if !req.Price.IsPositive() {
		h.writeError(w, http.StatusBadRequest, "price must be positive")
		return
	}

	sale := &comparables.Sale{
		Source:   req.Source,
		Category: req.Category,
		Title:    req.Title,
		Price:    req.Price,
		Currency: req.Currency,
	}
	if sale.Source == "" {
		sale.Source = "manual"
	}
	if req.SoldAt != nil {
		sale.SoldAt = req.SoldAt.UTC()
	}

	if err := h.sales.InsertSale(r.Context(), sale); err != nil {
		h.log.Error().Err(err).Msg("Failed to record sale")
		h.writeError(w, http.StatusInternalServerError, "Failed to record sale")
		return
	}
	h.writeData(w, http.StatusCreated, sale)
}

// HandleRefresh handles POST /api/comparables/refresh
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	snap, err := h.index.Refresh(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to refresh comparables")
		h.writeError(w, http.StatusInternalServerError, "Failed to refresh comparables")
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"buckets":     snap.Len(),
		"computed_at": snap.ComputedAt(),
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// writeData wraps data in the standard response envelope
func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
