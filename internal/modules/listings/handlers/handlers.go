// Package handlers provides HTTP handlers for listing ingestion and valuation.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/modules/ledger"
	"github.com/aristath/arbiter/internal/modules/listings"
	"github.com/aristath/arbiter/internal/modules/valuation"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Service is the listing service surface used by the handlers
type Service interface {
	Ingest(ctx context.Context, req listings.IngestRequest) (*listings.IngestResult, error)
	Get(ctx context.Context, id int64) (*domain.Listing, error)
	List(ctx context.Context, f listings.Filter) ([]domain.Listing, int, error)
	Damages(ctx context.Context, listingID int64) ([]domain.DamageAssessment, error)
	AddDamage(ctx context.Context, listingID int64, d domain.DamageAssessment) (*domain.DamageAssessment, *valuation.Valuation, error)
	Revalue(ctx context.Context, listingID, modelID int64) (*valuation.Valuation, *ledger.Change, error)
	MarkSold(ctx context.Context, listingID int64, price decimal.Decimal, source string) error
}

// Handler handles listing HTTP requests
type Handler struct {
	service Service
	log     zerolog.Logger
}

// NewHandler creates a new listings handler
func NewHandler(service Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "listings").Logger(),
	}
}

// HandleIngest handles POST /api/listings.
// Returns 201 for a new listing and 200 when an existing URL was updated.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req listings.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.service.Ingest(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "Failed to ingest listing")
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	h.writeData(w, status, result)
}

// HandleList handles GET /api/listings
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := listings.Filter{
		Status:   domain.ListingStatus(q.Get("status")),
		Category: q.Get("category"),
		Query:    q.Get("q"),
		Limit:    50,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		h.writeError(w, http.StatusBadRequest, "Unknown status "+string(filter.Status))
		return
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}
	if offsetStr := q.Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed >= 0 {
			filter.Offset = parsed
		}
	}

	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err, "Failed to list listings")
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"listings": items,
		"count":    len(items),
		"total":    total,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

// HandleGet handles GET /api/listings/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	listing, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to load listing")
		return
	}
	h.writeData(w, http.StatusOK, listing)
}

// HandleGetDamages handles GET /api/listings/{id}/damages
func (h *Handler) HandleGetDamages(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	damages, err := h.service.Damages(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to load damages")
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"damages": damages,
		"count":   len(damages),
	})
}

// HandleAddDamage handles POST /api/listings/{id}/damages.
// The listing is revalued in the same transaction.
func (h *Handler) HandleAddDamage(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	var d domain.DamageAssessment
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	stored, v, err := h.service.AddDamage(r.Context(), id, d)
	if err != nil {
		h.writeServiceError(w, err, "Failed to add damage")
		return
	}
	h.writeData(w, http.StatusCreated, map[string]interface{}{
		"damage":    stored,
		"valuation": v,
	})
}

// HandleRevalue handles POST /api/listings/{id}/revalue.
// An optional body {"model_id": n} pins the depreciation model.
func (h *Handler) HandleRevalue(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	var req struct {
		ModelID int64 `json:"model_id"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	v, change, err := h.service.Revalue(r.Context(), id, req.ModelID)
	if err != nil {
		h.writeServiceError(w, err, "Failed to revalue listing")
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"valuation": v,
		"change":    change,
	})
}

// HandleMarkSold handles POST /api/listings/{id}/sold
func (h *Handler) HandleMarkSold(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	var req struct {
		Price  decimal.Decimal `json:"price"`
		Source string          `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if !req.Price.IsPositive() {
		h.writeError(w, http.StatusBadRequest, "price must be positive")
		return
	}
	if req.Source == "" {
		req.Source = "manual"
	}

	if err := h.service.MarkSold(r.Context(), id, req.Price, req.Source); err != nil {
		h.writeServiceError(w, err, "Failed to mark listing sold")
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"listing_id": id,
		"status":     domain.ListingStatusSold,
		"price":      req.Price,
	})
}

func (h *Handler) parseID(w http.ResponseWriter, idStr string) (int64, bool) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid listing ID")
		return 0, false
	}
	return id, true
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

func (h *Handler) writeServiceError(w http.ResponseWriter, err error, message string) {
	status := domain.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg(message)
		h.writeError(w, status, message)
		return
	}
	h.writeError(w, status, err.Error())
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
