// Package handlers provides HTTP handlers for timed bids.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/modules/snipes"
	"github.com/rs/zerolog"
)

// Service is the snipe service surface used by the handlers
type Service interface {
	Create(ctx context.Context, req snipes.CreateRequest) (*snipes.Snipe, error)
	Get(ctx context.Context, id int64) (*snipes.Snipe, error)
	List(ctx context.Context, status snipes.Status, limit int) ([]snipes.Snipe, int, error)
	Cancel(ctx context.Context, id int64) (*snipes.Snipe, error)
	Stats(ctx context.Context) (snipes.Stats, error)
}

// Handler handles snipe HTTP requests
type Handler struct {
	service Service
	log     zerolog.Logger
}

// NewHandler creates a new snipes handler
func NewHandler(service Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "snipes").Logger(),
	}
}

// HandleCreate handles POST /api/snipes
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req snipes.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	sn, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "Failed to create snipe")
		return
	}
	h.writeData(w, http.StatusCreated, sn)
}

// HandleList handles GET /api/snipes?status=&limit=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	items, total, err := h.service.List(r.Context(), snipes.Status(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.writeServiceError(w, err, "Failed to list snipes")
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"snipes": items,
		"count":  len(items),
		"total":  total,
	})
}

// HandleGet handles GET /api/snipes/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	sn, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to load snipe")
		return
	}
	h.writeData(w, http.StatusOK, sn)
}

// HandleCancel handles POST /api/snipes/{id}/cancel. Cancelling a snipe
// that is no longer scheduled returns it unchanged with cancelled=false.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	sn, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to cancel snipe")
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"snipe":     sn,
		"cancelled": sn.Status == snipes.StatusCancelled,
	})
}

// HandleStats handles GET /api/snipes/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("Scheduler stats unavailable")
		h.writeError(w, http.StatusServiceUnavailable, "Scheduler is not running")
		return
	}
	h.writeData(w, http.StatusOK, stats)
}

func (h *Handler) parseID(w http.ResponseWriter, idStr string) (int64, bool) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid snipe ID")
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
