// Package handlers provides HTTP handlers for saved-search alerts.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/modules/alerts"
	"github.com/rs/zerolog"
)

// Store is the alert repository surface used by the handlers
type Store interface {
	Create(ctx context.Context, req alerts.CreateRequest) (*alerts.Alert, error)
	Get(ctx context.Context, id int64) (*alerts.Alert, error)
	List(ctx context.Context, status alerts.Status, limit int) ([]alerts.Alert, int, error)
	Pause(ctx context.Context, id int64) error
	Resume(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	Matches(ctx context.Context, alertID int64, limit int) ([]alerts.Match, int, error)
}

// Handler handles alert HTTP requests
type Handler struct {
	store Store
	log   zerolog.Logger
}

// NewHandler creates a new alerts handler
func NewHandler(store Store, log zerolog.Logger) *Handler {
	return &Handler{
		store: store,
		log:   log.With().Str("handler", "alerts").Logger(),
	}
}

// HandleCreate handles POST /api/alerts
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req alerts.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	alert, err := h.store.Create(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err, "Failed to create alert")
		return
	}

	h.log.Info().
		Int64("alert_id", alert.ID).
		Str("method", alert.NotificationMethod).
		Msg("Alert created")
	h.writeData(w, http.StatusCreated, alert)
}

// HandleList handles GET /api/alerts?status=&limit=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	status := alerts.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		h.writeError(w, http.StatusBadRequest, "Unknown status "+string(status))
		return
	}
	limit := parseLimit(r, 100)

	items, total, err := h.store.List(r.Context(), status, limit)
	if err != nil {
		h.writeServiceError(w, err, "Failed to list alerts")
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"alerts": items,
		"count":  len(items),
		"total":  total,
	})
}

// HandleGet handles GET /api/alerts/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	alert, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to load alert")
		return
	}
	h.writeData(w, http.StatusOK, alert)
}

// HandlePause handles POST /api/alerts/{id}/pause
func (h *Handler) HandlePause(w http.ResponseWriter, r *http.Request, idStr string) {
	h.transition(w, r, idStr, h.store.Pause, "pause")
}

// HandleResume handles POST /api/alerts/{id}/resume
func (h *Handler) HandleResume(w http.ResponseWriter, r *http.Request, idStr string) {
	h.transition(w, r, idStr, h.store.Resume, "resume")
}

// HandleDelete handles DELETE /api/alerts/{id}
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request, idStr string) {
	h.transition(w, r, idStr, h.store.Delete, "delete")
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, idStr string,
	apply func(context.Context, int64) error, action string) {
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	if err := apply(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "Failed to "+action+" alert")
		return
	}

	alert, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to load alert")
		return
	}
	h.writeData(w, http.StatusOK, alert)
}

// HandleMatches handles GET /api/alerts/{id}/matches
func (h *Handler) HandleMatches(w http.ResponseWriter, r *http.Request, idStr string) {
	id, ok := h.parseID(w, idStr)
	if !ok {
		return
	}

	matches, total, err := h.store.Matches(r.Context(), id, parseLimit(r, 100))
	if err != nil {
		h.writeServiceError(w, err, "Failed to load alert matches")
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"alert_id": id,
		"matches":  matches,
		"count":    len(matches),
		"total":    total,
	})
}

func parseLimit(r *http.Request, def int) int {
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}

func (h *Handler) parseID(w http.ResponseWriter, idStr string) (int64, bool) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "Invalid alert ID")
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
