// Package handlers provides HTTP handlers for depreciation models.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/modules/valuation"
	"github.com/rs/zerolog"
)

// ModelStore is the depreciation model registry
type ModelStore interface {
	Create(ctx context.Context, m *valuation.DepreciationModel) error
	GetByID(ctx context.Context, id int64) (*valuation.DepreciationModel, error)
	List(ctx context.Context) ([]valuation.DepreciationModel, error)
}

// Handler handles depreciation model HTTP requests
type Handler struct {
	models ModelStore
	log    zerolog.Logger
}

// NewHandler creates a new model handler
func NewHandler(models ModelStore, log zerolog.Logger) *Handler {
	return &Handler{
		models: models,
		log:    log.With().Str("handler", "models").Logger(),
	}
}

// HandleList handles GET /api/models
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	models, err := h.models.List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list models")
		h.writeError(w, http.StatusInternalServerError, "Failed to list models")
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"models": models,
		"count":  len(models),
	})
}

// HandleCreate handles POST /api/models. Reusing a name registers a new
// version; existing models are never modified.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var m valuation.DepreciationModel
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	m.ID = 0

	if err := h.models.Create(r.Context(), &m); err != nil {
		if domain.IsValidation(err) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Error().Err(err).Str("name", m.Name).Msg("Failed to create model")
		h.writeError(w, http.StatusInternalServerError, "Failed to create model")
		return
	}

	h.writeData(w, http.StatusCreated, m)
}

// HandleGet handles GET /api/models/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request, idStr string) {
	m, ok := h.load(w, r, idStr)
	if !ok {
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"model":       m,
		"description": m.Describe(),
	})
}

// HandleCurve handles GET /api/models/{id}/curve?years=N and returns the
// retention factor at each whole year from 0 to N.
func (h *Handler) HandleCurve(w http.ResponseWriter, r *http.Request, idStr string) {
	m, ok := h.load(w, r, idStr)
	if !ok {
		return
	}

	years := 10
	if yearsStr := r.URL.Query().Get("years"); yearsStr != "" {
		parsed, err := strconv.Atoi(yearsStr)
		if err != nil || parsed < 0 || parsed > 100 {
			h.writeError(w, http.StatusBadRequest, "years must be between 0 and 100")
			return
		}
		years = parsed
	}

	points := make([]valuation.Breakpoint, 0, years+1)
	for age := 0; age <= years; age++ {
		points = append(points, valuation.Breakpoint{AgeYears: float64(age), Factor: m.Factor(float64(age))})
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"model_id": m.ID,
		"points":   points,
	})
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request, idStr string) (*valuation.DepreciationModel, bool) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid model ID")
		return nil, false
	}

	m, err := h.models.GetByID(r.Context(), id)
	if err != nil {
		status := domain.HTTPStatus(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Int64("model_id", id).Msg("Failed to load model")
			h.writeError(w, status, "Failed to load model")
		} else {
			h.writeError(w, status, err.Error())
		}
		return nil, false
	}
	return m, true
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
