// Package handlers provides HTTP handlers for the audit ledger.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/arbiter/internal/domain"
	"github.com/aristath/arbiter/internal/modules/ledger"
	"github.com/rs/zerolog"
)

// Store is the ledger surface the handlers read from
type Store interface {
	History(ctx context.Context, listingID int64) ([]ledger.Change, error)
	Latest(ctx context.Context, listingID int64) (*ledger.Change, error)
	MetadataVersions(ctx context.Context, listingID int64) ([]ledger.MetadataVersion, error)
	ReconstructMetadata(ctx context.Context, listingID int64, at time.Time) (string, int, error)
	VerifyAll(ctx context.Context) ([]ledger.Mismatch, int, error)
}

// Handler handles ledger HTTP requests
type Handler struct {
	ledger Store
	log    zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(store Store, log zerolog.Logger) *Handler {
	return &Handler{
		ledger: store,
		log:    log.With().Str("handler", "ledger").Logger(),
	}
}

// HandleGetChanges handles GET /api/ledger/listings/{id}/changes
func (h *Handler) HandleGetChanges(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid listing ID")
		return
	}

	changes, err := h.ledger.History(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Int64("listing_id", id).Msg("Failed to load price history")
		h.writeError(w, http.StatusInternalServerError, "Failed to load price history")
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"listing_id": id,
		"changes":    changes,
		"count":      len(changes),
	})
}

// HandleGetLatestChange handles GET /api/ledger/listings/{id}/changes/latest.
// The response includes the replayed price so callers can check the trail.
func (h *Handler) HandleGetLatestChange(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid listing ID")
		return
	}

	change, err := h.ledger.Latest(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "Failed to load latest price change")
		return
	}

	replayed := change.Replay()
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"change":   change,
		"replayed": replayed,
		"verified": replayed.Equal(change.NewPrice),
	})
}

// HandleGetMetadata handles GET /api/ledger/listings/{id}/metadata.
// With ?at=<RFC3339> it returns the metadata as it stood at that time.
func (h *Handler) HandleGetMetadata(w http.ResponseWriter, r *http.Request, idStr string) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid listing ID")
		return
	}

	var at time.Time
	if atStr := r.URL.Query().Get("at"); atStr != "" {
		if at, err = time.Parse(time.RFC3339, atStr); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid at timestamp, expected RFC3339")
			return
		}
	}

	versions, err := h.ledger.MetadataVersions(r.Context(), id)
	if err != nil {
		h.log.Error().Err(err).Int64("listing_id", id).Msg("Failed to load metadata versions")
		h.writeError(w, http.StatusInternalServerError, "Failed to load metadata versions")
		return
	}

	state, version, err := h.ledger.ReconstructMetadata(r.Context(), id, at)
	if err != nil {
		h.log.Error().Err(err).Int64("listing_id", id).Msg("Failed to reconstruct metadata")
		h.writeError(w, http.StatusInternalServerError, "Failed to reconstruct metadata")
		return
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"listing_id": id,
		"version":    version,
		"metadata":   json.RawMessage(state),
		"versions":   versions,
	})
}

// HandleVerify handles POST /api/ledger/verify
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	mismatches, checked, err := h.ledger.VerifyAll(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to verify ledger")
		h.writeError(w, http.StatusInternalServerError, "Failed to verify ledger")
		return
	}
	if mismatches == nil {
		mismatches = []ledger.Mismatch{}
	}

	h.writeData(w, http.StatusOK, map[string]interface{}{
		"checked":    checked,
		"mismatches": mismatches,
		"ok":         len(mismatches) == 0,
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
