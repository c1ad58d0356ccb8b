// Package handlers provides HTTP handlers for deal discovery and export.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/arbiter/internal/modules/deals"
	"github.com/rs/zerolog"
)

// Finder computes deals
type Finder interface {
	Find(ctx context.Context, q deals.Query) ([]deals.Deal, error)
}

// Handler handles deal HTTP requests
type Handler struct {
	finder Finder
	log    zerolog.Logger
}

// NewHandler creates a new deals handler
func NewHandler(finder Finder, log zerolog.Logger) *Handler {
	return &Handler{
		finder: finder,
		log:    log.With().Str("handler", "deals").Logger(),
	}
}

// HandleList handles GET /api/deals?min_discount=&basis=avg|median&category=&limit=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseQuery(w, r)
	if !ok {
		return
	}

	found, err := h.finder.Find(r.Context(), q)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to find deals")
		h.writeError(w, http.StatusInternalServerError, "Failed to find deals")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"deals": found,
			"count": len(found),
			"basis": q.Basis,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleExport handles GET /api/deals/export?format=csv|xlsx with the same
// filters as HandleList
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseQuery(w, r)
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	var (
		contentType string
		write       func(io.Writer, []deals.Deal) error
	)
	switch format {
	case "csv":
		contentType = "text/csv"
		write = deals.WriteCSV
	case "xlsx":
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		write = deals.WriteXLSX
	default:
		h.writeError(w, http.StatusBadRequest, "format must be csv or xlsx")
		return
	}

	found, err := h.finder.Find(r.Context(), q)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to find deals")
		h.writeError(w, http.StatusInternalServerError, "Failed to find deals")
		return
	}

	// Render fully before writing headers so a failure can still be reported
	var buf bytes.Buffer
	if err := write(&buf, found); err != nil {
		h.log.Error().Err(err).Str("format", format).Msg("Failed to export deals")
		h.writeError(w, http.StatusInternalServerError, "Failed to export deals")
		return
	}

	filename := fmt.Sprintf("deals-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.log.Warn().Err(err).Msg("Failed to write export")
	}
}

func (h *Handler) parseQuery(w http.ResponseWriter, r *http.Request) (deals.Query, bool) {
	params := r.URL.Query()
	q := deals.Query{
		Basis:    deals.Basis(params.Get("basis")),
		Category: params.Get("category"),
	}

	switch q.Basis {
	case "":
		q.Basis = deals.BasisAverage
	case deals.BasisAverage, deals.BasisMedian:
	default:
		h.writeError(w, http.StatusBadRequest, "basis must be avg or median")
		return q, false
	}

	if s := params.Get("min_discount"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < -100 || v > 100 {
			h.writeError(w, http.StatusBadRequest, "min_discount must be a percentage")
			return q, false
		}
		q.MinDiscountPct = &v
	}
	if s := params.Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			q.Limit = v
		}
	}
	return q, true
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
