package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all ledger routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Route("/listings/{id}", func(r chi.Router) {
			r.Get("/changes", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGetChanges(w, r, chi.URLParam(r, "id"))
			})
			r.Get("/changes/latest", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGetLatestChange(w, r, chi.URLParam(r, "id"))
			})
			r.Get("/metadata", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGetMetadata(w, r, chi.URLParam(r, "id"))
			})
		})

		r.Post("/verify", h.HandleVerify)
	})
}
