package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all alert routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGet(w, r, chi.URLParam(r, "id"))
			})
			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				h.HandleDelete(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/pause", func(w http.ResponseWriter, r *http.Request) {
				h.HandlePause(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/resume", func(w http.ResponseWriter, r *http.Request) {
				h.HandleResume(w, r, chi.URLParam(r, "id"))
			})
			r.Get("/matches", func(w http.ResponseWriter, r *http.Request) {
				h.HandleMatches(w, r, chi.URLParam(r, "id"))
			})
		})
	})
}
