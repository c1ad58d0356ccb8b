package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all listing routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/listings", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleIngest)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGet(w, r, chi.URLParam(r, "id"))
			})
			r.Get("/damages", func(w http.ResponseWriter, r *http.Request) {
				h.HandleGetDamages(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/damages", func(w http.ResponseWriter, r *http.Request) {
				h.HandleAddDamage(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/revalue", func(w http.ResponseWriter, r *http.Request) {
				h.HandleRevalue(w, r, chi.URLParam(r, "id"))
			})
			r.Post("/sold", func(w http.ResponseWriter, r *http.Request) {
				h.HandleMarkSold(w, r, chi.URLParam(r, "id"))
			})
		})
	})
}
