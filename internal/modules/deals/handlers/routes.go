package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers all deal routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/deals", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Get("/export", h.HandleExport)
	})
}
