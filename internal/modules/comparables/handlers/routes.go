package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers all comparables routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/comparables", func(r chi.Router) {
		r.Get("/", h.HandleSummary)
		r.Get("/lookup", h.HandleLookup)
		r.Post("/sales", h.HandleRecordSale)
		r.Post("/refresh", h.HandleRefresh)
	})
}
