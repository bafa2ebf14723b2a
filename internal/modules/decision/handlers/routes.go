package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers decision routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/decisions", func(r chi.Router) {
		r.Get("/", h.HandleGetDecisions)
		r.Get("/rebalancing", h.HandleGetRebalancing)
		r.Get("/opportunities", h.HandleGetOpportunities)
	})
}
