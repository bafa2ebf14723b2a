package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers ledger routes with the router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/ledger/{user_id}", func(r chi.Router) {
		r.Get("/allocation", h.HandleGetAllocation)
		r.Get("/transactions", h.HandleGetTransactions)
		r.Get("/goals", h.HandleGetGoals)
		r.Get("/performance", h.HandleGetPerformance)
	})
}
