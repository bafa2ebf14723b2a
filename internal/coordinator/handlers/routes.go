package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers the user-facing routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/portfolio", h.HandleGetPortfolio)

	r.Route("/market", func(r chi.Router) {
		r.Get("/", h.HandleGetMarket)
		r.Post("/query", h.HandleQueryMarket)
	})

	r.Post("/risk_profile", h.HandleUpdateRiskProfile)
	r.Post("/goals", h.HandleAddGoal)

	r.Route("/cash_flow", func(r chi.Router) {
		r.Post("/", h.HandleCashFlow)
		r.Get("/withdrawals", h.HandleGetWithdrawals)
	})

	r.Route("/user/settings", func(r chi.Router) {
		r.Post("/", h.HandleUpdateSettings)
		r.Put("/", h.HandleUpdateSettings)
	})
}
