package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers risk routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/risk/{user_id}", func(r chi.Router) {
		r.Get("/", h.HandleGetAnalysis)
		r.Get("/risky_assets", h.HandleGetRiskyAssets)
		r.Get("/failures", h.HandleGetFailures)
	})
}
