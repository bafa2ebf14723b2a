package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers strategy routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/strategy/{user_id}", func(r chi.Router) {
		r.Get("/target", h.HandleGetTarget)
		r.Post("/reevaluate", h.HandleReevaluate)
	})
}
