package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers orchestrator routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/mcu", func(r chi.Router) {
		r.Get("/status", h.HandleGetStatus)

		r.Post("/workers", h.HandleRegisterWorker)
		r.Post("/workers/{worker_id}/heartbeat", h.HandleHeartbeat)

		r.Post("/responses", h.HandleResponse)

		r.Route("/tasks/{task_id}", func(r chi.Router) {
			r.Get("/", h.HandleGetTask)
			r.Get("/result", h.HandleGetResult)
			r.Post("/running", h.HandleMarkRunning)
			r.Delete("/", h.HandleCancelTask)
		})

		if h.ws != nil {
			r.Handle("/ws", h.ws)
		}
	})
}
