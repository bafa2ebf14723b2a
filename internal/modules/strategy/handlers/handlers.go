// Package handlers provides HTTP handlers for strategy operations.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/modules/strategy"
)

// StrategyEngine is the subset of strategy.Engine used by the handlers
type StrategyEngine interface {
	GetStrategy(ctx context.Context, userID string) (*strategy.Strategy, error)
	ReevaluateStrategy(ctx context.Context, userID string) (domain.Allocation, error)
}

// Handler handles strategy HTTP requests
type Handler struct {
	engine StrategyEngine
	log    zerolog.Logger
}

// NewHandler creates a new strategy handler
func NewHandler(engine StrategyEngine, log zerolog.Logger) *Handler {
	return &Handler{
		engine: engine,
		log:    log.With().Str("handler", "strategy").Logger(),
	}
}

// HandleGetTarget handles GET /api/strategy/{user_id}/target
func (h *Handler) HandleGetTarget(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	s, err := h.engine.GetStrategy(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to get strategy")
		h.writeError(w, http.StatusInternalServerError, "Failed to get target allocation")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": s,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleReevaluate handles POST /api/strategy/{user_id}/reevaluate
func (h *Handler) HandleReevaluate(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	alloc, err := h.engine.ReevaluateStrategy(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to reevaluate strategy")
		h.writeError(w, http.StatusInternalServerError, "Failed to reevaluate strategy")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": alloc,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
