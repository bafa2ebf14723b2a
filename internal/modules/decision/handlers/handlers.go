// Package handlers provides HTTP handlers for decision operations.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nexus/internal/modules/decision"
)

// Handler handles decision HTTP requests
type Handler struct {
	engine *decision.Engine
	log    zerolog.Logger
}

// NewHandler creates a new decision handler
func NewHandler(engine *decision.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		engine: engine,
		log:    log.With().Str("handler", "decision").Logger(),
	}
}

// HandleGetDecisions handles GET /api/decisions?user_id=X&limit=N
func (h *Handler) HandleGetDecisions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "Missing required field: user_id")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.engine.GetRecentDecisions(r.Context(), userID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to get decisions")
		h.writeError(w, http.StatusInternalServerError, "Failed to get decisions")
		return
	}

	h.writeData(w, entries)
}

// HandleGetRebalancing handles GET /api/decisions/rebalancing?user_id=X
func (h *Handler) HandleGetRebalancing(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "Missing required field: user_id")
		return
	}

	trades, err := h.engine.GenerateRebalancingTrades(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to generate rebalancing trades")
		h.writeError(w, http.StatusInternalServerError, "Failed to generate rebalancing trades")
		return
	}

	h.writeData(w, trades)
}

// HandleGetOpportunities handles GET /api/decisions/opportunities?user_id=X
// Each opportunity is returned with the tactical decision it would produce.
func (h *Handler) HandleGetOpportunities(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "Missing required field: user_id")
		return
	}

	opportunities, err := h.engine.EvaluateInvestmentOpportunities(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to evaluate opportunities")
		h.writeError(w, http.StatusInternalServerError, "Failed to evaluate opportunities")
		return
	}

	type evaluated struct {
		Opportunity decision.Opportunity       `json:"opportunity"`
		Decision    *decision.TacticalDecision `json:"decision"`
	}
	result := make([]evaluated, 0, len(opportunities))
	for _, opp := range opportunities {
		d, err := h.engine.MakeTacticalDecision(r.Context(), userID, opp)
		if err != nil {
			h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to make tactical decision")
			h.writeError(w, http.StatusInternalServerError, "Failed to evaluate opportunities")
			return
		}
		result = append(result, evaluated{Opportunity: opp, Decision: d})
	}

	h.writeData(w, result)
}

func (h *Handler) writeData(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": data,
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
