// Package handlers provides HTTP handlers for ledger read operations.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/nexus/internal/modules/portfolio"
)

const defaultTransactionLimit = 50

// Handler handles ledger HTTP requests
type Handler struct {
	ledger *portfolio.Ledger
	log    zerolog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(ledger *portfolio.Ledger, log zerolog.Logger) *Handler {
	return &Handler{
		ledger: ledger,
		log:    log.With().Str("handler", "ledger").Logger(),
	}
}

// HandleGetAllocation handles GET /api/ledger/{user_id}/allocation
func (h *Handler) HandleGetAllocation(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	alloc, err := h.ledger.GetAllocation(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to get allocation")
		h.writeError(w, http.StatusInternalServerError, "Failed to get allocation")
		return
	}

	h.writeData(w, alloc)
}

// HandleGetTransactions handles GET /api/ledger/{user_id}/transactions?limit=N
func (h *Handler) HandleGetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	limit := defaultTransactionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	txs, err := h.ledger.ListTransactions(r.Context(), userID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to list transactions")
		h.writeError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}
	if txs == nil {
		txs = []portfolio.Transaction{}
	}

	h.writeData(w, txs)
}

// HandleGetGoals handles GET /api/ledger/{user_id}/goals
func (h *Handler) HandleGetGoals(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	goals, err := h.ledger.GetGoals(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to get goals")
		h.writeError(w, http.StatusInternalServerError, "Failed to get goals")
		return
	}

	h.writeData(w, goals)
}

// HandleGetPerformance handles GET /api/ledger/{user_id}/performance
func (h *Handler) HandleGetPerformance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	perf, err := h.ledger.GetPerformance(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to get performance")
		h.writeError(w, http.StatusInternalServerError, "Failed to get performance")
		return
	}

	h.writeData(w, perf)
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
