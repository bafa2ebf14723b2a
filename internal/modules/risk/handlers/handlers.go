// Package handlers provides HTTP handlers for risk analysis operations.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/nexus/internal/modules/portfolio"
	"github.com/aristath/nexus/internal/modules/risk"
)

// PortfolioSource loads the portfolio being analyzed
type PortfolioSource interface {
	GetPortfolio(ctx context.Context, userID string) (*portfolio.Portfolio, error)
}

// Handler handles risk HTTP requests
type Handler struct {
	analyzer   *risk.Analyzer
	portfolios PortfolioSource
	log        zerolog.Logger
}

// NewHandler creates a new risk handler
func NewHandler(analyzer *risk.Analyzer, portfolios PortfolioSource, log zerolog.Logger) *Handler {
	return &Handler{
		analyzer:   analyzer,
		portfolios: portfolios,
		log:        log.With().Str("handler", "risk").Logger(),
	}
}

// HandleGetAnalysis handles GET /api/risk/{user_id}
// The analysis is recomputed from the current portfolio on every request.
func (h *Handler) HandleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	p, err := h.portfolios.GetPortfolio(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to get portfolio")
		h.writeError(w, http.StatusInternalServerError, "Failed to get portfolio")
		return
	}

	analysis, err := h.analyzer.AnalyzePortfolioRisk(r.Context(), p)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to analyze risk")
		h.writeError(w, http.StatusInternalServerError, "Failed to analyze risk")
		return
	}

	h.writeData(w, analysis)
}

// HandleGetRiskyAssets handles GET /api/risk/{user_id}/risky_assets?threshold=15
func (h *Handler) HandleGetRiskyAssets(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	threshold := risk.DefaultRiskyThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			h.writeError(w, http.StatusBadRequest, "threshold must be a positive number")
			return
		}
		threshold = v
	}

	p, err := h.portfolios.GetPortfolio(r.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to get portfolio")
		h.writeError(w, http.StatusInternalServerError, "Failed to get portfolio")
		return
	}

	h.writeData(w, h.analyzer.IdentifyRiskyAssets(p, threshold))
}

// HandleGetFailures handles GET /api/risk/{user_id}/failures
func (h *Handler) HandleGetFailures(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	failures, err := h.analyzer.ListExecutionFailures(r.Context(), userID, 50)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to list execution failures")
		h.writeError(w, http.StatusInternalServerError, "Failed to list execution failures")
		return
	}

	h.writeData(w, failures)
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
