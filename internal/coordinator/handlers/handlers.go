// Package handlers provides the user-facing HTTP handlers served by the coordinator.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nexus/internal/coordinator"
	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/modules/portfolio"
)

const goalDateLayout = "2006-01-02"

// Handler handles coordinator HTTP requests
type Handler struct {
	coord *coordinator.Coordinator
	log   zerolog.Logger
}

// NewHandler creates a new coordinator handler
func NewHandler(coord *coordinator.Coordinator, log zerolog.Logger) *Handler {
	return &Handler{
		coord: coord,
		log:   log.With().Str("handler", "coordinator").Logger(),
	}
}

// HandleGetPortfolio handles GET /api/portfolio?user_id=
func (h *Handler) HandleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	data, err := h.coord.GetPortfolioData(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		h.writeDomainError(w, err, "Failed to get portfolio")
		return
	}
	h.writeData(w, http.StatusOK, data)
}

// HandleGetMarket handles GET /api/market
func (h *Handler) HandleGetMarket(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.coord.GetMarketSummary(r.Context())
	if err != nil {
		h.writeDomainError(w, err, "Failed to get market summary")
		return
	}
	h.writeData(w, http.StatusOK, snapshot)
}

type marketQueryRequest struct {
	Query string `json:"query"`
}

// HandleQueryMarket handles POST /api/market/query
func (h *Handler) HandleQueryMarket(w http.ResponseWriter, r *http.Request) {
	var req marketQueryRequest
	if !h.decode(w, r, &req) {
		return
	}
	answer, err := h.coord.QueryMarket(r.Context(), strings.TrimSpace(req.Query))
	if err != nil {
		h.writeDomainError(w, err, "Failed to query market")
		return
	}
	h.writeData(w, http.StatusOK, answer)
}

type riskProfileRequest struct {
	UserID    string `json:"user_id"`
	RiskLevel string `json:"risk_level"`
	RiskScore *int   `json:"risk_score"`
}

// HandleUpdateRiskProfile handles POST /api/risk_profile
func (h *Handler) HandleUpdateRiskProfile(w http.ResponseWriter, r *http.Request) {
	var req riskProfileRequest
	if !h.decode(w, r, &req) {
		return
	}
	if field := firstMissing(map[string]bool{
		"user_id":    req.UserID == "",
		"risk_level": req.RiskLevel == "",
		"risk_score": req.RiskScore == nil,
	}, "user_id", "risk_level", "risk_score"); field != "" {
		h.writeError(w, http.StatusBadRequest, domain.MissingFieldError(field).Error())
		return
	}

	result, err := h.coord.UpdateRiskProfile(r.Context(), req.UserID, domain.RiskProfile{
		RiskLevel: domain.RiskLevel(req.RiskLevel),
		RiskScore: *req.RiskScore,
	})
	if err != nil {
		h.writeDomainError(w, err, "Failed to update risk profile")
		return
	}
	h.writeData(w, http.StatusOK, result)
}

type goalRequest struct {
	UserID       string  `json:"user_id"`
	Name         string  `json:"name"`
	TargetAmount float64 `json:"target_amount"`
	TargetDate   string  `json:"target_date"`
	Priority     string  `json:"priority"`
}

// HandleAddGoal handles POST /api/goals
func (h *Handler) HandleAddGoal(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if !h.decode(w, r, &req) {
		return
	}
	if field := firstMissing(map[string]bool{
		"user_id":       req.UserID == "",
		"name":          req.Name == "",
		"target_amount": req.TargetAmount == 0,
		"target_date":   req.TargetDate == "",
	}, "user_id", "name", "target_amount", "target_date"); field != "" {
		h.writeError(w, http.StatusBadRequest, domain.MissingFieldError(field).Error())
		return
	}

	date, err := time.Parse(goalDateLayout, req.TargetDate)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "target_date must be formatted as YYYY-MM-DD")
		return
	}

	goal, result, err := h.coord.AddGoal(r.Context(), req.UserID, portfolio.GoalInput{
		Name:         req.Name,
		TargetAmount: req.TargetAmount,
		TargetDate:   date,
		Priority:     portfolio.GoalPriority(req.Priority),
	})
	if err != nil && goal == nil {
		h.writeDomainError(w, err, "Failed to add goal")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("user_id", req.UserID).Msg("Goal stored but strategy reevaluation failed")
	}

	h.writeData(w, http.StatusCreated, map[string]interface{}{
		"goal":     goal,
		"strategy": result,
	})
}

type cashFlowRequest struct {
	UserID string  `json:"user_id"`
	Amount float64 `json:"amount"`
	Type   string  `json:"type"`
}

// HandleCashFlow handles POST /api/cash_flow. A withdrawal that has to wait
// for liquidation answers 202.
func (h *Handler) HandleCashFlow(w http.ResponseWriter, r *http.Request) {
	var req cashFlowRequest
	if !h.decode(w, r, &req) {
		return
	}
	if field := firstMissing(map[string]bool{
		"user_id": req.UserID == "",
		"amount":  req.Amount == 0,
		"type":    req.Type == "",
	}, "user_id", "amount", "type"); field != "" {
		h.writeError(w, http.StatusBadRequest, domain.MissingFieldError(field).Error())
		return
	}

	kind := portfolio.TransactionType(strings.ToUpper(req.Type))
	result, err := h.coord.ProcessCashFlow(r.Context(), req.UserID, req.Amount, kind)
	if err != nil {
		h.writeDomainError(w, err, "Failed to process cash flow")
		return
	}

	status := http.StatusOK
	if result.Status == coordinator.CashFlowPending {
		status = http.StatusAccepted
	}
	h.writeData(w, status, result)
}

// HandleGetWithdrawals handles GET /api/cash_flow/withdrawals?user_id=
func (h *Handler) HandleGetWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.MissingFieldError("user_id").Error())
		return
	}
	h.writeData(w, http.StatusOK, h.coord.GetWithdrawals(userID))
}

type settingsRequest struct {
	UserID         string `json:"user_id"`
	TradingEnabled *bool  `json:"trading_enabled"`
}

// HandleUpdateSettings handles POST and PUT /api/user/settings
func (h *Handler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if field := firstMissing(map[string]bool{
		"user_id":         req.UserID == "",
		"trading_enabled": req.TradingEnabled == nil,
	}, "user_id", "trading_enabled"); field != "" {
		h.writeError(w, http.StatusBadRequest, domain.MissingFieldError(field).Error())
		return
	}

	result, err := h.coord.UpdateUserSettings(r.Context(), req.UserID, *req.TradingEnabled)
	if err != nil {
		h.writeDomainError(w, err, "Failed to update settings")
		return
	}
	h.writeData(w, http.StatusOK, result)
}

// firstMissing returns the first field in order whose missing flag is set
func firstMissing(missing map[string]bool, order ...string) string {
	for _, field := range order {
		if missing[field] {
			return field
		}
	}
	return ""
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error, fallback string) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		h.writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Msg(fallback)
		h.writeError(w, http.StatusInternalServerError, fallback)
	}
}

func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
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
