package decision

import (
	"time"

	"github.com/aristath/nexus/internal/domain"
)

// Decision types written to the log
const (
	TypeAllocationChange = "ALLOCATION_CHANGE"
	TypeCashInvestment   = "CASH_INVESTMENT"
	TypeAssetLiquidation = "ASSET_LIQUIDATION"
	TypeTactical         = "TACTICAL"
)

// Outcomes recorded against a decision's task
const (
	OutcomeSuccess   = "SUCCESS"
	OutcomeFailed    = "FAILED"
	OutcomeTimeout   = "TIMEOUT"
	OutcomeCancelled = "CANCELLED"
)

const (
	tacticalTradePct      = 2.0
	tacticalMaxRiskScore  = 70
	defaultRecentDecision = 10
)

// Entry is one audit record. Outcome fields are written once.
type Entry struct {
	ID             string                 `json:"id"`
	UserID         string                 `json:"user_id"`
	TaskID         string                 `json:"task_id,omitempty"`
	DecisionType   string                 `json:"decision_type"`
	Description    string                 `json:"description"`
	Data           map[string]interface{} `json:"data"`
	Outcome        string                 `json:"outcome,omitempty"`
	OutcomeDetails string                 `json:"outcome_details,omitempty"`
	CreatedAt      time.Time              `json:"timestamp"`
	OutcomeAt      *time.Time             `json:"outcome_at,omitempty"`
}

// TradeInstruction is a class-level rebalancing order
type TradeInstruction struct {
	Action     domain.TradeAction `json:"action"`
	AssetClass domain.AssetClass  `json:"asset_class"`
	Amount     float64            `json:"amount"`
	Rationale  string             `json:"rationale"`
}

// Opportunity is a market-driven investment idea
type Opportunity struct {
	Type      domain.AssetClass `json:"type"`
	Asset     string            `json:"asset"`
	Rationale string            `json:"rationale"`
	Score     int               `json:"score"`
	RiskLevel string            `json:"risk_level"`
}

// TacticalDecision is an accepted opportunity sized against the portfolio
type TacticalDecision struct {
	Action       domain.TradeAction `json:"action"`
	Asset        string             `json:"asset"`
	AssetType    domain.AssetClass  `json:"asset_type"`
	Amount       float64            `json:"amount"`
	Rationale    string             `json:"rationale"`
	DecisionType string             `json:"decision_type"`
}
