// Package decision turns strategy, ledger and risk state into trade
// instructions and keeps the decision audit log.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/events"
	"github.com/aristath/nexus/internal/modules/portfolio"
	"github.com/aristath/nexus/internal/modules/risk"
)

// TargetSource supplies target allocations
type TargetSource interface {
	GetTargetAllocation(ctx context.Context, userID string) (domain.Allocation, error)
}

// PortfolioSource supplies current portfolios
type PortfolioSource interface {
	GetPortfolio(ctx context.Context, userID string) (*portfolio.Portfolio, error)
}

// RiskScorer analyzes portfolio risk
type RiskScorer interface {
	AnalyzePortfolioRisk(ctx context.Context, p *portfolio.Portfolio) (*risk.Analysis, error)
}

// Engine evaluates portfolios against their strategy and the market
type Engine struct {
	targets    TargetSource
	portfolios PortfolioSource
	risk       RiskScorer
	market     domain.MarketSnapshotProvider
	repo       Repository
	bus        *events.Bus
	now        func() time.Time
	log        zerolog.Logger
}

// NewEngine creates a decision engine
func NewEngine(
	targets TargetSource,
	portfolios PortfolioSource,
	riskScorer RiskScorer,
	market domain.MarketSnapshotProvider,
	repo Repository,
	bus *events.Bus,
	log zerolog.Logger,
) *Engine {
	if repo == nil {
		repo = NewMemoryRepository()
	}
	return &Engine{
		targets:    targets,
		portfolios: portfolios,
		risk:       riskScorer,
		market:     market,
		repo:       repo,
		bus:        bus,
		now:        time.Now,
		log:        log.With().Str("service", "decision").Logger(),
	}
}

// GenerateRebalancingTrades returns the class-level trades that bring every
// class outside the tolerance band back to target. Sells come first, largest
// deviation first.
func (e *Engine) GenerateRebalancingTrades(ctx context.Context, userID string) ([]TradeInstruction, error) {
	p, err := e.portfolios.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	if p.TotalValue <= 0 {
		e.log.Debug().Str("user_id", userID).Msg("Zero portfolio value, no rebalancing trades")
		return []TradeInstruction{}, nil
	}

	target, err := e.targets.GetTargetAllocation(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get target allocation: %w", err)
	}
	current := portfolio.ComputeAllocation(p)

	type adjustment struct {
		class  domain.AssetClass
		amount float64
	}
	var adjustments []adjustment
	for _, class := range domain.AssetClasses {
		diff := p.TotalValue * (target.TopLevel[class] - current.TopLevel[class]) / 100
		if math.Abs(diff/p.TotalValue*100) > domain.RebalanceTolerancePct {
			adjustments = append(adjustments, adjustment{class: class, amount: diff})
		}
	}

	sort.SliceStable(adjustments, func(i, j int) bool {
		return math.Abs(adjustments[i].amount) > math.Abs(adjustments[j].amount)
	})

	trades := []TradeInstruction{}
	for _, adj := range adjustments {
		if adj.amount < 0 {
			trades = append(trades, TradeInstruction{
				Action:     domain.Sell,
				AssetClass: adj.class,
				Amount:     domain.Round(-adj.amount, 2),
				Rationale:  fmt.Sprintf("Rebalancing: Reducing overweight %s allocation.", adj.class),
			})
		}
	}
	for _, adj := range adjustments {
		if adj.amount > 0 {
			trades = append(trades, TradeInstruction{
				Action:     domain.Buy,
				AssetClass: adj.class,
				Amount:     domain.Round(adj.amount, 2),
				Rationale:  fmt.Sprintf("Rebalancing: Increasing underweight %s allocation.", adj.class),
			})
		}
	}

	e.log.Info().Str("user_id", userID).Int("trades", len(trades)).Msg("Generated rebalancing trades")
	return trades, nil
}

// EvaluateInvestmentOpportunities lists opportunities triggered by the
// current market snapshot. Triggers are independent.
func (e *Engine) EvaluateInvestmentOpportunities(ctx context.Context, userID string) ([]Opportunity, error) {
	snapshot, err := e.market.GetMarketSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get market summary: %w", err)
	}

	opportunities := []Opportunity{}
	if snapshot.Sectors["Technology"] == "strong" {
		opportunities = append(opportunities, Opportunity{
			Type:      domain.Equity,
			Asset:     "QQQ",
			Rationale: "Strong outlook for the technology sector.",
			Score:     75,
			RiskLevel: "Moderate",
		})
	}
	if snapshot.Crypto.OverallSentiment == "positive" {
		opportunities = append(opportunities, Opportunity{
			Type:      domain.Crypto,
			Asset:     "BTC",
			Rationale: "Positive sentiment and bullish outlook for Bitcoin.",
			Score:     80,
			RiskLevel: "High",
		})
	}
	if snapshot.InterestRates == "rising" {
		opportunities = append(opportunities, Opportunity{
			Type:      domain.Bonds,
			Asset:     "TIP",
			Rationale: "Potential hedge against inflation in a rising rate environment.",
			Score:     65,
			RiskLevel: "Low",
		})
	}

	e.log.Info().Str("user_id", userID).Int("opportunities", len(opportunities)).Msg("Evaluated investment opportunities")
	return opportunities, nil
}

// MakeTacticalDecision sizes an opportunity at 2% of portfolio value. It
// returns nil when the portfolio is too risky or cash cannot cover the trade.
func (e *Engine) MakeTacticalDecision(ctx context.Context, userID string, opp Opportunity) (*TacticalDecision, error) {
	p, err := e.portfolios.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}

	analysis, err := e.risk.AnalyzePortfolioRisk(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze risk: %w", err)
	}
	if analysis.RiskScore > tacticalMaxRiskScore {
		e.log.Warn().
			Str("user_id", userID).
			Int("risk_score", analysis.RiskScore).
			Msg("Portfolio risk too high for tactical trades")
		return nil, nil
	}

	amount := domain.Round(p.TotalValue*tacticalTradePct/100, 2)
	if amount <= 0 || p.Cash < amount {
		e.log.Warn().
			Str("user_id", userID).
			Float64("cash", p.Cash).
			Float64("trade_amount", amount).
			Msg("Insufficient cash for tactical trade")
		return nil, nil
	}

	d := &TacticalDecision{
		Action:       domain.Buy,
		Asset:        opp.Asset,
		AssetType:    opp.Type,
		Amount:       amount,
		Rationale:    fmt.Sprintf("Tactical allocation based on opportunity score (%d) and rationale: %s", opp.Score, opp.Rationale),
		DecisionType: TypeTactical,
	}
	e.log.Info().Str("user_id", userID).Str("asset", d.Asset).Float64("amount", amount).Msg("Tactical BUY recommended")
	return d, nil
}

// LogDecision appends an entry to the audit log
func (e *Engine) LogDecision(ctx context.Context, userID, taskID, decisionType, description string, data map[string]interface{}) (*Entry, error) {
	if data == nil {
		data = map[string]interface{}{}
	}
	entry := Entry{
		ID:           uuid.New().String(),
		UserID:       userID,
		TaskID:       taskID,
		DecisionType: decisionType,
		Description:  description,
		Data:         data,
		CreatedAt:    e.now().UTC(),
	}
	if err := e.repo.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to log decision: %w", err)
	}

	e.bus.Emit("decision", &events.DecisionLoggedData{
		UserID:       userID,
		DecisionID:   entry.ID,
		TaskID:       taskID,
		DecisionType: decisionType,
	})
	e.log.Info().
		Str("user_id", userID).
		Str("decision_type", decisionType).
		Str("task_id", taskID).
		Msg(description)

	return &entry, nil
}

// RecordOutcome sets the outcome of every decision tied to the task. Details
// are stored as JSON. Decisions that already have an outcome are left alone.
func (e *Engine) RecordOutcome(ctx context.Context, userID, taskID, outcome string, details interface{}) (int, error) {
	var encoded string
	switch v := details.(type) {
	case nil:
	case string:
		encoded = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal outcome details: %w", err)
		}
		encoded = string(b)
	}

	n, err := e.repo.RecordOutcome(ctx, taskID, outcome, encoded, e.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.bus.Emit("decision", &events.DecisionLoggedData{
			UserID:  userID,
			TaskID:  taskID,
			Outcome: outcome,
		})
	}

	e.log.Info().Str("task_id", taskID).Str("outcome", outcome).Int("decisions", n).Msg("Decision outcome recorded")
	return n, nil
}

// GetRecentDecisions returns the newest decisions for the user
func (e *Engine) GetRecentDecisions(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentDecision
	}
	entries, err := e.repo.Recent(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent decisions: %w", err)
	}
	return entries, nil
}
