// Package portfolio owns per-user portfolio state: cash, positions, goals,
// settings and risk profile, plus the transaction trail.
package portfolio

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const quantityEpsilon = 1e-9

// HistoryStore records portfolio values and serves them back as a series
type HistoryStore interface {
	domain.HistoryProvider
	Record(userID string, value float64)
}

// Ledger is the single writer of portfolio state
type Ledger struct {
	repo    Repository
	history HistoryStore
	bus     *events.Bus
	locks   userLocks
	now     func() time.Time
	log     zerolog.Logger
}

// NewLedger creates a ledger over a repository
func NewLedger(repo Repository, history HistoryStore, bus *events.Bus, log zerolog.Logger) *Ledger {
	if history == nil {
		history = NewValueHistory()
	}
	return &Ledger{
		repo:    repo,
		history: history,
		bus:     bus,
		now:     time.Now,
		log:     log.With().Str("service", "ledger").Logger(),
	}
}

// History exposes the value series the ledger records into
func (l *Ledger) History() domain.HistoryProvider {
	return l.history
}

func (l *Ledger) fresh(userID string) func() *Portfolio {
	return func() *Portfolio {
		return NewPortfolio(userID, l.now().UTC())
	}
}

// GetPortfolio returns the user's portfolio, creating an empty one on first access
func (l *Ledger) GetPortfolio(ctx context.Context, userID string) (*Portfolio, error) {
	p, err := l.repo.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	if p != nil {
		return p, nil
	}

	unlock := l.locks.lock(userID)
	defer unlock()

	p, err = l.repo.Update(ctx, userID, l.fresh(userID), func(p *Portfolio) ([]Transaction, error) {
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize portfolio: %w", err)
	}

	l.log.Info().Str("user_id", userID).Msg("Initialized empty portfolio")
	return p, nil
}

// GetPortfolioValue returns the total portfolio value
func (l *Ledger) GetPortfolioValue(ctx context.Context, userID string) (float64, error) {
	p, err := l.GetPortfolio(ctx, userID)
	if err != nil {
		return 0, err
	}
	return p.TotalValue, nil
}

// GetCashBalance returns the idle cash
func (l *Ledger) GetCashBalance(ctx context.Context, userID string) (float64, error) {
	p, err := l.GetPortfolio(ctx, userID)
	if err != nil {
		return 0, err
	}
	return p.Cash, nil
}

// GetAllocation returns the current allocation as percentages of total value
func (l *Ledger) GetAllocation(ctx context.Context, userID string) (domain.Allocation, error) {
	p, err := l.GetPortfolio(ctx, userID)
	if err != nil {
		return domain.Allocation{}, err
	}
	return ComputeAllocation(p), nil
}

// ComputeAllocation derives class and subcategory percentages from holdings.
// Cash is idle cash plus any Cash-category positions.
func ComputeAllocation(p *Portfolio) domain.Allocation {
	alloc := domain.NewAllocation()
	if p.TotalValue <= 0 {
		return alloc
	}

	classValues := p.ClassValues()
	for class, value := range classValues {
		alloc.TopLevel[class] = domain.Round(value/p.TotalValue*100, 2)
	}

	subValues := map[domain.AssetClass]map[string]float64{
		domain.Equity: {},
		domain.Crypto: {},
	}
	for _, a := range p.Assets {
		if m, ok := subValues[a.Category]; ok {
			m[a.Subcategory] += a.Value
		}
	}
	for class, values := range subValues {
		classTotal := classValues[class]
		if classTotal <= 0 {
			continue
		}
		target := alloc.Subcategories(class)
		for sub, v := range values {
			target[sub] = domain.Round(v/classTotal*100, 2)
		}
	}

	return alloc
}

// UpdateCash applies a deposit or withdrawal
func (l *Ledger) UpdateCash(ctx context.Context, userID string, amount float64, kind TransactionType) (*Portfolio, error) {
	if kind != Deposit && kind != Withdrawal {
		return nil, domain.NewValidationError("type", fmt.Sprintf("unsupported cash flow type %q", kind))
	}
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, domain.NewValidationError("amount", "must be a positive number")
	}

	unlock := l.locks.lock(userID)
	defer unlock()

	p, err := l.repo.Update(ctx, userID, l.fresh(userID), func(p *Portfolio) ([]Transaction, error) {
		var desc string
		switch kind {
		case Deposit:
			p.Cash = domain.AddMoney(p.Cash, amount)
			desc = "Deposit of $" + domain.FormatMoney(amount)
		case Withdrawal:
			if p.Cash < amount {
				return nil, fmt.Errorf("%w: cash %s, requested %s",
					domain.ErrInsufficientFunds, domain.FormatMoney(p.Cash), domain.FormatMoney(amount))
			}
			p.Cash = domain.AddMoney(p.Cash, -amount)
			desc = "Withdrawal of $" + domain.FormatMoney(amount)
		}
		p.Recalculate()
		p.LastUpdated = l.now().UTC()

		return []Transaction{{
			ID:          uuid.New().String(),
			UserID:      userID,
			Type:        kind,
			Amount:      amount,
			Description: desc,
			Date:        p.LastUpdated,
		}}, nil
	})
	if err != nil {
		return nil, err
	}

	l.history.Record(userID, p.TotalValue)
	l.bus.Emit("ledger", &events.CashUpdatedData{
		UserID:  userID,
		Kind:    string(kind),
		Amount:  amount,
		Balance: p.Cash,
	})
	l.log.Info().
		Str("user_id", userID).
		Str("type", string(kind)).
		Float64("amount", amount).
		Float64("cash", p.Cash).
		Msg("Cash updated")

	return p, nil
}

// ApplyTrades applies executed fills to the portfolio. Invalid trades and
// sells of unheld quantity are skipped and reported, not failed.
func (l *Ledger) ApplyTrades(ctx context.Context, userID string, trades []domain.Trade) (*ApplyResult, error) {
	unlock := l.locks.lock(userID)
	defer unlock()

	result := &ApplyResult{Applied: []domain.Trade{}, Skipped: []SkippedTrade{}}

	p, err := l.repo.Update(ctx, userID, l.fresh(userID), func(p *Portfolio) ([]Transaction, error) {
		// Reset on every attempt; the repository may discard a failed run
		result.Applied = result.Applied[:0]
		result.Skipped = result.Skipped[:0]

		now := l.now().UTC()
		var txs []Transaction

		for _, raw := range trades {
			t := raw.WithDefaults()
			if reason := l.applyTrade(p, t); reason != "" {
				result.Skipped = append(result.Skipped, SkippedTrade{Trade: t, Reason: reason})
				l.log.Warn().
					Str("user_id", userID).
					Str("symbol", t.Symbol).
					Str("action", string(t.Action)).
					Float64("quantity", t.Quantity).
					Str("reason", reason).
					Msg("Skipped trade")
				continue
			}

			result.Applied = append(result.Applied, t)
			verb := "Bought"
			txType := BuyTx
			if t.Action == domain.Sell {
				verb = "Sold"
				txType = SellTx
			}
			txs = append(txs, Transaction{
				ID:          uuid.New().String(),
				UserID:      userID,
				Type:        txType,
				Amount:      domain.MulMoney(t.Quantity, t.Price),
				Symbol:      t.Symbol,
				Quantity:    t.Quantity,
				Description: fmt.Sprintf("%s %g %s @ $%s", verb, t.Quantity, t.Symbol, domain.FormatMoney(t.Price)),
				Date:        now,
			})
		}

		p.Recalculate()
		p.LastUpdated = now
		if p.Cash < 0 {
			l.log.Warn().Str("user_id", userID).Float64("cash", p.Cash).Msg("Trades overdrew cash balance")
		}
		return txs, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply trades: %w", err)
	}

	l.history.Record(userID, p.TotalValue)
	l.bus.Emit("ledger", &events.TradesAppliedData{
		UserID:     userID,
		Applied:    len(result.Applied),
		Skipped:    len(result.Skipped),
		TotalValue: p.TotalValue,
	})
	l.log.Info().
		Str("user_id", userID).
		Int("applied", len(result.Applied)).
		Int("skipped", len(result.Skipped)).
		Float64("total_value", p.TotalValue).
		Msg("Trades applied")

	return result, nil
}

// applyTrade mutates p and returns a skip reason, or "" when applied
func (l *Ledger) applyTrade(p *Portfolio, t domain.Trade) string {
	if t.Symbol == "" {
		return "missing symbol"
	}
	if t.Quantity <= 0 || math.IsNaN(t.Quantity) {
		return "quantity must be positive"
	}
	if t.Price < 0 || math.IsNaN(t.Price) {
		return "price must not be negative"
	}

	idx := p.findPosition(t.Symbol)
	cost := domain.MulMoney(t.Quantity, t.Price)

	switch t.Action {
	case domain.Buy:
		if idx < 0 {
			p.Assets = append(p.Assets, Position{
				Symbol:      t.Symbol,
				Name:        t.Name,
				Category:    t.Category,
				Subcategory: t.Subcategory,
				Quantity:    t.Quantity,
				Price:       t.Price,
			})
		} else {
			pos := &p.Assets[idx]
			newQty := pos.Quantity + t.Quantity
			pos.Price = domain.AddMoney(domain.MulMoney(pos.Quantity, pos.Price), cost) / newQty
			pos.Quantity = newQty
		}
		p.Cash = domain.AddMoney(p.Cash, -cost)

	case domain.Sell:
		if idx < 0 {
			return "position not held"
		}
		pos := &p.Assets[idx]
		if pos.Quantity+quantityEpsilon < t.Quantity {
			return fmt.Sprintf("insufficient quantity: held %g", pos.Quantity)
		}
		pos.Quantity -= t.Quantity
		p.Cash = domain.AddMoney(p.Cash, cost)
		if pos.Quantity <= quantityEpsilon {
			p.Assets = append(p.Assets[:idx], p.Assets[idx+1:]...)
		}

	default:
		return fmt.Sprintf("unknown action %q", t.Action)
	}

	return ""
}

// HasSufficientCash reports whether idle cash covers amount
func (l *Ledger) HasSufficientCash(ctx context.Context, userID string, amount float64) (bool, error) {
	cash, err := l.GetCashBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return cash >= amount, nil
}

// NeedsRebalancing reports whether any top-level class is outside the
// tolerance band around its target
func (l *Ledger) NeedsRebalancing(ctx context.Context, userID string, target domain.Allocation) (bool, error) {
	p, err := l.GetPortfolio(ctx, userID)
	if err != nil {
		return false, err
	}
	if p.TotalValue <= 0 {
		return false, nil
	}

	current := ComputeAllocation(p)
	for _, class := range domain.AssetClasses {
		if math.Abs(current.TopLevel[class]-target.TopLevel[class]) > domain.RebalanceTolerancePct {
			return true, nil
		}
	}
	return false, nil
}

// AddGoal validates and stores a new goal
func (l *Ledger) AddGoal(ctx context.Context, userID string, in GoalInput) (*Goal, error) {
	if in.Name == "" {
		return nil, domain.MissingFieldError("name")
	}
	if in.TargetAmount <= 0 {
		return nil, domain.NewValidationError("target_amount", "must be positive")
	}
	if in.TargetDate.IsZero() {
		return nil, domain.MissingFieldError("target_date")
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, domain.NewValidationError("priority", "must be High, Medium or Low")
	}

	unlock := l.locks.lock(userID)
	defer unlock()

	goal := Goal{
		ID:           in.ID,
		Name:         in.Name,
		TargetAmount: in.TargetAmount,
		TargetDate:   in.TargetDate.UTC(),
		Priority:     in.Priority,
		CreatedAt:    l.now().UTC(),
	}
	if goal.ID == "" {
		goal.ID = uuid.New().String()
	}

	_, err := l.repo.Update(ctx, userID, l.fresh(userID), func(p *Portfolio) ([]Transaction, error) {
		p.Goals = append(p.Goals, goal)
		p.LastUpdated = goal.CreatedAt
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add goal: %w", err)
	}

	l.bus.Emit("ledger", &events.GoalAddedData{UserID: userID, GoalID: goal.ID, Name: goal.Name})
	l.log.Info().Str("user_id", userID).Str("goal_id", goal.ID).Str("name", goal.Name).Msg("Goal added")

	return &goal, nil
}

// GetGoals returns the user's goals
func (l *Ledger) GetGoals(ctx context.Context, userID string) ([]Goal, error) {
	p, err := l.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.Goals, nil
}

// UpdateSettings stores the trading switch and returns the previous settings
func (l *Ledger) UpdateSettings(ctx context.Context, userID string, settings Settings) (Settings, error) {
	unlock := l.locks.lock(userID)
	defer unlock()

	var previous Settings
	_, err := l.repo.Update(ctx, userID, l.fresh(userID), func(p *Portfolio) ([]Transaction, error) {
		previous = p.Settings
		p.Settings = settings
		p.LastUpdated = l.now().UTC()
		return nil, nil
	})
	if err != nil {
		return Settings{}, fmt.Errorf("failed to update settings: %w", err)
	}

	l.bus.Emit("ledger", &events.SettingsChangedData{UserID: userID, TradingEnabled: settings.TradingEnabled})
	return previous, nil
}

// UpdateRiskProfile validates and stores the user's risk profile
func (l *Ledger) UpdateRiskProfile(ctx context.Context, userID string, profile domain.RiskProfile) error {
	if !profile.RiskLevel.Valid() {
		return domain.NewValidationError("risk_level", "must be Conservative, Moderate or Aggressive")
	}
	if profile.RiskScore < 0 || profile.RiskScore > 100 {
		return domain.NewValidationError("risk_score", "must be between 0 and 100")
	}

	unlock := l.locks.lock(userID)
	defer unlock()

	_, err := l.repo.Update(ctx, userID, l.fresh(userID), func(p *Portfolio) ([]Transaction, error) {
		p.RiskProfile = profile
		p.LastUpdated = l.now().UTC()
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to update risk profile: %w", err)
	}

	l.log.Info().
		Str("user_id", userID).
		Str("risk_level", string(profile.RiskLevel)).
		Int("risk_score", profile.RiskScore).
		Msg("Risk profile updated")
	return nil
}

// GetRiskProfile returns the stored risk profile
func (l *Ledger) GetRiskProfile(ctx context.Context, userID string) (domain.RiskProfile, error) {
	p, err := l.GetPortfolio(ctx, userID)
	if err != nil {
		return domain.RiskProfile{}, err
	}
	return p.RiskProfile, nil
}

// ListTransactions returns the most recent transactions
func (l *Ledger) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	txs, err := l.repo.ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

// GetPerformance returns percentage value changes over 1, 7, 30 and 365 days
func (l *Ledger) GetPerformance(ctx context.Context, userID string) (Performance, error) {
	p, err := l.GetPortfolio(ctx, userID)
	if err != nil {
		return Performance{}, err
	}

	change := func(days int) (float64, error) {
		series, err := l.history.PortfolioValueHistory(ctx, userID, days)
		if err != nil {
			return 0, fmt.Errorf("failed to get value history: %w", err)
		}
		if len(series) == 0 || series[0] <= 0 {
			return 0, nil
		}
		return domain.Round((p.TotalValue-series[0])/series[0]*100, 2), nil
	}

	var perf Performance
	for _, h := range []struct {
		days int
		dst  *float64
	}{
		{1, &perf.Daily},
		{7, &perf.Weekly},
		{30, &perf.Monthly},
		{365, &perf.Yearly},
	} {
		v, err := change(h.days)
		if err != nil {
			return Performance{}, err
		}
		*h.dst = v
	}

	return perf, nil
}
