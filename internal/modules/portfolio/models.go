package portfolio

import (
	"time"

	"github.com/aristath/nexus/internal/domain"
)

// TransactionType classifies ledger transactions
type TransactionType string

const (
	Deposit    TransactionType = "DEPOSIT"
	Withdrawal TransactionType = "WITHDRAWAL"
	BuyTx      TransactionType = "BUY"
	SellTx     TransactionType = "SELL"
)

// GoalPriority ranks user goals
type GoalPriority string

const (
	PriorityHigh   GoalPriority = "High"
	PriorityMedium GoalPriority = "Medium"
	PriorityLow    GoalPriority = "Low"
)

// Valid reports whether the priority is known
func (p GoalPriority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// Position is a holding; Value is always Quantity × Price
type Position struct {
	Symbol      string            `json:"symbol"`
	Name        string            `json:"name"`
	Category    domain.AssetClass `json:"category"`
	Subcategory string            `json:"subcategory"`
	Quantity    float64           `json:"quantity"`
	Price       float64           `json:"price"`
	Value       float64           `json:"value"`
}

// Goal is a user financial goal
type Goal struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	TargetAmount  float64      `json:"target_amount"`
	CurrentAmount float64      `json:"current_amount"`
	TargetDate    time.Time    `json:"target_date"`
	Priority      GoalPriority `json:"priority"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Settings holds per-user switches
type Settings struct {
	TradingEnabled bool `json:"trading_enabled"`
}

// Portfolio is one user's ledger state
type Portfolio struct {
	UserID      string             `json:"user_id"`
	Cash        float64            `json:"cash"`
	Assets      []Position         `json:"assets"`
	Goals       []Goal             `json:"goals"`
	Settings    Settings           `json:"settings"`
	RiskProfile domain.RiskProfile `json:"risk_profile"`
	TotalValue  float64            `json:"total_value"`
	CreatedAt   time.Time          `json:"created_at"`
	LastUpdated time.Time          `json:"last_updated"`
}

// NewPortfolio returns the empty portfolio a user starts with
func NewPortfolio(userID string, now time.Time) *Portfolio {
	return &Portfolio{
		UserID:      userID,
		Assets:      []Position{},
		Goals:       []Goal{},
		Settings:    Settings{TradingEnabled: true},
		RiskProfile: domain.DefaultRiskProfile(),
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// Clone returns a deep copy
func (p *Portfolio) Clone() *Portfolio {
	c := *p
	c.Assets = make([]Position, len(p.Assets))
	copy(c.Assets, p.Assets)
	c.Goals = make([]Goal, len(p.Goals))
	copy(c.Goals, p.Goals)
	return &c
}

// Recalculate refreshes position values and the total
func (p *Portfolio) Recalculate() {
	values := make([]float64, 0, len(p.Assets)+1)
	values = append(values, p.Cash)
	for i := range p.Assets {
		p.Assets[i].Value = domain.MulMoney(p.Assets[i].Quantity, p.Assets[i].Price)
		values = append(values, p.Assets[i].Value)
	}
	p.TotalValue = domain.AddMoney(values...)
}

// InvestedValue is the value held in positions
func (p *Portfolio) InvestedValue() float64 {
	total := 0.0
	for _, a := range p.Assets {
		total += a.Value
	}
	return total
}

// ClassValues sums position values per asset class, counting idle cash as Cash
func (p *Portfolio) ClassValues() map[domain.AssetClass]float64 {
	values := make(map[domain.AssetClass]float64, len(domain.AssetClasses))
	for _, c := range domain.AssetClasses {
		values[c] = 0
	}
	for _, a := range p.Assets {
		values[a.Category] += a.Value
	}
	values[domain.Cash] += p.Cash
	return values
}

func (p *Portfolio) findPosition(symbol string) int {
	for i, a := range p.Assets {
		if a.Symbol == symbol {
			return i
		}
	}
	return -1
}

// Transaction is an entry in the cash/trade trail
type Transaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Type        TransactionType `json:"type"`
	Amount      float64         `json:"amount"`
	Symbol      string          `json:"asset_symbol,omitempty"`
	Quantity    float64         `json:"quantity,omitempty"`
	Description string          `json:"description"`
	Date        time.Time       `json:"date"`
}

// GoalInput is the request to add a goal
type GoalInput struct {
	ID           string
	Name         string
	TargetAmount float64
	TargetDate   time.Time
	Priority     GoalPriority
}

// SkippedTrade records a trade that could not be applied
type SkippedTrade struct {
	Trade  domain.Trade `json:"trade"`
	Reason string       `json:"reason"`
}

// ApplyResult summarizes an ApplyTrades call
type ApplyResult struct {
	Applied []domain.Trade `json:"applied"`
	Skipped []SkippedTrade `json:"skipped"`
}

// Performance holds percentage value changes over standard horizons
type Performance struct {
	Daily   float64 `json:"daily"`
	Weekly  float64 `json:"weekly"`
	Monthly float64 `json:"monthly"`
	Yearly  float64 `json:"yearly"`
}
