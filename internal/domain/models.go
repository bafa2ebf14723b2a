// Package domain holds the types shared by the decision and orchestration components.
package domain

import "time"

// AssetClass is a top-level allocation bucket
type AssetClass string

const (
	Equity AssetClass = "Equity"
	Bonds  AssetClass = "Bonds"
	Cash   AssetClass = "Cash"
	Crypto AssetClass = "Crypto"
)

// AssetClasses lists every top-level class in canonical order
var AssetClasses = []AssetClass{Equity, Bonds, Cash, Crypto}

// Equity subcategories
const (
	LargeCap        = "Large Cap"
	MidCap          = "Mid Cap"
	SmallCap        = "Small Cap"
	International   = "International"
	EmergingMarkets = "Emerging Markets"
)

// Crypto subcategories
const (
	Bitcoin  = "Bitcoin"
	Ethereum = "Ethereum"
	Altcoins = "Altcoins"
)

// EquitySubcategories lists the equity breakdown keys in canonical order
var EquitySubcategories = []string{LargeCap, MidCap, SmallCap, International, EmergingMarkets}

// CryptoSubcategories lists the crypto breakdown keys in canonical order
var CryptoSubcategories = []string{Bitcoin, Ethereum, Altcoins}

// ParseAssetClass validates an asset class name
func ParseAssetClass(s string) (AssetClass, bool) {
	for _, c := range AssetClasses {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// RiskLevel is the user-selected risk appetite
type RiskLevel string

const (
	Conservative RiskLevel = "Conservative"
	Moderate     RiskLevel = "Moderate"
	Aggressive   RiskLevel = "Aggressive"
)

// Valid reports whether the level is one of the three presets
func (l RiskLevel) Valid() bool {
	return l == Conservative || l == Moderate || l == Aggressive
}

// RiskProfile is owned by the user and read by strategy and risk analysis
type RiskProfile struct {
	RiskLevel RiskLevel `json:"risk_level"`
	RiskScore int       `json:"risk_score"`
}

// DefaultRiskProfile is applied to users who never set one
func DefaultRiskProfile() RiskProfile {
	return RiskProfile{RiskLevel: Moderate, RiskScore: 50}
}

// Allocation maps asset classes (and equity/crypto subcategories) to percentages
type Allocation struct {
	TopLevel map[AssetClass]float64 `json:"top_level"`
	Equity   map[string]float64     `json:"Equity"`
	Crypto   map[string]float64     `json:"Crypto"`
}

// NewAllocation returns an allocation with every class present at 0
func NewAllocation() Allocation {
	a := Allocation{
		TopLevel: make(map[AssetClass]float64, len(AssetClasses)),
		Equity:   make(map[string]float64),
		Crypto:   make(map[string]float64),
	}
	for _, c := range AssetClasses {
		a.TopLevel[c] = 0
	}
	return a
}

// Total sums the top-level percentages
func (a Allocation) Total() float64 {
	total := 0.0
	for _, pct := range a.TopLevel {
		total += pct
	}
	return total
}

// Subcategories returns the breakdown for a class (nil for classes without one)
func (a Allocation) Subcategories(class AssetClass) map[string]float64 {
	switch class {
	case Equity:
		return a.Equity
	case Crypto:
		return a.Crypto
	default:
		return nil
	}
}

// Clone returns a deep copy
func (a Allocation) Clone() Allocation {
	c := Allocation{
		TopLevel: make(map[AssetClass]float64, len(a.TopLevel)),
		Equity:   make(map[string]float64, len(a.Equity)),
		Crypto:   make(map[string]float64, len(a.Crypto)),
	}
	for k, v := range a.TopLevel {
		c.TopLevel[k] = v
	}
	for k, v := range a.Equity {
		c.Equity[k] = v
	}
	for k, v := range a.Crypto {
		c.Crypto[k] = v
	}
	return c
}

// TradeAction is the side of a trade or task
type TradeAction string

const (
	Buy  TradeAction = "BUY"
	Sell TradeAction = "SELL"
)

// Trade is an executed fill reported by a worker
type Trade struct {
	Symbol      string      `json:"symbol" msgpack:"symbol"`
	Name        string      `json:"name,omitempty" msgpack:"name,omitempty"`
	Quantity    float64     `json:"quantity" msgpack:"quantity"`
	Price       float64     `json:"price" msgpack:"price"`
	Action      TradeAction `json:"action" msgpack:"action"`
	Category    AssetClass  `json:"category" msgpack:"category"`
	Subcategory string      `json:"subcategory" msgpack:"subcategory"`
}

// WithDefaults fills the fields workers are allowed to omit
func (t Trade) WithDefaults() Trade {
	if t.Action == "" {
		t.Action = Buy
	}
	if t.Category == "" {
		t.Category = Equity
	}
	if t.Subcategory == "" {
		t.Subcategory = LargeCap
	}
	if t.Name == "" {
		t.Name = t.Symbol
	}
	return t
}

// Outlook values used by the market snapshot
const (
	OutlookBullish = "bullish"
	OutlookBearish = "bearish"
	OutlookNeutral = "neutral"
)

// Volatility regimes
const (
	VolatilityHigh   = "high"
	VolatilityNormal = "normal"
	VolatilityLow    = "low"
)

// IndexQuote is one entry of the major indices block
type IndexQuote struct {
	Value  float64 `json:"value"`
	Change float64 `json:"change"`
}

// CryptoMarket is the crypto block of a market snapshot
type CryptoMarket struct {
	Bitcoin          IndexQuote `json:"Bitcoin"`
	Ethereum         IndexQuote `json:"Ethereum"`
	OverallSentiment string     `json:"overall_sentiment"`
}

// MarketSnapshot is the market summary consumed from the retrieval subsystem
type MarketSnapshot struct {
	OverallOutlook  string                `json:"overall_outlook"`
	EquityOutlook   string                `json:"equity_outlook"`
	BondOutlook     string                `json:"bond_outlook"`
	CryptoOutlook   string                `json:"crypto_outlook"`
	MajorIndices    map[string]IndexQuote `json:"major_indices,omitempty"`
	Sectors         map[string]string     `json:"sectors"`
	Commodities     map[string]IndexQuote `json:"commodities,omitempty"`
	Crypto          CryptoMarket          `json:"crypto"`
	InterestRates   string                `json:"interest_rates"`
	Inflation       string                `json:"inflation"`
	Volatility      string                `json:"volatility"`
	VolatilityIndex float64               `json:"volatility_index_vix"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// Clone returns a copy that shares no maps with s
func (s *MarketSnapshot) Clone() *MarketSnapshot {
	c := *s
	c.MajorIndices = cloneQuotes(s.MajorIndices)
	c.Commodities = cloneQuotes(s.Commodities)
	if s.Sectors != nil {
		c.Sectors = make(map[string]string, len(s.Sectors))
		for k, v := range s.Sectors {
			c.Sectors[k] = v
		}
	}
	return &c
}

func cloneQuotes(m map[string]IndexQuote) map[string]IndexQuote {
	if m == nil {
		return nil
	}
	out := make(map[string]IndexQuote, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// NeutralSnapshot is used when no provider data is available
func NeutralSnapshot() *MarketSnapshot {
	return &MarketSnapshot{
		OverallOutlook: OutlookNeutral,
		EquityOutlook:  OutlookNeutral,
		BondOutlook:    OutlookNeutral,
		CryptoOutlook:  OutlookNeutral,
		Sectors:        map[string]string{},
		Crypto:         CryptoMarket{OverallSentiment: OutlookNeutral},
		InterestRates:  "stable",
		Inflation:      "moderate",
		Volatility:     VolatilityNormal,
		UpdatedAt:      time.Now(),
	}
}

// QueryAnswer is the retrieval subsystem's free-text answer
type QueryAnswer struct {
	Answer  string   `json:"answer"`
	Context []string `json:"context"`
}

// RebalanceTolerancePct is the deviation band (percent of portfolio value)
// below which a class is left un-rebalanced
const RebalanceTolerancePct = 5.0
