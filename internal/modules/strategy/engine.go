// Package strategy derives target allocations from a user's risk profile,
// goals and the current market snapshot.
package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/events"
	"github.com/aristath/nexus/internal/modules/portfolio"
)

const (
	marketShiftPct    = 5.0
	goalShiftPct      = 5.0
	subcategoryShift  = 5.0
	shortHorizonGoals = 3 * 365 * 24 * time.Hour
)

// ProfileSource supplies the user inputs of a strategy
type ProfileSource interface {
	GetRiskProfile(ctx context.Context, userID string) (domain.RiskProfile, error)
	GetGoals(ctx context.Context, userID string) ([]portfolio.Goal, error)
}

// Strategy is a computed target allocation with the inputs it came from
type Strategy struct {
	Allocation  domain.Allocation  `json:"allocation"`
	RiskProfile domain.RiskProfile `json:"risk_profile"`
	Outlook     MarketInputs       `json:"market_conditions"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// MarketInputs are the snapshot fields the strategy reacts to
type MarketInputs struct {
	EquityOutlook string `json:"equity_outlook"`
	CryptoOutlook string `json:"crypto_outlook"`
	Volatility    string `json:"volatility"`
}

// Engine computes and caches one strategy per user
type Engine struct {
	profiles ProfileSource
	market   domain.MarketSnapshotProvider
	presets  Presets
	bus      *events.Bus
	cache    map[string]*Strategy
	mu       sync.RWMutex
	now      func() time.Time
	log      zerolog.Logger
}

// NewEngine creates a strategy engine
func NewEngine(profiles ProfileSource, market domain.MarketSnapshotProvider, presets Presets, bus *events.Bus, log zerolog.Logger) *Engine {
	return &Engine{
		profiles: profiles,
		market:   market,
		presets:  presets,
		bus:      bus,
		cache:    make(map[string]*Strategy),
		now:      time.Now,
		log:      log.With().Str("service", "strategy").Logger(),
	}
}

// GetTargetAllocation returns the cached allocation, computing it on first use
func (e *Engine) GetTargetAllocation(ctx context.Context, userID string) (domain.Allocation, error) {
	s, err := e.GetStrategy(ctx, userID)
	if err != nil {
		return domain.Allocation{}, err
	}
	return s.Allocation.Clone(), nil
}

// GetStrategy returns the cached strategy, computing it on first use
func (e *Engine) GetStrategy(ctx context.Context, userID string) (*Strategy, error) {
	e.mu.RLock()
	s, ok := e.cache[userID]
	e.mu.RUnlock()
	if ok {
		return s, nil
	}

	if _, err := e.ReevaluateStrategy(ctx, userID); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache[userID], nil
}

// Invalidate drops the cached strategy for a user
func (e *Engine) Invalidate(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, userID)
}

// ReevaluateStrategy recomputes the user's target allocation and replaces the cache entry
func (e *Engine) ReevaluateStrategy(ctx context.Context, userID string) (domain.Allocation, error) {
	profile, err := e.profiles.GetRiskProfile(ctx, userID)
	if err != nil {
		return domain.Allocation{}, fmt.Errorf("failed to get risk profile: %w", err)
	}
	goals, err := e.profiles.GetGoals(ctx, userID)
	if err != nil {
		return domain.Allocation{}, fmt.Errorf("failed to get goals: %w", err)
	}

	snapshot, err := e.market.GetMarketSummary(ctx)
	if err != nil || snapshot == nil {
		e.log.Warn().Err(err).Msg("Market snapshot unavailable, assuming neutral outlook")
		snapshot = domain.NeutralSnapshot()
	}

	inputs := MarketInputs{
		EquityOutlook: snapshot.EquityOutlook,
		CryptoOutlook: snapshot.CryptoOutlook,
		Volatility:    snapshot.Volatility,
	}
	alloc := e.Compute(profile.RiskLevel, goals, inputs)

	s := &Strategy{
		Allocation:  alloc,
		RiskProfile: profile,
		Outlook:     inputs,
		GeneratedAt: e.now().UTC(),
	}
	e.mu.Lock()
	e.cache[userID] = s
	e.mu.Unlock()

	topLevel := make(map[string]float64, len(alloc.TopLevel))
	for k, v := range alloc.TopLevel {
		topLevel[string(k)] = v
	}
	e.bus.Emit("strategy", &events.StrategyReevaluatedData{
		UserID:    userID,
		RiskLevel: string(profile.RiskLevel),
		TopLevel:  topLevel,
	})
	e.log.Info().
		Str("user_id", userID).
		Str("risk_level", string(profile.RiskLevel)).
		Interface("top_level", alloc.TopLevel).
		Msg("Strategy reevaluated")

	return alloc.Clone(), nil
}

// Compute derives an allocation from its inputs without touching the cache
func (e *Engine) Compute(level domain.RiskLevel, goals []portfolio.Goal, market MarketInputs) domain.Allocation {
	if !level.Valid() {
		level = domain.Moderate
	}

	top := make(map[string]float64, len(domain.AssetClasses))
	for class, v := range e.presets.TopLevel[level] {
		top[string(class)] = v
	}

	eq, bonds, cash, crypto := string(domain.Equity), string(domain.Bonds), string(domain.Cash), string(domain.Crypto)
	switch market.EquityOutlook {
	case domain.OutlookBullish:
		shift(top, bonds, eq, marketShiftPct)
	case domain.OutlookBearish:
		shift(top, eq, bonds, marketShiftPct)
	}
	switch market.CryptoOutlook {
	case domain.OutlookBullish:
		shift(top, bonds, crypto, marketShiftPct)
	case domain.OutlookBearish:
		shift(top, crypto, bonds, marketShiftPct)
	}

	now := e.now()
	for _, g := range goals {
		if g.TargetDate.Sub(now) < shortHorizonGoals {
			shift(top, eq, cash, goalShiftPct)
			break
		}
	}

	classKeys := make([]string, len(domain.AssetClasses))
	for i, c := range domain.AssetClasses {
		classKeys[i] = string(c)
	}
	normalized := normalize(top, classKeys)

	alloc := domain.NewAllocation()
	for _, class := range domain.AssetClasses {
		alloc.TopLevel[class] = normalized[string(class)]
	}

	equity := copyMap(e.presets.Equity[level])
	switch market.Volatility {
	case domain.VolatilityHigh:
		shift(equity, domain.SmallCap, domain.LargeCap, subcategoryShift)
	case domain.VolatilityLow:
		shift(equity, domain.LargeCap, domain.SmallCap, subcategoryShift)
	}
	alloc.Equity = normalize(equity, domain.EquitySubcategories)

	cryptoSubs := copyMap(e.presets.Crypto[level])
	switch market.CryptoOutlook {
	case domain.OutlookBullish:
		shift(cryptoSubs, domain.Bitcoin, domain.Altcoins, subcategoryShift)
	case domain.OutlookBearish:
		shift(cryptoSubs, domain.Altcoins, domain.Bitcoin, subcategoryShift)
	}
	alloc.Crypto = normalize(cryptoSubs, domain.CryptoSubcategories)

	return alloc
}

// shift moves pct from one key to another, then clamps both at zero
func shift(m map[string]float64, from, to string, pct float64) {
	m[from] -= pct
	m[to] += pct
	for k, v := range m {
		if v < 0 {
			m[k] = 0
		}
	}
}

func copyMap(src map[string]float64) map[string]float64 {
	dst := make(map[string]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// normalize scales m to sum to 100 at one decimal. The rounding residual is
// assigned to the largest entry so the result sums to exactly 100.
func normalize(m map[string]float64, keys []string) map[string]float64 {
	total := decimal.Zero
	for _, k := range keys {
		total = total.Add(decimal.NewFromFloat(m[k]))
	}

	out := make(map[string]float64, len(keys))
	if total.IsZero() {
		for _, k := range keys {
			out[k] = 0
		}
		return out
	}

	hundred := decimal.NewFromInt(100)
	sum := decimal.Zero
	largest := ""
	largestVal := decimal.NewFromInt(-1)
	rounded := make(map[string]decimal.Decimal, len(keys))
	for _, k := range keys {
		v := decimal.NewFromFloat(m[k]).Mul(hundred).Div(total).Round(1)
		rounded[k] = v
		sum = sum.Add(v)
		if v.GreaterThan(largestVal) {
			largest, largestVal = k, v
		}
	}
	if residual := hundred.Sub(sum); !residual.IsZero() {
		rounded[largest] = rounded[largest].Add(residual)
	}

	for k, v := range rounded {
		out[k] = v.InexactFloat64()
	}
	return out
}
