package workers

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/transport"
)

// Instrument is the simulated venue's quote for one subcategory
type Instrument struct {
	Symbol string
	Name   string
	Price  float64
}

// DefaultEquityInstruments maps equity subcategories to index funds
func DefaultEquityInstruments() map[string]Instrument {
	return map[string]Instrument{
		domain.LargeCap:        {Symbol: "VOO", Name: "Vanguard S&P 500 ETF", Price: 480},
		domain.MidCap:          {Symbol: "VO", Name: "Vanguard Mid-Cap ETF", Price: 240},
		domain.SmallCap:        {Symbol: "VB", Name: "Vanguard Small-Cap ETF", Price: 220},
		domain.International:   {Symbol: "VXUS", Name: "Vanguard Total International Stock ETF", Price: 60},
		domain.EmergingMarkets: {Symbol: "VWO", Name: "Vanguard FTSE Emerging Markets ETF", Price: 42},
	}
}

// DefaultCryptoInstruments maps crypto subcategories to coins
func DefaultCryptoInstruments() map[string]Instrument {
	return map[string]Instrument{
		domain.Bitcoin:  {Symbol: "BTC", Name: "Bitcoin", Price: 60000},
		domain.Ethereum: {Symbol: "ETH", Name: "Ethereum", Price: 3000},
		domain.Altcoins: {Symbol: "SOL", Name: "Solana", Price: 150},
	}
}

// Trader simulates order execution for one asset class. The task amount is
// split across the subcategory allocation and filled at the instrument
// price; negative amounts sell.
type Trader struct {
	capability  string
	class       domain.AssetClass
	prefix      string
	instruments map[string]Instrument
	precision   int32
}

// NewEquityTrader creates the equity_trader executor
func NewEquityTrader(instruments map[string]Instrument) *Trader {
	if instruments == nil {
		instruments = DefaultEquityInstruments()
	}
	return &Trader{
		capability:  domain.CapabilityEquityTrader,
		class:       domain.Equity,
		prefix:      "EQ",
		instruments: instruments,
		precision:   4,
	}
}

// NewCryptoTrader creates the crypto_trader executor
func NewCryptoTrader(instruments map[string]Instrument) *Trader {
	if instruments == nil {
		instruments = DefaultCryptoInstruments()
	}
	return &Trader{
		capability:  domain.CapabilityCryptoTrader,
		class:       domain.Crypto,
		prefix:      "CR",
		instruments: instruments,
		precision:   8,
	}
}

// Capability implements Executor
func (t *Trader) Capability() string {
	return t.capability
}

// Execute implements Executor
func (t *Trader) Execute(ctx context.Context, task Task) transport.Response {
	if err := ctx.Err(); err != nil {
		return transport.Response{Status: StatusFailed, Error: err.Error()}
	}
	if task.Amount == 0 {
		return transport.Response{Status: StatusFailed, Error: "amount must be non-zero"}
	}

	action := task.Action
	if action == "" {
		action = domain.Buy
		if task.Amount < 0 {
			action = domain.Sell
		}
	}
	if action != domain.Buy && action != domain.Sell {
		return transport.Response{Status: StatusFailed, Error: fmt.Sprintf("unsupported action %q", action)}
	}

	weights := t.weights(task.Allocation)
	if len(weights) == 0 {
		return transport.Response{Status: StatusFailed, Error: fmt.Sprintf("no tradable %s allocation", t.class)}
	}

	total := decimal.NewFromFloat(math.Abs(task.Amount))
	var weightSum float64
	for _, w := range weights {
		weightSum += w.pct
	}

	trades := make([]domain.Trade, 0, len(weights))
	for _, w := range weights {
		notional := total.Mul(decimal.NewFromFloat(w.pct / weightSum))
		qty := notional.Div(decimal.NewFromFloat(w.instrument.Price)).Round(t.precision)
		if qty.IsZero() {
			continue
		}
		quantity, _ := qty.Float64()
		trades = append(trades, domain.Trade{
			Symbol:      w.instrument.Symbol,
			Name:        w.instrument.Name,
			Quantity:    quantity,
			Price:       w.instrument.Price,
			Action:      action,
			Category:    t.class,
			Subcategory: w.subcategory,
		})
	}
	if len(trades) == 0 {
		return transport.Response{Status: StatusFailed, Error: "amount too small to fill"}
	}

	return transport.Response{
		Status: StatusCompleted,
		Trades: trades,
		Data: map[string]interface{}{
			"confirmation_id": fmt.Sprintf("%s_TRADE_%s", t.prefix, strings.ToUpper(uuid.New().String()[:8])),
			"message":         fmt.Sprintf("Simulated execution of %s $%s across %d %s holdings", action, domain.FormatMoney(math.Abs(task.Amount)), len(trades), strings.ToLower(string(t.class))),
		},
	}
}

type weight struct {
	subcategory string
	instrument  Instrument
	pct         float64
}

func (t *Trader) weights(allocation map[string]float64) []weight {
	out := make([]weight, 0, len(allocation))
	for sub, pct := range allocation {
		inst, ok := t.instruments[sub]
		if !ok || pct <= 0 || inst.Price <= 0 {
			continue
		}
		out = append(out, weight{subcategory: sub, instrument: inst, pct: pct})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].pct != out[j].pct {
			return out[i].pct > out[j].pct
		}
		return out[i].subcategory < out[j].subcategory
	})
	return out
}
