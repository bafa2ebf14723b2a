package workers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/transport"
)

func tradeTask(amount float64, action domain.TradeAction, allocation map[string]float64) Task {
	return Task{TaskPayload: transport.TaskPayload{
		TaskID:     "t1",
		UserID:     "u1",
		Amount:     amount,
		Action:     action,
		Allocation: allocation,
	}}
}

func TestTrader_SellSplitsByAllocation(t *testing.T) {
	trader := NewCryptoTrader(nil)

	resp := trader.Execute(context.Background(), tradeTask(-6000, domain.Sell, map[string]float64{
		domain.Bitcoin:  50,
		domain.Ethereum: 50,
	}))

	require.Equal(t, StatusCompleted, resp.Status, resp.Error)
	require.Len(t, resp.Trades, 2)
	for _, trade := range resp.Trades {
		assert.Equal(t, domain.Sell, trade.Action)
		assert.Equal(t, domain.Crypto, trade.Category)
	}
	assert.Equal(t, "BTC", resp.Trades[0].Symbol)
	assert.InDelta(t, 0.05, resp.Trades[0].Quantity, 1e-12)
	assert.Equal(t, "ETH", resp.Trades[1].Symbol)
	assert.InDelta(t, 1.0, resp.Trades[1].Quantity, 1e-12)
}

func TestTrader_InfersActionFromSign(t *testing.T) {
	trader := NewEquityTrader(nil)

	resp := trader.Execute(context.Background(), tradeTask(-480, "", map[string]float64{domain.LargeCap: 100}))

	require.Equal(t, StatusCompleted, resp.Status)
	require.Len(t, resp.Trades, 1)
	assert.Equal(t, domain.Sell, resp.Trades[0].Action)
	assert.Equal(t, 1.0, resp.Trades[0].Quantity)
	assert.Equal(t, domain.LargeCap, resp.Trades[0].Subcategory)
}

func TestTrader_Failures(t *testing.T) {
	trader := NewEquityTrader(nil)
	ctx := context.Background()

	resp := trader.Execute(ctx, tradeTask(0, domain.Buy, map[string]float64{domain.LargeCap: 100}))
	assert.Equal(t, StatusFailed, resp.Status)

	resp = trader.Execute(ctx, tradeTask(100, domain.Buy, map[string]float64{domain.Bitcoin: 100}))
	assert.Equal(t, StatusFailed, resp.Status)
	assert.Contains(t, resp.Error, "no tradable Equity allocation")

	resp = trader.Execute(ctx, tradeTask(100, "HOLD", map[string]float64{domain.LargeCap: 100}))
	assert.Equal(t, StatusFailed, resp.Status)

	resp = trader.Execute(ctx, tradeTask(0.00001, domain.Buy, map[string]float64{domain.LargeCap: 100}))
	assert.Equal(t, StatusFailed, resp.Status)
	assert.Equal(t, "amount too small to fill", resp.Error)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	resp = trader.Execute(cancelled, tradeTask(100, domain.Buy, map[string]float64{domain.LargeCap: 100}))
	assert.Equal(t, StatusFailed, resp.Status)
}

func TestRiskAnalyst_ValueAtRisk(t *testing.T) {
	resp := NewRiskAnalyst().Execute(context.Background(), Task{Fields: map[string]interface{}{
		"portfolio_value": 100000.0,
	}})

	require.Equal(t, StatusCompleted, resp.Status)
	v := resp.Data["value_at_risk"].(map[string]interface{})
	// 24% annual volatility at 95% is roughly a 2.5% one-day VaR
	assert.InDelta(t, 2487, v["amount"], 5)
	assert.Equal(t, 0.95, v["confidence_level"])
	assert.Equal(t, 1.0, v["time_horizon_days"])
}

func TestRiskAnalyst_StressTest(t *testing.T) {
	resp := NewRiskAnalyst().Execute(context.Background(), Task{Fields: map[string]interface{}{
		"analysis":        AnalysisStressTest,
		"portfolio_value": int64(100000),
	}})

	require.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, defaultScenario, resp.Data["scenario"])
	assert.Equal(t, -15000.0, resp.Data["estimated_impact"])
}

func TestRiskAnalyst_Failures(t *testing.T) {
	analyst := NewRiskAnalyst()
	ctx := context.Background()

	resp := analyst.Execute(ctx, Task{Fields: map[string]interface{}{"analysis": "defi_magic"}})
	assert.Equal(t, StatusFailed, resp.Status)
	assert.Contains(t, resp.Error, "Unsupported task type")

	resp = analyst.Execute(ctx, Task{Fields: map[string]interface{}{"analysis": AnalysisStressTest, "scenario": "Alien Invasion"}})
	assert.Equal(t, StatusFailed, resp.Status)

	resp = analyst.Execute(ctx, Task{Fields: map[string]interface{}{"confidence_level": 1.5}})
	assert.Equal(t, StatusFailed, resp.Status)
}
