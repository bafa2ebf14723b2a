package decision

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/nexus/internal/database"
	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/modules/market"
	"github.com/aristath/nexus/internal/modules/portfolio"
	"github.com/aristath/nexus/internal/modules/risk"
)

type fixedTarget struct {
	alloc domain.Allocation
}

func (f fixedTarget) GetTargetAllocation(ctx context.Context, userID string) (domain.Allocation, error) {
	return f.alloc, nil
}

func moderateTarget() domain.Allocation {
	a := domain.NewAllocation()
	a.TopLevel[domain.Equity] = 50
	a.TopLevel[domain.Bonds] = 30
	a.TopLevel[domain.Cash] = 10
	a.TopLevel[domain.Crypto] = 10
	return a
}

type fixture struct {
	engine *Engine
	ledger *portfolio.Ledger
	market *market.StaticProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	ledger := portfolio.NewLedger(portfolio.NewMemoryRepository(), nil, nil, log)
	analyzer := risk.NewAnalyzer(risk.Config{}, nil, nil, nil, log)
	provider := market.NewStaticProvider(nil)

	return &fixture{
		engine: NewEngine(fixedTarget{moderateTarget()}, ledger, analyzer, provider, nil, nil, log),
		ledger: ledger,
		market: provider,
	}
}

func TestGenerateRebalancingTrades_ZeroValue(t *testing.T) {
	f := newFixture(t)

	trades, err := f.engine.GenerateRebalancingTrades(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestGenerateRebalancingTrades_SellsBeforeBuys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.UpdateCash(ctx, "u1", 10000, portfolio.Deposit)
	require.NoError(t, err)

	// 100% cash against a 10% cash target
	trades, err := f.engine.GenerateRebalancingTrades(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, trades, 4)

	assert.Equal(t, domain.Sell, trades[0].Action)
	assert.Equal(t, domain.Cash, trades[0].AssetClass)
	assert.InDelta(t, 9000.0, trades[0].Amount, 0.01)

	assert.Equal(t, domain.Buy, trades[1].Action)
	assert.Equal(t, domain.Equity, trades[1].AssetClass)
	assert.InDelta(t, 5000.0, trades[1].Amount, 0.01)
	assert.Equal(t, domain.Bonds, trades[2].AssetClass)
	assert.Equal(t, domain.Crypto, trades[3].AssetClass)
	assert.Equal(t, "Rebalancing: Increasing underweight Equity allocation.", trades[1].Rationale)
}

func TestGenerateRebalancingTrades_InsideBandIsIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.UpdateCash(ctx, "u1", 1000, portfolio.Deposit)
	require.NoError(t, err)
	_, err = f.ledger.ApplyTrades(ctx, "u1", []domain.Trade{
		{Symbol: "SPY", Quantity: 4.6, Price: 100, Category: domain.Equity},
		{Symbol: "BND", Quantity: 3.2, Price: 100, Category: domain.Bonds, Subcategory: "Aggregate"},
		{Symbol: "BTC", Quantity: 1, Price: 80, Category: domain.Crypto, Subcategory: domain.Bitcoin},
	})
	require.NoError(t, err)

	trades, err := f.engine.GenerateRebalancingTrades(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestEvaluateInvestmentOpportunities(t *testing.T) {
	f := newFixture(t)
	snapshot := domain.NeutralSnapshot()
	snapshot.Sectors = map[string]string{"Technology": "strong"}
	snapshot.Crypto.OverallSentiment = "positive"
	snapshot.InterestRates = "rising"
	f.market.Set(snapshot)

	opps, err := f.engine.EvaluateInvestmentOpportunities(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, opps, 3)
	assert.Equal(t, "QQQ", opps[0].Asset)
	assert.Equal(t, 75, opps[0].Score)
	assert.Equal(t, "BTC", opps[1].Asset)
	assert.Equal(t, "TIP", opps[2].Asset)
	assert.Equal(t, "Low", opps[2].RiskLevel)
}

func TestEvaluateInvestmentOpportunities_NeutralMarket(t *testing.T) {
	f := newFixture(t)

	opps, err := f.engine.EvaluateInvestmentOpportunities(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, opps)
}

func TestMakeTacticalDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.UpdateCash(ctx, "u1", 10000, portfolio.Deposit)
	require.NoError(t, err)

	opp := Opportunity{Type: domain.Equity, Asset: "QQQ", Rationale: "Strong outlook for the technology sector.", Score: 75}
	d, err := f.engine.MakeTacticalDecision(ctx, "u1", opp)
	require.NoError(t, err)
	require.NotNil(t, d)

	assert.Equal(t, domain.Buy, d.Action)
	assert.Equal(t, 200.0, d.Amount)
	assert.Equal(t, TypeTactical, d.DecisionType)
	assert.Equal(t, "Tactical allocation based on opportunity score (75) and rationale: Strong outlook for the technology sector.", d.Rationale)
}

func TestMakeTacticalDecision_RejectsHighRisk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// All-in altcoins: volatility 60 scores far above 70
	_, err := f.ledger.ApplyTrades(ctx, "u1", []domain.Trade{
		{Symbol: "DOGE", Quantity: 1000, Price: 10, Category: domain.Crypto, Subcategory: domain.Altcoins},
	})
	require.NoError(t, err)
	_, err = f.ledger.UpdateCash(ctx, "u1", 20000, portfolio.Deposit)
	require.NoError(t, err)

	d, err := f.engine.MakeTacticalDecision(ctx, "u1", Opportunity{Asset: "BTC", Score: 80})
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestMakeTacticalDecision_RejectsInsufficientCash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.UpdateCash(ctx, "u1", 1000, portfolio.Deposit)
	require.NoError(t, err)
	_, err = f.ledger.ApplyTrades(ctx, "u1", []domain.Trade{
		{Symbol: "BND", Quantity: 10, Price: 99.5, Category: domain.Bonds},
		{Symbol: "SHV", Quantity: 1, Price: 4, Category: domain.Cash},
	})
	require.NoError(t, err)

	d, err := f.engine.MakeTacticalDecision(ctx, "u1", Opportunity{Asset: "TIP", Score: 65})
	require.NoError(t, err)
	assert.Nil(t, d, "cash 1 cannot cover a 20 trade")
}

func TestDecisionLog_Memory(t *testing.T) {
	f := newFixture(t)
	testDecisionLog(t, f.engine)
}

func TestDecisionLog_SQLite(t *testing.T) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "decisions.db"),
		Profile: database.ProfileStandard,
		Name:    database.NameDecisions,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	log := zerolog.New(nil).Level(zerolog.Disabled)
	e := NewEngine(nil, nil, nil, nil, NewSQLiteRepository(db.Conn(), log), nil, log)
	testDecisionLog(t, e)
}

func testDecisionLog(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()

	_, err := e.LogDecision(ctx, "u1", "task-1", TypeCashInvestment, "Invested $5000.00 in Equity", map[string]interface{}{"amount": 5000.0})
	require.NoError(t, err)
	_, err = e.LogDecision(ctx, "u1", "task-2", TypeCashInvestment, "Invested $1000.00 in Crypto", nil)
	require.NoError(t, err)
	_, err = e.LogDecision(ctx, "u2", "task-3", TypeAssetLiquidation, "other user", nil)
	require.NoError(t, err)

	n, err := e.RecordOutcome(ctx, "u1", "task-1", OutcomeSuccess, map[string]interface{}{"status": "COMPLETED"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Outcomes are written once
	n, err = e.RecordOutcome(ctx, "u1", "task-1", OutcomeFailed, "late failure")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	entries, err := e.GetRecentDecisions(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var first Entry
	for _, entry := range entries {
		if entry.TaskID == "task-1" {
			first = entry
		}
	}
	assert.Equal(t, OutcomeSuccess, first.Outcome)
	assert.JSONEq(t, `{"status":"COMPLETED"}`, first.OutcomeDetails)
	assert.NotNil(t, first.OutcomeAt)
	assert.Equal(t, 5000.0, first.Data["amount"])

	limited, err := e.GetRecentDecisions(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
