package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/events"
	"github.com/aristath/nexus/internal/modules/decision"
	"github.com/aristath/nexus/internal/modules/market"
	"github.com/aristath/nexus/internal/modules/portfolio"
	"github.com/aristath/nexus/internal/modules/risk"
	"github.com/aristath/nexus/internal/modules/strategy"
	"github.com/aristath/nexus/internal/orchestrator"
	"github.com/aristath/nexus/internal/transport"
)

type fixture struct {
	coord     *Coordinator
	ledger    *portfolio.Ledger
	repo      *portfolio.MemoryRepository
	orch      *orchestrator.Orchestrator
	analyzer  *risk.Analyzer
	decisions *decision.Engine
	metrics   *Metrics
	bus       *events.Bus
}

type fixtureOption func(*orchestrator.Config)

func withTaskTimeout(d time.Duration) fixtureOption {
	return func(c *orchestrator.Config) { c.DefaultTimeout = d }
}

func newFixture(t *testing.T, dispatcher orchestrator.Dispatcher, opts ...fixtureOption) *fixture {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)

	bus := events.NewBus(log)
	repo := portfolio.NewMemoryRepository()
	ledger := portfolio.NewLedger(repo, nil, bus, log)
	provider := market.NewStaticProvider(nil)
	strat := strategy.NewEngine(ledger, provider, strategy.DefaultPresets(), bus, log)
	analyzer := risk.NewAnalyzer(risk.Config{}, nil, nil, bus, log)
	decisions := decision.NewEngine(strat, ledger, analyzer, provider, nil, bus, log)

	cfg := orchestrator.Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	orch := orchestrator.New(cfg, dispatcher, nil, bus, log)
	metrics := NewMetrics(prometheus.NewRegistry())

	return &fixture{
		coord:     New(ledger, strat, analyzer, decisions, orch, provider, metrics, bus, log),
		ledger:    ledger,
		repo:      repo,
		orch:      orch,
		analyzer:  analyzer,
		decisions: decisions,
		metrics:   metrics,
		bus:       bus,
	}
}

func (f *fixture) registerTraders(t *testing.T) {
	t.Helper()
	require.NoError(t, f.orch.RegisterWorker("equity-1", []string{domain.CapabilityEquityTrader}, ""))
	require.NoError(t, f.orch.RegisterWorker("crypto-1", []string{domain.CapabilityCryptoTrader}, ""))
}

// seed stores a portfolio worth 10000: 100 cash, 7000 equity, 2900 bonds
func (f *fixture) seed(t *testing.T, userID string) {
	t.Helper()
	p := portfolio.NewPortfolio(userID, time.Now().UTC())
	p.Cash = 100
	p.Assets = []portfolio.Position{
		{Symbol: "VTI", Name: "VTI", Category: domain.Equity, Subcategory: domain.LargeCap, Quantity: 70, Price: 100},
		{Symbol: "BND", Name: "BND", Category: domain.Bonds, Subcategory: "Aggregate", Quantity: 29, Price: 100},
	}
	p.Recalculate()
	require.NoError(t, f.repo.Save(context.Background(), p))
}

func (f *fixture) decisionFor(t *testing.T, userID, taskID string) decision.Entry {
	t.Helper()
	entries, err := f.decisions.GetRecentDecisions(context.Background(), userID, 50)
	require.NoError(t, err)
	for _, e := range entries {
		if e.TaskID == taskID {
			return e
		}
	}
	t.Fatalf("no decision for task %s", taskID)
	return decision.Entry{}
}

func (f *fixture) task(t *testing.T, id string) orchestrator.Task {
	t.Helper()
	task, ok := f.orch.GetTask(id)
	require.True(t, ok, "task %s not tracked", id)
	return task
}

func TestProcessCashFlow_DepositInvestsPerTarget(t *testing.T) {
	f := newFixture(t, nil)
	f.registerTraders(t)
	ctx := context.Background()

	_, err := f.coord.UpdateRiskProfile(ctx, "u1", domain.RiskProfile{RiskLevel: domain.Aggressive, RiskScore: 80})
	require.NoError(t, err)

	result, err := f.coord.ProcessCashFlow(ctx, "u1", 1000, portfolio.Deposit)
	require.NoError(t, err)
	assert.Equal(t, CashFlowApplied, result.Status)
	assert.Equal(t, 1000.0, result.Portfolio.Cash)
	require.Len(t, result.TaskIDs, 2)

	equity := f.task(t, result.TaskIDs[0])
	assert.Equal(t, domain.CapabilityEquityTrader, equity.Type)
	assert.Equal(t, "equity-1", equity.WorkerID)
	assert.Equal(t, orchestrator.StatusPending, equity.Status)
	assert.Equal(t, 700.0, equity.Payload["amount"])
	assert.Equal(t, "BUY", equity.Payload["action"])
	assert.Equal(t, "u1", equity.Payload["user_id"])
	assert.Equal(t, result.TaskIDs[0], equity.Payload["task_id"])
	alloc, ok := equity.Payload["allocation"].(map[string]float64)
	require.True(t, ok)
	assert.Equal(t, 40.0, alloc[domain.LargeCap])

	crypto := f.task(t, result.TaskIDs[1])
	assert.Equal(t, domain.CapabilityCryptoTrader, crypto.Type)
	assert.Equal(t, 150.0, crypto.Payload["amount"])

	entries, err := f.decisions.GetRecentDecisions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	descriptions := make([]string, len(entries))
	for i, e := range entries {
		assert.Equal(t, decision.TypeCashInvestment, e.DecisionType)
		descriptions[i] = e.Description
	}
	assert.ElementsMatch(t, []string{
		"Allocated $700.00 to Equity",
		"Allocated $100.00 to Bonds",
		"Allocated $150.00 to Crypto",
	}, descriptions)

	bonds := entries[1]
	assert.Empty(t, bonds.TaskID)
	assert.Equal(t, "New deposit investment", bonds.Data["reason"])
}

func TestProcessCashFlow_DepositWithoutWorkers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	result, err := f.coord.ProcessCashFlow(ctx, "u1", 1000, portfolio.Deposit)
	require.NoError(t, err)
	assert.Empty(t, result.TaskIDs)

	entries, err := f.decisions.GetRecentDecisions(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		if e.Data["asset_class"] == string(domain.Bonds) {
			assert.NotContains(t, e.Data, "delegation_error")
			continue
		}
		assert.Contains(t, e.Data["delegation_error"], "no capable worker")
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.delegationFailures))
}

func TestProcessCashFlow_SmallDepositSkipsTinyClasses(t *testing.T) {
	f := newFixture(t, nil)
	f.registerTraders(t)

	// Moderate: 50/30/10/10, so crypto gets 5 and is skipped
	result, err := f.coord.ProcessCashFlow(context.Background(), "u1", 50, portfolio.Deposit)
	require.NoError(t, err)
	require.Len(t, result.TaskIDs, 1)
	assert.Equal(t, domain.CapabilityEquityTrader, f.task(t, result.TaskIDs[0]).Type)
	assert.Equal(t, 25.0, f.task(t, result.TaskIDs[0]).Payload["amount"])
}

func TestProcessCashFlow_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.coord.ProcessCashFlow(ctx, "", 100, portfolio.Deposit)
	assert.True(t, domain.IsValidationError(err))

	_, err = f.coord.ProcessCashFlow(ctx, "u1", -5, portfolio.Deposit)
	assert.True(t, domain.IsValidationError(err))

	_, err = f.coord.ProcessCashFlow(ctx, "u1", 100, portfolio.BuyTx)
	assert.True(t, domain.IsValidationError(err))
}

func TestProcessCashFlow_WithdrawalFromCash(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seed(t, "u1")

	result, err := f.coord.ProcessCashFlow(ctx, "u1", 60, portfolio.Withdrawal)
	require.NoError(t, err)
	assert.Equal(t, CashFlowApplied, result.Status)
	assert.Equal(t, 40.0, result.Portfolio.Cash)
	assert.Empty(t, result.TaskIDs)
}

func TestProcessCashFlow_WithdrawalLiquidatesAndSettles(t *testing.T) {
	f := newFixture(t, nil)
	f.registerTraders(t)
	ctx := context.Background()
	f.seed(t, "u1")

	result, err := f.coord.ProcessCashFlow(ctx, "u1", 500, portfolio.Withdrawal)
	require.NoError(t, err)
	assert.Equal(t, CashFlowPending, result.Status)
	assert.Equal(t, []LiquidationStep{
		{AssetClass: domain.Cash, Amount: 100},
		{AssetClass: domain.Equity, Amount: 400},
	}, result.Plan)
	require.Len(t, result.TaskIDs, 1)
	require.NotNil(t, result.Withdrawal)
	assert.Equal(t, WithdrawalPending, result.Withdrawal.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.pendingWithdrawals))

	sell := f.task(t, result.TaskIDs[0])
	assert.Equal(t, domain.CapabilityEquityTrader, sell.Type)
	assert.Equal(t, -400.0, sell.Payload["amount"])
	assert.Equal(t, "SELL", sell.Payload["action"])

	entry := f.decisionFor(t, "u1", result.TaskIDs[0])
	assert.Equal(t, decision.TypeAssetLiquidation, entry.DecisionType)
	assert.Equal(t, "Liquidated $400.00 of Equity", entry.Description)
	assert.Equal(t, "Withdrawal request", entry.Data["reason"])

	// Cash is still 100 until the sale lands
	cash, err := f.ledger.GetCashBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, cash)

	require.NoError(t, f.orch.CompleteTask(transport.Response{
		TaskID: result.TaskIDs[0],
		Status: "COMPLETED",
		Trades: []domain.Trade{{Symbol: "VTI", Quantity: 4, Price: 100, Action: domain.Sell, Category: domain.Equity}},
	}))

	withdrawals := f.coord.GetWithdrawals("u1")
	require.Len(t, withdrawals, 1)
	assert.Equal(t, WithdrawalSettled, withdrawals[0].Status)
	assert.NotNil(t, withdrawals[0].SettledAt)

	p, err := f.ledger.GetPortfolio(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.Cash)
	assert.Equal(t, 9500.0, p.TotalValue)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.pendingWithdrawals))

	entry = f.decisionFor(t, "u1", result.TaskIDs[0])
	assert.Equal(t, decision.OutcomeSuccess, entry.Outcome)
}

func TestProcessCashFlow_WithdrawalFailsWhenLiquidationFails(t *testing.T) {
	f := newFixture(t, nil)
	f.registerTraders(t)
	ctx := context.Background()
	f.seed(t, "u1")

	result, err := f.coord.ProcessCashFlow(ctx, "u1", 500, portfolio.Withdrawal)
	require.NoError(t, err)
	require.Len(t, result.TaskIDs, 1)

	require.NoError(t, f.orch.CompleteTask(transport.Response{
		TaskID: result.TaskIDs[0],
		Status: "FAILED",
		Error:  "market closed",
	}))

	withdrawals := f.coord.GetWithdrawals("u1")
	require.Len(t, withdrawals, 1)
	assert.Equal(t, WithdrawalFailed, withdrawals[0].Status)
	assert.Contains(t, withdrawals[0].Error, "insufficient funds")

	cash, err := f.ledger.GetCashBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, cash)
}

func TestProcessCashFlow_WithdrawalBeyondPortfolioValue(t *testing.T) {
	f := newFixture(t, nil)
	f.registerTraders(t)
	f.seed(t, "u1")

	_, err := f.coord.ProcessCashFlow(context.Background(), "u1", 20000, portfolio.Withdrawal)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Empty(t, f.coord.GetWithdrawals("u1"))
}

func TestProcessCashFlow_WithdrawalWithNothingToDelegate(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "u1")

	_, err := f.coord.ProcessCashFlow(context.Background(), "u1", 500, portfolio.Withdrawal)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Empty(t, f.coord.GetWithdrawals("u1"))
}

func TestProcessCashFlow_WithdrawalSellsEquityWhenBondsOverweight(t *testing.T) {
	f := newFixture(t, nil)
	f.registerTraders(t)
	ctx := context.Background()

	p := portfolio.NewPortfolio("u1", time.Now().UTC())
	p.Cash = 100
	p.Assets = []portfolio.Position{
		{Symbol: "VTI", Name: "VTI", Category: domain.Equity, Subcategory: domain.LargeCap, Quantity: 50, Price: 100},
		{Symbol: "BND", Name: "BND", Category: domain.Bonds, Subcategory: "Aggregate", Quantity: 49, Price: 100},
	}
	p.Recalculate()
	require.NoError(t, f.repo.Save(ctx, p))

	result, err := f.coord.ProcessCashFlow(ctx, "u1", 500, portfolio.Withdrawal)
	require.NoError(t, err)
	assert.Equal(t, CashFlowPending, result.Status)
	assert.Equal(t, []LiquidationStep{
		{AssetClass: domain.Cash, Amount: 100},
		{AssetClass: domain.Equity, Amount: 400},
	}, result.Plan)
	require.Len(t, result.TaskIDs, 1)
	assert.Equal(t, domain.CapabilityEquityTrader, f.task(t, result.TaskIDs[0]).Type)
}

func TestProcessCashFlow_WithdrawalBeyondLiquidatableValue(t *testing.T) {
	f := newFixture(t, nil)
	f.registerTraders(t)
	f.seed(t, "u1")

	// 10000 total, but 2900 sits in bonds that no worker can sell
	_, err := f.coord.ProcessCashFlow(context.Background(), "u1", 8000, portfolio.Withdrawal)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Empty(t, f.coord.GetWithdrawals("u1"))
}

type failingStrategy struct{}

func (failingStrategy) GetTargetAllocation(ctx context.Context, userID string) (domain.Allocation, error) {
	return domain.Allocation{}, errors.New("presets unavailable")
}

func (failingStrategy) ReevaluateStrategy(ctx context.Context, userID string) (domain.Allocation, error) {
	return domain.Allocation{}, errors.New("presets unavailable")
}

func TestProcessCashFlow_DepositLeavesLedgerUntouchedOnStrategyError(t *testing.T) {
	f := newFixture(t, nil)
	f.registerTraders(t)
	ctx := context.Background()
	f.seed(t, "u1")

	coord := New(f.ledger, failingStrategy{}, f.analyzer, f.decisions, f.orch, market.NewStaticProvider(nil), nil, f.bus,
		zerolog.New(nil).Level(zerolog.Disabled))

	_, err := coord.ProcessCashFlow(ctx, "u1", 1000, portfolio.Deposit)
	require.Error(t, err)

	cash, err := f.ledger.GetCashBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, cash)
}

func TestHandleWorkerResponse_CompletedAppliesTrades(t *testing.T) {
	f := newFixture(t, nil)
	f.registerTraders(t)
	ctx := context.Background()

	result, err := f.coord.ProcessCashFlow(ctx, "u1", 1000, portfolio.Deposit)
	require.NoError(t, err)
	require.NotEmpty(t, result.TaskIDs)
	equityTask := result.TaskIDs[0]

	require.NoError(t, f.orch.CompleteTask(transport.Response{
		TaskID: equityTask,
		Status: "COMPLETED",
		Trades: []domain.Trade{{Symbol: "VTI", Quantity: 2, Price: 250, Action: domain.Buy, Category: domain.Equity, Subcategory: domain.LargeCap}},
	}))

	p, err := f.ledger.GetPortfolio(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 500.0, p.Cash)
	require.Len(t, p.Assets, 1)
	assert.Equal(t, "VTI", p.Assets[0].Symbol)

	entry := f.decisionFor(t, "u1", equityTask)
	assert.Equal(t, decision.OutcomeSuccess, entry.Outcome)
	assert.Contains(t, entry.OutcomeDetails, `"applied":1`)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.outcomes.WithLabelValues(decision.OutcomeSuccess)))
}

func TestHandleWorkerResponse_FailedLogsExecutionFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.registerTraders(t)
	ctx := context.Background()

	result, err := f.coord.ProcessCashFlow(ctx, "u1", 1000, portfolio.Deposit)
	require.NoError(t, err)
	require.Len(t, result.TaskIDs, 2)
	cryptoTask := result.TaskIDs[1]

	require.NoError(t, f.orch.CompleteTask(transport.Response{TaskID: cryptoTask, Status: "FAILED", Error: "exchange down"}))

	entry := f.decisionFor(t, "u1", cryptoTask)
	assert.Equal(t, decision.OutcomeFailed, entry.Outcome)
	assert.Contains(t, entry.OutcomeDetails, "exchange down")

	failures, err := f.analyzer.ListExecutionFailures(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, domain.CapabilityCryptoTrader, failures[0].WorkerType)
	assert.Equal(t, "exchange down", failures[0].Error)

	cash, err := f.ledger.GetCashBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, cash)
}

func TestHandleWorkerResponse_TimeoutRecordsOutcome(t *testing.T) {
	f := newFixture(t, nil, withTaskTimeout(time.Millisecond))
	f.registerTraders(t)
	ctx := context.Background()

	result, err := f.coord.ProcessCashFlow(ctx, "u1", 1000, portfolio.Deposit)
	require.NoError(t, err)
	require.Len(t, result.TaskIDs, 2)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 2, f.orch.SweepExpired())

	for _, id := range result.TaskIDs {
		entry := f.decisionFor(t, "u1", id)
		assert.Equal(t, decision.OutcomeTimeout, entry.Outcome)
	}

	failures, err := f.analyzer.ListExecutionFailures(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	workerTypes := []string{failures[0].WorkerType, failures[1].WorkerType}
	assert.ElementsMatch(t, []string{domain.CapabilityEquityTrader, domain.CapabilityCryptoTrader}, workerTypes)
	for _, failure := range failures {
		assert.Equal(t, "Task timed out", failure.Error)
	}
}

func TestHandleWorkerResponse_UnknownTaskIgnored(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	err := f.coord.HandleWorkerResponse(ctx, transport.Response{
		TaskID: "ghost",
		Status: "COMPLETED",
		Trades: []domain.Trade{{Symbol: "VTI", Quantity: 1, Price: 1}},
	})
	require.NoError(t, err)

	p, err := f.ledger.GetPortfolio(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, p.Assets)
}

func TestHandleWorkerResponse_RejectsNonTerminalStatus(t *testing.T) {
	f := newFixture(t, nil)
	err := f.coord.HandleWorkerResponse(context.Background(), transport.Response{TaskID: "t1", Status: "RUNNING"})
	assert.True(t, domain.IsValidationError(err))
}

func TestHandleWorkerResponse_DuplicateIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.registerTraders(t)
	ctx := context.Background()

	result, err := f.coord.ProcessCashFlow(ctx, "u1", 1000, portfolio.Deposit)
	require.NoError(t, err)
	resp := transport.Response{
		TaskID: result.TaskIDs[0],
		Status: "COMPLETED",
		Trades: []domain.Trade{{Symbol: "VTI", Quantity: 1, Price: 100, Action: domain.Buy}},
	}
	require.NoError(t, f.orch.CompleteTask(resp))
	require.NoError(t, f.coord.HandleWorkerResponse(ctx, resp))

	cash, err := f.ledger.GetCashBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 900.0, cash)
}

// instantDispatcher completes every task while it is being delegated
type instantDispatcher struct {
	orch *orchestrator.Orchestrator
}

func (d *instantDispatcher) Send(ctx context.Context, env transport.Envelope) error {
	if env.Kind != transport.KindTask {
		return nil
	}
	task, err := env.DecodeTask()
	if err != nil {
		return err
	}
	return d.orch.CompleteTask(transport.Response{
		TaskID: task.TaskID,
		Status: "COMPLETED",
		Trades: []domain.Trade{{
			Symbol:   "FILL-" + env.Capability,
			Quantity: task.Amount / 100,
			Price:    100,
			Action:   task.Action,
			Category: domain.Equity,
		}},
	})
}

func TestHandleWorkerResponse_ResponseBeforeDecisionLogged(t *testing.T) {
	dispatcher := &instantDispatcher{}
	f := newFixture(t, dispatcher)
	dispatcher.orch = f.orch
	f.registerTraders(t)
	ctx := context.Background()

	result, err := f.coord.ProcessCashFlow(ctx, "u1", 1000, portfolio.Deposit)
	require.NoError(t, err)
	require.Len(t, result.TaskIDs, 2)

	for _, id := range result.TaskIDs {
		entry := f.decisionFor(t, "u1", id)
		assert.Equal(t, decision.OutcomeSuccess, entry.Outcome, "task %s", id)
	}

	// Moderate: 500 equity and 100 crypto were bought
	cash, err := f.ledger.GetCashBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 400.0, cash)
}

func TestUpdateUserSettings_CancelsPendingTasks(t *testing.T) {
	f := newFixture(t, nil)
	f.registerTraders(t)
	ctx := context.Background()

	result, err := f.coord.ProcessCashFlow(ctx, "u1", 1000, portfolio.Deposit)
	require.NoError(t, err)
	require.Len(t, result.TaskIDs, 2)
	running, pending := result.TaskIDs[0], result.TaskIDs[1]
	require.NoError(t, f.orch.MarkRunning(running))

	settings, err := f.coord.UpdateUserSettings(ctx, "u1", false)
	require.NoError(t, err)
	assert.False(t, settings.Settings.TradingEnabled)
	assert.Equal(t, []string{pending}, settings.Cancelled)

	assert.Equal(t, orchestrator.StatusCancelled, f.orch.GetTaskStatus(pending))
	assert.Equal(t, orchestrator.StatusRunning, f.orch.GetTaskStatus(running))

	entry := f.decisionFor(t, "u1", pending)
	assert.Equal(t, decision.OutcomeCancelled, entry.Outcome)
	assert.Contains(t, entry.OutcomeDetails, "Trading disabled by user")

	// New deposits are recorded but not traded
	again, err := f.coord.ProcessCashFlow(ctx, "u1", 1000, portfolio.Deposit)
	require.NoError(t, err)
	assert.Empty(t, again.TaskIDs)
}

func TestUpdateUserSettings_EnableCancelsNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.registerTraders(t)
	ctx := context.Background()

	_, err := f.coord.ProcessCashFlow(ctx, "u1", 1000, portfolio.Deposit)
	require.NoError(t, err)

	settings, err := f.coord.UpdateUserSettings(ctx, "u1", true)
	require.NoError(t, err)
	assert.Empty(t, settings.Cancelled)
}

func TestUpdateRiskProfile_RebalancesDriftedPortfolio(t *testing.T) {
	f := newFixture(t, nil)
	f.registerTraders(t)
	ctx := context.Background()
	f.seed(t, "u1")

	result, err := f.coord.UpdateRiskProfile(ctx, "u1", domain.RiskProfile{RiskLevel: domain.Conservative, RiskScore: 20})
	require.NoError(t, err)
	assert.True(t, result.Rebalanced)
	assert.Equal(t, 30.0, result.Target.TopLevel[domain.Equity])

	// Conservative 30/50/15/5 against 70/29/1/0: equity and crypto trade
	require.Len(t, result.TaskIDs, 2)
	equity := f.task(t, result.TaskIDs[0])
	assert.Equal(t, domain.CapabilityEquityTrader, equity.Type)
	assert.Equal(t, -4000.0, equity.Payload["amount"])
	assert.Equal(t, "SELL", equity.Payload["action"])
	crypto := f.task(t, result.TaskIDs[1])
	assert.Equal(t, 500.0, crypto.Payload["amount"])
	assert.Equal(t, "BUY", crypto.Payload["action"])

	entry := f.decisionFor(t, "u1", result.TaskIDs[0])
	assert.Equal(t, decision.TypeAllocationChange, entry.DecisionType)
	assert.Equal(t, "Adjusted Equity allocation by -40.00%", entry.Description)
	assert.Equal(t, "Portfolio rebalancing", entry.Data["reason"])

	entries, err := f.decisions.GetRecentDecisions(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestUpdateRiskProfile_Validation(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.coord.UpdateRiskProfile(context.Background(), "u1", domain.RiskProfile{RiskLevel: "Reckless", RiskScore: 50})
	assert.True(t, domain.IsValidationError(err))
}

func TestAddGoal_ReevaluatesStrategy(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	goal, result, err := f.coord.AddGoal(ctx, "u1", portfolio.GoalInput{
		Name:         "House",
		TargetAmount: 50000,
		TargetDate:   time.Now().AddDate(1, 0, 0),
		Priority:     portfolio.PriorityHigh,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, goal.ID)
	assert.False(t, result.Rebalanced)
	// A goal within three years moves 5 points from equity to cash
	assert.Equal(t, 45.0, result.Target.TopLevel[domain.Equity])
	assert.Equal(t, 15.0, result.Target.TopLevel[domain.Cash])

	_, _, err = f.coord.AddGoal(ctx, "u1", portfolio.GoalInput{Name: "Boat", TargetAmount: -1, TargetDate: time.Now()})
	assert.True(t, domain.IsValidationError(err))
}

func TestPurgeStale(t *testing.T) {
	f := newFixture(t, nil)
	f.registerTraders(t)
	ctx := context.Background()

	result, err := f.coord.ProcessCashFlow(ctx, "u1", 1000, portfolio.Deposit)
	require.NoError(t, err)
	require.NoError(t, f.orch.CompleteTask(transport.Response{TaskID: result.TaskIDs[0], Status: "COMPLETED"}))
	assert.Equal(t, 2, f.coord.TrackedTasks())

	assert.Equal(t, 0, f.coord.PurgeStale())

	later := time.Now().Add(25 * time.Hour)
	f.coord.now = func() time.Time { return later }
	// The finished entry is dropped; the orchestrator still tracks the other
	assert.Equal(t, 1, f.coord.PurgeStale())
	assert.Equal(t, 1, f.coord.TrackedTasks())

}

func TestPurgeStale_DropsTasksTheOrchestratorForgot(t *testing.T) {
	f := newFixture(t, nil)

	f.coord.mu.Lock()
	f.coord.index["gone"] = &taskEntry{userID: "u1", createdAt: time.Now().Add(-48 * time.Hour), ready: true}
	f.coord.orphans["stray"] = orphan{seen: time.Now().Add(-time.Hour)}
	f.coord.mu.Unlock()

	assert.Equal(t, 1, f.coord.PurgeStale())
	assert.Equal(t, 0, f.coord.TrackedTasks())
	assert.Empty(t, f.coord.orphans)
}

func TestGetPortfolioData(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, "u1")

	data, err := f.coord.GetPortfolioData(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, data.Portfolio.TotalValue)
	assert.Equal(t, 70.0, data.Allocation.TopLevel[domain.Equity])
	assert.Equal(t, 50.0, data.TargetAllocation.TopLevel[domain.Equity])
	assert.True(t, data.NeedsRebalancing)

	_, err = f.coord.GetPortfolioData(context.Background(), "")
	assert.True(t, domain.IsValidationError(err))
}

func TestQueryMarket(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	answer, err := f.coord.QueryMarket(ctx, "how are bonds doing?")
	require.NoError(t, err)
	assert.Contains(t, answer.Answer, "neutral")

	_, err = f.coord.QueryMarket(ctx, "")
	assert.True(t, domain.IsValidationError(err))

	snapshot, err := f.coord.GetMarketSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.OutlookNeutral, snapshot.OverallOutlook)
}
