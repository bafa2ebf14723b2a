// Package coordinator runs the user-facing workflows. It turns requests into
// ledger updates, strategy reevaluation and delegated trades, and reacts to
// the tasks the orchestrator reports as finished.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/events"
	"github.com/aristath/nexus/internal/modules/decision"
	"github.com/aristath/nexus/internal/modules/portfolio"
	"github.com/aristath/nexus/internal/orchestrator"
	"github.com/aristath/nexus/internal/transport"
)

const (
	staleEntryAge   = 24 * time.Hour
	orphanRetention = time.Minute
	cancelReason    = "Trading disabled by user"
)

// Withdrawal statuses
const (
	WithdrawalPending = "pending"
	WithdrawalSettled = "settled"
	WithdrawalFailed  = "failed"
)

// Cash flow result statuses
const (
	CashFlowApplied = "applied"
	CashFlowPending = "pending"
)

// Ledger is the portfolio state the coordinator reads and mutates
type Ledger interface {
	GetPortfolio(ctx context.Context, userID string) (*portfolio.Portfolio, error)
	UpdateCash(ctx context.Context, userID string, amount float64, kind portfolio.TransactionType) (*portfolio.Portfolio, error)
	ApplyTrades(ctx context.Context, userID string, trades []domain.Trade) (*portfolio.ApplyResult, error)
	NeedsRebalancing(ctx context.Context, userID string, target domain.Allocation) (bool, error)
	AddGoal(ctx context.Context, userID string, in portfolio.GoalInput) (*portfolio.Goal, error)
	UpdateSettings(ctx context.Context, userID string, settings portfolio.Settings) (portfolio.Settings, error)
	UpdateRiskProfile(ctx context.Context, userID string, profile domain.RiskProfile) error
}

// StrategySource supplies and recomputes target allocations
type StrategySource interface {
	GetTargetAllocation(ctx context.Context, userID string) (domain.Allocation, error)
	ReevaluateStrategy(ctx context.Context, userID string) (domain.Allocation, error)
}

// FailureRecorder keeps the execution-failure log
type FailureRecorder interface {
	LogExecutionFailure(ctx context.Context, userID, workerType, errMsg string) error
}

// DecisionLog is the audit trail of coordinator decisions
type DecisionLog interface {
	LogDecision(ctx context.Context, userID, taskID, decisionType, description string, data map[string]interface{}) (*decision.Entry, error)
	RecordOutcome(ctx context.Context, userID, taskID, outcome string, details interface{}) (int, error)
	GetRecentDecisions(ctx context.Context, userID string, limit int) ([]decision.Entry, error)
}

// TaskManager owns task lifecycle
type TaskManager interface {
	DelegateTask(ctx context.Context, req orchestrator.TaskRequest) (string, error)
	GetTaskStatus(id string) orchestrator.Status
	CancelTask(ctx context.Context, id, reason string) error
	Subscribe(l orchestrator.Listener)
}

// Market answers market questions
type Market interface {
	domain.MarketSnapshotProvider
	domain.MarketQuerier
}

// taskEntry correlates a delegated task with the request that caused it.
// Status is never stored here; the orchestrator owns it.
type taskEntry struct {
	userID       string
	capability   string
	class        domain.AssetClass
	amount       float64
	decisionIDs  []string
	withdrawalID string
	createdAt    time.Time
	finishedAt   *time.Time
	// ready is false until the decision for the task has been logged;
	// a response arriving earlier waits in early
	ready bool
	early *transport.Response
}

type orphan struct {
	resp transport.Response
	seen time.Time
}

// Withdrawal is a withdrawal waiting for liquidation proceeds
type Withdrawal struct {
	ID        string     `json:"withdrawal_id"`
	UserID    string     `json:"user_id"`
	Amount    float64    `json:"amount"`
	TaskIDs   []string   `json:"task_ids"`
	Status    string     `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	SettledAt *time.Time `json:"settled_at,omitempty"`

	remaining map[string]bool
	sealed    bool
	settling  bool
}

func (w *Withdrawal) snapshot() Withdrawal {
	c := *w
	c.TaskIDs = append([]string(nil), w.TaskIDs...)
	c.remaining = nil
	return c
}

// CashFlowResult reports what a cash flow request did
type CashFlowResult struct {
	Status     string               `json:"status"`
	Portfolio  *portfolio.Portfolio `json:"portfolio,omitempty"`
	TaskIDs    []string             `json:"task_ids"`
	Plan       []LiquidationStep    `json:"liquidation_plan,omitempty"`
	Withdrawal *Withdrawal          `json:"withdrawal,omitempty"`
}

// RebalanceResult reports a strategy reevaluation
type RebalanceResult struct {
	Target     domain.Allocation `json:"target_allocation"`
	Rebalanced bool              `json:"rebalanced"`
	TaskIDs    []string          `json:"task_ids"`
}

// SettingsResult reports a settings change
type SettingsResult struct {
	Settings  portfolio.Settings `json:"settings"`
	Cancelled []string           `json:"cancelled_tasks"`
}

// PortfolioData is the portfolio view served to clients
type PortfolioData struct {
	Portfolio        *portfolio.Portfolio `json:"portfolio"`
	Allocation       domain.Allocation    `json:"allocation"`
	TargetAllocation domain.Allocation    `json:"target_allocation"`
	NeedsRebalancing bool                 `json:"needs_rebalancing"`
}

// Coordinator wires user requests to the core components
type Coordinator struct {
	ledger    Ledger
	strategy  StrategySource
	failures  FailureRecorder
	decisions DecisionLog
	tasks     TaskManager
	market    Market
	metrics   *Metrics
	bus       *events.Bus

	index       map[string]*taskEntry
	orphans     map[string]orphan
	withdrawals map[string]*Withdrawal
	mu          sync.Mutex

	now func() time.Time
	log zerolog.Logger
}

// New creates a coordinator and subscribes it to finished tasks
func New(
	ledger Ledger,
	strategy StrategySource,
	failures FailureRecorder,
	decisions DecisionLog,
	tasks TaskManager,
	market Market,
	metrics *Metrics,
	bus *events.Bus,
	log zerolog.Logger,
) *Coordinator {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	c := &Coordinator{
		ledger:      ledger,
		strategy:    strategy,
		failures:    failures,
		decisions:   decisions,
		tasks:       tasks,
		market:      market,
		metrics:     metrics,
		bus:         bus,
		index:       make(map[string]*taskEntry),
		orphans:     make(map[string]orphan),
		withdrawals: make(map[string]*Withdrawal),
		now:         time.Now,
		log:         log.With().Str("service", "coordinator").Logger(),
	}
	tasks.Subscribe(c.onTaskFinished)
	return c
}

// UpdateRiskProfile stores the profile, reevaluates the strategy and
// rebalances when the portfolio drifted outside tolerance
func (c *Coordinator) UpdateRiskProfile(ctx context.Context, userID string, profile domain.RiskProfile) (*RebalanceResult, error) {
	if userID == "" {
		return nil, domain.MissingFieldError("user_id")
	}
	if err := c.ledger.UpdateRiskProfile(ctx, userID, profile); err != nil {
		return nil, err
	}
	return c.reevaluate(ctx, userID)
}

// AddGoal stores the goal, reevaluates the strategy and rebalances when needed
func (c *Coordinator) AddGoal(ctx context.Context, userID string, in portfolio.GoalInput) (*portfolio.Goal, *RebalanceResult, error) {
	if userID == "" {
		return nil, nil, domain.MissingFieldError("user_id")
	}
	goal, err := c.ledger.AddGoal(ctx, userID, in)
	if err != nil {
		return nil, nil, err
	}
	result, err := c.reevaluate(ctx, userID)
	if err != nil {
		return goal, nil, err
	}
	return goal, result, nil
}

func (c *Coordinator) reevaluate(ctx context.Context, userID string) (*RebalanceResult, error) {
	target, err := c.strategy.ReevaluateStrategy(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to reevaluate strategy: %w", err)
	}
	result := &RebalanceResult{Target: target, TaskIDs: []string{}}

	needs, err := c.ledger.NeedsRebalancing(ctx, userID, target)
	if err != nil {
		return nil, fmt.Errorf("failed to check rebalancing: %w", err)
	}
	if !needs {
		c.log.Debug().Str("user_id", userID).Msg("Portfolio within tolerance, no rebalancing")
		return result, nil
	}

	p, err := c.ledger.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	current := portfolio.ComputeAllocation(p)

	for _, adj := range AllocationAdjustments(current, target) {
		amount := domain.Round(adj.Percent*p.TotalValue/100, 2)
		data := map[string]interface{}{
			"asset_class": string(adj.AssetClass),
			"adjustment":  adj.Percent,
			"amount":      amount,
			"reason":      "Portfolio rebalancing",
		}
		taskID := c.tryDelegate(ctx, p, adj.AssetClass, amount, target.Subcategories(adj.AssetClass), "", data)
		if taskID != "" {
			result.TaskIDs = append(result.TaskIDs, taskID)
		}
		c.logDecision(ctx, userID, taskID, decision.TypeAllocationChange,
			fmt.Sprintf("Adjusted %s allocation by %.2f%%", adj.AssetClass, adj.Percent), data)
	}
	result.Rebalanced = true

	c.log.Info().Str("user_id", userID).Int("tasks", len(result.TaskIDs)).Msg("Portfolio rebalanced")
	return result, nil
}

// ProcessCashFlow applies a deposit or withdrawal. Deposits are invested per
// the target allocation. A withdrawal larger than idle cash liquidates
// holdings and settles once the sell tasks finish.
func (c *Coordinator) ProcessCashFlow(ctx context.Context, userID string, amount float64, kind portfolio.TransactionType) (*CashFlowResult, error) {
	if userID == "" {
		return nil, domain.MissingFieldError("user_id")
	}

	switch kind {
	case portfolio.Deposit:
		result, err := c.deposit(ctx, userID, amount)
		c.countCashFlow(kind, result, err)
		return result, err
	case portfolio.Withdrawal:
		result, err := c.withdraw(ctx, userID, amount)
		c.countCashFlow(kind, result, err)
		return result, err
	default:
		return nil, domain.NewValidationError("type", fmt.Sprintf("unsupported cash flow type %q", kind))
	}
}

func (c *Coordinator) countCashFlow(kind portfolio.TransactionType, result *CashFlowResult, err error) {
	status := "rejected"
	if err == nil && result != nil {
		status = result.Status
	}
	c.metrics.cashFlows.WithLabelValues(string(kind), status).Inc()
}

func (c *Coordinator) deposit(ctx context.Context, userID string, amount float64) (*CashFlowResult, error) {
	// Resolve the target before crediting so a failure leaves the ledger untouched
	target, err := c.strategy.GetTargetAllocation(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get target allocation: %w", err)
	}
	p, err := c.ledger.UpdateCash(ctx, userID, amount, portfolio.Deposit)
	if err != nil {
		return nil, err
	}

	result := &CashFlowResult{Status: CashFlowApplied, Portfolio: p, TaskIDs: []string{}}
	for _, class := range domain.AssetClasses {
		if class == domain.Cash {
			continue
		}
		invest := domain.Round(amount*target.TopLevel[class]/100, 2)
		if invest < domain.MinTradeAmount {
			continue
		}
		data := map[string]interface{}{
			"asset_class": string(class),
			"amount":      invest,
			"reason":      "New deposit investment",
		}
		taskID := c.tryDelegate(ctx, p, class, invest, target.Subcategories(class), "", data)
		if taskID != "" {
			result.TaskIDs = append(result.TaskIDs, taskID)
		}
		c.logDecision(ctx, userID, taskID, decision.TypeCashInvestment,
			fmt.Sprintf("Allocated $%.2f to %s", invest, class), data)
	}

	c.log.Info().
		Str("user_id", userID).
		Float64("amount", amount).
		Int("tasks", len(result.TaskIDs)).
		Msg("Deposit processed")
	return result, nil
}

func (c *Coordinator) withdraw(ctx context.Context, userID string, amount float64) (*CashFlowResult, error) {
	p, err := c.ledger.UpdateCash(ctx, userID, amount, portfolio.Withdrawal)
	if err == nil {
		return &CashFlowResult{Status: CashFlowApplied, Portfolio: p, TaskIDs: []string{}}, nil
	}
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		return nil, err
	}

	p, err = c.ledger.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	if sellable := Liquidatable(p); amount > sellable {
		return nil, fmt.Errorf("%w: liquidatable value %s, requested %s",
			domain.ErrInsufficientFunds, domain.FormatMoney(sellable), domain.FormatMoney(amount))
	}
	target, err := c.strategy.GetTargetAllocation(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get target allocation: %w", err)
	}

	plan := PlanLiquidation(p, target, amount)
	current := portfolio.ComputeAllocation(p)

	w := &Withdrawal{
		ID:        uuid.New().String(),
		UserID:    userID,
		Amount:    amount,
		TaskIDs:   []string{},
		Status:    WithdrawalPending,
		CreatedAt: c.now().UTC(),
		remaining: make(map[string]bool),
	}
	c.mu.Lock()
	c.withdrawals[w.ID] = w
	c.mu.Unlock()

	var taskIDs []string
	for _, step := range plan {
		if step.Amount < domain.MinTradeAmount {
			continue
		}
		data := map[string]interface{}{
			"asset_class":   string(step.AssetClass),
			"amount":        step.Amount,
			"reason":        "Withdrawal request",
			"withdrawal_id": w.ID,
		}
		taskID := c.tryDelegate(ctx, p, step.AssetClass, -step.Amount, current.Subcategories(step.AssetClass), w.ID, data)
		if taskID != "" {
			taskIDs = append(taskIDs, taskID)
		}
		c.logDecision(ctx, userID, taskID, decision.TypeAssetLiquidation,
			fmt.Sprintf("Liquidated $%.2f of %s", step.Amount, step.AssetClass), data)
	}

	if len(taskIDs) == 0 {
		c.mu.Lock()
		delete(c.withdrawals, w.ID)
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: no holdings could be liquidated for the withdrawal", domain.ErrInsufficientFunds)
	}

	c.metrics.pendingWithdrawals.Inc()
	c.bus.Emit("coordinator", &events.WithdrawalData{
		UserID:       userID,
		WithdrawalID: w.ID,
		Amount:       amount,
		TaskIDs:      taskIDs,
		Status:       WithdrawalPending,
	})
	c.log.Info().
		Str("user_id", userID).
		Str("withdrawal_id", w.ID).
		Float64("amount", amount).
		Int("tasks", len(taskIDs)).
		Msg("Withdrawal pending liquidation")

	c.mu.Lock()
	w.sealed = true
	ready := len(w.remaining) == 0
	c.mu.Unlock()
	if ready {
		c.settle(ctx, w.ID)
	}

	c.mu.Lock()
	snap := w.snapshot()
	c.mu.Unlock()

	return &CashFlowResult{
		Status:     CashFlowPending,
		Portfolio:  p,
		TaskIDs:    taskIDs,
		Plan:       plan,
		Withdrawal: &snap,
	}, nil
}

// settle withdraws the pending amount once every liquidation task finished
func (c *Coordinator) settle(ctx context.Context, withdrawalID string) {
	c.mu.Lock()
	w, ok := c.withdrawals[withdrawalID]
	if !ok || w.Status != WithdrawalPending || w.settling {
		c.mu.Unlock()
		return
	}
	w.settling = true
	userID, amount := w.UserID, w.Amount
	c.mu.Unlock()

	_, err := c.ledger.UpdateCash(ctx, userID, amount, portfolio.Withdrawal)

	now := c.now().UTC()
	c.mu.Lock()
	w.settling = false
	w.SettledAt = &now
	if err != nil {
		w.Status = WithdrawalFailed
		w.Error = err.Error()
	} else {
		w.Status = WithdrawalSettled
	}
	snap := w.snapshot()
	c.mu.Unlock()

	c.metrics.pendingWithdrawals.Dec()
	c.metrics.cashFlows.WithLabelValues(string(portfolio.Withdrawal), snap.Status).Inc()
	c.bus.Emit("coordinator", &events.WithdrawalData{
		UserID:       userID,
		WithdrawalID: withdrawalID,
		Amount:       amount,
		TaskIDs:      snap.TaskIDs,
		Status:       snap.Status,
		Error:        snap.Error,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Str("withdrawal_id", withdrawalID).Msg("Withdrawal failed after liquidation")
		return
	}
	c.log.Info().Str("user_id", userID).Str("withdrawal_id", withdrawalID).Float64("amount", amount).Msg("Withdrawal settled")
}

// GetWithdrawals lists the user's liquidation-backed withdrawals, newest first
func (c *Coordinator) GetWithdrawals(userID string) []Withdrawal {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := []Withdrawal{}
	for _, w := range c.withdrawals {
		if w.UserID == userID {
			result = append(result, w.snapshot())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result
}

// UpdateUserSettings stores the trading switch. Disabling trading cancels
// every task of the user that has not started.
func (c *Coordinator) UpdateUserSettings(ctx context.Context, userID string, tradingEnabled bool) (*SettingsResult, error) {
	if userID == "" {
		return nil, domain.MissingFieldError("user_id")
	}
	settings := portfolio.Settings{TradingEnabled: tradingEnabled}
	previous, err := c.ledger.UpdateSettings(ctx, userID, settings)
	if err != nil {
		return nil, err
	}

	result := &SettingsResult{Settings: settings, Cancelled: []string{}}
	if !tradingEnabled {
		result.Cancelled = c.cancelPending(ctx, userID)
	}

	c.log.Info().
		Str("user_id", userID).
		Bool("trading_enabled", tradingEnabled).
		Bool("was_enabled", previous.TradingEnabled).
		Int("cancelled", len(result.Cancelled)).
		Msg("User settings updated")
	return result, nil
}

func (c *Coordinator) cancelPending(ctx context.Context, userID string) []string {
	c.mu.Lock()
	var ids []string
	for id, e := range c.index {
		if e.userID == userID && e.finishedAt == nil {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()
	sort.Strings(ids)

	cancelled := []string{}
	for _, id := range ids {
		if c.tasks.GetTaskStatus(id) != orchestrator.StatusPending {
			continue
		}
		if err := c.tasks.CancelTask(ctx, id, cancelReason); err != nil {
			c.log.Warn().Err(err).Str("task_id", id).Msg("Failed to cancel task")
			continue
		}
		cancelled = append(cancelled, id)
	}
	return cancelled
}

// tryDelegate sends a signed class amount to the class's trading worker.
// It returns "" when the class has no worker, trading is disabled or no
// worker accepted; the reason is added to data.
func (c *Coordinator) tryDelegate(
	ctx context.Context,
	p *portfolio.Portfolio,
	class domain.AssetClass,
	amount float64,
	subAllocation map[string]float64,
	withdrawalID string,
	data map[string]interface{},
) string {
	capability, ok := domain.TraderFor(class)
	if !ok || amount == 0 {
		return ""
	}
	if !p.Settings.TradingEnabled {
		data["delegation_error"] = "trading disabled"
		c.log.Info().Str("user_id", p.UserID).Str("asset_class", string(class)).Msg("Trading disabled, trade not delegated")
		return ""
	}

	action := domain.Buy
	if amount < 0 {
		action = domain.Sell
	}
	allocation := make(map[string]float64, len(subAllocation))
	for k, v := range subAllocation {
		allocation[k] = v
	}

	now := c.now()
	taskID, err := c.tasks.DelegateTask(ctx, orchestrator.TaskRequest{
		Type:   capability,
		UserID: p.UserID,
		Payload: map[string]interface{}{
			"user_id":    p.UserID,
			"amount":     domain.Round(amount, 2),
			"allocation": allocation,
			"action":     string(action),
			"timestamp":  now.UTC(),
		},
	})
	if err != nil {
		c.metrics.delegationFailures.Inc()
		data["delegation_error"] = err.Error()
		c.log.Warn().
			Err(err).
			Str("user_id", p.UserID).
			Str("capability", capability).
			Float64("amount", amount).
			Msg("Failed to delegate trade")
		return ""
	}

	c.mu.Lock()
	entry := &taskEntry{
		userID:       p.UserID,
		capability:   capability,
		class:        class,
		amount:       amount,
		withdrawalID: withdrawalID,
		createdAt:    now,
	}
	if o, ok := c.orphans[taskID]; ok {
		resp := o.resp
		entry.early = &resp
		delete(c.orphans, taskID)
	}
	c.index[taskID] = entry
	if w, ok := c.withdrawals[withdrawalID]; ok {
		w.TaskIDs = append(w.TaskIDs, taskID)
		w.remaining[taskID] = true
	}
	c.mu.Unlock()

	return taskID
}

// logDecision writes the audit entry and releases the task for response
// handling
func (c *Coordinator) logDecision(ctx context.Context, userID, taskID, decisionType, description string, data map[string]interface{}) {
	entry, err := c.decisions.LogDecision(ctx, userID, taskID, decisionType, description, data)
	if err != nil {
		c.log.Error().Err(err).Str("user_id", userID).Str("task_id", taskID).Msg("Failed to log decision")
	}
	if taskID == "" {
		return
	}

	c.mu.Lock()
	e, ok := c.index[taskID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if entry != nil {
		e.decisionIDs = append(e.decisionIDs, entry.ID)
	}
	e.ready = true
	early := e.early
	e.early = nil
	c.mu.Unlock()

	if early != nil {
		if err := c.HandleWorkerResponse(ctx, *early); err != nil {
			c.log.Error().Err(err).Str("task_id", taskID).Msg("Failed to handle early response")
		}
	}
}

func (c *Coordinator) onTaskFinished(task orchestrator.Task) {
	resp := transport.Response{TaskID: task.ID, Status: string(task.Status)}
	if task.Result != nil {
		resp.Trades = task.Result.Trades
		resp.Data = task.Result.Data
		resp.Error = task.Result.Error
	}
	if err := c.HandleWorkerResponse(context.Background(), resp); err != nil {
		c.log.Error().Err(err).Str("task_id", task.ID).Msg("Failed to handle finished task")
	}
}

// HandleWorkerResponse records the outcome of a finished task. Completed
// trades are applied to the ledger; failures go to the risk failure log.
// Responses for unknown tasks are logged and ignored.
func (c *Coordinator) HandleWorkerResponse(ctx context.Context, resp transport.Response) error {
	status := orchestrator.Status(resp.Status)
	switch status {
	case orchestrator.StatusCompleted, orchestrator.StatusFailed, orchestrator.StatusTimeout, orchestrator.StatusCancelled:
	default:
		return domain.NewValidationError("status", fmt.Sprintf("not a terminal status: %q", resp.Status))
	}

	now := c.now()
	c.mu.Lock()
	e, ok := c.index[resp.TaskID]
	if !ok {
		c.orphans[resp.TaskID] = orphan{resp: resp, seen: now}
		c.mu.Unlock()
		c.log.Warn().Str("task_id", resp.TaskID).Str("status", resp.Status).Msg("Response for unknown task")
		return nil
	}
	if !e.ready {
		r := resp
		e.early = &r
		c.mu.Unlock()
		return nil
	}
	if e.finishedAt != nil {
		c.mu.Unlock()
		c.log.Debug().Str("task_id", resp.TaskID).Msg("Task outcome already recorded")
		return nil
	}
	e.finishedAt = &now
	userID, capability, withdrawalID := e.userID, e.capability, e.withdrawalID
	c.mu.Unlock()

	outcome, details := c.resolveOutcome(ctx, userID, capability, status, resp)
	if _, err := c.decisions.RecordOutcome(ctx, userID, resp.TaskID, outcome, details); err != nil {
		c.log.Error().Err(err).Str("task_id", resp.TaskID).Msg("Failed to record decision outcome")
	}
	c.metrics.outcomes.WithLabelValues(outcome).Inc()

	c.log.Info().
		Str("task_id", resp.TaskID).
		Str("user_id", userID).
		Str("capability", capability).
		Str("outcome", outcome).
		Msg("Task outcome recorded")

	if withdrawalID != "" {
		c.liquidationFinished(ctx, withdrawalID, resp.TaskID)
	}
	return nil
}

func (c *Coordinator) resolveOutcome(ctx context.Context, userID, capability string, status orchestrator.Status, resp transport.Response) (string, map[string]interface{}) {
	details := map[string]interface{}{"status": string(status)}

	switch status {
	case orchestrator.StatusCompleted:
		details["trades"] = len(resp.Trades)
		if resp.Data != nil {
			details["data"] = resp.Data
		}
		if len(resp.Trades) == 0 {
			return decision.OutcomeSuccess, details
		}
		applied, err := c.ledger.ApplyTrades(ctx, userID, resp.Trades)
		if err != nil {
			c.log.Error().Err(err).Str("task_id", resp.TaskID).Msg("Failed to apply trades")
			details["error"] = err.Error()
			return decision.OutcomeFailed, details
		}
		details["applied"] = len(applied.Applied)
		details["skipped"] = len(applied.Skipped)
		return decision.OutcomeSuccess, details

	case orchestrator.StatusFailed:
		details["error"] = resp.Error
		if err := c.failures.LogExecutionFailure(ctx, userID, capability, resp.Error); err != nil {
			c.log.Error().Err(err).Str("task_id", resp.TaskID).Msg("Failed to log execution failure")
		}
		return decision.OutcomeFailed, details

	case orchestrator.StatusTimeout:
		errMsg := resp.Error
		if errMsg == "" {
			errMsg = "Task timed out"
		}
		details["error"] = errMsg
		if err := c.failures.LogExecutionFailure(ctx, userID, capability, errMsg); err != nil {
			c.log.Error().Err(err).Str("task_id", resp.TaskID).Msg("Failed to log execution failure")
		}
		return decision.OutcomeTimeout, details

	default:
		details["reason"] = resp.Error
		return decision.OutcomeCancelled, details
	}
}

func (c *Coordinator) liquidationFinished(ctx context.Context, withdrawalID, taskID string) {
	c.mu.Lock()
	w, ok := c.withdrawals[withdrawalID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(w.remaining, taskID)
	ready := w.sealed && len(w.remaining) == 0
	c.mu.Unlock()

	if ready {
		c.settle(ctx, withdrawalID)
	}
}

// PurgeStale drops index entries and settled withdrawals that finished more
// than a day ago, entries the orchestrator no longer knows, and unmatched
// responses
func (c *Coordinator) PurgeStale() int {
	now := c.now()
	cutoff := now.Add(-staleEntryAge)

	c.mu.Lock()
	var unfinished []string
	for id, e := range c.index {
		if e.finishedAt == nil && e.createdAt.Before(cutoff) {
			unfinished = append(unfinished, id)
		}
	}
	c.mu.Unlock()

	// Reading the status may time the task out and record its outcome
	lost := make(map[string]bool)
	for _, id := range unfinished {
		if c.tasks.GetTaskStatus(id) == orchestrator.StatusNotFound {
			lost[id] = true
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for id, e := range c.index {
		if lost[id] || (e.finishedAt != nil && e.finishedAt.Before(cutoff)) {
			delete(c.index, id)
			n++
		}
	}
	for id, o := range c.orphans {
		if now.Sub(o.seen) > orphanRetention {
			delete(c.orphans, id)
		}
	}
	for id, w := range c.withdrawals {
		if w.SettledAt != nil && w.SettledAt.Before(cutoff) {
			delete(c.withdrawals, id)
		}
	}

	if n > 0 {
		c.log.Info().Int("count", n).Msg("Purged stale task entries")
	}
	return n
}

// TrackedTasks returns the number of correlated tasks
func (c *Coordinator) TrackedTasks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// GetPortfolioData returns the portfolio with current and target allocations
func (c *Coordinator) GetPortfolioData(ctx context.Context, userID string) (*PortfolioData, error) {
	if userID == "" {
		return nil, domain.MissingFieldError("user_id")
	}
	p, err := c.ledger.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	target, err := c.strategy.GetTargetAllocation(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get target allocation: %w", err)
	}
	needs, err := c.ledger.NeedsRebalancing(ctx, userID, target)
	if err != nil {
		return nil, fmt.Errorf("failed to check rebalancing: %w", err)
	}

	return &PortfolioData{
		Portfolio:        p,
		Allocation:       portfolio.ComputeAllocation(p),
		TargetAllocation: target,
		NeedsRebalancing: needs,
	}, nil
}

// GetMarketSummary returns the current market snapshot
func (c *Coordinator) GetMarketSummary(ctx context.Context) (*domain.MarketSnapshot, error) {
	snapshot, err := c.market.GetMarketSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get market summary: %w", err)
	}
	return snapshot, nil
}

// QueryMarket passes a free-text question to the market data provider
func (c *Coordinator) QueryMarket(ctx context.Context, text string) (*domain.QueryAnswer, error) {
	if text == "" {
		return nil, domain.MissingFieldError("query")
	}
	answer, err := c.market.Query(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to query market: %w", err)
	}
	return answer, nil
}

// GetRecentDecisions returns the user's latest decisions
func (c *Coordinator) GetRecentDecisions(ctx context.Context, userID string, limit int) ([]decision.Entry, error) {
	if userID == "" {
		return nil, domain.MissingFieldError("user_id")
	}
	return c.decisions.GetRecentDecisions(ctx, userID, limit)
}
