// Package events provides the in-process event bus for task and portfolio lifecycle events.
package events

import "time"

// EventType identifies an event
type EventType string

const (
	// Portfolio ledger events
	CashUpdated     EventType = "CASH_UPDATED"
	TradesApplied   EventType = "TRADES_APPLIED"
	GoalAdded       EventType = "GOAL_ADDED"
	SettingsChanged EventType = "SETTINGS_CHANGED"

	// Strategy and risk events
	StrategyReevaluated EventType = "STRATEGY_REEVALUATED"
	RiskAnalyzed        EventType = "RISK_ANALYZED"

	// Task lifecycle events
	WorkerRegistered EventType = "WORKER_REGISTERED"
	WorkerInactive   EventType = "WORKER_INACTIVE"
	TaskDelegated    EventType = "TASK_DELEGATED"
	TaskRunning      EventType = "TASK_RUNNING"
	TaskFinished     EventType = "TASK_FINISHED"

	// Decision log events
	DecisionLogged EventType = "DECISION_LOGGED"

	// Withdrawals waiting on liquidation
	WithdrawalPending EventType = "WITHDRAWAL_PENDING"
	WithdrawalSettled EventType = "WITHDRAWAL_SETTLED"
	WithdrawalFailed  EventType = "WITHDRAWAL_FAILED"
)

// AllTypes lists every event type the bus carries
var AllTypes = []EventType{
	CashUpdated, TradesApplied, GoalAdded, SettingsChanged,
	StrategyReevaluated, RiskAnalyzed,
	WorkerRegistered, WorkerInactive, TaskDelegated, TaskRunning, TaskFinished,
	DecisionLogged,
	WithdrawalPending, WithdrawalSettled, WithdrawalFailed,
}

// Event is a single published event
type Event struct {
	Type      EventType `json:"type"`
	Module    string    `json:"module"`
	Timestamp time.Time `json:"timestamp"`
	Data      EventData `json:"data"`
}
