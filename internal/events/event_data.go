package events

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// CashUpdatedData contains data for CashUpdated events
type CashUpdatedData struct {
	UserID  string  `json:"user_id"`
	Kind    string  `json:"kind"`
	Amount  float64 `json:"amount"`
	Balance float64 `json:"balance"`
}

// EventType returns the event type for CashUpdatedData
func (d *CashUpdatedData) EventType() EventType { return CashUpdated }

// TradesAppliedData contains data for TradesApplied events
type TradesAppliedData struct {
	UserID     string  `json:"user_id"`
	Applied    int     `json:"applied"`
	Skipped    int     `json:"skipped"`
	TotalValue float64 `json:"total_value"`
}

// EventType returns the event type for TradesAppliedData
func (d *TradesAppliedData) EventType() EventType { return TradesApplied }

// GoalAddedData contains data for GoalAdded events
type GoalAddedData struct {
	UserID string `json:"user_id"`
	GoalID string `json:"goal_id"`
	Name   string `json:"name"`
}

// EventType returns the event type for GoalAddedData
func (d *GoalAddedData) EventType() EventType { return GoalAdded }

// SettingsChangedData contains data for SettingsChanged events
type SettingsChangedData struct {
	UserID         string `json:"user_id"`
	TradingEnabled bool   `json:"trading_enabled"`
}

// EventType returns the event type for SettingsChangedData
func (d *SettingsChangedData) EventType() EventType { return SettingsChanged }

// StrategyReevaluatedData contains data for StrategyReevaluated events
type StrategyReevaluatedData struct {
	UserID    string             `json:"user_id"`
	RiskLevel string             `json:"risk_level"`
	TopLevel  map[string]float64 `json:"top_level"`
}

// EventType returns the event type for StrategyReevaluatedData
func (d *StrategyReevaluatedData) EventType() EventType { return StrategyReevaluated }

// RiskAnalyzedData contains data for RiskAnalyzed events
type RiskAnalyzedData struct {
	UserID    string `json:"user_id"`
	RiskScore int    `json:"risk_score"`
	RiskLevel string `json:"risk_level"`
	Alerts    int    `json:"alerts"`
}

// EventType returns the event type for RiskAnalyzedData
func (d *RiskAnalyzedData) EventType() EventType { return RiskAnalyzed }

// WorkerData contains data for worker registration and liveness events
type WorkerData struct {
	WorkerID     string   `json:"worker_id"`
	Capabilities []string `json:"capabilities,omitempty"`
	Active       bool     `json:"active"`
}

// EventType returns the event type for WorkerData
func (d *WorkerData) EventType() EventType {
	if d.Active {
		return WorkerRegistered
	}
	return WorkerInactive
}

// TaskData contains data for task lifecycle events
type TaskData struct {
	TaskID     string                 `json:"task_id"`
	TaskType   string                 `json:"task_type"`
	WorkerID   string                 `json:"worker_id"`
	UserID     string                 `json:"user_id,omitempty"`
	Status     string                 `json:"status"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Terminal   bool                   `json:"terminal"`
	Transition EventType              `json:"-"`
}

// EventType returns the event type for TaskData
func (d *TaskData) EventType() EventType {
	if d.Transition != "" {
		return d.Transition
	}
	if d.Terminal {
		return TaskFinished
	}
	return TaskDelegated
}

// DecisionLoggedData contains data for DecisionLogged events
type DecisionLoggedData struct {
	UserID       string `json:"user_id"`
	DecisionID   string `json:"decision_id,omitempty"`
	TaskID       string `json:"task_id,omitempty"`
	DecisionType string `json:"decision_type,omitempty"`
	Outcome      string `json:"outcome,omitempty"`
}

// EventType returns the event type for DecisionLoggedData
func (d *DecisionLoggedData) EventType() EventType { return DecisionLogged }

// WithdrawalData contains data for pending withdrawal events
type WithdrawalData struct {
	UserID       string   `json:"user_id"`
	WithdrawalID string   `json:"withdrawal_id"`
	Amount       float64  `json:"amount"`
	TaskIDs      []string `json:"task_ids,omitempty"`
	Status       string   `json:"status"`
	Error        string   `json:"error,omitempty"`
}

// EventType returns the event type for WithdrawalData
func (d *WithdrawalData) EventType() EventType {
	switch d.Status {
	case "settled":
		return WithdrawalSettled
	case "failed":
		return WithdrawalFailed
	default:
		return WithdrawalPending
	}
}
