package orchestrator

import (
	"time"

	"github.com/aristath/nexus/internal/domain"
)

// Status is a task lifecycle state
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusTimeout   Status = "TIMEOUT"
	StatusCancelled Status = "CANCELLED"

	// StatusNotFound is reported for unknown task ids; it is never stored
	StatusNotFound Status = "NOT_FOUND"
)

// Terminal reports whether no further transition can leave s
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// WorkerStatus is a worker's liveness state
type WorkerStatus string

const (
	WorkerActive   WorkerStatus = "ACTIVE"
	WorkerInactive WorkerStatus = "INACTIVE"
)

// Worker is a registered worker agent
type Worker struct {
	ID           string       `json:"worker_id"`
	Capabilities []string     `json:"capabilities"`
	Endpoint     string       `json:"endpoint"`
	Status       WorkerStatus `json:"status"`
	RegisteredAt time.Time    `json:"registered_at"`
	LastSeen     time.Time    `json:"last_seen"`
	InFlight     int          `json:"in_flight"`
}

// Can reports whether the worker declares capability
func (w Worker) Can(capability string) bool {
	for _, c := range w.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// TaskRequest describes a task to delegate. Type names the capability a
// worker must declare.
type TaskRequest struct {
	Type           string
	Payload        map[string]interface{}
	UserID         string
	TargetWorkerID string
	Timeout        time.Duration
}

// Result is the stored outcome of a terminal task
type Result struct {
	Status     Status                 `json:"status"`
	Trades     []domain.Trade         `json:"trades,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	FinishedAt time.Time              `json:"finished_at"`
}

// Task is one delegated unit of work. The orchestrator is its only owner;
// callers receive copies.
type Task struct {
	ID          string                 `json:"task_id"`
	Type        string                 `json:"task_type"`
	WorkerID    string                 `json:"worker_id"`
	UserID      string                 `json:"user_id,omitempty"`
	Payload     map[string]interface{} `json:"payload"`
	Status      Status                 `json:"status"`
	SubmittedAt time.Time              `json:"submitted_at"`
	ExpiresAt   time.Time              `json:"expires_at"`
	FinishedAt  *time.Time             `json:"finished_at,omitempty"`
	Result      *Result                `json:"result,omitempty"`
}

func (t *Task) snapshot() Task {
	c := *t
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return c
}

// Listener receives a copy of every task that reaches a terminal state
type Listener func(task Task)
