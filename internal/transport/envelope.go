// Package transport carries task, cancel and response envelopes between the
// orchestrator and worker agents.
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/nexus/internal/domain"
)

// Kind identifies what an envelope carries
type Kind string

const (
	KindTask     Kind = "task"
	KindCancel   Kind = "cancel"
	KindResponse Kind = "response"
)

// ResponsesAddress is the queue workers reply on
const ResponsesAddress = "responses"

// CancelAction is the action field of every cancel message
const CancelAction = "CANCEL"

var (
	// ErrNoRoute is returned when nothing is listening on an address
	ErrNoRoute = errors.New("no route to address")
	// ErrClosed is returned by a transport after Close
	ErrClosed = errors.New("transport closed")
	// ErrQueueFull is returned when an address has no room for another frame
	ErrQueueFull = errors.New("queue full")
)

// Handler processes one received envelope
type Handler func(ctx context.Context, env Envelope) error

// Transport moves envelopes between the orchestrator and workers.
// Task and cancel envelopes are addressed to a worker id; responses go to
// ResponsesAddress.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
	Consume(ctx context.Context, address string, h Handler) error
	Close() error
}

// Envelope is the wire frame
type Envelope struct {
	Kind       Kind   `msgpack:"kind"`
	TaskID     string `msgpack:"task_id"`
	Capability string `msgpack:"capability,omitempty"`
	WorkerID   string `msgpack:"worker_id,omitempty"`
	Body       []byte `msgpack:"body"`
}

// Address returns the queue the envelope is routed to
func (e Envelope) Address() string {
	if e.Kind == KindResponse {
		return ResponsesAddress
	}
	return e.WorkerID
}

// TaskPayload is the body of a task envelope
type TaskPayload struct {
	TaskID     string             `json:"task_id" msgpack:"task_id"`
	UserID     string             `json:"user_id" msgpack:"user_id"`
	Amount     float64            `json:"amount" msgpack:"amount"`
	Allocation map[string]float64 `json:"allocation" msgpack:"allocation"`
	Action     domain.TradeAction `json:"action" msgpack:"action"`
	Timestamp  time.Time          `json:"timestamp" msgpack:"timestamp"`
}

// CancelMessage is the body of a cancel envelope
type CancelMessage struct {
	TaskID    string    `json:"task_id" msgpack:"task_id"`
	Action    string    `json:"action" msgpack:"action"`
	Reason    string    `json:"reason" msgpack:"reason"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Response is the body of a response envelope
type Response struct {
	TaskID string                 `json:"task_id" msgpack:"task_id"`
	Status string                 `json:"status" msgpack:"status"`
	Trades []domain.Trade         `json:"trades,omitempty" msgpack:"trades,omitempty"`
	Data   map[string]interface{} `json:"data,omitempty" msgpack:"data,omitempty"`
	Error  string                 `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Marshal encodes an envelope for the wire
func Marshal(env Envelope) ([]byte, error) {
	data, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a wire frame
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.TaskID == "" {
		return Envelope{}, fmt.Errorf("failed to decode envelope: missing task id")
	}
	return env, nil
}

// NewTaskEnvelope wraps a task body for a worker
func NewTaskEnvelope(taskID, capability, workerID string, body interface{}) (Envelope, error) {
	return newEnvelope(KindTask, taskID, capability, workerID, body)
}

// NewCancelEnvelope builds the cancel message for a task
func NewCancelEnvelope(taskID, workerID, reason string, at time.Time) (Envelope, error) {
	return newEnvelope(KindCancel, taskID, "", workerID, CancelMessage{
		TaskID:    taskID,
		Action:    CancelAction,
		Reason:    reason,
		Timestamp: at,
	})
}

// NewResponseEnvelope wraps a worker response
func NewResponseEnvelope(workerID string, resp Response) (Envelope, error) {
	return newEnvelope(KindResponse, resp.TaskID, "", workerID, resp)
}

func newEnvelope(kind Kind, taskID, capability, workerID string, body interface{}) (Envelope, error) {
	data, err := msgpack.Marshal(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s body: %w", kind, err)
	}
	return Envelope{Kind: kind, TaskID: taskID, Capability: capability, WorkerID: workerID, Body: data}, nil
}

// DecodeTask decodes the body of a task envelope
func (e Envelope) DecodeTask() (TaskPayload, error) {
	var p TaskPayload
	if err := e.decode(KindTask, &p); err != nil {
		return TaskPayload{}, err
	}
	if p.TaskID == "" {
		p.TaskID = e.TaskID
	}
	return p, nil
}

// DecodeCancel decodes the body of a cancel envelope
func (e Envelope) DecodeCancel() (CancelMessage, error) {
	var m CancelMessage
	err := e.decode(KindCancel, &m)
	return m, err
}

// DecodeResponse decodes the body of a response envelope
func (e Envelope) DecodeResponse() (Response, error) {
	var r Response
	if err := e.decode(KindResponse, &r); err != nil {
		return Response{}, err
	}
	if r.TaskID == "" {
		r.TaskID = e.TaskID
	}
	return r, nil
}

func (e Envelope) decode(kind Kind, v interface{}) error {
	if e.Kind != kind {
		return fmt.Errorf("envelope kind %q is not %q", e.Kind, kind)
	}
	if err := msgpack.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("failed to decode %s body: %w", kind, err)
	}
	return nil
}
