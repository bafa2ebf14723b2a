// Package workers provides in-process simulated worker agents. They consume
// task envelopes on their own address, execute them against a simulated
// venue and reply on the shared responses queue.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/nexus/internal/transport"
)

const responseRetryDelay = 50 * time.Millisecond

// Response statuses workers report
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Task is a decoded task envelope. Fields holds the raw body for executors
// that need more than the trade payload.
type Task struct {
	transport.TaskPayload
	Capability string
	Fields     map[string]interface{}
}

// Executor runs tasks for one capability
type Executor interface {
	Capability() string
	Execute(ctx context.Context, task Task) transport.Response
}

// Heartbeater records worker liveness
type Heartbeater interface {
	Heartbeat(id string) error
}

// Config holds worker settings
type Config struct {
	// Delay simulates execution latency
	Delay time.Duration
	// Timeout bounds a single execution
	Timeout time.Duration
	// HeartbeatInterval is how often Heartbeat is called; 0 disables it
	HeartbeatInterval time.Duration
	// MaxConcurrent caps parallel executions; 0 means 4
	MaxConcurrent int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	return c
}

// Worker is a simulated worker agent bound to one transport address
type Worker struct {
	id        string
	cfg       Config
	transport transport.Transport
	executors map[string]Executor
	heartbeat Heartbeater

	cancelled map[string]time.Time
	inFlight  map[string]bool
	mu        sync.Mutex
	sem       chan struct{}
	wg        sync.WaitGroup
	log       zerolog.Logger
}

// New creates a worker. heartbeat may be nil.
func New(id string, cfg Config, tr transport.Transport, heartbeat Heartbeater, log zerolog.Logger, executors ...Executor) *Worker {
	cfg = cfg.withDefaults()
	w := &Worker{
		id:        id,
		cfg:       cfg,
		transport: tr,
		executors: make(map[string]Executor, len(executors)),
		heartbeat: heartbeat,
		cancelled: make(map[string]time.Time),
		inFlight:  make(map[string]bool),
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		log:       log.With().Str("component", "worker").Str("worker_id", id).Logger(),
	}
	for _, e := range executors {
		w.executors[e.Capability()] = e
	}
	return w
}

// ID returns the worker id
func (w *Worker) ID() string {
	return w.id
}

// Capabilities lists the capabilities the worker can execute
func (w *Worker) Capabilities() []string {
	caps := make([]string, 0, len(w.executors))
	for c := range w.executors {
		caps = append(caps, c)
	}
	return caps
}

// Run consumes the worker's address until ctx is cancelled, then waits for
// in-flight executions to finish.
func (w *Worker) Run(ctx context.Context) error {
	if w.heartbeat != nil && w.cfg.HeartbeatInterval > 0 {
		go w.beat(ctx)
	}

	w.log.Info().Strs("capabilities", w.Capabilities()).Msg("Worker started")
	err := w.transport.Consume(ctx, w.id, w.handle)
	w.wg.Wait()
	w.log.Info().Msg("Worker stopped")

	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (w *Worker) beat(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.heartbeat.Heartbeat(w.id); err != nil {
				w.log.Warn().Err(err).Msg("Heartbeat failed")
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, env transport.Envelope) error {
	switch env.Kind {
	case transport.KindCancel:
		msg, err := env.DecodeCancel()
		if err != nil {
			return err
		}
		w.markCancelled(env.TaskID)
		w.log.Info().Str("task_id", env.TaskID).Str("reason", msg.Reason).Msg("Task cancelled by orchestrator")
		return nil

	case transport.KindTask:
		task, err := decodeTask(env)
		if err != nil {
			return err
		}
		if w.isCancelled(task.TaskID) {
			w.log.Debug().Str("task_id", task.TaskID).Msg("Skipping cancelled task")
			return nil
		}

		w.mu.Lock()
		if w.inFlight[task.TaskID] {
			w.mu.Unlock()
			return nil
		}
		w.inFlight[task.TaskID] = true
		w.mu.Unlock()

		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		w.wg.Add(1)
		go func() {
			defer func() {
				<-w.sem
				w.mu.Lock()
				delete(w.inFlight, task.TaskID)
				w.mu.Unlock()
				w.wg.Done()
			}()
			w.execute(ctx, task)
		}()
		return nil

	default:
		return fmt.Errorf("unexpected %s envelope on worker address", env.Kind)
	}
}

func (w *Worker) execute(ctx context.Context, task Task) {
	if w.cfg.Delay > 0 {
		select {
		case <-time.After(w.cfg.Delay):
		case <-ctx.Done():
			return
		}
	}
	if w.isCancelled(task.TaskID) {
		w.log.Debug().Str("task_id", task.TaskID).Msg("Task cancelled before execution")
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	var resp transport.Response
	if executor, ok := w.executors[task.Capability]; ok {
		resp = executor.Execute(execCtx, task)
	} else {
		w.log.Warn().Str("task_id", task.TaskID).Str("capability", task.Capability).Msg("Unsupported task type")
		resp = transport.Response{Status: StatusFailed, Error: fmt.Sprintf("Unsupported task type: %s", task.Capability)}
	}
	resp.TaskID = task.TaskID

	// A cancel may have arrived while executing; the orchestrator would
	// reject the response anyway
	if w.isCancelled(task.TaskID) {
		return
	}

	env, err := transport.NewResponseEnvelope(w.id, resp)
	if err == nil {
		err = w.sendResponse(ctx, env)
	}
	if err != nil {
		w.log.Error().Err(err).Str("task_id", task.TaskID).Msg("Failed to send response")
		return
	}

	w.log.Info().
		Str("task_id", task.TaskID).
		Str("capability", task.Capability).
		Str("status", resp.Status).
		Int("trades", len(resp.Trades)).
		Msg("Task executed")
}

// sendResponse retries while the responses queue is full. A lost response
// would leave the task to time out.
func (w *Worker) sendResponse(ctx context.Context, env transport.Envelope) error {
	for {
		err := w.transport.Send(ctx, env)
		if !errors.Is(err, transport.ErrQueueFull) {
			return err
		}
		select {
		case <-time.After(responseRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Worker) markCancelled(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.cancelled[id] = now
	for k, at := range w.cancelled {
		if now.Sub(at) > time.Hour {
			delete(w.cancelled, k)
		}
	}
}

func (w *Worker) isCancelled(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.cancelled[id]
	return ok
}

func decodeTask(env transport.Envelope) (Task, error) {
	payload, err := env.DecodeTask()
	if err != nil {
		return Task{}, err
	}
	fields := make(map[string]interface{})
	if err := msgpack.Unmarshal(env.Body, &fields); err != nil {
		return Task{}, fmt.Errorf("failed to decode task fields: %w", err)
	}
	return Task{TaskPayload: payload, Capability: env.Capability, Fields: fields}, nil
}
