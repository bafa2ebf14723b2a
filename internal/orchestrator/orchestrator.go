// Package orchestrator owns the task lifecycle: worker registration, task
// delegation, status tracking, timeouts and cancellation.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/events"
	"github.com/aristath/nexus/internal/transport"
)

const timeoutError = "Task timed out"

// Dispatcher delivers envelopes to workers
type Dispatcher interface {
	Send(ctx context.Context, env transport.Envelope) error
}

// Config holds orchestrator settings
type Config struct {
	DefaultTimeout time.Duration
	PollInterval   time.Duration
	// MaxInFlightPerWorker caps PENDING+RUNNING tasks per worker; 0 is unlimited
	MaxInFlightPerWorker int
}

func (c Config) withDefaults() Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 60 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	return c
}

// Orchestrator is the single owner of task state
type Orchestrator struct {
	cfg        Config
	workers    *Registry
	tasks      map[string]*Task
	mu         sync.RWMutex
	dispatcher Dispatcher
	listeners  []Listener
	lmu        sync.RWMutex
	metrics    *Metrics
	bus        *events.Bus
	now        func() time.Time
	log        zerolog.Logger
}

// New creates an orchestrator. A nil dispatcher records tasks without
// sending them anywhere.
func New(cfg Config, dispatcher Dispatcher, metrics *Metrics, bus *events.Bus, log zerolog.Logger) *Orchestrator {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Orchestrator{
		cfg:        cfg.withDefaults(),
		workers:    NewRegistry(),
		tasks:      make(map[string]*Task),
		dispatcher: dispatcher,
		metrics:    metrics,
		bus:        bus,
		now:        time.Now,
		log:        log.With().Str("service", "orchestrator").Logger(),
	}
}

// Subscribe registers a listener for terminal task transitions. Listeners
// run synchronously after the task table lock is released.
func (o *Orchestrator) Subscribe(l Listener) {
	o.lmu.Lock()
	defer o.lmu.Unlock()
	o.listeners = append(o.listeners, l)
}

// RegisterWorker upserts a worker and marks it ACTIVE
func (o *Orchestrator) RegisterWorker(id string, capabilities []string, endpoint string) error {
	if id == "" {
		return domain.MissingFieldError("worker_id")
	}
	if len(capabilities) == 0 {
		return domain.MissingFieldError("capabilities")
	}

	if existed := o.workers.Upsert(id, capabilities, endpoint, o.now()); existed {
		o.log.Warn().Str("worker_id", id).Msg("Worker already registered, updating info")
	}
	o.metrics.activeWorkers.Set(float64(o.workers.ActiveCount()))

	o.bus.Emit("orchestrator", &events.WorkerData{WorkerID: id, Capabilities: capabilities, Active: true})
	o.log.Info().Str("worker_id", id).Strs("capabilities", capabilities).Str("endpoint", endpoint).Msg("Worker registered")
	return nil
}

// Heartbeat records worker liveness, reactivating an INACTIVE worker
func (o *Orchestrator) Heartbeat(id string) error {
	reactivated, ok := o.workers.Touch(id, o.now())
	if !ok {
		return fmt.Errorf("worker %s: %w", id, domain.ErrWorkerNotAvailable)
	}
	if reactivated {
		o.metrics.activeWorkers.Set(float64(o.workers.ActiveCount()))
		w, _ := o.workers.Get(id)
		o.bus.Emit("orchestrator", &events.WorkerData{WorkerID: id, Capabilities: w.Capabilities, Active: true})
		o.log.Info().Str("worker_id", id).Msg("Worker reactivated")
	}
	return nil
}

// DeactivateStaleWorkers marks workers silent for longer than maxAge INACTIVE
func (o *Orchestrator) DeactivateStaleWorkers(maxAge time.Duration) []string {
	ids := o.workers.DeactivateOlderThan(o.now().Add(-maxAge))
	if len(ids) == 0 {
		return nil
	}

	o.metrics.activeWorkers.Set(float64(o.workers.ActiveCount()))
	for _, id := range ids {
		o.bus.Emit("orchestrator", &events.WorkerData{WorkerID: id, Active: false})
		o.log.Warn().Str("worker_id", id).Dur("max_age", maxAge).Msg("Worker marked inactive")
	}
	return ids
}

// Workers lists registered workers in registration order
func (o *Orchestrator) Workers() []Worker {
	o.mu.RLock()
	counts := o.inFlightLocked()
	o.mu.RUnlock()

	workers := o.workers.All()
	for i := range workers {
		workers[i].InFlight = counts[workers[i].ID]
	}
	return workers
}

// DelegateTask selects a worker, records the task as PENDING and hands it to
// the dispatcher. It never waits for execution.
func (o *Orchestrator) DelegateTask(ctx context.Context, req TaskRequest) (string, error) {
	if req.Type == "" {
		return "", domain.MissingFieldError("task_type")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = o.cfg.DefaultTimeout
	}
	now := o.now()
	id := uuid.New().String()

	o.mu.Lock()
	worker, err := o.selectWorkerLocked(req)
	if err != nil {
		o.mu.Unlock()
		o.log.Error().Err(err).Str("task_type", req.Type).Str("target_worker", req.TargetWorkerID).Msg("Task delegation failed")
		return "", err
	}

	body := make(map[string]interface{}, len(req.Payload)+1)
	for k, v := range req.Payload {
		body[k] = v
	}
	body["task_id"] = id

	task := &Task{
		ID:          id,
		Type:        req.Type,
		WorkerID:    worker.ID,
		UserID:      req.UserID,
		Payload:     body,
		Status:      StatusPending,
		SubmittedAt: now,
		ExpiresAt:   now.Add(timeout),
	}
	o.tasks[id] = task
	o.mu.Unlock()

	if o.dispatcher != nil {
		env, err := transport.NewTaskEnvelope(id, req.Type, worker.ID, body)
		if err == nil {
			err = o.dispatcher.Send(ctx, env)
		}
		if err != nil {
			o.mu.Lock()
			delete(o.tasks, id)
			o.mu.Unlock()
			o.metrics.dispatchErrors.Inc()
			o.log.Error().Err(err).Str("task_id", id).Str("worker_id", worker.ID).Msg("Failed to dispatch task")
			return "", fmt.Errorf("failed to dispatch task: %w", err)
		}
	}

	o.metrics.delegated.WithLabelValues(req.Type).Inc()
	o.metrics.inFlight.Inc()
	o.bus.Emit("orchestrator", &events.TaskData{
		TaskID:   id,
		TaskType: req.Type,
		WorkerID: worker.ID,
		UserID:   req.UserID,
		Status:   string(StatusPending),
	})
	o.log.Info().
		Str("task_id", id).
		Str("task_type", req.Type).
		Str("worker_id", worker.ID).
		Time("expires_at", task.ExpiresAt).
		Msg("Task delegated")

	return id, nil
}

// selectWorkerLocked must be called with mu held
func (o *Orchestrator) selectWorkerLocked(req TaskRequest) (Worker, error) {
	counts := o.inFlightLocked()
	hasCapacity := func(id string) bool {
		return o.cfg.MaxInFlightPerWorker <= 0 || counts[id] < o.cfg.MaxInFlightPerWorker
	}

	if req.TargetWorkerID != "" {
		w, ok := o.workers.Get(req.TargetWorkerID)
		if !ok || w.Status != WorkerActive || !hasCapacity(w.ID) {
			return Worker{}, fmt.Errorf("target worker %s: %w", req.TargetWorkerID, domain.ErrWorkerNotAvailable)
		}
		return w, nil
	}

	w, ok := o.workers.Select(req.Type, hasCapacity)
	if !ok {
		return Worker{}, fmt.Errorf("task type %s: %w", req.Type, domain.ErrNoCapableWorker)
	}
	return w, nil
}

// inFlightLocked must be called with mu held
func (o *Orchestrator) inFlightLocked() map[string]int {
	counts := make(map[string]int)
	for _, t := range o.tasks {
		if !t.Status.Terminal() {
			counts[t.WorkerID]++
		}
	}
	return counts
}

// GetTaskStatus returns the task's status, NOT_FOUND for unknown ids. An
// expired non-terminal task is moved to TIMEOUT on read.
func (o *Orchestrator) GetTaskStatus(id string) Status {
	o.mu.Lock()
	task, ok := o.tasks[id]
	if !ok {
		o.mu.Unlock()
		o.log.Warn().Str("task_id", id).Msg("Task not found")
		return StatusNotFound
	}
	expired := o.expireLocked(task, o.now())
	status := task.Status
	var snap Task
	if expired {
		snap = task.snapshot()
	}
	o.mu.Unlock()

	if expired {
		o.finished(snap)
	}
	return status
}

// GetTask returns a copy of the task after applying the timeout check
func (o *Orchestrator) GetTask(id string) (Task, bool) {
	if o.GetTaskStatus(id) == StatusNotFound {
		return Task{}, false
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	task, ok := o.tasks[id]
	if !ok {
		return Task{}, false
	}
	return task.snapshot(), true
}

// Tasks returns copies of every tracked task
func (o *Orchestrator) Tasks() []Task {
	o.mu.RLock()
	defer o.mu.RUnlock()

	result := make([]Task, 0, len(o.tasks))
	for _, t := range o.tasks {
		result = append(result, t.snapshot())
	}
	return result
}

// GetTaskResult polls until the task is terminal or wait elapses. A terminal
// task is removed on retrieval, so a result is returned once.
func (o *Orchestrator) GetTaskResult(ctx context.Context, id string, wait time.Duration) (*Result, bool) {
	deadline := o.now().Add(wait)
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status := o.GetTaskStatus(id)
		if status == StatusNotFound {
			o.log.Error().Str("task_id", id).Msg("Task not found when retrieving result")
			return nil, false
		}
		if status.Terminal() {
			return o.takeResult(id)
		}
		if !o.now().Before(deadline) {
			o.log.Warn().
				Str("task_id", id).
				Str("status", string(status)).
				Dur("wait", wait).
				Msg("Task did not finish within the wait timeout")
			return nil, false
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) takeResult(id string) (*Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	task, ok := o.tasks[id]
	if !ok || !task.Status.Terminal() {
		return nil, false
	}
	delete(o.tasks, id)

	if task.Result == nil {
		return &Result{Status: task.Status}, true
	}
	r := *task.Result
	return &r, true
}

// CancelTask marks a non-terminal task CANCELLED and sends a best-effort
// cancel message to its worker
func (o *Orchestrator) CancelTask(ctx context.Context, id, reason string) error {
	now := o.now()

	o.mu.Lock()
	task, ok := o.tasks[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, domain.ErrTaskNotFound)
	}
	if o.expireLocked(task, now) {
		snap := task.snapshot()
		o.mu.Unlock()
		o.finished(snap)
		return fmt.Errorf("task %s already %s: %w", id, StatusTimeout, domain.ErrInvalidTransition)
	}
	if task.Status.Terminal() {
		status := task.Status
		o.mu.Unlock()
		return fmt.Errorf("task %s already %s: %w", id, status, domain.ErrInvalidTransition)
	}
	o.finishLocked(task, &Result{Status: StatusCancelled, Error: reason}, now)
	snap := task.snapshot()
	o.mu.Unlock()

	if o.dispatcher != nil {
		env, err := transport.NewCancelEnvelope(id, snap.WorkerID, reason, now.UTC())
		if err == nil {
			err = o.dispatcher.Send(ctx, env)
		}
		if err != nil {
			o.log.Warn().Err(err).Str("task_id", id).Str("worker_id", snap.WorkerID).Msg("Failed to send cancel message")
		}
	}

	o.log.Info().Str("task_id", id).Str("reason", reason).Msg("Task cancelled")
	o.finished(snap)
	return nil
}

// MarkRunning moves a PENDING task to RUNNING. Repeated calls are no-ops.
func (o *Orchestrator) MarkRunning(id string) error {
	o.mu.Lock()
	task, ok := o.tasks[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, domain.ErrTaskNotFound)
	}
	if o.expireLocked(task, o.now()) {
		snap := task.snapshot()
		o.mu.Unlock()
		o.finished(snap)
		return fmt.Errorf("task %s already %s: %w", id, StatusTimeout, domain.ErrInvalidTransition)
	}
	switch task.Status {
	case StatusRunning:
		o.mu.Unlock()
		return nil
	case StatusPending:
		task.Status = StatusRunning
	default:
		status := task.Status
		o.mu.Unlock()
		return fmt.Errorf("task %s already %s: %w", id, status, domain.ErrInvalidTransition)
	}
	snap := task.snapshot()
	o.mu.Unlock()

	o.bus.Emit("orchestrator", &events.TaskData{
		TaskID:     id,
		TaskType:   snap.Type,
		WorkerID:   snap.WorkerID,
		UserID:     snap.UserID,
		Status:     string(StatusRunning),
		Transition: events.TaskRunning,
	})
	o.log.Debug().Str("task_id", id).Msg("Task running")
	return nil
}

// CompleteTask applies a worker response. Only COMPLETED and FAILED are
// accepted; responses for terminal tasks are rejected.
func (o *Orchestrator) CompleteTask(resp transport.Response) error {
	status := Status(resp.Status)
	if status != StatusCompleted && status != StatusFailed {
		return domain.NewValidationError("status", fmt.Sprintf("must be %s or %s", StatusCompleted, StatusFailed))
	}
	if resp.TaskID == "" {
		return domain.MissingFieldError("task_id")
	}
	now := o.now()

	o.mu.Lock()
	task, ok := o.tasks[resp.TaskID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("task %s: %w", resp.TaskID, domain.ErrTaskNotFound)
	}
	if o.expireLocked(task, now) {
		snap := task.snapshot()
		o.mu.Unlock()
		o.finished(snap)
		return fmt.Errorf("task %s already %s: %w", resp.TaskID, StatusTimeout, domain.ErrInvalidTransition)
	}
	if task.Status.Terminal() {
		current := task.Status
		o.mu.Unlock()
		o.log.Warn().Str("task_id", resp.TaskID).Str("status", string(current)).Msg("Ignoring response for finished task")
		return fmt.Errorf("task %s already %s: %w", resp.TaskID, current, domain.ErrInvalidTransition)
	}

	o.finishLocked(task, &Result{
		Status: status,
		Trades: resp.Trades,
		Data:   resp.Data,
		Error:  resp.Error,
	}, now)
	snap := task.snapshot()
	o.mu.Unlock()

	o.finished(snap)
	return nil
}

// SweepExpired moves every expired non-terminal task to TIMEOUT
func (o *Orchestrator) SweepExpired() int {
	now := o.now()

	o.mu.Lock()
	var expired []Task
	for _, task := range o.tasks {
		if o.expireLocked(task, now) {
			expired = append(expired, task.snapshot())
		}
	}
	o.mu.Unlock()

	for _, snap := range expired {
		o.finished(snap)
	}
	if len(expired) > 0 {
		o.log.Info().Int("count", len(expired)).Msg("Swept expired tasks")
	}
	return len(expired)
}

// PurgeTerminal drops terminal tasks that finished more than olderThan ago
// and were never collected
func (o *Orchestrator) PurgeTerminal(olderThan time.Duration) int {
	cutoff := o.now().Add(-olderThan)

	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for id, task := range o.tasks {
		if task.Status.Terminal() && task.FinishedAt != nil && task.FinishedAt.Before(cutoff) {
			delete(o.tasks, id)
			n++
		}
	}
	if n > 0 {
		o.log.Info().Int("count", n).Msg("Purged finished tasks")
	}
	return n
}

// expireLocked must be called with mu held. It reports whether the task
// was moved to TIMEOUT.
func (o *Orchestrator) expireLocked(task *Task, now time.Time) bool {
	if task.Status.Terminal() || !now.After(task.ExpiresAt) {
		return false
	}
	o.finishLocked(task, &Result{Status: StatusTimeout, Error: timeoutError}, now)
	o.log.Warn().Str("task_id", task.ID).Msg("Task timed out")
	return true
}

// finishLocked must be called with mu held
func (o *Orchestrator) finishLocked(task *Task, result *Result, now time.Time) {
	result.FinishedAt = now
	task.Status = result.Status
	task.Result = result
	task.FinishedAt = &now
}

// finished publishes a terminal transition. Call without mu held.
func (o *Orchestrator) finished(task Task) {
	o.metrics.finished.WithLabelValues(string(task.Status)).Inc()
	o.metrics.inFlight.Dec()

	data := &events.TaskData{
		TaskID:   task.ID,
		TaskType: task.Type,
		WorkerID: task.WorkerID,
		UserID:   task.UserID,
		Status:   string(task.Status),
		Terminal: true,
	}
	if task.Result != nil {
		data.Result = map[string]interface{}{"trades": len(task.Result.Trades)}
		if task.Result.Error != "" {
			data.Result["error"] = task.Result.Error
		}
	}
	o.bus.Emit("orchestrator", data)

	o.lmu.RLock()
	listeners := make([]Listener, len(o.listeners))
	copy(listeners, o.listeners)
	o.lmu.RUnlock()

	for _, l := range listeners {
		o.notify(l, task)
	}
}

func (o *Orchestrator) notify(l Listener, task Task) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Interface("panic", r).Str("task_id", task.ID).Msg("Task listener panicked")
		}
	}()
	l(task)
}
