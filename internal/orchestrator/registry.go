package orchestrator

import (
	"sync"
	"time"
)

// Registry holds registered workers in registration order
type Registry struct {
	workers map[string]*Worker
	order   []string
	mu      sync.RWMutex
}

// NewRegistry creates an empty worker registry
func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]*Worker),
		order:   make([]string, 0),
	}
}

// Upsert registers a worker or refreshes an existing one in place.
// It returns true when the worker was already known.
func (r *Registry) Upsert(id string, capabilities []string, endpoint string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	caps := make([]string, len(capabilities))
	copy(caps, capabilities)

	if w, ok := r.workers[id]; ok {
		w.Capabilities = caps
		w.Endpoint = endpoint
		w.Status = WorkerActive
		w.LastSeen = now
		return true
	}

	r.workers[id] = &Worker{
		ID:           id,
		Capabilities: caps,
		Endpoint:     endpoint,
		Status:       WorkerActive,
		RegisteredAt: now,
		LastSeen:     now,
	}
	r.order = append(r.order, id)
	return false
}

// Touch records a heartbeat. It returns false for unknown workers.
func (r *Registry) Touch(id string, now time.Time) (reactivated bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return false, false
	}
	w.LastSeen = now
	if w.Status != WorkerActive {
		w.Status = WorkerActive
		return true, true
	}
	return false, true
}

// Get returns a copy of a worker
func (r *Registry) Get(id string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[id]
	if !ok {
		return Worker{}, false
	}
	return copyWorker(w), true
}

// Select returns the first active worker, in registration order, that
// declares capability and accepts the filter
func (r *Registry) Select(capability string, accept func(id string) bool) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		w := r.workers[id]
		if w.Status != WorkerActive || !w.Can(capability) {
			continue
		}
		if accept != nil && !accept(id) {
			continue
		}
		return copyWorker(w), true
	}
	return Worker{}, false
}

// DeactivateOlderThan marks active workers last seen before cutoff INACTIVE
// and returns their ids
func (r *Registry) DeactivateOlderThan(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for _, id := range r.order {
		w := r.workers[id]
		if w.Status == WorkerActive && w.LastSeen.Before(cutoff) {
			w.Status = WorkerInactive
			ids = append(ids, id)
		}
	}
	return ids
}

// All returns copies of every worker in registration order
func (r *Registry) All() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Worker, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, copyWorker(r.workers[id]))
	}
	return result
}

// ActiveCount returns the number of ACTIVE workers
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, w := range r.workers {
		if w.Status == WorkerActive {
			n++
		}
	}
	return n
}

func copyWorker(w *Worker) Worker {
	c := *w
	c.Capabilities = make([]string, len(w.Capabilities))
	copy(c.Capabilities, w.Capabilities)
	return c
}
