package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

const memoryQueueSize = 256

// MemoryTransport routes envelopes through in-process channels. Frames are
// encoded on Send so every transport exercises the same codec.
type MemoryTransport struct {
	queues map[string]chan []byte
	closed bool
	mu     sync.Mutex
	log    zerolog.Logger
}

// NewMemoryTransport creates an in-process transport
func NewMemoryTransport(log zerolog.Logger) *MemoryTransport {
	return &MemoryTransport{
		queues: make(map[string]chan []byte),
		log:    log.With().Str("component", "memory_transport").Logger(),
	}
}

func (t *MemoryTransport) queue(address string) (chan []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	q, ok := t.queues[address]
	if !ok {
		q = make(chan []byte, memoryQueueSize)
		t.queues[address] = q
	}
	return q, nil
}

// Send enqueues an envelope. It never waits for room: a full queue fails
// with ErrQueueFull.
func (t *MemoryTransport) Send(ctx context.Context, env Envelope) error {
	data, err := Marshal(env)
	if err != nil {
		return err
	}
	q, err := t.queue(env.Address())
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q <- data:
		return nil
	default:
		t.log.Warn().Str("address", env.Address()).Str("task_id", env.TaskID).Msg("Queue full, frame rejected")
		return fmt.Errorf("%w: %s", ErrQueueFull, env.Address())
	}
}

// Consume delivers envelopes on address to h until ctx is cancelled
func (t *MemoryTransport) Consume(ctx context.Context, address string, h Handler) error {
	q, err := t.queue(address)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-q:
			env, err := Unmarshal(data)
			if err != nil {
				t.log.Error().Err(err).Str("address", address).Msg("Dropping malformed frame")
				continue
			}
			if err := h(ctx, env); err != nil {
				t.log.Warn().Err(err).Str("address", address).Str("task_id", env.TaskID).Msg("Envelope handler failed")
			}
		}
	}
}

// Pending returns the number of queued frames on address
func (t *MemoryTransport) Pending(address string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queues[address])
}

// Close rejects further sends
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}
