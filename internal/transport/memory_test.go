package transport

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTransport_SendConsume(t *testing.T) {
	tr := NewMemoryTransport(zerolog.New(nil).Level(zerolog.Disabled))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env, err := NewTaskEnvelope("t1", "equity_trader", "equity-1", map[string]interface{}{"amount": 100.0})
	require.NoError(t, err)
	require.NoError(t, tr.Send(ctx, env))
	assert.Equal(t, 1, tr.Pending("equity-1"))

	received := make(chan Envelope, 1)
	go func() {
		_ = tr.Consume(ctx, "equity-1", func(ctx context.Context, env Envelope) error {
			received <- env
			return nil
		})
	}()

	select {
	case got := <-received:
		assert.Equal(t, "t1", got.TaskID)
		assert.Equal(t, "equity_trader", got.Capability)
	case <-time.After(time.Second):
		t.Fatal("envelope not delivered")
	}
}

func TestMemoryTransport_ConsumeStopsOnCancel(t *testing.T) {
	tr := NewMemoryTransport(zerolog.New(nil).Level(zerolog.Disabled))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- tr.Consume(ctx, ResponsesAddress, func(context.Context, Envelope) error { return nil })
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consume did not return")
	}
}

func TestMemoryTransport_Closed(t *testing.T) {
	tr := NewMemoryTransport(zerolog.New(nil).Level(zerolog.Disabled))
	require.NoError(t, tr.Close())

	env, err := NewTaskEnvelope("t1", "equity_trader", "equity-1", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Send(context.Background(), env), ErrClosed)
}

func TestMemoryTransport_FullQueueRejectsWithoutBlocking(t *testing.T) {
	tr := NewMemoryTransport(zerolog.New(nil).Level(zerolog.Disabled))
	ctx := context.Background()

	env, err := NewTaskEnvelope("t1", "equity_trader", "equity-1", nil)
	require.NoError(t, err)
	for i := 0; i < memoryQueueSize; i++ {
		require.NoError(t, tr.Send(ctx, env))
	}

	done := make(chan error, 1)
	go func() { done <- tr.Send(ctx, env) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("send blocked on a full queue")
	}
	assert.Equal(t, memoryQueueSize, tr.Pending("equity-1"))
}
