package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/transport"
)

func TestConsumeResponses_CompletesTasks(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)
	require.NoError(t, o.RegisterWorker("equity-1", []string{"equity_trader"}, "local"))
	id, err := o.DelegateTask(context.Background(), TaskRequest{Type: "equity_trader", UserID: "u1"})
	require.NoError(t, err)

	tr := transport.NewMemoryTransport(zerolog.New(nil).Level(zerolog.Disabled))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.ConsumeResponses(ctx, tr) }()

	// Unknown and malformed responses must not stop the consumer
	unknown, err := transport.NewResponseEnvelope("equity-1", transport.Response{TaskID: "missing", Status: "COMPLETED"})
	require.NoError(t, err)
	require.NoError(t, tr.Send(ctx, unknown))

	env, err := transport.NewResponseEnvelope("equity-1", transport.Response{
		TaskID: id,
		Status: "COMPLETED",
		Trades: []domain.Trade{{Symbol: "VTI", Quantity: 1, Price: 250}},
	})
	require.NoError(t, err)
	require.NoError(t, tr.Send(ctx, env))

	assert.Eventually(t, func() bool {
		return o.GetTaskStatus(id) == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}
