package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/transport"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

type countingHeartbeat struct {
	mu    sync.Mutex
	beats int
}

func (h *countingHeartbeat) Heartbeat(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.beats++
	return nil
}

func (h *countingHeartbeat) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.beats
}

func startWorker(t *testing.T, cfg Config, hb Heartbeater, executors ...Executor) (*transport.MemoryTransport, <-chan transport.Response, context.CancelFunc) {
	t.Helper()
	tr := transport.NewMemoryTransport(testLogger())
	ctx, cancel := context.WithCancel(context.Background())

	w := New("worker-1", cfg, tr, hb, testLogger(), executors...)
	go func() { _ = w.Run(ctx) }()

	responses := make(chan transport.Response, 16)
	go func() {
		_ = tr.Consume(ctx, transport.ResponsesAddress, func(ctx context.Context, env transport.Envelope) error {
			resp, err := env.DecodeResponse()
			if err != nil {
				return err
			}
			responses <- resp
			return nil
		})
	}()

	t.Cleanup(cancel)
	return tr, responses, cancel
}

func sendTask(t *testing.T, tr transport.Transport, id, capability string, body map[string]interface{}) {
	t.Helper()
	body["task_id"] = id
	env, err := transport.NewTaskEnvelope(id, capability, "worker-1", body)
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), env))
}

func waitResponse(t *testing.T, responses <-chan transport.Response) transport.Response {
	t.Helper()
	select {
	case resp := <-responses:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("no response received")
		return transport.Response{}
	}
}

func TestWorker_ExecutesTradeTask(t *testing.T) {
	tr, responses, _ := startWorker(t, Config{}, nil, NewEquityTrader(nil))

	sendTask(t, tr, "t1", domain.CapabilityEquityTrader, map[string]interface{}{
		"user_id":    "u1",
		"amount":     1000.0,
		"allocation": map[string]float64{domain.LargeCap: 60, domain.International: 40},
		"action":     "BUY",
		"timestamp":  time.Now().UTC(),
	})

	resp := waitResponse(t, responses)
	assert.Equal(t, "t1", resp.TaskID)
	assert.Equal(t, StatusCompleted, resp.Status)
	require.Len(t, resp.Trades, 2)
	assert.Equal(t, "VOO", resp.Trades[0].Symbol)
	assert.Equal(t, domain.Buy, resp.Trades[0].Action)
	assert.InDelta(t, 1.25, resp.Trades[0].Quantity, 1e-9)
	assert.Equal(t, "VXUS", resp.Trades[1].Symbol)
	assert.InDelta(t, 6.6667, resp.Trades[1].Quantity, 1e-9)
	assert.Contains(t, resp.Data["confirmation_id"], "EQ_TRADE_")
}

func TestWorker_UnsupportedTaskType(t *testing.T) {
	tr, responses, _ := startWorker(t, Config{}, nil, NewEquityTrader(nil))

	sendTask(t, tr, "t1", "defi_magic", map[string]interface{}{"amount": 10.0})

	resp := waitResponse(t, responses)
	assert.Equal(t, StatusFailed, resp.Status)
	assert.Equal(t, "Unsupported task type: defi_magic", resp.Error)
}

func TestWorker_SkipsCancelledTask(t *testing.T) {
	tr, responses, _ := startWorker(t, Config{Delay: 100 * time.Millisecond}, nil, NewEquityTrader(nil), NewRiskAnalyst())

	sendTask(t, tr, "t1", domain.CapabilityEquityTrader, map[string]interface{}{
		"amount":     500.0,
		"allocation": map[string]float64{domain.LargeCap: 100},
	})
	cancelEnv, err := transport.NewCancelEnvelope("t1", "worker-1", "Trading disabled by user", time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), cancelEnv))

	sendTask(t, tr, "t2", domain.CapabilityRiskAnalyzer, map[string]interface{}{"portfolio_value": 1000.0})

	resp := waitResponse(t, responses)
	assert.Equal(t, "t2", resp.TaskID)

	select {
	case extra := <-responses:
		t.Fatalf("unexpected response for %s", extra.TaskID)
	case <-time.After(250 * time.Millisecond):
	}
}

func TestWorker_Heartbeat(t *testing.T) {
	hb := &countingHeartbeat{}
	startWorker(t, Config{HeartbeatInterval: 10 * time.Millisecond}, hb, NewRiskAnalyst())

	assert.Eventually(t, func() bool { return hb.count() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestWorker_RunReturnsOnCancel(t *testing.T) {
	tr := transport.NewMemoryTransport(testLogger())
	w := New("worker-1", Config{}, tr, nil, testLogger(), NewCryptoTrader(nil))
	assert.Equal(t, []string{domain.CapabilityCryptoTrader}, w.Capabilities())
	assert.Equal(t, "worker-1", w.ID())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
