package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/nexus/internal/domain"
)

func TestTaskEnvelope_MapBodyDecodesIntoPayload(t *testing.T) {
	// The orchestrator sends payloads as generic maps
	body := map[string]interface{}{
		"task_id":    "t1",
		"user_id":    "u1",
		"amount":     -250.5,
		"allocation": map[string]float64{"Bitcoin": 60, "Ethereum": 40},
		"action":     "SELL",
	}
	env, err := NewTaskEnvelope("t1", "crypto_trader", "crypto-1", body)
	require.NoError(t, err)
	assert.Equal(t, "crypto-1", env.Address())

	wire, err := Marshal(env)
	require.NoError(t, err)
	decoded, err := Unmarshal(wire)
	require.NoError(t, err)

	payload, err := decoded.DecodeTask()
	require.NoError(t, err)
	assert.Equal(t, "u1", payload.UserID)
	assert.Equal(t, -250.5, payload.Amount)
	assert.Equal(t, domain.Sell, payload.Action)
	assert.Equal(t, 60.0, payload.Allocation["Bitcoin"])
}

func TestCancelEnvelope(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	env, err := NewCancelEnvelope("t1", "equity-1", "Trading disabled by user", at)
	require.NoError(t, err)

	msg, err := env.DecodeCancel()
	require.NoError(t, err)
	assert.Equal(t, CancelAction, msg.Action)
	assert.Equal(t, "Trading disabled by user", msg.Reason)
	assert.True(t, at.Equal(msg.Timestamp))

	_, err = env.DecodeTask()
	assert.Error(t, err, "kind mismatch must be rejected")
}

func TestResponseEnvelope_RoutesToResponses(t *testing.T) {
	env, err := NewResponseEnvelope("equity-1", Response{
		TaskID: "t1",
		Status: "COMPLETED",
		Trades: []domain.Trade{{Symbol: "SPY", Quantity: 2, Price: 450, Action: domain.Buy, Category: domain.Equity}},
	})
	require.NoError(t, err)
	assert.Equal(t, ResponsesAddress, env.Address())

	resp, err := env.DecodeResponse()
	require.NoError(t, err)
	require.Len(t, resp.Trades, 1)
	assert.Equal(t, "SPY", resp.Trades[0].Symbol)
}

func TestUnmarshal_RejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte{0xc1})
	assert.Error(t, err)

	wire, err := Marshal(Envelope{Kind: KindTask})
	require.NoError(t, err)
	_, err = Unmarshal(wire)
	assert.Error(t, err, "envelopes without a task id are invalid")
}
