package orchestrator

import (
	"context"
	"errors"

	"github.com/aristath/nexus/internal/domain"
	"github.com/aristath/nexus/internal/transport"
)

// ResponseSource delivers worker response envelopes
type ResponseSource interface {
	Consume(ctx context.Context, address string, h transport.Handler) error
}

// ConsumeResponses applies worker responses from src until ctx is
// cancelled. Responses for unknown or already finished tasks are logged and
// dropped.
func (o *Orchestrator) ConsumeResponses(ctx context.Context, src ResponseSource) error {
	o.log.Info().Msg("Consuming worker responses")
	err := src.Consume(ctx, transport.ResponsesAddress, o.handleResponseEnvelope)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (o *Orchestrator) handleResponseEnvelope(ctx context.Context, env transport.Envelope) error {
	resp, err := env.DecodeResponse()
	if err != nil {
		return err
	}

	if env.WorkerID != "" {
		// Any response proves the worker is alive
		_ = o.Heartbeat(env.WorkerID)
	}

	err = o.CompleteTask(resp)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrTaskNotFound), errors.Is(err, domain.ErrInvalidTransition):
		o.log.Warn().Err(err).Str("task_id", resp.TaskID).Str("worker_id", env.WorkerID).Msg("Dropping worker response")
		return nil
	default:
		return err
	}
}
