package usecase

import (
	"context"
	"time"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
	"github.com/kirillkom/agent-orchestrator/internal/infrastructure/resilience"
	"github.com/kirillkom/agent-orchestrator/internal/observability/logging"
)

const engineOperation = "decision_engine"

// callEngine asks the current engine for the next step. Failover is sticky
// for the rest of the run; the next run starts on the primary again.
func (o *Orchestrator) callEngine(ctx context.Context, run *runState, req domain.EngineRequest) (domain.EngineResponse, error) {
	engines := o.engines[run.engine:]
	names := make([]string, len(engines))
	for i, e := range engines {
		names[i] = e.Name()
	}

	var resp domain.EngineResponse
	idx, err := o.retrier.ExecuteWithFailover(ctx, engineOperation, names,
		func(ctx context.Context, i int) error {
			callCtx, cancel := context.WithTimeout(ctx, o.limits.EngineTimeout)
			defer cancel()

			started := time.Now()
			out, err := engines[i].Stream(callCtx, req, o.onDelta)
			o.recorder.RecordEngineCall(names[i], err)
			if err != nil {
				return err
			}
			if out.Repaired {
				logging.FromContext(ctx).Info("engine_response_repaired", "endpoint", names[i])
			}
			logging.FromContext(ctx).Debug("engine_call_finished",
				"endpoint", names[i],
				"duration_ms", time.Since(started).Milliseconds(),
				"prompt_tokens", out.Usage.PromptTokens,
				"completion_tokens", out.Usage.CompletionTokens,
				"tool_calls", len(out.ToolCalls),
			)
			resp = out
			return nil
		},
		resilience.FailoverHooks{
			OnRetry: func(kind domain.ErrorKind, _ int, _ time.Duration) {
				o.recorder.RecordEngineRetry(kind)
			},
			OnFailover: func(_, _ string) {
				o.recorder.RecordFailover()
			},
		},
	)
	run.engine += idx
	if err != nil {
		return domain.EngineResponse{}, err
	}
	if resp.Endpoint == "" {
		resp.Endpoint = names[idx]
	}
	run.usage.PromptTokens += resp.Usage.PromptTokens
	run.usage.CompletionTokens += resp.Usage.CompletionTokens
	return resp, nil
}
