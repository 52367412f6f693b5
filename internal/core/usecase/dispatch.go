package usecase

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
	"github.com/kirillkom/agent-orchestrator/internal/observability/logging"
)

type toolOutcome struct {
	result   domain.ToolResult
	duration time.Duration
	blocked  bool
}

// dispatch runs one batch of requested calls and returns the tool messages
// in request order. Batches of more than one parallel-safe call run on a
// bounded pool; anything else runs one call at a time.
func (o *Orchestrator) dispatch(ctx context.Context, run *runState, calls []domain.ToolCall) []domain.EngineMessage {
	if o.parallelizable(calls) {
		return o.dispatchParallel(ctx, run, calls)
	}
	return o.dispatchSequential(ctx, run, calls)
}

func (o *Orchestrator) parallelizable(calls []domain.ToolCall) bool {
	if len(calls) < 2 {
		return false
	}
	for _, call := range calls {
		if o.tools.isDependent(call.Name) || !o.toolExec.IsParallelSafe(call.Name) {
			return false
		}
	}
	return true
}

func (o *Orchestrator) dispatchParallel(ctx context.Context, run *runState, calls []domain.ToolCall) []domain.EngineMessage {
	logging.FromContext(ctx).Debug("tool_batch_parallel", "tools", callNames(calls))

	slots := make([]toolOutcome, len(calls))
	var g errgroup.Group
	g.SetLimit(o.limits.ParallelWorkers)
	for i, call := range calls {
		g.Go(func() error {
			slots[i] = o.execute(ctx, call)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.EngineMessage, len(calls))
	for i, call := range calls {
		out[i] = o.observe(ctx, run, call, slots[i], true)
	}
	return out
}

func (o *Orchestrator) dispatchSequential(ctx context.Context, run *runState, calls []domain.ToolCall) []domain.EngineMessage {
	out := make([]domain.EngineMessage, 0, len(calls))
	for _, call := range calls {
		if ctx.Err() != nil {
			out = append(out, toolMessage(call, domain.ToolResult{Content: "cancelled before execution"}))
			continue
		}
		o.threads.LogDecision(ctx, call.Name, "Called with: "+argsPreview(call.Args, 150), run.intent.Confidence*100)

		var outcome toolOutcome
		if o.tools.isDelivery(call.Name) && isProgressMessage(stringArg(call.Args, "message")) {
			logging.FromContext(ctx).Info("progress_message_blocked", "tool", call.Name)
			outcome = toolOutcome{result: domain.ToolResult{Success: true, Content: blockedProgressText}, blocked: true}
		} else {
			outcome = o.execute(ctx, call)
		}

		msg := o.observe(ctx, run, call, outcome, false)
		status := domain.OutcomeSuccess
		if !outcome.result.Success {
			status = domain.OutcomeFailed
		}
		o.threads.UpdateDecisionOutcome(ctx, status)
		out = append(out, msg)
	}
	return out
}

// execute runs one call under the tool timeout. The executor reports
// failures as results, never as errors.
func (o *Orchestrator) execute(ctx context.Context, call domain.ToolCall) toolOutcome {
	callCtx, cancel := context.WithTimeout(ctx, o.limits.ToolTimeout)
	defer cancel()

	started := time.Now()
	result := o.toolExec.Execute(callCtx, call)
	return toolOutcome{result: result, duration: time.Since(started)}
}

// observe feeds one finished call into the monitor, the metrics and the run
// bookkeeping, and returns the message for the engine.
func (o *Orchestrator) observe(ctx context.Context, run *runState, call domain.ToolCall, outcome toolOutcome, parallel bool) domain.EngineMessage {
	result := outcome.result
	if !outcome.blocked {
		o.monitor.RecordToolCall(call.Name, call.Args, result.Success, outcome.duration)
		o.recorder.RecordToolCall(call.Name, result.Success, parallel, outcome.duration.Seconds())
	}

	run.toolCalls++
	run.sequence = append(run.sequence, call.Name)
	run.events = append(run.events, domain.ToolEvent{
		Tool:     call.Name,
		Success:  result.Success,
		Duration: outcome.duration,
		Parallel: parallel,
		Output:   clipRunes(result.Content, 500),
	})

	if result.Success {
		if !outcome.blocked {
			run.successes++
		}
		if call.Name == o.tools.ThinkTool {
			if score, ok := parseConfidence(result.Content); ok {
				o.monitor.RecordConfidence(score)
			}
		}
		if o.tools.isDelegation(call.Name) {
			o.monitor.RecordDeployment()
		}
		if o.tools.isDelivery(call.Name) && !outcome.blocked {
			run.delivered = true
		}
	} else {
		run.failures++
		logging.FromContext(ctx).Warn("tool_call_failed",
			"tool", call.Name,
			"parallel", parallel,
			"duration_ms", outcome.duration.Milliseconds(),
		)
		if run.toolRetries >= o.limits.MaxToolRetries {
			result.Content += fmt.Sprintf("\n\n⚠️ This has failed %d times. Consider asking the user for help via %s, "+
				"and include WHAT you tried and WHY each attempt failed.", run.toolRetries, o.deliveryTool())
			o.threads.RecordEscalation(ctx)
		}
		run.toolRetries++
	}
	return toolMessage(call, result)
}

func (o *Orchestrator) deliveryTool() string {
	if len(o.tools.DeliveryTools) == 0 {
		return "a message"
	}
	return o.tools.DeliveryTools[0]
}

func toolMessage(call domain.ToolCall, result domain.ToolResult) domain.EngineMessage {
	content := result.Content
	if content == "" && !result.Success {
		content = "tool failed without output"
	}
	return domain.EngineMessage{
		Role:       domain.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
}

func callNames(calls []domain.ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}
