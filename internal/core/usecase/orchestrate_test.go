package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
	"github.com/kirillkom/agent-orchestrator/internal/core/ports"
)

func TestRunFinalAnswerWithoutTools(t *testing.T) {
	engine := &scriptedEngine{name: "primary", script: finalText("Lisbon is one hour behind Berlin.")}
	h := newHarness(t, newFakeTools("web_search"), domain.RunLimits{}, engine)

	in := domain.Intent{Type: domain.IntentQuickQuestion, Confidence: 0.7}
	result := h.run(context.Background(), "what time is it in Lisbon?", in)

	if result.Outcome != domain.RunFinal {
		t.Fatalf("expected final outcome, got %s", result.Outcome)
	}
	if result.Response != "Lisbon is one hour behind Berlin." {
		t.Fatalf("unexpected response %q", result.Response)
	}
	if result.Iterations != 1 || result.ToolCalls != 0 {
		t.Fatalf("expected 1 iteration and no tools, got %d/%d", result.Iterations, result.ToolCalls)
	}
	if result.Endpoint != "primary" || result.RunID != "run-1" || result.SessionID != "s1" {
		t.Fatalf("unexpected result identity: %+v", result)
	}
	if len(h.recorder.runs) != 1 {
		t.Fatalf("expected run to be recorded once, got %d", len(h.recorder.runs))
	}

	active, ok := h.router.ActiveThread()
	if !ok {
		t.Fatalf("expected active thread")
	}
	last := active.Messages[len(active.Messages)-1]
	if last.Role != domain.RoleAssistant || last.Text != result.Response {
		t.Fatalf("expected response recorded in thread, got %+v", last)
	}
}

func TestRunStopsAtIterationLimit(t *testing.T) {
	names := []string{"tool_a", "tool_b", "tool_c", "tool_d", "tool_e"}
	engine := &scriptedEngine{name: "primary", script: func(call int, _ domain.EngineRequest) (domain.EngineResponse, error) {
		return toolCalls(domain.ToolCall{
			Name: names[(call-1)%len(names)],
			Args: map[string]any{"query": call},
		}), nil
	}}
	h := newHarness(t, newFakeTools(names...), domain.RunLimits{MaxIterations: 5}, engine)

	result := h.run(context.Background(), "please research the office move options", taskIntent())

	if result.Outcome != domain.RunPartialIterations {
		t.Fatalf("expected partial_iterations, got %s", result.Outcome)
	}
	if result.Iterations != 6 {
		t.Fatalf("expected iteration counter 6, got %d", result.Iterations)
	}
	if engine.callCount() != 5 {
		t.Fatalf("expected exactly 5 engine calls, got %d", engine.callCount())
	}
	if result.ToolCalls != 5 {
		t.Fatalf("expected 5 tool calls, got %d", result.ToolCalls)
	}
	if result.Response != fmt.Sprintf(msgMaxIterations, 5) {
		t.Fatalf("unexpected response %q", result.Response)
	}
	if len(result.ToolSequence) != 5 || result.ToolSequence[0] != "tool_a" || result.ToolSequence[4] != "tool_e" {
		t.Fatalf("unexpected tool sequence %v", result.ToolSequence)
	}

	entries := h.cache.Entries()
	if len(entries) != 1 || entries[0].FailureCount != 1 || entries[0].Domain != generalDomain {
		t.Fatalf("expected one failure under the general domain, got %+v", entries)
	}
	active, _ := h.router.ActiveThread()
	if active.Status != domain.ThreadWaitingUser {
		t.Fatalf("expected thread waiting on user, got %s", active.Status)
	}
}

func TestRunDispatchesParallelSafeCallsConcurrently(t *testing.T) {
	defer goleak.VerifyNone(t)

	tools := newFakeTools("web_search")
	tools.parallel["web_search"] = true
	tools.delay = 30 * time.Millisecond

	engine := &scriptedEngine{name: "primary", script: func(call int, _ domain.EngineRequest) (domain.EngineResponse, error) {
		if call == 1 {
			return toolCalls(
				domain.ToolCall{Name: "web_search", Args: map[string]any{"query": "q0"}},
				domain.ToolCall{Name: "web_search", Args: map[string]any{"query": "q1"}},
				domain.ToolCall{Name: "web_search", Args: map[string]any{"query": "q2"}},
			), nil
		}
		return domain.EngineResponse{Text: "Compared all three sources for you."}, nil
	}}
	h := newHarness(t, tools, domain.RunLimits{}, engine)

	result := h.run(context.Background(), "research three vendors", taskIntent("research"))
	if result.Outcome != domain.RunFinal {
		t.Fatalf("expected final outcome, got %s", result.Outcome)
	}
	if tools.peak.Load() < 2 {
		t.Fatalf("expected concurrent execution, peak in flight %d", tools.peak.Load())
	}

	msgs := engine.request(1).Messages
	toolMsgs := msgs[len(msgs)-3:]
	for i, m := range toolMsgs {
		if m.Role != domain.RoleTool {
			t.Fatalf("expected tool message at %d, got %s", i, m.Role)
		}
		if want := fmt.Sprintf("call_1_%d", i); m.ToolCallID != want {
			t.Fatalf("expected call id %s, got %s", want, m.ToolCallID)
		}
		if want := fmt.Sprintf("ok: web_search q%d", i); m.Content != want {
			t.Fatalf("expected results in request order, got %q at %d", m.Content, i)
		}
	}
	for _, ev := range result.ToolEvents {
		if !ev.Parallel {
			t.Fatalf("expected parallel events, got %+v", ev)
		}
	}
}

func TestRunRunsDependentCallsSequentially(t *testing.T) {
	tools := newFakeTools("web_search", "send_message")
	tools.parallel["web_search"] = true
	tools.parallel["send_message"] = true
	tools.delay = 5 * time.Millisecond

	engine := &scriptedEngine{name: "primary", script: func(call int, _ domain.EngineRequest) (domain.EngineResponse, error) {
		if call == 1 {
			return toolCalls(
				domain.ToolCall{Name: "web_search", Args: map[string]any{"query": "weather porto"}},
				domain.ToolCall{Name: "send_message", Args: map[string]any{"message": "Porto will be sunny all weekend, around 24C."}},
			), nil
		}
		return domain.EngineResponse{Text: "Sent you the weekend forecast."}, nil
	}}
	h := newHarness(t, tools, domain.RunLimits{}, engine)

	result := h.run(context.Background(), "check the weather in porto and message me", taskIntent())
	if result.Outcome != domain.RunFinal {
		t.Fatalf("expected final outcome, got %s", result.Outcome)
	}
	if tools.peak.Load() != 1 {
		t.Fatalf("expected sequential execution, peak in flight %d", tools.peak.Load())
	}
	executed := tools.executed()
	if len(executed) != 2 || executed[0].Name != "web_search" || executed[1].Name != "send_message" {
		t.Fatalf("unexpected execution order %+v", executed)
	}

	active, _ := h.router.ActiveThread()
	var actions []string
	for _, d := range active.Decisions {
		actions = append(actions, d.Action)
		if d.Action == "web_search" {
			if !strings.HasPrefix(d.Reasoning, "Called with: ") || d.Outcome != domain.OutcomeSuccess {
				t.Fatalf("unexpected decision %+v", d)
			}
		}
	}
	if strings.Join(actions, ",") != "web_search,send_message,run:final" {
		t.Fatalf("unexpected decision log %v", actions)
	}
	if !strings.Contains(result.Response, "forecast") {
		t.Fatalf("unexpected response %q", result.Response)
	}
}

func TestRunEscalatesRepeatedToolFailures(t *testing.T) {
	tools := newFakeTools("run_quick_command", "tool_b", "tool_c", "tool_d")
	for _, n := range []string{"run_quick_command", "tool_b", "tool_c", "tool_d"} {
		tools.failing[n] = true
	}
	order := []string{"run_quick_command", "tool_b", "tool_c", "tool_d"}
	engine := &scriptedEngine{name: "primary", script: func(call int, _ domain.EngineRequest) (domain.EngineResponse, error) {
		if call <= len(order) {
			return toolCalls(domain.ToolCall{Name: order[call-1], Args: map[string]any{"query": call}}), nil
		}
		return domain.EngineResponse{Text: "I could not finish, every command failed."}, nil
	}}
	h := newHarness(t, tools, domain.RunLimits{MaxToolRetries: 3}, engine)

	result := h.run(context.Background(), "run the backup script", taskIntent("system"))
	if result.Failures != 4 {
		t.Fatalf("expected 4 failures, got %d", result.Failures)
	}
	if result.Quality != domain.QualityPoor {
		t.Fatalf("expected poor quality, got %s", result.Quality)
	}

	var fourth domain.EngineMessage
	for _, m := range engine.request(4).Messages {
		if m.Role == domain.RoleTool && m.ToolName == "tool_d" {
			fourth = m
		}
	}
	if !strings.Contains(fourth.Content, "This has failed 3 times") {
		t.Fatalf("expected escalation hint on the fourth failure, got %q", fourth.Content)
	}
	for _, m := range engine.request(3).Messages {
		if m.Role == domain.RoleTool && strings.Contains(m.Content, "This has failed") {
			t.Fatalf("escalation hint too early: %q", m.Content)
		}
	}
	active, _ := h.router.ActiveThread()
	if active.EscalationCount != 1 {
		t.Fatalf("expected one escalation, got %d", active.EscalationCount)
	}
	for _, e := range h.cache.Entries() {
		if e.SuccessCount != 0 || e.FailureCount != 1 {
			t.Fatalf("poor run must be recorded as failure, got %+v", e)
		}
	}
}

func TestRunAuthFailureStopsWithoutFailover(t *testing.T) {
	primary := &scriptedEngine{name: "primary", script: func(int, domain.EngineRequest) (domain.EngineResponse, error) {
		return domain.EngineResponse{}, domain.NewEngineError(domain.KindAuth, "primary", "chat", errors.New("status 401"))
	}}
	secondary := &scriptedEngine{name: "secondary", script: finalText("unused")}
	h := newHarness(t, newFakeTools("web_search"), domain.RunLimits{}, primary, secondary)

	result := h.run(context.Background(), "book a table for two", taskIntent())
	if result.Outcome != domain.RunAuthFailure {
		t.Fatalf("expected auth failure, got %s", result.Outcome)
	}
	if result.Response != msgAuthFailure {
		t.Fatalf("unexpected response %q", result.Response)
	}
	if primary.callCount() != 1 || secondary.callCount() != 0 {
		t.Fatalf("expected one primary call and no failover, got %d/%d", primary.callCount(), secondary.callCount())
	}
}

func TestRunTechnicalFailureAfterRetriesExhausted(t *testing.T) {
	engine := &scriptedEngine{name: "primary", script: func(int, domain.EngineRequest) (domain.EngineResponse, error) {
		return domain.EngineResponse{}, domain.NewEngineError(domain.KindTransient, "primary", "chat", errors.New("status 503"))
	}}
	h := newHarness(t, newFakeTools("web_search"), domain.RunLimits{}, engine)

	result := h.run(context.Background(), "summarize my inbox", taskIntent("email"))
	if result.Outcome != domain.RunTechnicalFailure {
		t.Fatalf("expected technical failure, got %s", result.Outcome)
	}
	if result.Response != msgEngineFailure {
		t.Fatalf("unexpected response %q", result.Response)
	}
	if engine.callCount() != 5 {
		t.Fatalf("expected 5 engine calls in total, got %d", engine.callCount())
	}
	if len(h.recorder.retries) != 4 {
		t.Fatalf("expected 4 recorded retries, got %d", len(h.recorder.retries))
	}
	if len(h.cache.Entries()) != 0 {
		t.Fatalf("technical failures must not touch the cache")
	}
}

func TestRunFailoverIsStickyWithinRun(t *testing.T) {
	primary := &scriptedEngine{name: "primary", script: func(int, domain.EngineRequest) (domain.EngineResponse, error) {
		return domain.EngineResponse{}, domain.NewEngineError(domain.KindRateLimit, "primary", "chat", errors.New("status 429"))
	}}
	secondary := &scriptedEngine{name: "secondary", script: func(call int, _ domain.EngineRequest) (domain.EngineResponse, error) {
		if call%2 == 1 {
			return toolCalls(domain.ToolCall{Name: "web_search", Args: map[string]any{"query": call}}), nil
		}
		return domain.EngineResponse{Text: "Here is what I found about it."}, nil
	}}
	h := newHarness(t, newFakeTools("web_search"), domain.RunLimits{}, primary, secondary)

	result := h.run(context.Background(), "research solar panel prices", taskIntent("research"))
	if result.Outcome != domain.RunFinal {
		t.Fatalf("expected final outcome, got %s", result.Outcome)
	}
	if result.Endpoint != "secondary" {
		t.Fatalf("expected secondary endpoint, got %s", result.Endpoint)
	}
	if primary.callCount() != 1 || secondary.callCount() != 2 {
		t.Fatalf("expected failover to stick for the run, got primary=%d secondary=%d", primary.callCount(), secondary.callCount())
	}

	h.run(context.Background(), "research wind turbine prices", taskIntent("research"))
	if primary.callCount() != 2 {
		t.Fatalf("expected next run to start on primary, got %d primary calls", primary.callCount())
	}
	if h.recorder.failovers != 2 {
		t.Fatalf("expected 2 failovers, got %d", h.recorder.failovers)
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	engine := &scriptedEngine{name: "primary", script: finalText("unused")}
	h := newHarness(t, newFakeTools("web_search"), domain.RunLimits{}, engine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := h.run(ctx, "clean up my downloads folder", taskIntent("files"))

	if result.Outcome != domain.RunCancelled || result.Response != msgStopped {
		t.Fatalf("expected cancelled result, got %s %q", result.Outcome, result.Response)
	}
	if engine.callCount() != 0 {
		t.Fatalf("expected no engine calls, got %d", engine.callCount())
	}
	if len(h.recorder.runs) != 1 {
		t.Fatalf("cancelled runs must still be recorded")
	}
}

func TestRunCancelledBetweenToolCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tools := newFakeTools("tool_a", "tool_b")
	tools.onCall = func(domain.ToolCall) { cancel() }
	engine := &scriptedEngine{name: "primary", script: func(int, domain.EngineRequest) (domain.EngineResponse, error) {
		return toolCalls(
			domain.ToolCall{Name: "tool_a", Args: map[string]any{"query": 1}},
			domain.ToolCall{Name: "tool_b", Args: map[string]any{"query": 2}},
		), nil
	}}
	h := newHarness(t, tools, domain.RunLimits{}, engine)

	result := h.run(ctx, "archive last year's invoices", taskIntent("files"))
	if result.Outcome != domain.RunCancelled {
		t.Fatalf("expected cancelled outcome, got %s", result.Outcome)
	}
	if got := tools.executed(); len(got) != 1 || got[0].Name != "tool_a" {
		t.Fatalf("expected only the first call to run, got %+v", got)
	}
	if engine.callCount() != 1 {
		t.Fatalf("expected one engine call, got %d", engine.callCount())
	}
	active, _ := h.router.ActiveThread()
	if active.Status != domain.ThreadIdle {
		t.Fatalf("expected idle thread after cancel, got %s", active.Status)
	}
}

func TestRunBlocksProgressMessages(t *testing.T) {
	tools := newFakeTools("send_message")
	engine := &scriptedEngine{name: "primary", script: func(call int, _ domain.EngineRequest) (domain.EngineResponse, error) {
		if call == 1 {
			return toolCalls(domain.ToolCall{Name: "send_message", Args: map[string]any{"message": "On it!"}}), nil
		}
		return domain.EngineResponse{Text: "Your files are organized by year now."}, nil
	}}
	h := newHarness(t, tools, domain.RunLimits{}, engine)

	result := h.run(context.Background(), "organize my photos", taskIntent("files"))
	if result.Outcome != domain.RunFinal {
		t.Fatalf("expected final outcome, got %s", result.Outcome)
	}
	if len(tools.executed()) != 0 {
		t.Fatalf("progress message must not reach the tool")
	}
	msgs := engine.request(1).Messages
	if last := msgs[len(msgs)-1]; last.Content != blockedProgressText {
		t.Fatalf("expected blocked notice, got %q", last.Content)
	}
}

func TestRunNudgesEmptyFinalResponse(t *testing.T) {
	engine := &scriptedEngine{name: "primary", script: func(call int, _ domain.EngineRequest) (domain.EngineResponse, error) {
		if call == 1 {
			return toolCalls(domain.ToolCall{Name: "web_search", Args: map[string]any{"query": "flights"}}), nil
		}
		return domain.EngineResponse{Text: ""}, nil
	}}
	h := newHarness(t, newFakeTools("web_search"), domain.RunLimits{}, engine)

	result := h.run(context.Background(), "find me flights to rome", taskIntent("flights"))
	if engine.callCount() != 4 {
		t.Fatalf("expected two nudges before giving up, got %d engine calls", engine.callCount())
	}
	msgs := engine.request(2).Messages
	if last := msgs[len(msgs)-1]; last.Content != emptyResponseNudge {
		t.Fatalf("expected nudge before third call, got %q", last.Content)
	}
	if result.Outcome != domain.RunFinal || result.Response == "" {
		t.Fatalf("expected non-empty final result, got %s %q", result.Outcome, result.Response)
	}
}

func TestRunEmptyFinalAfterDelivery(t *testing.T) {
	engine := &scriptedEngine{name: "primary", script: func(call int, _ domain.EngineRequest) (domain.EngineResponse, error) {
		if call == 1 {
			return toolCalls(domain.ToolCall{Name: "send_message", Args: map[string]any{
				"message": "Cheapest option: TAP on March 3rd for 89 EUR, direct.",
			}}), nil
		}
		return domain.EngineResponse{}, nil
	}}
	h := newHarness(t, newFakeTools("send_message"), domain.RunLimits{}, engine)

	result := h.run(context.Background(), "find me flights to lisbon", taskIntent("flights"))
	if result.Response != msgEmptyDelivered {
		t.Fatalf("expected delivered confirmation, got %q", result.Response)
	}
	if engine.callCount() != 2 {
		t.Fatalf("expected no nudge after delivery, got %d calls", engine.callCount())
	}
}

func TestRunRecordsSuccessInDecisionCache(t *testing.T) {
	engine := &scriptedEngine{name: "primary", script: func(call int, _ domain.EngineRequest) (domain.EngineResponse, error) {
		if call == 1 {
			return toolCalls(domain.ToolCall{Name: "web_search", Args: map[string]any{"query": "golang generics"}}), nil
		}
		return domain.EngineResponse{Text: "Found three solid articles on generics."}, nil
	}}
	h := newHarness(t, newFakeTools("web_search"), domain.RunLimits{}, engine)

	h.run(context.Background(), "research golang generics articles", taskIntent("research"))

	entries := h.cache.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected one cache entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Domain != "research" || e.SuccessCount != 1 || e.IntentType != domain.IntentTask {
		t.Fatalf("unexpected cache entry %+v", e)
	}
	if len(e.ToolSequence) != 1 || e.ToolSequence[0] != "web_search" {
		t.Fatalf("unexpected tool sequence %v", e.ToolSequence)
	}
	if e.Strategy != "direct in 2 steps" {
		t.Fatalf("unexpected strategy %q", e.Strategy)
	}
	if len(h.recorder.lookups) != 1 || h.recorder.lookups[0] {
		t.Fatalf("expected one cache miss, got %v", h.recorder.lookups)
	}
}

func TestRunCompactsLongHistory(t *testing.T) {
	engine := &scriptedEngine{name: "primary", script: func(call int, _ domain.EngineRequest) (domain.EngineResponse, error) {
		if call <= 4 {
			return toolCalls(domain.ToolCall{Name: fmt.Sprintf("tool_%d", call), Args: map[string]any{"query": call}}), nil
		}
		return domain.EngineResponse{Text: "All four lookups are complete now."}, nil
	}}
	tools := newFakeTools("tool_1", "tool_2", "tool_3", "tool_4")
	h := newHarness(t, tools, domain.RunLimits{CompactionMessages: 6, KeepRecentMessages: 2}, engine)

	result := h.run(context.Background(), "collect the four quarterly reports", taskIntent())
	if result.Compactions == 0 {
		t.Fatalf("expected at least one compaction")
	}
	if len(h.recorder.compactions) == 0 || h.recorder.compactions[0] != "threshold" {
		t.Fatalf("unexpected compaction reasons %v", h.recorder.compactions)
	}
	last := engine.request(engine.callCount() - 1)
	if !strings.Contains(last.System, "(compacted)") || !strings.Contains(last.System, "ORIGINAL TASK") {
		t.Fatalf("expected compacted summary in system prompt, got %q", last.System)
	}
	if len(last.Messages) >= 6 {
		t.Fatalf("expected history to shrink, got %d messages", len(last.Messages))
	}
}

func TestRunCompactsAfterConversationGap(t *testing.T) {
	engine := &scriptedEngine{name: "primary", script: finalText("Sure thing, noted for later.")}
	h := newHarness(t, newFakeTools("web_search"), domain.RunLimits{}, engine)

	in := domain.Intent{Type: domain.IntentConversation, Confidence: 0.6}
	h.run(context.Background(), "remember that I like window seats", in)
	h.clock.Advance(11 * time.Minute)
	result := h.run(context.Background(), "and aisle seats on night trains", in)

	if result.Compactions != 1 {
		t.Fatalf("expected one gap compaction, got %d", result.Compactions)
	}
	if len(h.recorder.compactions) != 1 || h.recorder.compactions[0] != "gap" {
		t.Fatalf("unexpected compaction reasons %v", h.recorder.compactions)
	}
	req := engine.request(1)
	if !strings.Contains(req.System, "window seats") {
		t.Fatalf("expected earlier exchange in summary, got %q", req.System)
	}
	if len(req.Messages) != 1 {
		t.Fatalf("expected fresh history after gap, got %d messages", len(req.Messages))
	}
}

func TestNewOrchestratorValidatesDeps(t *testing.T) {
	if _, err := NewOrchestrator(OrchestratorDeps{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input without engines, got %v", err)
	}
	engine := &scriptedEngine{name: "primary", script: finalText("x")}
	if _, err := NewOrchestrator(OrchestratorDeps{Engines: []ports.DecisionEngine{engine}}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input without collaborators, got %v", err)
	}
}

func TestNormalizeLimitsDefaults(t *testing.T) {
	l := NormalizeLimits(domain.RunLimits{MaxIterations: 7, SummaryMaxChars: 400, SummaryHeadChars: 500})
	if l.MaxIterations != 7 {
		t.Fatalf("explicit limit overwritten: %d", l.MaxIterations)
	}
	if l.ParallelWorkers != 4 || l.MaxToolRetries != 3 || l.ConversationGap != 10*time.Minute {
		t.Fatalf("unexpected defaults %+v", l)
	}
	if l.SummaryHeadChars != 50 {
		t.Fatalf("expected head clamped below max, got %d", l.SummaryHeadChars)
	}
}
