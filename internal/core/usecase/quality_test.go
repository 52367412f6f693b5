package usecase

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

func lastUserMessage(req domain.EngineRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == domain.RoleUser {
			return req.Messages[i].Content
		}
	}
	return ""
}

func TestRunRepromptsCompletedTaskWithoutDelivery(t *testing.T) {
	engine := &scriptedEngine{name: "primary", script: func(call int, _ domain.EngineRequest) (domain.EngineResponse, error) {
		switch {
		case call <= 3:
			return toolCalls(domain.ToolCall{Name: fmt.Sprintf("tool_%d", call), Args: map[string]any{"query": call}}), nil
		case call == 4:
			return domain.EngineResponse{Text: "Done, found three hotels in Porto under 90 EUR."}, nil
		case call == 5:
			return toolCalls(domain.ToolCall{Name: "send_message", Args: map[string]any{
				"message": "Porto hotels under 90 EUR: Casa Azul, Rio Douro, Ribeira Inn.",
			}}), nil
		}
		return domain.EngineResponse{Text: "Sent the hotel shortlist."}, nil
	}}
	tools := newFakeTools("tool_1", "tool_2", "tool_3", "send_message")
	h := newHarness(t, tools, domain.RunLimits{}, engine)

	result := h.run(context.Background(), "find hotels in porto under 90 euros", taskIntent("travel"))
	if result.Outcome != domain.RunFinal {
		t.Fatalf("expected final outcome, got %s", result.Outcome)
	}
	if engine.callCount() != 6 {
		t.Fatalf("expected one re-prompt, got %d engine calls", engine.callCount())
	}
	if got := lastUserMessage(engine.request(4)); !strings.Contains(got, "never sent the result via send_message") {
		t.Fatalf("expected delivery nudge before fifth call, got %q", got)
	}
	if result.Response != "Sent the hotel shortlist." {
		t.Fatalf("unexpected response %q", result.Response)
	}
}

func TestRunRepromptsGivingUpAfterProgress(t *testing.T) {
	engine := &scriptedEngine{name: "primary", script: func(call int, _ domain.EngineRequest) (domain.EngineResponse, error) {
		switch call {
		case 1, 2:
			return toolCalls(domain.ToolCall{Name: "web_search", Args: map[string]any{"query": call}}), nil
		case 3:
			return domain.EngineResponse{Text: "I'm sorry, I wasn't able to find anything useful."}, nil
		}
		return domain.EngineResponse{Text: "Two installers quoted 3.1k and 3.4k for a 4kW roof."}, nil
	}}
	h := newHarness(t, newFakeTools("web_search"), domain.RunLimits{}, engine)

	result := h.run(context.Background(), "research solar installer quotes", taskIntent("research"))
	if engine.callCount() != 4 {
		t.Fatalf("expected one re-prompt, got %d engine calls", engine.callCount())
	}
	if got := lastUserMessage(engine.request(3)); !strings.Contains(got, "tools succeeded in 2 of your steps") {
		t.Fatalf("expected progress nudge, got %q", got)
	}
	if !strings.Contains(result.Response, "3.1k") {
		t.Fatalf("expected the compiled answer, got %q", result.Response)
	}
}

func TestRunRepromptsShallowAnswerAtMostTwice(t *testing.T) {
	engine := &scriptedEngine{name: "primary", script: finalText("Booked.")}
	h := newHarness(t, newFakeTools("web_search"), domain.RunLimits{}, engine)

	result := h.run(context.Background(), "book a table for four on friday", taskIntent())
	if engine.callCount() != 3 {
		t.Fatalf("expected two re-prompts then stop, got %d engine calls", engine.callCount())
	}
	if got := lastUserMessage(engine.request(1)); !strings.Contains(got, "This is a moderate task") {
		t.Fatalf("expected shallow-answer nudge, got %q", got)
	}
	if result.Outcome != domain.RunFinal || result.Response != "Booked." {
		t.Fatalf("expected the last answer to stand, got %s %q", result.Outcome, result.Response)
	}
}

func TestCheckResponseQuality(t *testing.T) {
	simple := domain.Intent{Type: domain.IntentTask, Complexity: domain.ComplexitySimple}
	chat := domain.Intent{Type: domain.IntentConversation, Complexity: domain.ComplexityComplex}

	tests := []struct {
		name   string
		in     domain.Intent
		run    runState
		final  string
		reason string
	}{
		{"conversation is never gated", chat, runState{}, "ok", ""},
		{"done without delivery", taskIntent(), runState{toolLoops: 3}, "All done here", "completed_without_delivery"},
		{"done after delivery", taskIntent(), runState{toolLoops: 3, delivered: true}, "All done here, see the message", ""},
		{"two loops are not enough", taskIntent(), runState{toolLoops: 2, progress: 2}, "Here's the result of the search", ""},
		{"curly apostrophe apology", taskIntent(), runState{toolLoops: 2, progress: 2}, "I’m sorry, nothing came up in the searches", "gave_up_despite_progress"},
		{"apology after failed steps", taskIntent(), runState{toolLoops: 2, progress: 1}, "Unfortunately every attempt failed today", ""},
		{"short complex answer", domain.Intent{Type: domain.IntentTask, Complexity: domain.ComplexityComplex}, runState{}, "Will do.", "too_shallow"},
		{"short simple answer", simple, runState{}, "Will do.", ""},
		{"short after three loops", taskIntent(), runState{toolLoops: 3, delivered: true}, "Sent.", ""},
	}
	for _, tt := range tests {
		issue, ok := checkResponseQuality(tt.in, &tt.run, tt.final, "send_message")
		if tt.reason == "" {
			if ok {
				t.Fatalf("%s: expected no issue, got %+v", tt.name, issue)
			}
			continue
		}
		if !ok || issue.Reason != tt.reason || issue.Nudge == "" {
			t.Fatalf("%s: expected %s, got %+v (ok=%v)", tt.name, tt.reason, issue, ok)
		}
	}
}
