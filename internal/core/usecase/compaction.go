package usecase

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

const (
	compactedMarker   = "\n... (compacted) ...\n"
	alertPrefix       = "⚠️ SELF-CHECK"
	forceCompactParts = 40
	minMediumParts    = 5
)

// compactor folds old conversation history into a bounded text summary.
type compactor struct {
	limits domain.RunLimits
	tools  ToolPolicy
}

// estimateTokens uses the four characters per token heuristic.
func estimateTokens(history []domain.EngineMessage) int {
	chars := 0
	for _, msg := range history {
		chars += utf8.RuneCountInString(msg.Content)
		for _, call := range msg.ToolCalls {
			chars += utf8.RuneCountInString(call.Name) + utf8.RuneCountInString(argsPreview(call.Args, 0))
		}
	}
	return chars / 4
}

func (c compactor) needed(history []domain.EngineMessage) bool {
	if len(history) <= c.limits.KeepRecentMessages {
		return false
	}
	return estimateTokens(history) >= c.limits.CompactionTokens || len(history) >= c.limits.CompactionMessages
}

// compact keeps the most recent messages and summarizes the rest. High
// priority lines are always kept; medium and low lines fill what is left of
// the line budget, newest first.
func (c compactor) compact(history []domain.EngineMessage, previous string) ([]domain.EngineMessage, string) {
	keep := c.limits.KeepRecentMessages
	if len(history) <= keep {
		return history, previous
	}
	old := history[:len(history)-keep]
	recent := append([]domain.EngineMessage(nil), history[len(history)-keep:]...)

	var high, medium, low []string
	if previous != "" {
		high = append(high, "EARLIER: "+clipRunes(previous, 500))
	}
	for i, msg := range old {
		switch msg.Role {
		case domain.RoleUser:
			switch {
			case i == 0:
				high = append(high, "ORIGINAL TASK: "+clipRunes(msg.Content, 500))
			case strings.HasPrefix(msg.Content, alertPrefix):
				high = append(high, "Alert: "+clipRunes(msg.Content, 200))
			default:
				medium = append(medium, "User: "+clipRunes(msg.Content, 150))
			}
		case domain.RoleTool:
			lower := strings.ToLower(msg.Content)
			switch {
			case strings.Contains(lower, "error") || strings.Contains(lower, "failed"):
				high = append(high, fmt.Sprintf("❌ %s: %s", msg.ToolName, clipRunes(msg.Content, 300)))
			case c.notable(msg.ToolName):
				high = append(high, fmt.Sprintf("✅ %s: %s", msg.ToolName, clipRunes(msg.Content, 250)))
			case containsString(c.tools.SearchTools, msg.ToolName):
				low = append(low, fmt.Sprintf("%s: %s", msg.ToolName, clipRunes(msg.Content, 100)))
			default:
				medium = append(medium, fmt.Sprintf("%s: %s", msg.ToolName, clipRunes(msg.Content, 150)))
			}
		case domain.RoleAssistant:
			if text := strings.TrimSpace(msg.Content); text != "" {
				medium = append(medium, "Assistant: "+clipRunes(text, 200))
			}
			for _, call := range msg.ToolCalls {
				if c.notable(call.Name) {
					high = append(high, fmt.Sprintf("Called: %s(%s)", call.Name, argsPreview(call.Args, 150)))
				} else {
					medium = append(medium, fmt.Sprintf("Called: %s(%s)", call.Name, argsPreview(call.Args, 80)))
				}
			}
		}
	}

	maxLines := c.limits.SummaryMaxLines
	parts := append([]string(nil), high...)
	budget := maxLines - len(parts)
	parts = append(parts, lastN(medium, max(budget/2, minMediumParts))...)
	if budget = maxLines - len(parts); budget > 0 {
		parts = append(parts, lastN(low, budget)...)
	}
	if len(parts) > maxLines {
		parts = parts[:maxLines]
	}
	return recent, c.capSummary(strings.Join(parts, "\n"))
}

// compactAll summarizes the whole history, used after a long gap between
// runs. The returned history is empty.
func (c compactor) compactAll(history []domain.EngineMessage, previous string) string {
	var parts []string
	if previous != "" {
		parts = append(parts, "EARLIER: "+clipRunes(previous, 500))
	}
	for _, msg := range history {
		switch msg.Role {
		case domain.RoleUser:
			parts = append(parts, "User: "+clipRunes(msg.Content, 200))
		case domain.RoleAssistant:
			if text := strings.TrimSpace(msg.Content); text != "" {
				parts = append(parts, "Assistant: "+clipRunes(text, 200))
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, fmt.Sprintf("Assistant called: %s(%s)", call.Name, argsPreview(call.Args, 100)))
			}
		}
	}
	return c.capSummary(strings.Join(lastN(parts, forceCompactParts), "\n"))
}

func (c compactor) notable(tool string) bool {
	return c.tools.isDelegation(tool) || tool == c.tools.CompilationTool || c.tools.isDelivery(tool)
}

// capSummary keeps the head and the tail of an oversized summary.
func (c compactor) capSummary(summary string) string {
	limit := c.limits.SummaryMaxChars
	if utf8.RuneCountInString(summary) <= limit {
		return summary
	}
	runes := []rune(summary)
	head := c.limits.SummaryHeadChars
	tail := limit - head - 20
	if tail < 0 {
		tail = 0
	}
	return string(runes[:head]) + compactedMarker + string(runes[len(runes)-tail:])
}

func argsPreview(args map[string]any, n int) string {
	if len(args) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte(fmt.Sprint(args))
	}
	if n <= 0 {
		return string(raw)
	}
	return clipRunes(string(raw), n)
}

func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func lastN(list []string, n int) []string {
	if n <= 0 {
		return nil
	}
	if len(list) <= n {
		return list
	}
	return list[len(list)-n:]
}
