package usecase

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

var (
	confidencePattern = regexp.MustCompile(`(?i)(?:confidence|conf)[:\s]+(\d{1,3})`)

	progressPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(on it|got it|sure|working on it|let me|i.ll|i will|looking into|checking|gimme|give me)[\s.!]*`),
		regexp.MustCompile(`(?i)^(searching|processing|analyzing|scanning|running|fetching|pulling|gathering)[\s.!]`),
		regexp.MustCompile(`(?i)^(one sec|one moment|hold on|hang on|just a (sec|moment|minute))[\s.!]*`),
		regexp.MustCompile(`(?i)^(almost done|still working|making progress|nearly there)[\s.!]*`),
		regexp.MustCompile(`(?i)^(i.m (going to|about to|starting|now|currently))\s`),
		regexp.MustCompile(`(?i)^(let me (check|look|search|find|get|pull|grab|see))\s`),
	}
)

const (
	maxUserMessageChars = 8000
	progressMaxChars    = 60

	blockedProgressText = "⚠️ BLOCKED: That was a progress/status update. The user only wants FINAL results. " +
		"Continue working silently and send ONE message when the task is DONE."
	emptyResponseNudge = "You returned an empty response but the task is not complete yet. " +
		"Review what you've done so far and continue with the remaining steps. " +
		"Use the appropriate tools to finish the task."
)

var (
	resultWords = []string{
		"done", "completed", "finished", "created", "sent", "found",
		"here's", "result", "success", "ready", "built", "deployed",
	}
	apologyPhrases = []string{
		"i apologize", "i'm sorry", "unfortunately", "i wasn't able", "i couldn't",
		"i can't", "unable to", "not possible", "i failed to", "i was unable",
	}
)

const shallowAnswerChars = 30

type qualityIssue struct {
	Reason string
	Nudge  string
}

// checkResponseQuality gates a final answer. ok is false when the answer can
// end the run as it is.
func checkResponseQuality(in domain.Intent, run *runState, final, deliveryTool string) (qualityIssue, bool) {
	if in.IsConversational() {
		return qualityIssue{}, false
	}
	lower := strings.ReplaceAll(strings.ToLower(final), "’", "'")

	if in.IsActionable() && run.toolLoops >= 3 && !run.delivered && containsAny(lower, resultWords) {
		nudge := fmt.Sprintf("You finished the task but never sent the result via %s. "+
			"The user does not see this reply, only delivered messages. Send the result now.", deliveryTool)
		return qualityIssue{Reason: "completed_without_delivery", Nudge: nudge}, true
	}
	if run.toolLoops >= 2 && run.progress >= 2 && containsAny(lower, apologyPhrases) {
		nudge := fmt.Sprintf("You said you could not do it, but tools succeeded in %d of your steps. "+
			"Review what you gathered and compile a useful answer from it. Do not give up.", run.progress)
		return qualityIssue{Reason: "gave_up_despite_progress", Nudge: nudge}, true
	}
	deep := in.Complexity == domain.ComplexityModerate || in.Complexity == domain.ComplexityComplex
	if in.IsActionable() && deep && len([]rune(final)) < shallowAnswerChars && run.toolLoops < 3 && !run.delivered {
		nudge := fmt.Sprintf("This is a %s task but you answered very briefly and barely used any tools. "+
			"Use the appropriate tools to actually accomplish it.", in.Complexity)
		return qualityIssue{Reason: "too_shallow", Nudge: nudge}, true
	}
	return qualityIssue{}, false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

type promptInput struct {
	Intent        domain.Intent
	ThreadContext string
	Summary       string
	AntiPatterns  string
	NextSubtask   string
	State         domain.CognitiveState
	Steps         int
	Now           time.Time
}

func buildSystemPrompt(in promptInput) string {
	domains := "general"
	if len(in.Intent.Domains) > 0 {
		domains = strings.Join(in.Intent.Domains, ", ")
	}
	var b strings.Builder
	fmt.Fprintf(&b, `You are an autonomous task agent. Work through the request with the tools you are given.
Call tools when you need information or need to act. Reply with plain text only when the work is done.
Do not send progress updates. Send one message with the final result.

Current time: %s
Intent: %s (confidence %.0f%%, complexity %s)
Domains: %s
`, in.Now.UTC().Format(time.RFC3339), in.Intent.Type, in.Intent.Confidence*100, in.Intent.Complexity, domains)

	if d := strings.TrimSpace(in.Intent.Detail); d != "" {
		fmt.Fprintf(&b, "Detail: %s\n", d)
	}
	if len(in.Intent.Subtasks) > 1 {
		b.WriteString("\n## Plan\n")
		for i, st := range in.Intent.Subtasks {
			fmt.Fprintf(&b, "%d. %s\n", i+1, st)
		}
	}
	if in.NextSubtask != "" {
		fmt.Fprintf(&b, "Next step: %s\n", in.NextSubtask)
	}
	if in.ThreadContext != "" {
		b.WriteString("\n" + in.ThreadContext + "\n")
	}
	if in.Summary != "" {
		b.WriteString("\n## Earlier in this conversation (compacted)\n" + in.Summary + "\n")
	}
	if status := progressLine(in.State, in.Steps); status != "" {
		b.WriteString("\n## Self-monitoring\n" + status + "\n")
	}
	if in.AntiPatterns != "" {
		b.WriteString("\n⚠️ " + in.AntiPatterns + "\n")
	}
	return b.String()
}

func progressLine(st domain.CognitiveState, steps int) string {
	if steps == 0 {
		return ""
	}
	parts := []string{"Phase: " + st.Phase}
	if st.DeploymentsUsed > 0 {
		parts = append(parts, fmt.Sprintf("Delegations: %d/%d", st.DeploymentsUsed, st.DeploymentBudget))
	}
	if st.ToolDiversity < 0.5 {
		parts = append(parts, fmt.Sprintf("Tool diversity: LOW (%.0f%%), try different tools", st.ToolDiversity*100))
	}
	if st.ProgressScore > 0 {
		parts = append(parts, fmt.Sprintf("Progress: %.0f%%", st.ProgressScore))
	}
	return strings.Join(parts, " | ")
}

// parseConfidence reads a self-reported 0..100 confidence from reasoning
// text.
func parseConfidence(text string) (float64, bool) {
	m := confidencePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n > 100 {
		return 0, false
	}
	return float64(n), true
}

func isProgressMessage(text string) bool {
	text = strings.TrimSpace(text)
	if len([]rune(text)) >= progressMaxChars {
		return false
	}
	for _, re := range progressPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func userMessage(text string, hint string) string {
	if hint != "" {
		text += "\n\n" + hint
	}
	return clipRunes(text, maxUserMessageChars)
}
