package intent

import (
	"math"
	"regexp"
	"strings"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

const (
	emergencyThreshold    = 0.3
	followUpThreshold     = 0.25
	taskThreshold         = 0.2
	quickThreshold        = 0.3
	conversationThreshold = 0.2

	emergencyUrgencyFloor = 0.8
	matchScore            = 0.3
)

// Classifier is the rule-based default for ports.Classifier. It holds no
// state and is safe for concurrent use.
type Classifier struct{}

func New() *Classifier {
	return &Classifier{}
}

// Classify never fails: text that matches nothing falls through to a
// low-confidence conversational intent.
func (c *Classifier) Classify(text string, hasActiveThread bool, kind domain.MergeKind) domain.Intent {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	clean := strings.TrimSpace(cleanPattern.ReplaceAllString(lower, ""))

	subtasks := ExtractSubtasks(trimmed)
	domains := DetectDomains(lower)
	base := domain.Intent{
		Domains:    domains,
		Urgency:    Urgency(trimmed),
		Entities:   ExtractEntities(trimmed),
		Subtasks:   subtasks,
		Complexity: ComplexityOf(lower, len(domains), len(subtasks)),
	}

	with := func(t domain.IntentType, confidence float64, detail string) domain.Intent {
		out := base
		out.Type = t
		out.Confidence = math.Min(1, confidence)
		out.Detail = detail
		return out
	}

	if score := Score(clean, emergencyPatterns); score >= emergencyThreshold {
		out := with(domain.IntentEmergency, score+0.2, "urgent_action_required")
		out.Urgency = math.Max(out.Urgency, emergencyUrgencyFloor)
		return out
	}

	if matchAny(lower, acknowledgmentPatterns) || matchAny(clean, acknowledgmentPatterns) {
		if hasActiveThread {
			return with(domain.IntentAcknowledgment, 0.95, "confirm_and_proceed")
		}
		return with(domain.IntentAcknowledgment, 0.90, "casual_confirm")
	}

	if kind == domain.MergeCorrection {
		return with(domain.IntentCorrection, 0.90, "modifying_previous_request")
	}

	if hasActiveThread {
		if score := Score(clean, followUpPatterns); score >= followUpThreshold {
			return with(domain.IntentFollowUp, score+0.3, "continuing_previous_thread")
		}
	}

	if score := Score(clean, taskPatterns); score >= taskThreshold {
		detail := "action_required"
		if len(subtasks) > 1 {
			detail = "multi_task"
		}
		return with(domain.IntentTask, score+0.3, detail)
	}

	if score := Score(clean, quickPatterns); score >= quickThreshold {
		return with(domain.IntentQuickQuestion, score+0.2, "info_request")
	}

	if score := Score(clean, conversationPatterns); score >= conversationThreshold {
		return with(domain.IntentConversation, score+0.3, "casual_chat")
	}

	words := len(strings.Fields(trimmed))
	switch {
	case words > 15:
		return with(domain.IntentTask, 0.55, "inferred_from_length")
	case words > 8:
		return with(domain.IntentQuickQuestion, 0.45, "inferred_medium_length")
	default:
		return with(domain.IntentConversation, 0.35, "ambiguous_short_message")
	}
}

// Score sums matchScore for every pattern that matches, weighted by where
// the first match starts: first 20% of the text x1.5, next 40% x1.0, the
// rest x0.8. Capped at 1.0.
func Score(text string, patterns []*regexp.Regexp) float64 {
	if text == "" {
		return 0
	}
	total := 0.0
	for _, re := range patterns {
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		total += matchScore * positionWeight(loc[0], len(text))
	}
	return math.Min(1, total)
}

func positionWeight(offset, length int) float64 {
	pos := float64(offset) / float64(length)
	switch {
	case pos < 0.2:
		return 1.5
	case pos < 0.6:
		return 1.0
	default:
		return 0.8
	}
}

// DetectDomains expects lower-cased text. At most one hit per domain.
func DetectDomains(lower string) []string {
	var out []string
	for _, d := range domainTable {
		if matchAny(lower, d.patterns) {
			out = append(out, d.name)
		}
	}
	return out
}

func matchAny(text string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
