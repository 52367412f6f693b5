package aggregator

import (
	"regexp"
	"strings"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

var correctionPatterns = compileAll(
	`^actually\b`,
	`^wait\b`,
	`^no[\s,]`,
	`^nah\b`,
	`^nvm\b`,
	`^nevermind\b`,
	`^scratch that\b`,
	`^change\b`,
	`^instead\b`,
	`^make it\b`,
	`^switch (it |that )?to\b`,
	`^not .+, (but|use|try)\b`,
	`^i meant\b`,
	`^sorry,?\s*(i meant|it.s|it should)\b`,
	`^correction\b`,
	`^wrong\b`,
	`^oops\b`,
)

var additionPatterns = compileAll(
	`^also\b`,
	`^and\b`,
	`^plus\b`,
	`^oh and\b`,
	`^oh also\b`,
	`^btw\b`,
	`^by the way\b`,
	`^one more thing\b`,
	`^additionally\b`,
	`^another thing\b`,
	`^forgot to (mention|say|add)\b`,
	`^can you also\b`,
	`^while you.re at it\b`,
	`^oh,?\s`,
)

var acknowledgmentPatterns = compileAll(
	`^(ok|okay|k|sure|yep|yeah|yes|ya|yea)[\s!.]*$`,
	`^(got it|sounds good|perfect|great|nice|cool)[\s!.]*$`,
	`^(thanks|ty|thx|thank you)[\s!.]*$`,
	`^(bet|aight|alright|word)[\s!.]*$`,
	`^(go for it|do it|go ahead|proceed|lgtm|looks good)[\s!.]*$`,
	`^(roger|copy|affirmative|10-4)[\s!.]*$`,
	`^(👍|✅|🫡|💯|🤝|👌|🙏|💪|🔥)\s*$`,
)

// DetectRelation classifies how a message relates to the ones buffered
// before it. Correction markers win over addition markers.
func DetectRelation(text string) domain.StreamRelation {
	lower := strings.ToLower(strings.TrimSpace(text))
	switch {
	case matchAny(lower, correctionPatterns):
		return domain.RelationCorrection
	case matchAny(lower, additionPatterns):
		return domain.RelationAddition
	case matchAny(lower, acknowledgmentPatterns):
		return domain.RelationAcknowledgment
	default:
		return domain.RelationNew
	}
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
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
