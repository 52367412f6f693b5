package aggregator

import (
	"regexp"
	"strings"
	"time"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

const shortMessageWords = 15

var correctionPrefixes = []string{
	"scratch that", "i meant", "make it", "switch it to", "switch that to", "switch to",
	"change it to", "change that to", "actually", "wait", "no", "nah", "nvm", "nevermind",
	"instead", "sorry", "oops", "correction", "wrong",
}

var actionVerbs = []string{
	"search", "find", "build", "create", "make", "send", "deploy", "check", "track",
	"book", "organize", "write", "generate", "schedule", "research", "compare", "run",
}

var prepositions = map[string]struct{}{
	"to": {}, "from": {}, "in": {}, "at": {}, "for": {}, "on": {}, "with": {}, "into": {},
}

var (
	insteadOfRe = regexp.MustCompile(`(?i)^(?:use\s+)?(.+?)\s+instead\s+of\s+(.+?)[.!]*$`)
	notButRe    = regexp.MustCompile(`(?i)^not\s+(.+?),?\s+(?:but|use|try)\s+(.+?)[.!]*$`)
)

// BuildBatch merges buffered messages. Order of checks: single, correction,
// addition or all short, multi task.
func BuildBatch(messages []domain.RawMessage, source string, now time.Time) domain.Batch {
	batch := domain.Batch{
		Messages:  messages,
		Source:    source,
		EmittedAt: now,
	}
	if len(messages) == 1 {
		batch.Kind = domain.MergeSingle
		batch.MergedText = messages[0].Text
		return batch
	}

	hasCorrection := false
	hasAddition := false
	allShort := true
	for _, m := range messages {
		switch m.Relation {
		case domain.RelationCorrection:
			hasCorrection = true
		case domain.RelationAddition:
			hasAddition = true
		}
		if len(strings.Fields(m.Text)) >= shortMessageWords {
			allShort = false
		}
	}

	switch {
	case hasCorrection:
		parts := make([]string, 0, len(messages))
		for _, m := range messages {
			if m.Relation == domain.RelationCorrection {
				parts = []string{ApplyCorrection(strings.Join(parts, ". "), m.Text)}
				continue
			}
			parts = append(parts, m.Text)
		}
		batch.Kind = domain.MergeCorrection
		batch.MergedText = strings.Join(parts, ". ")
	case hasAddition:
		batch.Kind = domain.MergeAddition
		batch.MergedText = joinTexts(messages, ". ")
	case allShort:
		batch.Kind = domain.MergeAddition
		batch.MergedText = joinTexts(messages, " ")
	default:
		batch.Kind = domain.MergeMultiTask
		batch.MergedText = joinTexts(messages, " | ")
		batch.Tasks = make([]string, 0, len(messages))
		for _, m := range messages {
			batch.Tasks = append(batch.Tasks, m.Text)
		}
	}
	return batch
}

// ApplyCorrection folds a correction message into the text it corrects.
// The heuristics are best effort; when none applies the correction is kept
// as a trailing clause so no information is lost.
func ApplyCorrection(previous, correction string) string {
	previous = strings.TrimSpace(previous)
	clean := stripCorrectionPrefixes(correction)
	if previous == "" {
		if clean == "" {
			return strings.TrimSpace(correction)
		}
		return clean
	}
	if clean == "" {
		return previous
	}

	if m := insteadOfRe.FindStringSubmatch(clean); m != nil {
		if out, ok := replaceFold(previous, m[2], m[1]); ok {
			return out
		}
	}
	if m := notButRe.FindStringSubmatch(clean); m != nil {
		if out, ok := replaceFold(previous, m[1], m[2]); ok {
			return out
		}
	}

	prevWords := strings.Fields(previous)
	cleanWords := strings.Fields(clean)

	if out, ok := overlapSubstitute(prevWords, cleanWords); ok {
		return out
	}

	action := startsWithAction(clean)
	if !action && len(cleanWords) <= 3 && len(prevWords) > 3 {
		if out, ok := replaceAfterPreposition(prevWords, cleanWords); ok {
			return out
		}
	}
	if action {
		return clean
	}
	return previous + " (correction: " + clean + ")"
}

func stripCorrectionPrefixes(text string) string {
	out := strings.TrimSpace(text)
	for {
		lower := strings.ToLower(out)
		stripped := false
		for _, prefix := range correctionPrefixes {
			if !strings.HasPrefix(lower, prefix) {
				continue
			}
			rest := out[len(prefix):]
			if rest != "" && !strings.ContainsAny(rest[:1], " ,:;.!-") {
				continue
			}
			out = strings.TrimLeft(rest, " ,:;.!-")
			stripped = true
			break
		}
		if !stripped {
			out = strings.TrimSpace(out)
			if lower := strings.ToLower(out); strings.HasSuffix(lower, " instead") && !strings.Contains(lower, " instead of ") {
				out = strings.TrimSpace(out[:len(out)-len(" instead")])
			}
			return out
		}
	}
}

func startsWithAction(text string) bool {
	first := strings.ToLower(firstWord(text))
	for _, verb := range actionVerbs {
		if first == verb {
			return true
		}
	}
	return false
}

func firstWord(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// overlapSubstitute overwrites prior words starting where the correction's
// leading words already appear, keeping anything after the overwritten span.
func overlapSubstitute(prevWords, cleanWords []string) (string, bool) {
	if len(cleanWords) < 2 {
		return "", false
	}
	for i := range prevWords {
		matched := 0
		for matched < len(cleanWords) && i+matched < len(prevWords) &&
			strings.EqualFold(trimPunct(prevWords[i+matched]), trimPunct(cleanWords[matched])) {
			matched++
		}
		if matched == 0 || matched == len(cleanWords) {
			continue
		}
		end := i + len(cleanWords)
		if end > len(prevWords) {
			end = len(prevWords)
		}
		out := make([]string, 0, len(prevWords)+len(cleanWords))
		out = append(out, prevWords[:i]...)
		out = append(out, cleanWords...)
		out = append(out, prevWords[end:]...)
		return strings.Join(out, " "), true
	}
	return "", false
}

func replaceAfterPreposition(prevWords, cleanWords []string) (string, bool) {
	last := -1
	for i := len(prevWords) - 2; i >= 0; i-- {
		if _, ok := prepositions[strings.ToLower(prevWords[i])]; ok {
			last = i
			break
		}
	}
	if last < 0 {
		return "", false
	}
	out := make([]string, 0, last+1+len(cleanWords))
	out = append(out, prevWords[:last+1]...)
	out = append(out, cleanWords...)
	return strings.Join(out, " "), true
}

func replaceFold(text, old, replacement string) (string, bool) {
	old = strings.TrimSpace(old)
	if old == "" {
		return "", false
	}
	lowerText := strings.ToLower(text)
	idx := strings.Index(lowerText, strings.ToLower(old))
	if len(lowerText) != len(text) {
		idx = strings.Index(text, old)
	}
	if idx < 0 {
		return "", false
	}
	return text[:idx] + strings.TrimSpace(replacement) + text[idx+len(old):], true
}

func trimPunct(word string) string {
	return strings.Trim(word, ",.;:!?\"'")
}

func joinTexts(messages []domain.RawMessage, sep string) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Text)
	}
	return strings.Join(parts, sep)
}
