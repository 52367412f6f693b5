package intent

import (
	"math"
	"regexp"
	"strings"
	"unicode"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

const maxEntities = 10

var (
	quotedRe     = regexp.MustCompile(`"([^"]{1,80})"|“([^”]{1,80})”`)
	emailRe      = regexp.MustCompile(`[\w.+\-]+@[\w\-]+(?:\.[\w\-]+)+`)
	urlRe        = regexp.MustCompile(`https?://[^\s<>"']+`)
	pathRe       = regexp.MustCompile(`(?:^|\s)((?:~|\.{1,2})?/[\w.\-]+(?:/[\w.\-]+)*)`)
	moneyRe      = regexp.MustCompile(`\$\d[\d,]*(?:\.\d+)?`)
	codeRe       = regexp.MustCompile(`\b[A-Z]{3}\b`)
	properNameRe = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)

	numberedItemRe = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]|[-*•])\s+(.+?)\s*$`)
	batchSplitRe   = regexp.MustCompile(`\s+\|\s+`)
	conjunctionRe  = regexp.MustCompile(`(?i)\s*;\s*|,?\s+(?:and then|and also|after that|then|and|plus)\s+`)
	sentenceRe     = regexp.MustCompile(`[.!?]+\s+`)
)

var stopwords = map[string]struct{}{
	"i": {}, "the": {}, "a": {}, "an": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"please": {}, "can": {}, "could": {}, "would": {}, "will": {}, "should": {}, "what": {},
	"when": {}, "where": {}, "who": {}, "how": {}, "why": {}, "which": {}, "is": {}, "are": {},
	"do": {}, "does": {}, "did": {}, "hey": {}, "hi": {}, "hello": {}, "ok": {}, "okay": {},
	"also": {}, "and": {}, "but": {}, "then": {}, "my": {}, "me": {}, "it": {}, "we": {},
	"you": {}, "let": {}, "lets": {}, "now": {}, "asap": {}, "sos": {}, "all": {}, "not": {},
	"yes": {}, "no": {}, "for": {}, "to": {}, "from": {}, "in": {}, "on": {}, "at": {},
	"search": {}, "find": {}, "build": {}, "create": {}, "make": {}, "send": {}, "deploy": {},
	"check": {}, "track": {}, "book": {}, "organize": {}, "write": {}, "email": {}, "fix": {},
	"stop": {}, "run": {}, "open": {}, "tell": {}, "show": {}, "get": {}, "set": {}, "compare": {},
	"research": {}, "schedule": {}, "remind": {}, "update": {}, "delete": {}, "move": {},
	"download": {}, "upload": {},
}

// Urgency is the strongest temporal or emphasis cue, boosted by repeated
// exclamation marks and shouted words.
func Urgency(text string) float64 {
	lower := strings.ToLower(text)
	score := 0.0
	for _, p := range urgencyPatterns {
		if p.re.MatchString(lower) {
			score = math.Max(score, p.weight)
		}
	}
	if strings.Count(text, "!") >= 3 {
		score += 0.2
	}
	if countShouted(text) >= 2 {
		score += 0.2
	}
	return math.Min(1, score)
}

func countShouted(text string) int {
	n := 0
	for _, field := range strings.Fields(text) {
		word := strings.TrimFunc(field, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if len([]rune(word)) < 2 {
			continue
		}
		hasLetter := false
		shouted := true
		for _, r := range word {
			if unicode.IsLetter(r) {
				hasLetter = true
				if !unicode.IsUpper(r) {
					shouted = false
					break
				}
			}
		}
		if hasLetter && shouted {
			n++
		}
	}
	return n
}

// ExtractEntities collects concrete references from the original-case text:
// quoted phrases, emails, URLs, paths, dollar amounts, three-letter codes and
// capitalized names. Duplicates are dropped case-insensitively.
func ExtractEntities(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(value string) bool {
		value = strings.TrimSpace(value)
		if value == "" {
			return len(out) < maxEntities
		}
		key := strings.ToLower(value)
		if _, ok := seen[key]; ok {
			return len(out) < maxEntities
		}
		seen[key] = struct{}{}
		out = append(out, value)
		return len(out) < maxEntities
	}

	for _, m := range quotedRe.FindAllStringSubmatch(text, -1) {
		if !add(m[1] + m[2]) {
			return out
		}
	}
	for _, re := range []*regexp.Regexp{emailRe, urlRe} {
		for _, m := range re.FindAllString(text, -1) {
			if !add(strings.TrimRight(m, ".,;:!?)")) {
				return out
			}
		}
	}
	for _, m := range pathRe.FindAllStringSubmatch(text, -1) {
		if !add(m[1]) {
			return out
		}
	}
	for _, m := range moneyRe.FindAllString(text, -1) {
		if !add(m) {
			return out
		}
	}
	for _, m := range codeRe.FindAllString(text, -1) {
		if isStopword(m) {
			continue
		}
		if !add(m) {
			return out
		}
	}
	for _, m := range properNameRe.FindAllString(text, -1) {
		name := trimLeadingStopwords(m)
		if name == "" || coveredBy(seen, name) {
			continue
		}
		if !add(name) {
			return out
		}
	}
	return out
}

// coveredBy reports whether name is part of an entity already captured,
// such as a word inside a quoted phrase.
func coveredBy(seen map[string]struct{}, name string) bool {
	lower := strings.ToLower(name)
	for key := range seen {
		if key != lower && strings.Contains(key, lower) {
			return true
		}
	}
	return false
}

func trimLeadingStopwords(phrase string) string {
	words := strings.Fields(phrase)
	for len(words) > 0 && isStopword(words[0]) {
		words = words[1:]
	}
	return strings.Join(words, " ")
}

func isStopword(word string) bool {
	_, ok := stopwords[strings.ToLower(word)]
	return ok
}

// ExtractSubtasks splits a request into its parts: pipe-joined batches
// first, then numbered or bulleted lists, then conjunctions and finally
// sentences. Conjunction and sentence parts only count when every part
// carries an action verb. Fewer than two parts yields nil.
func ExtractSubtasks(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if parts := nonEmpty(batchSplitRe.Split(text, -1)); len(parts) > 1 {
		return parts
	}
	if items := numberedItemRe.FindAllStringSubmatch(text, -1); len(items) > 1 {
		parts := make([]string, 0, len(items))
		for _, m := range items {
			parts = append(parts, m[1])
		}
		return parts
	}
	for _, re := range []*regexp.Regexp{conjunctionRe, sentenceRe} {
		parts := nonEmpty(re.Split(text, -1))
		if len(parts) > 1 && allActionable(parts) {
			return parts
		}
	}
	return nil
}

func allActionable(parts []string) bool {
	for _, p := range parts {
		if Score(strings.ToLower(p), taskPatterns) == 0 {
			return false
		}
	}
	return true
}

func nonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(p), ".!?"))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ComplexityOf buckets a weighted score over domains, sub-tasks, length and
// pipeline or technical vocabulary. lower must be lower-cased.
func ComplexityOf(lower string, domainCount, subtaskCount int) domain.Complexity {
	score := 15*domainCount + 20*subtaskCount
	switch words := len(strings.Fields(lower)); {
	case words > 40:
		score += 25
	case words > 15:
		score += 10
	}
	score += 8 * len(pipelinePattern.FindAllString(lower, -1))
	score += 10 * len(technicalPattern.FindAllString(lower, -1))

	switch {
	case score >= 50:
		return domain.ComplexityComplex
	case score >= 20:
		return domain.ComplexityModerate
	default:
		return domain.ComplexitySimple
	}
}
