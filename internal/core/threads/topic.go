package threads

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxTopicChars  = 50
	maxStoredTopic = 80
	untitledTopic  = "Untitled"
	emergencyTopic = "🚨 Emergency"
)

var (
	politePrefixRe = regexp.MustCompile(`(?i)^(hey |hi |yo |can you |could you |please |i need you to |i want you to |i need |i want |go ahead and |let's |let me |help me )`)
	actionTopicRe  = regexp.MustCompile(`(?i)^(search|find|create|build|make|send|email|book|order|deploy|install|setup|fix|debug|check|update|download|research|track|schedule|remind|generate|monitor|organize|write|delete|move|compare|analyze|run|test|configure)\s+(.{5,50})`)
	quotedTopicRe  = regexp.MustCompile(`"([^"]{3,40})"`)
)

// ExtractTopic names a thread after the action and its object when it can,
// then a quoted phrase, then the leading words of the text.
func ExtractTopic(text string) string {
	clean := strings.TrimSpace(text)
	for {
		stripped := strings.TrimSpace(politePrefixRe.ReplaceAllString(clean, ""))
		if stripped == clean {
			break
		}
		clean = stripped
	}

	if m := actionTopicRe.FindStringSubmatch(clean); m != nil {
		return capitalize(cutAtWord(m[1]+" "+strings.TrimSpace(m[2]), maxTopicChars))
	}
	if m := quotedTopicRe.FindStringSubmatch(clean); m != nil {
		return capitalize(m[1])
	}
	if clean == "" {
		return untitledTopic
	}
	return capitalize(cutAtWord(clean, maxTopicChars))
}

// cutAtWord shortens s to at most n runes, backing off to the last space.
func cutAtWord(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	cut := clip(s, n)
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// clip truncates to n runes without splitting a multi-byte character.
func clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
