package decisioncache

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxPatternChars = 80

type replacement struct {
	re          *regexp.Regexp
	placeholder string
}

// Order matters: URLs and emails go before paths and numbers so their
// pieces are not replaced twice.
var replacements = []replacement{
	{regexp.MustCompile(`https?://\S+`), "{url}"},
	{regexp.MustCompile(`\S+@\S+\.\S+`), "{email}"},
	{regexp.MustCompile(`(?:\+?\d{1,2}[\s.-]?)?\(?\d{3}\)?[\s.-]\d{3}[\s.-]\d{4}\b`), "{phone}"},
	{regexp.MustCompile(`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|sept|oct|nov|dec)\.?\s+\d{1,2}(?:st|nd|rd|th)?(?:\s*,?\s*\d{4})?\b`), "{date}"},
	{regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`), "{date}"},
	{regexp.MustCompile(`\b\d{1,2}/\d{1,2}(?:/\d{2,4})?\b`), "{date}"},
	{regexp.MustCompile(`(?i)\b(?:today|tonight|tomorrow|yesterday|next (?:week|month|year|monday|tuesday|wednesday|thursday|friday|saturday|sunday)|this (?:week|weekend|month|morning|afternoon|evening)|in \d+ (?:minutes?|hours?|days?|weeks?|months?))\b`), "{date}"},
	{regexp.MustCompile(`(^|\s)(?:~|\.{1,2})?(?:/[\w.\-]+)+`), "${1}{path}"},
	{regexp.MustCompile(`\$\d[\d,]*(?:\.\d+)?|\b\d+(?:\.\d+)?\s?(?i:usd|dollars|bucks)\b`), "{price}"},
	{regexp.MustCompile(`\b\d{2,}\b`), "{number}"},
}

var (
	airportCodeRe = regexp.MustCompile(`\b[A-Z]{3}\b`)
	tickerRe      = regexp.MustCompile(`\b[A-Z]{2,5}\b`)
)

// Generalizer is the rule-based ports.PatternGeneralizer.
type Generalizer struct{}

// GeneralizePattern turns a concrete request into a reusable pattern, e.g.
// "search flights from SLC to NYC on March 15" with the flights domain
// becomes "search flights from {airport} to {airport} on {date}".
// Domain-specific codes are matched before lower-casing.
func (Generalizer) GeneralizePattern(message string, domains []string) string {
	pattern := strings.TrimSpace(message)
	for _, r := range replacements {
		pattern = r.re.ReplaceAllString(pattern, r.placeholder)
	}
	if hasDomain(domains, "flights") {
		pattern = airportCodeRe.ReplaceAllString(pattern, "{airport}")
	}
	if hasDomain(domains, "finance") {
		pattern = tickerRe.ReplaceAllString(pattern, "{ticker}")
	}
	pattern = strings.ToLower(pattern)
	if utf8.RuneCountInString(pattern) > maxPatternChars {
		pattern = string([]rune(pattern)[:maxPatternChars])
	}
	return strings.TrimSpace(pattern)
}

var placeholderRe = regexp.MustCompile(`\{[^}]+\}`)

// fuzzyMatch requires 60% of the pattern's significant words (longer than
// two characters, placeholders removed) to appear in the message.
func fuzzyMatch(message, pattern string) bool {
	msg := strings.ToLower(message)
	clean := placeholderRe.ReplaceAllString(strings.ToLower(pattern), " ")

	total, hits := 0, 0
	for _, w := range strings.Fields(clean) {
		if utf8.RuneCountInString(w) <= 2 {
			continue
		}
		total++
		if strings.Contains(msg, w) {
			hits++
		}
	}
	return total > 0 && hits*10 >= total*6
}

func hasDomain(domains []string, name string) bool {
	for _, d := range domains {
		if d == name {
			return true
		}
	}
	return false
}
