package ollama

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	fencePattern         = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
	pythonLiteralPattern = regexp.MustCompile(`\b(True|False|None)\b`)
)

// RepairJSON decodes a JSON object the way small models tend to break it:
// code fences, surrounding prose, single quotes, trailing commas, Python
// literals and missing closing brackets.
func RepairJSON(raw string) (map[string]any, bool) {
	s := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		s = strings.TrimSpace(m[1])
	}
	start := strings.Index(s, "{")
	if start < 0 {
		return nil, false
	}
	s = s[start:]
	if end := strings.LastIndex(s, "}"); end >= 0 && balanced(s[:end+1]) {
		s = s[:end+1]
	}

	if out, ok := decodeObject(s); ok {
		return out, true
	}

	candidate := s
	if !strings.Contains(candidate, `"`) {
		candidate = strings.ReplaceAll(candidate, "'", `"`)
	}
	candidate = pythonLiteralPattern.ReplaceAllStringFunc(candidate, func(lit string) string {
		switch lit {
		case "True":
			return "true"
		case "False":
			return "false"
		default:
			return "null"
		}
	})
	candidate = closeBrackets(candidate)
	candidate = trailingCommaPattern.ReplaceAllString(candidate, "$1")
	return decodeObject(candidate)
}

func decodeObject(s string) (map[string]any, bool) {
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil || out == nil {
		return nil, false
	}
	return out, true
}

func balanced(s string) bool {
	return len(openBrackets(s)) == 0
}

// openBrackets returns the brackets still open at the end of s, ignoring
// anything inside string literals.
func openBrackets(s string) []byte {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, ch)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		stack = append(stack, '"')
	}
	return stack
}

func closeBrackets(s string) string {
	open := openBrackets(s)
	if len(open) == 0 {
		return s
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(s, " \t\r\n"))
	for i := len(open) - 1; i >= 0; i-- {
		switch open[i] {
		case '"':
			b.WriteByte('"')
		case '{':
			b.WriteByte('}')
		case '[':
			b.WriteByte(']')
		}
	}
	return b.String()
}
