package cognition

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
)

const delegationTaskChars = 100

// Fingerprint identifies "the same call" for loop detection. Delegations
// compare on the start of their task, commands on the command line, other
// tools on their full arguments.
func (p Policy) Fingerprint(tool string, args map[string]any) string {
	switch {
	case p.DelegationPrefix != "" && strings.HasPrefix(tool, p.DelegationPrefix):
		task := strings.ToLower(stringArg(args, "task"))
		if r := []rune(task); len(r) > delegationTaskChars {
			task = string(r[:delegationTaskChars])
		}
		return tool + ":" + hashString(task)
	case tool == p.CommandTool:
		return tool + ":" + hashString(strings.ToLower(stringArg(args, "command")))
	default:
		if len(args) == 0 {
			return tool + ":" + hashString("{}")
		}
		// encoding/json sorts map keys, which makes the encoding canonical.
		data, err := json.Marshal(args)
		if err != nil {
			data = []byte(fmt.Sprint(args))
		}
		return tool + ":" + hashString(string(data))
	}
}

func stringArg(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func hashString(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%016x", h.Sum64())
}
