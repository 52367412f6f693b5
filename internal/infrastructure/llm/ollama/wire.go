package ollama

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type wireToolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type chatChunk struct {
	Message struct {
		Role      string         `json:"role"`
		Content   string         `json:"content"`
		ToolCalls []wireToolCall `json:"tool_calls"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error"`
}

var emptySchema = map[string]any{"type": "object", "properties": map[string]any{}}

func buildChatRequest(model string, req domain.EngineRequest) chatRequest {
	out := chatRequest{Model: model, Stream: true}
	if strings.TrimSpace(req.System) != "" {
		out.Messages = append(out.Messages, chatMessage{Role: domain.RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		msg := chatMessage{Role: m.Role, Content: m.Content}
		if m.Role == domain.RoleTool {
			msg.ToolName = m.ToolName
		}
		for _, call := range m.ToolCalls {
			var wc wireToolCall
			wc.ID = call.ID
			wc.Function.Name = call.Name
			args, err := json.Marshal(nonNilArgs(call.Args))
			if err != nil {
				args = []byte("{}")
			}
			wc.Function.Arguments = args
			msg.ToolCalls = append(msg.ToolCalls, wc)
		}
		out.Messages = append(out.Messages, msg)
	}
	for _, spec := range req.Tools {
		params := spec.Parameters
		if len(params) == 0 {
			params = emptySchema
		}
		out.Tools = append(out.Tools, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// toDomain decodes the arguments, which models send either as an object or
// as a JSON string that may need repair.
func (wc wireToolCall) toDomain() (domain.ToolCall, bool, error) {
	name := strings.TrimSpace(wc.Function.Name)
	if name == "" {
		return domain.ToolCall{}, false, errors.New("tool call without a name")
	}
	call := domain.ToolCall{ID: wc.ID, Name: name}

	raw := strings.TrimSpace(string(wc.Function.Arguments))
	if raw == "" || raw == "null" {
		call.Args = map[string]any{}
		return call, false, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		call.Args = nonNilArgs(args)
		return call, false, nil
	}

	var encoded string
	if err := json.Unmarshal([]byte(raw), &encoded); err == nil {
		raw = encoded
		if err := json.Unmarshal([]byte(raw), &args); err == nil {
			call.Args = nonNilArgs(args)
			return call, false, nil
		}
	}

	repaired, ok := RepairJSON(raw)
	if !ok {
		return domain.ToolCall{}, false, fmt.Errorf("tool %s: unrepairable arguments %q", name, clip(raw, 120))
	}
	call.Args = repaired
	return call, true, nil
}

// toolCallsFromText recovers a tool call that the model wrote into its text
// instead of the tool_calls field. Only offered tools are accepted.
func toolCallsFromText(text string, offered []domain.ToolSpec) ([]domain.ToolCall, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || len(offered) == 0 || !strings.Contains(trimmed, "{") {
		return nil, false
	}
	obj, ok := RepairJSON(trimmed)
	if !ok {
		return nil, false
	}
	name, _ := obj["name"].(string)
	if name == "" {
		if fn, ok := obj["function"].(map[string]any); ok {
			name, _ = fn["name"].(string)
			obj = fn
		}
	}
	if !offeredTool(offered, name) {
		return nil, false
	}
	args, _ := obj["arguments"].(map[string]any)
	if args == nil {
		args, _ = obj["parameters"].(map[string]any)
	}
	return []domain.ToolCall{{Name: name, Args: nonNilArgs(args)}}, true
}

func offeredTool(offered []domain.ToolSpec, name string) bool {
	for _, spec := range offered {
		if spec.Name == name {
			return true
		}
	}
	return false
}

func nonNilArgs(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
