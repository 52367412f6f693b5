package domain

import "time"

// ToolSpec describes a tool offered to the decision engine.
type ToolSpec struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	ParallelSafe bool           `json:"parallel_safe"`
}

type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type ToolResult struct {
	Success  bool              `json:"success"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type EngineMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	At         time.Time  `json:"at"`
}

type EngineRequest struct {
	System   string          `json:"system"`
	Tools    []ToolSpec      `json:"tools"`
	Messages []EngineMessage `json:"messages"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// EngineResponse is either a final text answer (no tool calls) or a set of
// tool invocations.
type EngineResponse struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
	Repaired  bool       `json:"repaired,omitempty"`
	Endpoint  string     `json:"endpoint,omitempty"`
}

func (r EngineResponse) IsFinal() bool {
	return len(r.ToolCalls) == 0
}
