package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

const (
	maxThoughtChars = 2000
	maxCheckpoints  = 50
)

// Think lets the engine reason out loud. The thought is echoed back so a
// self-reported confidence in it reaches the cognition monitor.
type Think struct{}

func (Think) Spec() domain.ToolSpec {
	return domain.ToolSpec{
		Name: "think",
		Description: "Reason step by step before acting. Include 'confidence: N' (0-100) " +
			"to report how sure you are about the plan.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"thought": map[string]any{"type": "string", "description": "Your reasoning"},
			},
			"required": []string{"thought"},
		},
	}
}

func (Think) Execute(_ context.Context, args map[string]any) (domain.ToolResult, error) {
	thought := strings.TrimSpace(stringArg(args, "thought"))
	if thought == "" {
		return domain.ToolResult{Content: "Error: thought is required"}, nil
	}
	if r := []rune(thought); len(r) > maxThoughtChars {
		thought = string(r[:maxThoughtChars])
	}
	return domain.ToolResult{Success: true, Content: "Thought recorded: " + thought}, nil
}

type Checkpoint struct {
	Note     string    `json:"note"`
	Progress float64   `json:"progress,omitempty"`
	At       time.Time `json:"at"`
}

// CheckpointTool keeps the latest progress notes of the process.
type CheckpointTool struct {
	now func() time.Time

	mu    sync.Mutex
	notes []Checkpoint
}

func NewCheckpointTool(now func() time.Time) *CheckpointTool {
	if now == nil {
		now = time.Now
	}
	return &CheckpointTool{now: now}
}

func (c *CheckpointTool) Spec() domain.ToolSpec {
	return domain.ToolSpec{
		Name:        "checkpoint",
		Description: "Record a progress note for long tasks. Does not message the user.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"note":     map[string]any{"type": "string", "description": "What has been done and what is next"},
				"progress": map[string]any{"type": "number", "description": "Estimated completion 0-100"},
			},
			"required": []string{"note"},
		},
	}
}

func (c *CheckpointTool) Execute(_ context.Context, args map[string]any) (domain.ToolResult, error) {
	note := strings.TrimSpace(stringArg(args, "note"))
	if note == "" {
		return domain.ToolResult{Content: "Error: note is required"}, nil
	}
	cp := Checkpoint{Note: note, At: c.now()}
	if p, ok := args["progress"].(float64); ok && p >= 0 && p <= 100 {
		cp.Progress = p
	}

	c.mu.Lock()
	c.notes = append(c.notes, cp)
	if len(c.notes) > maxCheckpoints {
		c.notes = c.notes[len(c.notes)-maxCheckpoints:]
	}
	n := len(c.notes)
	c.mu.Unlock()

	return domain.ToolResult{
		Success:  true,
		Content:  fmt.Sprintf("Checkpoint %d saved: %s", n, note),
		Metadata: map[string]string{"progress": fmt.Sprintf("%.0f", cp.Progress)},
	}, nil
}

func (c *CheckpointTool) Checkpoints() []Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Checkpoint(nil), c.notes...)
}

// RegisterBuiltins adds think and checkpoint to r.
func RegisterBuiltins(r *Registry, now func() time.Time) (*CheckpointTool, error) {
	if err := r.Register(Think{}); err != nil {
		return nil, err
	}
	cp := NewCheckpointTool(now)
	if err := r.Register(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func stringArg(args map[string]any, key string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}
