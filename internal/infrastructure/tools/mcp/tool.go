package mcp

import (
	"context"
	"fmt"
	"strings"

	mcpproto "github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

// Tool forwards calls to one tool of an MCP server. Tools with a read-only
// hint are offered as parallel safe.
type Tool struct {
	server  string
	session Session
	tool    mcpproto.Tool
}

func (t *Tool) Spec() domain.ToolSpec {
	schema := t.tool.InputSchema
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	if schema.Type != "" {
		params["type"] = schema.Type
	}
	if len(schema.Properties) > 0 {
		params["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		params["required"] = schema.Required
	}
	readOnly := t.tool.Annotations.ReadOnlyHint
	return domain.ToolSpec{
		Name:         t.tool.Name,
		Description:  t.tool.Description,
		Parameters:   params,
		ParallelSafe: readOnly != nil && *readOnly,
	}
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
	req := mcpproto.CallToolRequest{}
	req.Params.Name = t.tool.Name
	req.Params.Arguments = args

	res, err := t.session.CallTool(ctx, req)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("mcp %s/%s: %w", t.server, t.tool.Name, err)
	}
	text := contentText(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return domain.ToolResult{
			Content:  "Error: " + text,
			Metadata: map[string]string{"server": t.server},
		}, nil
	}
	return domain.ToolResult{
		Success:  true,
		Content:  text,
		Metadata: map[string]string{"server": t.server},
	}, nil
}

func contentText(contents []mcpproto.Content) string {
	parts := make([]string, 0, len(contents))
	for _, c := range contents {
		switch v := c.(type) {
		case mcpproto.TextContent:
			parts = append(parts, v.Text)
		case *mcpproto.TextContent:
			parts = append(parts, v.Text)
		case mcpproto.ImageContent, *mcpproto.ImageContent:
			parts = append(parts, "[image]")
		case mcpproto.EmbeddedResource, *mcpproto.EmbeddedResource:
			parts = append(parts, "[resource]")
		default:
			parts = append(parts, "[unsupported content]")
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}
