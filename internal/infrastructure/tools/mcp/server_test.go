package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"

	mcpproto "github.com/mark3labs/mcp-go/mcp"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
	"github.com/kirillkom/agent-orchestrator/internal/core/ports"
)

type fakeSession struct {
	tools   []mcpproto.Tool
	listErr error
	results map[string]*mcpproto.CallToolResult
	callErr error
	calls   []mcpproto.CallToolRequest
	closed  bool
}

func (f *fakeSession) ListTools(context.Context, mcpproto.ListToolsRequest) (*mcpproto.ListToolsResult, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &mcpproto.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeSession) CallTool(_ context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	f.calls = append(f.calls, req)
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.results[req.Params.Name], nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

type fakeRegistrar struct {
	tools map[string]ports.Tool
}

func (r *fakeRegistrar) Register(tool ports.Tool) error {
	name := tool.Spec().Name
	if _, ok := r.tools[name]; ok {
		return domain.WrapError(domain.ErrInvalidInput, "register tool", errors.New("duplicate"))
	}
	r.tools[name] = tool
	return nil
}

func newFake() *fakeSession {
	readOnly := true
	search := mcpproto.NewTool("search_docs",
		mcpproto.WithDescription("Search the docs"),
		mcpproto.WithString("query", mcpproto.Required(), mcpproto.Description("Search query")),
	)
	search.Annotations.ReadOnlyHint = &readOnly
	write := mcpproto.NewTool("write_note",
		mcpproto.WithDescription("Write a note"),
		mcpproto.WithString("text", mcpproto.Required()),
	)
	return &fakeSession{
		tools: []mcpproto.Tool{search, write},
		results: map[string]*mcpproto.CallToolResult{
			"search_docs": {
				Content: []mcpproto.Content{
					mcpproto.TextContent{Type: "text", Text: "first hit"},
					mcpproto.TextContent{Type: "text", Text: "second hit"},
				},
			},
			"write_note": mcpproto.NewToolResultError("permission denied"),
		},
	}
}

func TestRegisterToolsMapsSpecs(t *testing.T) {
	fake := newFake()
	reg := &fakeRegistrar{tools: map[string]ports.Tool{}}

	n, err := RegisterTools(context.Background(), reg, NewServer("docs", fake))
	if err != nil {
		t.Fatalf("register tools: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 tools registered, got %d", n)
	}

	search := reg.tools["search_docs"].Spec()
	if !search.ParallelSafe {
		t.Fatalf("expected read-only tool to be parallel safe")
	}
	if search.Description != "Search the docs" {
		t.Fatalf("unexpected description %q", search.Description)
	}
	props, ok := search.Parameters["properties"].(map[string]any)
	if !ok || props["query"] == nil {
		t.Fatalf("expected query property, got %#v", search.Parameters)
	}
	if reg.tools["write_note"].Spec().ParallelSafe {
		t.Fatalf("expected tool without hint to be sequential")
	}
}

func TestRegisterToolsSkipsDuplicates(t *testing.T) {
	fake := newFake()
	reg := &fakeRegistrar{tools: map[string]ports.Tool{}}
	if _, err := RegisterTools(context.Background(), reg, NewServer("a", fake)); err != nil {
		t.Fatalf("first register: %v", err)
	}
	n, err := RegisterTools(context.Background(), reg, NewServer("b", newFake()))
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected duplicates to be skipped, got %d", n)
	}
}

func TestRegisterToolsListError(t *testing.T) {
	fake := &fakeSession{listErr: errors.New("broken pipe")}
	reg := &fakeRegistrar{tools: map[string]ports.Tool{}}
	if _, err := RegisterTools(context.Background(), reg, NewServer("x", fake)); err == nil {
		t.Fatalf("expected list error")
	}
}

func TestToolExecute(t *testing.T) {
	fake := newFake()
	list, err := NewServer("docs", fake).Tools(context.Background())
	if err != nil {
		t.Fatalf("tools: %v", err)
	}

	res, err := list[0].Execute(context.Background(), map[string]any{"query": "retry policy"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || res.Content != "first hit\nsecond hit" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Metadata["server"] != "docs" {
		t.Fatalf("expected server metadata, got %+v", res.Metadata)
	}
	if got := fake.calls[0].GetArguments()["query"]; got != "retry policy" {
		t.Fatalf("expected arguments forwarded, got %v", got)
	}

	res, err = list[1].Execute(context.Background(), map[string]any{"text": "x"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success || !strings.Contains(res.Content, "permission denied") {
		t.Fatalf("expected failed result, got %+v", res)
	}

	fake.callErr = errors.New("server exited")
	if _, err := list[0].Execute(context.Background(), nil); err == nil {
		t.Fatalf("expected transport error to be returned")
	}
}

func TestParseServers(t *testing.T) {
	got, err := ParseServers("fs=npx -y @modelcontextprotocol/server-filesystem /tmp, git=mcp-git ,")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 servers, got %+v", got)
	}
	if got[0].Name != "fs" || got[0].Command != "npx" || len(got[0].Args) != 3 {
		t.Fatalf("unexpected first server %+v", got[0])
	}
	if got[1].Name != "git" || got[1].Command != "mcp-git" || len(got[1].Args) != 0 {
		t.Fatalf("unexpected second server %+v", got[1])
	}

	none, err := ParseServers("")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty list, got %+v, %v", none, err)
	}
	for _, bad := range []string{"noequals", "name=", "=cmd"} {
		if _, err := ParseServers(bad); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("expected %q to be rejected, got %v", bad, err)
		}
	}
}

func TestCloseAll(t *testing.T) {
	a, b := newFake(), newFake()
	if err := CloseAll([]*Server{NewServer("a", a), NewServer("b", b)}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Fatalf("expected every session closed")
	}
}
