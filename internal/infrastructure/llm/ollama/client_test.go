package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

func ndjson(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func TestStreamAccumulatesContentAndUsage(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(ndjson(
			`{"message":{"role":"assistant","content":"Hello"},"done":false}`,
			`{"message":{"role":"assistant","content":", world"},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":42,"eval_count":7}`,
		)))
	}))
	defer server.Close()

	client := New("primary", server.URL, "llama3.1:8b", time.Second)
	var deltas []string
	resp, err := client.Stream(context.Background(), domain.EngineRequest{
		System: "be brief",
		Tools:  []domain.ToolSpec{{Name: "web_search", Description: "search"}},
		Messages: []domain.EngineMessage{
			{Role: domain.RoleUser, Content: "hi"},
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "call_1_0", Name: "web_search", Args: map[string]any{"query": "x"}}}},
			{Role: domain.RoleTool, Content: "results", ToolCallID: "call_1_0", ToolName: "web_search"},
		},
	}, func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	if resp.Text != "Hello, world" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if strings.Join(deltas, "|") != "Hello|, world" {
		t.Fatalf("unexpected deltas %v", deltas)
	}
	if resp.Usage.PromptTokens != 42 || resp.Usage.CompletionTokens != 7 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
	if resp.Endpoint != "primary" || client.Name() != "primary" {
		t.Fatalf("unexpected endpoint %q", resp.Endpoint)
	}

	if !captured.Stream || captured.Model != "llama3.1:8b" {
		t.Fatalf("unexpected request header fields %+v", captured)
	}
	if len(captured.Messages) != 4 || captured.Messages[0].Role != "system" {
		t.Fatalf("expected system message first, got %+v", captured.Messages)
	}
	if captured.Messages[3].ToolName != "web_search" {
		t.Fatalf("expected tool name on tool message, got %+v", captured.Messages[3])
	}
	if len(captured.Messages[2].ToolCalls) != 1 || string(captured.Messages[2].ToolCalls[0].Function.Arguments) != `{"query":"x"}` {
		t.Fatalf("unexpected assistant tool calls %+v", captured.Messages[2].ToolCalls)
	}
	if len(captured.Tools) != 1 || captured.Tools[0].Function.Parameters["type"] != "object" {
		t.Fatalf("expected default schema on tool, got %+v", captured.Tools)
	}
}

func TestStreamDecodesToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(ndjson(
			`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"web_search","arguments":{"query":"go generics"}}}]},"done":false}`,
			`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"fetch_page","arguments":"{'url': 'https://go.dev',}"}}]},"done":false}`,
			`{"done":true,"prompt_eval_count":10,"eval_count":3}`,
		)))
	}))
	defer server.Close()

	resp, err := New("primary", server.URL, "m", time.Second).Stream(context.Background(), domain.EngineRequest{}, nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if resp.IsFinal() || len(resp.ToolCalls) != 2 {
		t.Fatalf("expected two tool calls, got %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Args["query"] != "go generics" {
		t.Fatalf("unexpected first args %+v", resp.ToolCalls[0].Args)
	}
	if resp.ToolCalls[1].Args["url"] != "https://go.dev" {
		t.Fatalf("unexpected repaired args %+v", resp.ToolCalls[1].Args)
	}
	if !resp.Repaired {
		t.Fatalf("expected repaired flag")
	}
}

func TestStreamRecoversToolCallWrittenAsText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(ndjson(
			"{\"message\":{\"content\":\"```json\\n{\\\"name\\\": \\\"web_search\\\", \\\"arguments\\\": {\\\"query\\\": \\\"weather\\\"}}\\n```\"},\"done\":true}",
		)))
	}))
	defer server.Close()

	req := domain.EngineRequest{Tools: []domain.ToolSpec{{Name: "web_search"}}}
	resp, err := New("primary", server.URL, "m", time.Second).Stream(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "web_search" || resp.ToolCalls[0].Args["query"] != "weather" {
		t.Fatalf("expected recovered tool call, got %+v", resp)
	}
	if resp.Text != "" || !resp.Repaired {
		t.Fatalf("expected text moved into tool call, got %+v", resp)
	}
}

func TestStreamMapsHTTPStatusToErrorKind(t *testing.T) {
	cases := []struct {
		status int
		kind   domain.ErrorKind
	}{
		{http.StatusUnauthorized, domain.KindAuth},
		{http.StatusForbidden, domain.KindAuth},
		{http.StatusTooManyRequests, domain.KindRateLimit},
		{http.StatusRequestTimeout, domain.KindTransient},
		{http.StatusInternalServerError, domain.KindTransient},
		{http.StatusBadGateway, domain.KindTransient},
		{http.StatusServiceUnavailable, domain.KindTransient},
		{http.StatusGatewayTimeout, domain.KindTransient},
		{http.StatusBadRequest, domain.KindFatal},
		{http.StatusNotFound, domain.KindFatal},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "model unavailable", tc.status)
			}))
			defer server.Close()

			_, err := New("primary", server.URL, "m", time.Second).Stream(context.Background(), domain.EngineRequest{}, nil)
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := domain.KindOf(err); got != tc.kind {
				t.Fatalf("expected kind %s, got %s", tc.kind, got)
			}
			var statusErr *HTTPStatusError
			if !errors.As(err, &statusErr) || statusErr.StatusCode != tc.status {
				t.Fatalf("expected status error in chain, got %v", err)
			}
			if !strings.Contains(err.Error(), "model unavailable") {
				t.Fatalf("expected response body in error, got %v", err)
			}
		})
	}
}

func TestStreamMalformedChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{\"message\":{\"content\":\"par\"}}\n<html>oops</html>\n"))
	}))
	defer server.Close()

	_, err := New("primary", server.URL, "m", time.Second).Stream(context.Background(), domain.EngineRequest{}, nil)
	if domain.KindOf(err) != domain.KindMalformedResponse {
		t.Fatalf("expected malformed response, got %v", err)
	}
}

func TestStreamErrorChunkIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(ndjson(`{"error":"model is loading"}`)))
	}))
	defer server.Close()

	_, err := New("primary", server.URL, "m", time.Second).Stream(context.Background(), domain.EngineRequest{}, nil)
	if domain.KindOf(err) != domain.KindTransient {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestStreamNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := New("primary", url, "m", time.Second).Stream(context.Background(), domain.EngineRequest{}, nil)
	if domain.KindOf(err) != domain.KindTransient {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestStreamCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New("primary", server.URL, "m", time.Second).Stream(ctx, domain.EngineRequest{}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if domain.KindOf(err) != domain.KindFatal {
		t.Fatalf("context errors must not be retried")
	}
}
