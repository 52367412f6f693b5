package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
	"github.com/kirillkom/agent-orchestrator/internal/core/ports"
)

const chatOperation = "chat"

var _ ports.DecisionEngine = (*Client)(nil)

// Client is a decision engine backed by one Ollama endpoint. It streams
// /api/chat and folds the chunks into a single response.
type Client struct {
	name       string
	baseURL    string
	model      string
	httpClient *http.Client
}

func New(name, baseURL, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if strings.TrimSpace(name) == "" {
		name = model
	}
	return &Client{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string {
	return c.name
}

// Stream sends one chat turn. Errors are *domain.EngineError, except
// context errors which are returned as they are.
func (c *Client) Stream(ctx context.Context, req domain.EngineRequest, onDelta func(string)) (domain.EngineResponse, error) {
	body, err := c.postStream(ctx, "/api/chat", buildChatRequest(c.model, req))
	if err != nil {
		return domain.EngineResponse{}, err
	}
	defer body.Close()

	resp, err := c.readStream(ctx, body, onDelta)
	if err != nil {
		return domain.EngineResponse{}, err
	}

	if len(resp.ToolCalls) == 0 {
		if calls, ok := toolCallsFromText(resp.Text, req.Tools); ok {
			resp.ToolCalls = calls
			resp.Text = ""
			resp.Repaired = true
		}
	}
	resp.Endpoint = c.name
	resp.Text = strings.TrimSpace(resp.Text)
	return resp, nil
}

func (c *Client) readStream(ctx context.Context, body io.Reader, onDelta func(string)) (domain.EngineResponse, error) {
	var (
		out     domain.EngineResponse
		text    strings.Builder
		done    bool
		decoder = json.NewDecoder(body)
	)
	for {
		var chunk chatChunk
		err := decoder.Decode(&chunk)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.EngineResponse{}, ctxErr
			}
			return domain.EngineResponse{}, c.engineError(domain.KindMalformedResponse, fmt.Errorf("decode stream chunk: %w", err))
		}
		if chunk.Error != "" {
			return domain.EngineResponse{}, c.engineError(domain.KindTransient, fmt.Errorf("stream error: %s", chunk.Error))
		}

		if chunk.Message.Content != "" {
			text.WriteString(chunk.Message.Content)
			if onDelta != nil {
				onDelta(chunk.Message.Content)
			}
		}
		for _, wc := range chunk.Message.ToolCalls {
			call, repaired, err := wc.toDomain()
			if err != nil {
				return domain.EngineResponse{}, c.engineError(domain.KindMalformedResponse, err)
			}
			if repaired {
				out.Repaired = true
				slog.Debug("tool_arguments_repaired", "endpoint", c.name, "tool", call.Name)
			}
			out.ToolCalls = append(out.ToolCalls, call)
		}

		if chunk.Done {
			done = true
			out.Usage = domain.Usage{PromptTokens: chunk.PromptEvalCount, CompletionTokens: chunk.EvalCount}
			break
		}
	}
	if !done && text.Len() == 0 && len(out.ToolCalls) == 0 {
		return domain.EngineResponse{}, c.engineError(domain.KindMalformedResponse, errors.New("stream ended without content"))
	}
	out.Text = text.String()
	return out, nil
}

func (c *Client) engineError(kind domain.ErrorKind, err error) error {
	return domain.NewEngineError(kind, c.name, chatOperation, err)
}
