package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "ollama status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("ollama %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("ollama %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// postStream returns the open response body on a 2xx status.
func (c *Client) postStream(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, c.engineError(domain.KindFatal, fmt.Errorf("marshal %s request: %w", chatOperation, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, c.engineError(domain.KindFatal, fmt.Errorf("create %s request: %w", chatOperation, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, c.engineError(domain.KindTransient, fmt.Errorf("ollama %s request: %w", chatOperation, err))
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		statusErr := readStatusError(chatOperation, resp)
		return nil, c.engineError(kindForStatus(resp.StatusCode), statusErr)
	}
	return resp.Body, nil
}

func readStatusError(operation string, resp *http.Response) *HTTPStatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &HTTPStatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}

func kindForStatus(code int) domain.ErrorKind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.KindAuth
	case http.StatusTooManyRequests:
		return domain.KindRateLimit
	case http.StatusRequestTimeout, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return domain.KindTransient
	default:
		return domain.KindFatal
	}
}
