package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
	"github.com/kirillkom/agent-orchestrator/internal/core/ports"
)

const defaultCallTimeout = 120 * time.Second

var _ ports.ToolExecutor = (*Registry)(nil)

// Registry is the tool executor offered to the orchestration loop. Failures
// of every kind come back as failed results, never as errors.
type Registry struct {
	timeout time.Duration

	mu       sync.RWMutex
	tools    map[string]ports.Tool
	order    []string
	parallel map[string]bool
}

func NewRegistry(callTimeout time.Duration) *Registry {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Registry{
		timeout:  callTimeout,
		tools:    make(map[string]ports.Tool),
		parallel: make(map[string]bool),
	}
}

func (r *Registry) Register(tool ports.Tool) error {
	if tool == nil {
		return domain.WrapError(domain.ErrInvalidInput, "register tool", errors.New("tool is nil"))
	}
	name := strings.TrimSpace(tool.Spec().Name)
	if name == "" {
		return domain.WrapError(domain.ErrInvalidInput, "register tool", errors.New("tool name is empty"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return domain.WrapError(domain.ErrInvalidInput, "register tool", fmt.Errorf("duplicate tool %q", name))
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// SetParallelSafe overrides the parallel-safety of the named tools.
func (r *Registry) SetParallelSafe(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			r.parallel[n] = true
		}
	}
}

func (r *Registry) Specs() []domain.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		spec := r.tools[name].Spec()
		spec.ParallelSafe = spec.ParallelSafe || r.parallel[name]
		out = append(out, spec)
	}
	return out
}

func (r *Registry) IsParallelSafe(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	if !ok {
		return false
	}
	return r.parallel[name] || tool.Spec().ParallelSafe
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) Execute(ctx context.Context, call domain.ToolCall) (result domain.ToolResult) {
	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		err := domain.WrapError(domain.ErrToolNotFound, "execute tool", fmt.Errorf("unknown tool %q", call.Name))
		return failed(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool_panic_recovered",
				"tool", call.Name,
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
			)
			result = failed(fmt.Errorf("tool %s panicked: %v", call.Name, rec))
		}
	}()

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	out, err := tool.Execute(callCtx, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("tool %s timed out after %s: %w", call.Name, r.timeout, err)
		}
		return failed(err)
	}
	return out
}

func failed(err error) domain.ToolResult {
	return domain.ToolResult{
		Success: false,
		Content: "Error: " + err.Error(),
	}
}
