package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/agent-orchestrator/internal/core/cognition"
	"github.com/kirillkom/agent-orchestrator/internal/core/decisioncache"
	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
	"github.com/kirillkom/agent-orchestrator/internal/core/ports"
	"github.com/kirillkom/agent-orchestrator/internal/core/threads"
	"github.com/kirillkom/agent-orchestrator/internal/infrastructure/resilience"
)

type scriptedEngine struct {
	name   string
	script func(call int, req domain.EngineRequest) (domain.EngineResponse, error)

	mu       sync.Mutex
	calls    int
	requests []domain.EngineRequest
}

func (e *scriptedEngine) Name() string { return e.name }

func (e *scriptedEngine) Stream(_ context.Context, req domain.EngineRequest, _ func(string)) (domain.EngineResponse, error) {
	e.mu.Lock()
	e.calls++
	n := e.calls
	e.requests = append(e.requests, req)
	e.mu.Unlock()
	return e.script(n, req)
}

func (e *scriptedEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *scriptedEngine) request(i int) domain.EngineRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests[i]
}

func finalText(text string) func(int, domain.EngineRequest) (domain.EngineResponse, error) {
	return func(int, domain.EngineRequest) (domain.EngineResponse, error) {
		return domain.EngineResponse{Text: text}, nil
	}
}

func toolCalls(calls ...domain.ToolCall) domain.EngineResponse {
	return domain.EngineResponse{ToolCalls: calls}
}

type fakeTools struct {
	specs    []domain.ToolSpec
	parallel map[string]bool
	failing  map[string]bool
	delay    time.Duration
	onCall   func(call domain.ToolCall)

	mu       sync.Mutex
	calls    []domain.ToolCall
	inFlight atomic.Int32
	peak     atomic.Int32
}

func newFakeTools(names ...string) *fakeTools {
	f := &fakeTools{parallel: map[string]bool{}, failing: map[string]bool{}}
	for _, n := range names {
		f.specs = append(f.specs, domain.ToolSpec{Name: n, Description: n + " tool"})
	}
	return f
}

func (f *fakeTools) Specs() []domain.ToolSpec { return f.specs }

func (f *fakeTools) IsParallelSafe(name string) bool { return f.parallel[name] }

func (f *fakeTools) Execute(ctx context.Context, call domain.ToolCall) domain.ToolResult {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(call)
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return domain.ToolResult{Content: "timed out"}
		}
	}
	if f.failing[call.Name] {
		return domain.ToolResult{Content: "Error: " + call.Name + " failed"}
	}
	return domain.ToolResult{Success: true, Content: fmt.Sprintf("ok: %s %v", call.Name, call.Args["query"])}
}

func (f *fakeTools) executed() []domain.ToolCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ToolCall(nil), f.calls...)
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memStore) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	return nil
}

type recordingRecorder struct {
	NopRecorder

	mu          sync.Mutex
	runs        []domain.RunResult
	failovers   int
	retries     []domain.ErrorKind
	compactions []string
	lookups     []bool
}

func (r *recordingRecorder) RecordRun(result domain.RunResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, result)
}

func (r *recordingRecorder) RecordFailover() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failovers++
}

func (r *recordingRecorder) RecordEngineRetry(kind domain.ErrorKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries = append(r.retries, kind)
}

func (r *recordingRecorder) RecordCompaction(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compactions = append(r.compactions, reason)
}

func (r *recordingRecorder) RecordCacheLookup(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups = append(r.lookups, hit)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fastRetrier keeps engine backoff in the low milliseconds.
func fastRetrier() *resilience.Executor {
	quick := resilience.Backoff{Base: time.Millisecond, Cap: 2 * time.Millisecond}
	return resilience.NewExecutor(resilience.Config{
		RetryBackoff:     quick,
		RateLimitBackoff: quick,
		TransientBackoff: quick,
	})
}

type harness struct {
	orch     *Orchestrator
	router   *threads.Router
	cache    *decisioncache.Cache
	recorder *recordingRecorder
	clock    *testClock
}

func newHarness(t *testing.T, tools ports.ToolExecutor, limits domain.RunLimits, engines ...ports.DecisionEngine) *harness {
	t.Helper()
	clock := newTestClock()
	ctx := context.Background()
	router := threads.NewRouter(ctx, threads.Options{Now: clock.Now})
	cache := decisioncache.New(ctx, decisioncache.Options{Now: clock.Now})
	recorder := &recordingRecorder{}
	ids := 0
	orch, err := NewOrchestrator(OrchestratorDeps{
		SessionID: "s1",
		Engines:   engines,
		Tools:     tools,
		Threads:   router,
		Cache:     cache,
		Monitor:   cognition.NewMonitor(cognition.DefaultPolicy()),
		Retrier:   fastRetrier(),
		Recorder:  recorder,
		Limits:    limits,
		Now:       clock.Now,
		NewID: func() string {
			ids++
			return fmt.Sprintf("run-%d", ids)
		},
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return &harness{orch: orch, router: router, cache: cache, recorder: recorder, clock: clock}
}

// run routes text into a thread the way the session service does and runs
// it with the given intent.
func (h *harness) run(ctx context.Context, text string, in domain.Intent) domain.RunResult {
	thread := h.router.RouteMessage(ctx, text, in.Type, in.Confidence)
	return h.orch.Run(ctx, domain.SingleBatch(text, "test", h.clock.Now()), in, thread)
}

func taskIntent(domains ...string) domain.Intent {
	return domain.Intent{Type: domain.IntentTask, Confidence: 0.8, Domains: domains, Complexity: domain.ComplexityModerate}
}
