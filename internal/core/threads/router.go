package threads

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
	"github.com/kirillkom/agent-orchestrator/internal/core/ports"
)

const (
	defaultMaxThreads  = 20
	defaultIdleTimeout = 600 * time.Second
	defaultMaxMessages = 15
	maxDecisions       = 20
	maxResponseChars   = 500
	maxTaskChars       = 200
	maxResultChars     = 300
)

type Options struct {
	MaxThreads  int
	MaxMessages int
	IdleTimeout time.Duration
	Now         func() time.Time
	NewID       func() string
	Store       ports.SnapshotStore
	// SnapshotKey is where the router persists itself, e.g. "threads/<session>".
	SnapshotKey string
}

type SubtaskSpec struct {
	Description string
	Capability  string
	DependsOn   []int
}

// Router groups batches into conversation threads. All methods are safe for
// concurrent use; returned threads are copies.
type Router struct {
	opts Options

	mu       sync.Mutex
	threads  map[string]*domain.Thread
	order    []string // most recent first
	activeID string
}

// NewRouter restores any persisted snapshot. A missing or unreadable
// snapshot starts the router empty.
func NewRouter(ctx context.Context, opts Options) *Router {
	if opts.MaxThreads <= 0 {
		opts.MaxThreads = defaultMaxThreads
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = defaultMaxMessages
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString()[:8] }
	}
	r := &Router{
		opts:    opts,
		threads: make(map[string]*domain.Thread),
	}
	r.restore(ctx)
	return r
}

// RouteMessage attaches text to the thread it belongs to and returns that
// thread. Tasks and questions always open a fresh thread.
func (r *Router) RouteMessage(ctx context.Context, text string, intentType domain.IntentType, confidence float64) domain.Thread {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := r.activeLocked()
	var thread *domain.Thread

	switch {
	case active != nil && (intentType == domain.IntentFollowUp || intentType == domain.IntentCorrection || intentType == domain.IntentAcknowledgment):
		thread = r.addMessageLocked(active, domain.RoleUser, text, intentType, confidence)
	case intentType == domain.IntentEmergency:
		if active != nil {
			thread = r.addMessageLocked(active, domain.RoleUser, text, intentType, confidence)
		} else {
			thread = r.createLocked(emergencyTopic, text, intentType, confidence)
		}
	case intentType == domain.IntentTask:
		thread = r.createLocked(ExtractTopic(text), text, intentType, confidence)
	case intentType == domain.IntentQuickQuestion:
		thread = r.createLocked("Q: "+ExtractTopic(text), text, intentType, confidence)
	case active != nil:
		thread = r.addMessageLocked(active, domain.RoleUser, text, intentType, confidence)
	default:
		thread = r.createLocked("Chat: "+ExtractTopic(text), text, intentType, confidence)
	}

	r.persistLocked(ctx)
	return thread.Clone()
}

func (r *Router) RecordResponse(ctx context.Context, text string) {
	r.mutateActive(ctx, func(t *domain.Thread) {
		r.addMessageLocked(t, domain.RoleAssistant, clip(text, maxResponseChars), "", 0)
	})
}

func (r *Router) SetTask(ctx context.Context, task string, status domain.ThreadStatus) {
	r.mutateActive(ctx, func(t *domain.Thread) {
		t.ActiveTask = clip(task, maxTaskChars)
		t.Status = status
	})
}

func (r *Router) SetTaskStatus(ctx context.Context, status domain.ThreadStatus) {
	r.mutateActive(ctx, func(t *domain.Thread) {
		t.Status = status
	})
}

// AddSubtasks appends to the active thread's decomposition. IDs continue
// from the existing list, starting at 1.
func (r *Router) AddSubtasks(ctx context.Context, specs []SubtaskSpec) {
	if len(specs) == 0 {
		return
	}
	r.mutateActive(ctx, func(t *domain.Thread) {
		for _, spec := range specs {
			t.Subtasks = append(t.Subtasks, domain.Subtask{
				ID:          len(t.Subtasks) + 1,
				Description: spec.Description,
				Status:      domain.SubtaskPending,
				Capability:  spec.Capability,
				DependsOn:   append([]int(nil), spec.DependsOn...),
			})
		}
	})
}

func (r *Router) UpdateSubtask(ctx context.Context, id int, status domain.SubtaskStatus, result string) {
	r.mutateActive(ctx, func(t *domain.Thread) {
		for i := range t.Subtasks {
			if t.Subtasks[i].ID != id {
				continue
			}
			t.Subtasks[i].Status = status
			if result != "" {
				t.Subtasks[i].Result = clip(result, maxResultChars)
			}
			return
		}
	})
}

// GetNextSubtask returns the first pending subtask whose dependencies have
// all completed.
func (r *Router) GetNextSubtask() (domain.Subtask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := r.activeLocked()
	if active == nil {
		return domain.Subtask{}, false
	}
	completed := make(map[int]bool, len(active.Subtasks))
	for _, st := range active.Subtasks {
		if st.Status == domain.SubtaskCompleted {
			completed[st.ID] = true
		}
	}
	for _, st := range active.Subtasks {
		if st.Status != domain.SubtaskPending {
			continue
		}
		ready := true
		for _, dep := range st.DependsOn {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			st.DependsOn = append([]int(nil), st.DependsOn...)
			return st, true
		}
	}
	return domain.Subtask{}, false
}

// LogDecision appends to the active thread's journal, keeping the newest
// entries. The decision is returned even without an active thread.
func (r *Router) LogDecision(ctx context.Context, action, reasoning string, confidence float64) domain.Decision {
	d := domain.Decision{
		Action:     action,
		Reasoning:  reasoning,
		Confidence: confidence,
		At:         r.opts.Now(),
		Outcome:    domain.OutcomePending,
	}
	r.mutateActive(ctx, func(t *domain.Thread) {
		t.Decisions = append(t.Decisions, d)
		if len(t.Decisions) > maxDecisions {
			t.Decisions = append([]domain.Decision(nil), t.Decisions[len(t.Decisions)-maxDecisions:]...)
		}
	})
	return d
}

// UpdateDecisionOutcome sets the outcome of the most recent decision.
func (r *Router) UpdateDecisionOutcome(ctx context.Context, outcome domain.DecisionOutcome) {
	r.mutateActive(ctx, func(t *domain.Thread) {
		if n := len(t.Decisions); n > 0 {
			t.Decisions[n-1].Outcome = outcome
		}
	})
}

func (r *Router) RecordEscalation(ctx context.Context) {
	r.mutateActive(ctx, func(t *domain.Thread) {
		t.EscalationCount++
	})
}

// ActiveThread returns the current thread unless it has gone stale.
func (r *Router) ActiveThread() (domain.Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active := r.activeLocked()
	if active == nil {
		return domain.Thread{}, false
	}
	return active.Clone(), true
}

func (r *Router) HasActiveThread() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked() != nil
}

func (r *Router) mutateActive(ctx context.Context, fn func(*domain.Thread)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	active := r.activeLocked()
	if active == nil {
		return
	}
	fn(active)
	r.persistLocked(ctx)
}

func (r *Router) activeLocked() *domain.Thread {
	if r.activeID == "" {
		return nil
	}
	t, ok := r.threads[r.activeID]
	if !ok || t.IsStale(r.opts.Now(), r.opts.IdleTimeout) {
		return nil
	}
	return t
}

func (r *Router) createLocked(topic, text string, intentType domain.IntentType, confidence float64) *domain.Thread {
	now := r.opts.Now()
	t := &domain.Thread{
		ID:           r.opts.NewID(),
		CreatedAt:    now,
		LastActivity: now,
		Topic:        clip(topic, maxStoredTopic),
		Status:       domain.ThreadIdle,
		Messages: []domain.ThreadMessage{{
			Role:       domain.RoleUser,
			Text:       text,
			At:         now,
			IntentType: intentType,
			Confidence: confidence,
		}},
	}
	r.threads[t.ID] = t
	r.order = append([]string{t.ID}, r.order...)
	r.activeID = t.ID
	r.pruneLocked()
	return t
}

func (r *Router) addMessageLocked(t *domain.Thread, role, text string, intentType domain.IntentType, confidence float64) *domain.Thread {
	now := r.opts.Now()
	t.Messages = append(t.Messages, domain.ThreadMessage{
		Role:       role,
		Text:       text,
		At:         now,
		IntentType: intentType,
		Confidence: confidence,
	})
	if len(t.Messages) > r.opts.MaxMessages {
		t.Messages = append([]domain.ThreadMessage(nil), t.Messages[len(t.Messages)-r.opts.MaxMessages:]...)
	}
	t.LastActivity = now
	r.touchLocked(t.ID)
	r.activeID = t.ID
	return t
}

func (r *Router) touchLocked(id string) {
	order := make([]string, 0, len(r.order)+1)
	order = append(order, id)
	for _, other := range r.order {
		if other != id {
			order = append(order, other)
		}
	}
	r.order = order
}

func (r *Router) pruneLocked() {
	for len(r.order) > r.opts.MaxThreads {
		last := r.order[len(r.order)-1]
		r.order = r.order[:len(r.order)-1]
		delete(r.threads, last)
		if r.activeID == last {
			r.activeID = ""
		}
	}
}

func (r *Router) recentLocked(n int) []*domain.Thread {
	out := make([]*domain.Thread, 0, n)
	for _, id := range r.order {
		if len(out) == n {
			break
		}
		if t, ok := r.threads[id]; ok {
			out = append(out, t)
		}
	}
	return out
}
