package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/agent-orchestrator/internal/core/aggregator"
	"github.com/kirillkom/agent-orchestrator/internal/core/cognition"
	"github.com/kirillkom/agent-orchestrator/internal/core/decisioncache"
	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
	"github.com/kirillkom/agent-orchestrator/internal/core/intent"
	"github.com/kirillkom/agent-orchestrator/internal/core/ports"
	"github.com/kirillkom/agent-orchestrator/internal/core/threads"
	"github.com/kirillkom/agent-orchestrator/internal/infrastructure/resilience"
	"github.com/kirillkom/agent-orchestrator/internal/observability/logging"
)

const ackReply = "👍 Got it."

var _ ports.Orchestrator = (*Service)(nil)

type ServiceDeps struct {
	Engines     []ports.DecisionEngine
	Tools       ports.ToolExecutor
	Classifier  ports.Classifier
	Generalizer ports.PatternGeneralizer
	Cache       *decisioncache.Cache
	Retrier     *resilience.Executor
	// ThreadStore persists each session's threads under "threads/<session>".
	ThreadStore ports.SnapshotStore
	// Publisher receives the response of every batch that arrived via Ingest.
	Publisher ports.ResponsePublisher
	Recorder  ports.RunRecorder

	Limits          domain.RunLimits
	ToolPolicy      ToolPolicy
	CognitionPolicy cognition.Policy

	MergeWindow       time.Duration
	ThreadIdleTimeout time.Duration
	MaxThreads        int
	Now               func() time.Time
}

type session struct {
	id           string
	aggregator   *aggregator.Aggregator
	router       *threads.Router
	monitor      *cognition.Monitor
	orchestrator *Orchestrator

	// mu serializes runs of this session.
	mu sync.Mutex

	statsMu   sync.Mutex
	runs      int
	lastRunAt time.Time
}

// Service owns one state set per session and shares the decision cache
// across them. Different sessions run in parallel; runs of one session are
// serialized.
type Service struct {
	deps ServiceDeps

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

func NewService(deps ServiceDeps) (*Service, error) {
	if len(deps.Engines) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new session service", errors.New("at least one decision engine is required"))
	}
	if deps.Tools == nil || deps.Cache == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new session service", errors.New("tools and cache are required"))
	}
	if deps.Classifier == nil {
		deps.Classifier = intent.New()
	}
	if deps.Generalizer == nil {
		deps.Generalizer = decisioncache.Generalizer{}
	}
	if deps.Retrier == nil {
		deps.Retrier = resilience.NewExecutor(resilience.DefaultConfig())
	}
	if deps.Recorder == nil {
		deps.Recorder = NopRecorder{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	deps.Limits = NormalizeLimits(deps.Limits)

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		deps:     deps,
		baseCtx:  ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}, nil
}

// Ingest buffers text for the session's aggregator. Empty text is dropped.
func (s *Service) Ingest(ctx context.Context, sessionID, text, source string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "ingest", errors.New("session_id is required"))
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.aggregator.Ingest(text, source)
	return nil
}

// Flush emits whatever the session has buffered.
func (s *Service) Flush(_ context.Context, sessionID string) error {
	sess, ok := s.lookup(sessionID)
	if !ok {
		return nil
	}
	sess.aggregator.ForceFlush()
	return nil
}

func (s *Service) ProcessText(ctx context.Context, sessionID, text, source string) (domain.RunResult, error) {
	return s.Process(ctx, sessionID, domain.SingleBatch(strings.TrimSpace(text), source, s.deps.Now()))
}

// Process classifies and routes one batch, then runs it to completion.
// Errors are returned only for invalid input or a closed service; every
// run outcome is a result.
func (s *Service) Process(ctx context.Context, sessionID string, batch domain.Batch) (domain.RunResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.RunResult{}, domain.WrapError(domain.ErrInvalidInput, "process", errors.New("session_id is required"))
	}
	text := strings.TrimSpace(batch.MergedText)
	if text == "" {
		return domain.RunResult{}, domain.WrapError(domain.ErrInvalidInput, "process", errors.New("batch text is empty"))
	}
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return domain.RunResult{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	ctx = logging.With(ctx, "session_id", sessionID)
	s.deps.Recorder.RecordBatch(batch.Kind)

	in := s.deps.Classifier.Classify(text, sess.router.HasActiveThread(), batch.Kind)
	s.deps.Recorder.RecordIntent(in.Type)
	thread := sess.router.RouteMessage(ctx, text, in.Type, in.Confidence)
	logging.FromContext(ctx).Info("batch_routed",
		"kind", string(batch.Kind),
		"messages", len(batch.Messages),
		"intent", string(in.Type),
		"confidence", in.Confidence,
		"domains", in.Domains,
		"thread_id", thread.ID,
		"topic", thread.Topic,
	)

	var result domain.RunResult
	if in.Type == domain.IntentAcknowledgment && thread.Status != domain.ThreadWorking {
		result = s.acknowledge(ctx, sess, in, thread)
	} else {
		result = sess.orchestrator.Run(ctx, batch, in, thread)
	}

	sess.statsMu.Lock()
	sess.runs++
	sess.lastRunAt = s.deps.Now()
	sess.statsMu.Unlock()
	return result, nil
}

// acknowledge answers an acknowledgment without calling the engine when no
// task is in progress.
func (s *Service) acknowledge(ctx context.Context, sess *session, in domain.Intent, thread domain.Thread) domain.RunResult {
	sess.router.RecordResponse(ctx, ackReply)
	result := domain.RunResult{
		RunID:     sess.orchestrator.newID(),
		SessionID: sess.id,
		ThreadID:  thread.ID,
		Response:  ackReply,
		Outcome:   domain.RunAcknowledged,
		Quality:   domain.QualityGood,
		Intent:    in,
	}
	s.deps.Recorder.RecordRun(result)
	logging.FromContext(ctx).Info("run_finished", "outcome", string(result.Outcome), "run_id", result.RunID)
	return result
}

func (s *Service) Stats(_ context.Context, sessionID string) (domain.SessionStats, error) {
	sess, ok := s.lookup(sessionID)
	if !ok {
		return domain.SessionStats{}, domain.WrapError(domain.ErrNotFound, "session stats", errors.New("unknown session "+sessionID))
	}
	stats := domain.SessionStats{
		SessionID:       sess.id,
		PendingMessages: sess.aggregator.Pending(),
		Threads:         sess.router.Stats(),
		DecisionQuality: sess.router.DecisionQuality(),
		Cognition:       sess.monitor.Stats(),
	}
	sess.statsMu.Lock()
	stats.Runs = sess.runs
	if !sess.lastRunAt.IsZero() {
		stats.LastRunAt = sess.lastRunAt.UTC().Format(time.RFC3339)
	}
	sess.statsMu.Unlock()
	return stats, nil
}

func (s *Service) CachePatterns(context.Context) []domain.CacheEntry {
	return s.deps.Cache.Entries()
}

// Close cancels in-flight runs, flushes every aggregator and waits for the
// resulting callbacks. Flushed batches end as cancelled runs.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	s.cancel()
	for _, sess := range sessions {
		sess.aggregator.Close()
	}
}

func (s *Service) lookup(sessionID string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[strings.TrimSpace(sessionID)]
	return sess, ok
}

func (s *Service) session(ctx context.Context, sessionID string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return sess, nil
	}
	if s.closed {
		return nil, domain.WrapError(domain.ErrCancelled, "session", errors.New("service is closed"))
	}

	router := threads.NewRouter(ctx, threads.Options{
		MaxThreads:  s.deps.MaxThreads,
		IdleTimeout: s.deps.ThreadIdleTimeout,
		Now:         s.deps.Now,
		Store:       s.deps.ThreadStore,
		SnapshotKey: "threads/" + sessionID,
	})
	monitor := cognition.NewMonitor(s.deps.CognitionPolicy)
	orch, err := NewOrchestrator(OrchestratorDeps{
		SessionID:   sessionID,
		Engines:     s.deps.Engines,
		Tools:       s.deps.Tools,
		Threads:     router,
		Cache:       s.deps.Cache,
		Monitor:     monitor,
		Generalizer: s.deps.Generalizer,
		Retrier:     s.deps.Retrier,
		Recorder:    s.deps.Recorder,
		Limits:      s.deps.Limits,
		ToolPolicy:  s.deps.ToolPolicy,
		Now:         s.deps.Now,
	})
	if err != nil {
		return nil, err
	}

	sess := &session{
		id:           sessionID,
		router:       router,
		monitor:      monitor,
		orchestrator: orch,
	}
	sess.aggregator = aggregator.New(func(batch domain.Batch) {
		s.handleBatch(sess, batch)
	}, aggregator.Options{Window: s.deps.MergeWindow, Now: s.deps.Now})
	s.sessions[sessionID] = sess
	logging.FromContext(ctx).Info("session_created", "session_id", sessionID)
	return sess, nil
}

// handleBatch runs on the aggregator's callback goroutine.
func (s *Service) handleBatch(sess *session, batch domain.Batch) {
	ctx := s.baseCtx
	result, err := s.Process(ctx, sess.id, batch)
	if err != nil {
		logging.FromContext(ctx).Warn("batch_dropped", "session_id", sess.id, "error", err)
		return
	}
	resp := domain.SessionResponse{
		SessionID: sess.id,
		Source:    batch.Source,
		RunID:     result.RunID,
		ThreadID:  result.ThreadID,
		Text:      result.Response,
		Outcome:   result.Outcome,
		At:        s.deps.Now(),
	}
	if s.deps.Publisher == nil {
		logging.FromContext(ctx).Info("session_response", "session_id", sess.id, "run_id", resp.RunID, "outcome", string(resp.Outcome))
		return
	}
	if err := s.deps.Publisher.PublishResponse(context.WithoutCancel(ctx), resp); err != nil {
		logging.FromContext(ctx).Error("response_publish_failed", "session_id", sess.id, "run_id", resp.RunID, "error", err)
	}
}
