package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/agent-orchestrator/internal/core/cognition"
	"github.com/kirillkom/agent-orchestrator/internal/core/decisioncache"
	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
	"github.com/kirillkom/agent-orchestrator/internal/core/ports"
	"github.com/kirillkom/agent-orchestrator/internal/core/threads"
	"github.com/kirillkom/agent-orchestrator/internal/infrastructure/resilience"
	"github.com/kirillkom/agent-orchestrator/internal/observability/logging"
)

const (
	generalDomain       = "general"
	maxReprompts        = 2
	minFinalChars       = 10
	maxSequenceTools    = 20
	minGeneralizedChars = 10
	maxPatternChars     = 200
	maxTaskChars        = 200

	msgStopped        = "🛑 Stopped. The task may be partially complete."
	msgMaxIterations  = "⚠️ Reached maximum %d tool call loops. Task may be partially complete."
	msgLoopBreak      = "⚠️ I detected I was stuck in a loop and stopped. The task may be partially complete."
	msgDeliveryLoop   = "⚠️ I detected I was stuck in a messaging loop and stopped. The task may be partially complete."
	msgEngineFailure  = "❌ Decision engine error: could not get a response after retries."
	msgAuthFailure    = "❌ Decision engine rejected the request (authentication or permission error). Check the engine credentials."
	msgEmptyDelivered = "✅ Message sent."
)

// OrchestratorDeps are the collaborators of one session's loop. Engines are
// tried in order; every run starts on the first.
type OrchestratorDeps struct {
	SessionID   string
	Engines     []ports.DecisionEngine
	Tools       ports.ToolExecutor
	Threads     *threads.Router
	Cache       *decisioncache.Cache
	Monitor     *cognition.Monitor
	Generalizer ports.PatternGeneralizer
	Retrier     *resilience.Executor
	Recorder    ports.RunRecorder
	Limits      domain.RunLimits
	ToolPolicy  ToolPolicy
	// OnDelta receives streamed text fragments; optional.
	OnDelta func(string)
	Now     func() time.Time
	NewID   func() string
}

// Orchestrator runs the decision loop for one session. It is not safe for
// concurrent use; the session service serializes runs.
type Orchestrator struct {
	sessionID   string
	engines     []ports.DecisionEngine
	toolExec    ports.ToolExecutor
	threads     *threads.Router
	cache       *decisioncache.Cache
	monitor     *cognition.Monitor
	generalizer ports.PatternGeneralizer
	retrier     *resilience.Executor
	recorder    ports.RunRecorder
	limits      domain.RunLimits
	tools       ToolPolicy
	compactor   compactor
	onDelta     func(string)
	now         func() time.Time
	newID       func() string

	// Conversation state carried across runs.
	history   []domain.EngineMessage
	summary   string
	lastRunAt time.Time
}

type runState struct {
	id          string
	intent      domain.Intent
	task        string
	engine      int
	iterations  int
	toolCalls   int
	successes   int
	failures    int
	toolLoops   int
	// progress counts tool loops with at least one successful call.
	progress    int
	toolRetries int
	sequence    []string
	events      []domain.ToolEvent
	delivered   bool
	cacheHit    bool
	compactions int
	usage       domain.Usage
	started     time.Time
}

func NewOrchestrator(deps OrchestratorDeps) (*Orchestrator, error) {
	if len(deps.Engines) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new orchestrator", errors.New("at least one decision engine is required"))
	}
	if deps.Tools == nil || deps.Threads == nil || deps.Cache == nil || deps.Monitor == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new orchestrator", errors.New("tools, threads, cache and monitor are required"))
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
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	limits := NormalizeLimits(deps.Limits)
	tools := deps.ToolPolicy.normalize()

	return &Orchestrator{
		sessionID:   deps.SessionID,
		engines:     deps.Engines,
		toolExec:    deps.Tools,
		threads:     deps.Threads,
		cache:       deps.Cache,
		monitor:     deps.Monitor,
		generalizer: deps.Generalizer,
		retrier:     deps.Retrier,
		recorder:    deps.Recorder,
		limits:      limits,
		tools:       tools,
		compactor:   compactor{limits: limits, tools: tools},
		onDelta:     deps.OnDelta,
		now:         deps.Now,
		newID:       deps.NewID,
	}, nil
}

// NormalizeLimits fills zero limits with defaults.
func NormalizeLimits(l domain.RunLimits) domain.RunLimits {
	setDefault(&l.MaxIterations, 50)
	setDefault(&l.ParallelWorkers, 4)
	setDefaultDuration(&l.ToolTimeout, 120*time.Second)
	setDefaultDuration(&l.EngineTimeout, 120*time.Second)
	setDefault(&l.MaxToolRetries, 3)
	setDefault(&l.CompactionTokens, 80000)
	setDefault(&l.CompactionMessages, 80)
	setDefault(&l.KeepRecentMessages, 20)
	setDefaultDuration(&l.ConversationGap, 10*time.Minute)
	setDefault(&l.MinTaskTools, 10)
	setDefault(&l.MaxDeployments, 15)
	setDefault(&l.SlowIterations, 15)
	setDefault(&l.SummaryMaxLines, 30)
	setDefault(&l.SummaryMaxChars, 4000)
	setDefault(&l.SummaryHeadChars, 500)
	setDefault(&l.ForceBreakAnalyses, 3)
	if l.SummaryHeadChars >= l.SummaryMaxChars {
		l.SummaryHeadChars = l.SummaryMaxChars / 8
	}
	return l
}

func setDefault(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func setDefaultDuration(v *time.Duration, def time.Duration) {
	if *v <= 0 {
		*v = def
	}
}

func (o *Orchestrator) Limits() domain.RunLimits {
	return o.limits
}

// Run drives one batch to a terminal state. It never returns an error: every
// ending, including cancellation and engine exhaustion, is a result.
func (o *Orchestrator) Run(ctx context.Context, batch domain.Batch, in domain.Intent, thread domain.Thread) domain.RunResult {
	run := &runState{
		id:      o.newID(),
		intent:  in,
		task:    strings.TrimSpace(batch.MergedText),
		started: o.now(),
	}
	ctx = logging.With(ctx, "run_id", run.id, "thread_id", thread.ID)
	logger := logging.FromContext(ctx)

	o.monitor.Reset()
	o.monitor.SetBudget(o.limits.MaxDeployments, o.limits.ForceBreakAnalyses)

	if !o.lastRunAt.IsZero() && run.started.Sub(o.lastRunAt) > o.limits.ConversationGap && len(o.history) > 0 {
		o.summary = o.compactor.compactAll(o.history, o.summary)
		o.history = nil
		run.compactions++
		o.recorder.RecordCompaction("gap")
		logger.Info("history_compacted", "reason", "gap", "gap_seconds", run.started.Sub(o.lastRunAt).Seconds())
	}
	o.lastRunAt = run.started

	if in.IsActionable() {
		o.threads.SetTask(ctx, clipRunes(run.task, maxTaskChars), domain.ThreadWorking)
		if len(in.Subtasks) > 1 && len(thread.Subtasks) == 0 {
			specs := make([]threads.SubtaskSpec, len(in.Subtasks))
			for i, st := range in.Subtasks {
				specs[i] = threads.SubtaskSpec{Description: st}
			}
			o.threads.AddSubtasks(ctx, specs)
		}
	}

	domains := domainsOrGeneral(in.Domains)
	hint := o.cache.LookupWithContext(ctx, in.Type, domains, run.task)
	run.cacheHit = hint.Found
	o.recorder.RecordCacheLookup(hint.Found)
	if hint.Found {
		logger.Info("decision_cache_hit", "reliability", hint.Entry.Reliability(), "strategy", hint.Entry.Strategy)
	}

	o.history = append(o.history, domain.EngineMessage{
		Role:    domain.RoleUser,
		Content: userMessage(run.task, hint.Text),
		At:      run.started,
	})
	o.maybeCompact(ctx, run)

	specs := o.tools.SelectTools(in, o.toolExec.Specs(), o.limits.MinTaskTools)
	reprompts := 0

	for {
		if ctx.Err() != nil {
			return o.finish(ctx, run, domain.RunCancelled, msgStopped)
		}

		run.iterations++
		if run.iterations > o.limits.MaxIterations {
			logger.Warn("max_iterations_reached", "max_iterations", o.limits.MaxIterations)
			return o.finish(ctx, run, domain.RunPartialIterations, fmt.Sprintf(msgMaxIterations, o.limits.MaxIterations))
		}

		state := o.monitor.Analyze()
		if state.Recommendation != "" {
			o.history = append(o.history, domain.EngineMessage{Role: domain.RoleUser, Content: state.Recommendation, At: o.now()})
			o.recorder.RecordCognitionFlag(cognitionFlag(state))
			logger.Info("cognition_alert",
				"is_looping", state.IsLooping,
				"loop_tool", state.LoopTool,
				"stall_reason", state.StallReason,
				"force_break", state.ForceBreak,
			)
		}
		if state.ForceBreak {
			logger.Warn("loop_force_break", "tool", state.LoopTool, "count", state.LoopCount)
			msg := msgLoopBreak
			if o.tools.isDelivery(state.LoopTool) {
				msg = msgDeliveryLoop
			}
			return o.finish(ctx, run, domain.RunPartialLoop, msg)
		}

		var next string
		if st, ok := o.threads.GetNextSubtask(); ok {
			next = st.Description
		}
		req := domain.EngineRequest{
			System: buildSystemPrompt(promptInput{
				NextSubtask:   next,
				Intent:        in,
				ThreadContext: o.threads.GetContextForBrain(),
				Summary:       o.summary,
				AntiPatterns:  hint.Warnings,
				State:         state,
				Steps:         run.toolCalls,
				Now:           o.now(),
			}),
			Tools:    specs,
			Messages: append([]domain.EngineMessage(nil), o.history...),
		}

		resp, err := o.callEngine(ctx, run, req)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return o.finish(ctx, run, domain.RunCancelled, msgStopped)
			case domain.KindOf(err) == domain.KindAuth:
				logger.Error("engine_auth_failed", "error", err)
				return o.finish(ctx, run, domain.RunAuthFailure, msgAuthFailure)
			default:
				logger.Error("engine_call_failed", "error", err, "kind", domain.KindOf(err).String())
				return o.finish(ctx, run, domain.RunTechnicalFailure, msgEngineFailure)
			}
		}

		o.history = append(o.history, domain.EngineMessage{
			Role:      domain.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
			At:        o.now(),
		})

		if !resp.IsFinal() {
			if ctx.Err() != nil {
				return o.finish(ctx, run, domain.RunCancelled, msgStopped)
			}
			succeeded := run.successes
			results := o.dispatch(ctx, run, withCallIDs(resp.ToolCalls, run))
			run.toolLoops++
			if run.successes > succeeded {
				run.progress++
			}
			for i := range results {
				results[i].At = o.now()
			}
			o.history = append(o.history, results...)
			o.maybeCompact(ctx, run)
			continue
		}

		final := strings.TrimSpace(resp.Text)
		if run.iterations > 1 && len([]rune(final)) < minFinalChars {
			if run.delivered {
				if final == "" {
					final = msgEmptyDelivered
				}
			} else if reprompts < maxReprompts {
				reprompts++
				logger.Warn("empty_final_response", "retry", reprompts)
				o.history = append(o.history, domain.EngineMessage{Role: domain.RoleUser, Content: emptyResponseNudge, At: o.now()})
				continue
			}
		}
		if reprompts < maxReprompts {
			if issue, ok := checkResponseQuality(in, run, final, o.deliveryTool()); ok {
				reprompts++
				logger.Warn("response_quality_retry", "reason", issue.Reason, "retry", reprompts)
				o.history = append(o.history, domain.EngineMessage{Role: domain.RoleUser, Content: issue.Nudge, At: o.now()})
				continue
			}
		}
		if final == "" {
			final = "I could not produce a final answer."
		}
		return o.finish(ctx, run, domain.RunFinal, final)
	}
}

func (o *Orchestrator) maybeCompact(ctx context.Context, run *runState) {
	if !o.compactor.needed(o.history) {
		return
	}
	before := len(o.history)
	tokens := estimateTokens(o.history)
	o.history, o.summary = o.compactor.compact(o.history, o.summary)
	run.compactions++
	o.recorder.RecordCompaction("threshold")
	logging.FromContext(ctx).Info("history_compacted",
		"reason", "threshold",
		"messages_before", before,
		"messages_after", len(o.history),
		"estimated_tokens", tokens,
	)
}

// finish records the run everywhere it is observed and builds the result.
func (o *Orchestrator) finish(ctx context.Context, run *runState, outcome domain.RunOutcome, response string) domain.RunResult {
	// Bookkeeping must survive a cancelled run context.
	persistCtx := context.WithoutCancel(ctx)

	quality := o.quality(run)
	sequence := dedupeConsecutive(run.sequence)
	if len(sequence) > maxSequenceTools {
		sequence = sequence[:maxSequenceTools]
	}
	strategy := o.strategy(sequence, run.iterations)

	if len(sequence) > 0 {
		pattern := o.generalizer.GeneralizePattern(run.task, run.intent.Domains)
		if len([]rune(pattern)) <= minGeneralizedChars {
			pattern = clipRunes(run.task, maxPatternChars)
		}
		for _, d := range domainsOrGeneral(run.intent.Domains) {
			switch {
			case outcome == domain.RunFinal && quality != domain.QualityPoor:
				o.cache.RecordSuccess(persistCtx, run.intent.Type, d, pattern, sequence, strategy, run.iterations, run.intent.Complexity)
			case quality == domain.QualityPoor || outcome == domain.RunPartialIterations || outcome == domain.RunPartialLoop:
				o.cache.RecordFailure(persistCtx, run.intent.Type, d, pattern, strategy)
			}
		}
	}

	decisionOutcome := domain.OutcomeFailed
	if outcome == domain.RunFinal {
		decisionOutcome = domain.OutcomeSuccess
	}
	o.threads.LogDecision(persistCtx, "run:"+string(outcome), strategy, run.intent.Confidence*100)
	o.threads.UpdateDecisionOutcome(persistCtx, decisionOutcome)
	o.threads.RecordResponse(persistCtx, response)
	if run.intent.IsActionable() {
		o.settleSubtasks(persistCtx, outcome, response)
		o.threads.SetTaskStatus(persistCtx, threadStatusFor(outcome))
	}

	result := domain.RunResult{
		RunID:        run.id,
		SessionID:    o.sessionID,
		Response:     response,
		Outcome:      outcome,
		Quality:      quality,
		Iterations:   run.iterations,
		ToolCalls:    run.toolCalls,
		Failures:     run.failures,
		ToolSequence: sequence,
		ToolEvents:   run.events,
		Intent:       run.intent,
		CacheHit:     run.cacheHit,
		Endpoint:     o.engines[min(run.engine, len(o.engines)-1)].Name(),
		Compactions:  run.compactions,
		Duration:     o.now().Sub(run.started),
	}
	if active, ok := o.threads.ActiveThread(); ok {
		result.ThreadID = active.ID
	}
	o.recorder.RecordRun(result)

	logging.FromContext(ctx).Info("run_finished",
		"outcome", string(outcome),
		"quality", string(quality),
		"iterations", run.iterations,
		"tool_calls", run.toolCalls,
		"failures", run.failures,
		"cache_hit", run.cacheHit,
		"endpoint", result.Endpoint,
		"prompt_tokens", run.usage.PromptTokens,
		"completion_tokens", run.usage.CompletionTokens,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result
}

func (o *Orchestrator) quality(run *runState) domain.RunQuality {
	switch {
	case run.toolCalls > 0 && run.failures*2 > run.toolCalls:
		return domain.QualityPoor
	case run.iterations > o.limits.SlowIterations:
		return domain.QualitySlow
	default:
		return domain.QualityGood
	}
}

// strategy describes a tool sequence in a few words, e.g.
// "agents: deploy_research → compiled report in 7 steps".
func (o *Orchestrator) strategy(sequence []string, steps int) string {
	var phases []string
	var agents []string
	seen := make(map[string]struct{})
	for _, tool := range sequence {
		if o.tools.isDelegation(tool) {
			if _, ok := seen[tool]; !ok {
				seen[tool] = struct{}{}
				agents = append(agents, tool)
			}
		}
	}
	if len(agents) > 0 {
		phases = append(phases, "agents: "+strings.Join(agents, ", "))
	}
	if containsString(sequence, o.tools.CompilationTool) {
		phases = append(phases, "compiled report")
	}
	for _, tool := range sequence {
		if o.tools.isDelivery(tool) {
			phases = append(phases, "delivered results")
			break
		}
	}
	desc := "direct"
	if len(phases) > 0 {
		desc = strings.Join(phases, " → ")
	}
	return fmt.Sprintf("%s in %d steps", desc, steps)
}

// settleSubtasks closes the active thread's open subtasks once the run ends.
func (o *Orchestrator) settleSubtasks(ctx context.Context, outcome domain.RunOutcome, response string) {
	active, ok := o.threads.ActiveThread()
	if !ok {
		return
	}
	for _, st := range active.Subtasks {
		if st.Status != domain.SubtaskPending && st.Status != domain.SubtaskInProgress {
			continue
		}
		switch outcome {
		case domain.RunFinal:
			o.threads.UpdateSubtask(ctx, st.ID, domain.SubtaskCompleted, clipRunes(response, 300))
		case domain.RunCancelled:
			o.threads.UpdateSubtask(ctx, st.ID, domain.SubtaskSkipped, "")
		default:
			// Only the subtask that was being worked on is marked failed.
			o.threads.UpdateSubtask(ctx, st.ID, domain.SubtaskFailed, clipRunes(response, 300))
			return
		}
	}
}

func threadStatusFor(outcome domain.RunOutcome) domain.ThreadStatus {
	switch outcome {
	case domain.RunFinal:
		return domain.ThreadCompleted
	case domain.RunPartialIterations, domain.RunPartialLoop:
		return domain.ThreadWaitingUser
	case domain.RunCancelled:
		return domain.ThreadIdle
	default:
		return domain.ThreadFailed
	}
}

func cognitionFlag(st domain.CognitiveState) string {
	switch {
	case st.IsLooping:
		return "looping"
	case st.StallReason != "":
		return st.StallReason
	default:
		return "confidence_falling"
	}
}

func withCallIDs(calls []domain.ToolCall, run *runState) []domain.ToolCall {
	out := make([]domain.ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = fmt.Sprintf("call_%d_%d", run.iterations, i)
		}
		out[i] = c
	}
	return out
}

func dedupeConsecutive(list []string) []string {
	var out []string
	for _, s := range list {
		if len(out) == 0 || out[len(out)-1] != s {
			out = append(out, s)
		}
	}
	return out
}

func domainsOrGeneral(domains []string) []string {
	if len(domains) == 0 {
		return []string{generalDomain}
	}
	return domains
}
