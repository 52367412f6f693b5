package domain

import "time"

type RunOutcome string

const (
	RunFinal             RunOutcome = "final"
	RunPartialIterations RunOutcome = "partial_iterations"
	RunPartialLoop       RunOutcome = "partial_loop"
	RunCancelled         RunOutcome = "cancelled"
	RunTechnicalFailure  RunOutcome = "technical_failure"
	RunAuthFailure       RunOutcome = "auth_failure"
	RunAcknowledged      RunOutcome = "acknowledged"
)

type RunQuality string

const (
	QualityGood RunQuality = "good"
	QualitySlow RunQuality = "slow"
	QualityPoor RunQuality = "poor"
)

type RunLimits struct {
	MaxIterations      int
	ParallelWorkers    int
	ToolTimeout        time.Duration
	EngineTimeout      time.Duration
	MaxToolRetries     int
	CompactionTokens   int
	CompactionMessages int
	KeepRecentMessages int
	ConversationGap    time.Duration
	MinTaskTools       int
	MaxDeployments     int
	SlowIterations     int
	SummaryMaxLines    int
	SummaryMaxChars    int
	SummaryHeadChars   int
	ForceBreakAnalyses int
}

type ToolEvent struct {
	Tool     string        `json:"tool"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Parallel bool          `json:"parallel"`
	Output   string        `json:"output"`
}

// RunResult is the single well-formed result of every run, whatever the
// terminal state.
type RunResult struct {
	RunID        string        `json:"run_id"`
	SessionID    string        `json:"session_id"`
	ThreadID     string        `json:"thread_id"`
	Response     string        `json:"response"`
	Outcome      RunOutcome    `json:"outcome"`
	Quality      RunQuality    `json:"quality"`
	Iterations   int           `json:"iterations"`
	ToolCalls    int           `json:"tool_calls"`
	Failures     int           `json:"failures"`
	ToolSequence []string      `json:"tool_sequence,omitempty"`
	ToolEvents   []ToolEvent   `json:"tool_events,omitempty"`
	Intent       Intent        `json:"intent"`
	CacheHit     bool          `json:"cache_hit"`
	Endpoint     string        `json:"endpoint,omitempty"`
	Compactions  int           `json:"compactions"`
	Duration     time.Duration `json:"duration"`
}

func (r RunResult) Succeeded() bool {
	return r.Outcome == RunFinal || r.Outcome == RunAcknowledged
}

// SessionResponse is what a session emits back to the message source.
type SessionResponse struct {
	SessionID string     `json:"session_id"`
	Source    string     `json:"source"`
	RunID     string     `json:"run_id"`
	ThreadID  string     `json:"thread_id"`
	Text      string     `json:"text"`
	Outcome   RunOutcome `json:"outcome"`
	At        time.Time  `json:"at"`
}
