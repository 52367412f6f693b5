package domain

type ThreadSummary struct {
	ID           string       `json:"id"`
	Topic        string       `json:"topic"`
	Status       ThreadStatus `json:"status"`
	Messages     int          `json:"messages"`
	Subtasks     int          `json:"subtasks"`
	SubtasksDone int          `json:"subtasks_done"`
	Stale        bool         `json:"stale"`
}

type ThreadStats struct {
	TotalThreads    int             `json:"total_threads"`
	ActiveThreadID  string          `json:"active_thread_id,omitempty"`
	ActiveTopic     string          `json:"active_topic,omitempty"`
	ActiveStatus    ThreadStatus    `json:"active_status"`
	ActiveMessages  int             `json:"active_messages"`
	ActiveSubtasks  int             `json:"active_subtasks"`
	ActiveDecisions int             `json:"active_decisions"`
	Recent          []ThreadSummary `json:"recent,omitempty"`
}

type DecisionQuality struct {
	Total                int     `json:"total"`
	Evaluated            int     `json:"evaluated"`
	Successes            int     `json:"successes"`
	Failures             int     `json:"failures"`
	SuccessRate          float64 `json:"success_rate"`
	AvgSuccessConfidence float64 `json:"avg_success_confidence"`
	AvgFailureConfidence float64 `json:"avg_failure_confidence"`
}

type CognitionStats struct {
	TotalSteps          int             `json:"total_steps"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	StepsSinceVerify    int             `json:"steps_since_verify"`
	StepsSinceReport    int             `json:"steps_since_report"`
	DistinctTools       int             `json:"distinct_tools"`
	IsLooping           bool            `json:"is_looping"`
	IsStalled           bool            `json:"is_stalled"`
	ConfidenceTrend     ConfidenceTrend `json:"confidence_trend"`
	AvgConfidence       float64         `json:"avg_confidence"`
	ElapsedSeconds      float64         `json:"elapsed_seconds"`
}

type SessionStats struct {
	SessionID       string          `json:"session_id"`
	PendingMessages int             `json:"pending_messages"`
	Runs            int             `json:"runs"`
	LastRunAt       string          `json:"last_run_at,omitempty"`
	Threads         ThreadStats     `json:"threads"`
	DecisionQuality DecisionQuality `json:"decision_quality"`
	Cognition       CognitionStats  `json:"cognition"`
}
