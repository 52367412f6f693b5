package domain

import "time"

type ToolCallRecord struct {
	Name        string        `json:"name"`
	Fingerprint string        `json:"fingerprint"`
	At          time.Time     `json:"at"`
	Success     bool          `json:"success"`
	Duration    time.Duration `json:"duration"`
}

type ConfidenceTrend string

const (
	TrendRising  ConfidenceTrend = "rising"
	TrendFalling ConfidenceTrend = "falling"
	TrendStable  ConfidenceTrend = "stable"
)

const (
	StallNoVerification = "no_verification"
	StallFailureSpiral  = "failure_spiral"
	StallOverthinking   = "overthinking"
	StallNoReporting    = "no_reporting"
	StallBudgetCrisis   = "budget_crisis"
	StallPhaseImbalance = "phase_imbalance"
	StallLowDiversity   = "low_diversity"
)

// CognitiveState is recomputed on every analysis and never persisted.
type CognitiveState struct {
	IsLooping        bool            `json:"is_looping"`
	LoopTool         string          `json:"loop_tool,omitempty"`
	LoopCount        int             `json:"loop_count,omitempty"`
	IsStalled        bool            `json:"is_stalled"`
	StallReason      string          `json:"stall_reason,omitempty"`
	ConfidenceTrend  ConfidenceTrend `json:"confidence_trend"`
	AvgConfidence    float64         `json:"avg_confidence"`
	DeploymentsUsed  int             `json:"deployments_used"`
	DeploymentBudget int             `json:"deployment_budget"`
	Phase            string          `json:"phase"`
	ToolDiversity    float64         `json:"tool_diversity"`
	ProgressScore    float64         `json:"progress_score"`
	Recommendation   string          `json:"recommendation,omitempty"`
	ForceBreak       bool            `json:"force_break"`
}
