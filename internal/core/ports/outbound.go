package ports

import (
	"context"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

// DecisionEngine streams one completion. onDelta, when set, receives text
// fragments as they arrive.
type DecisionEngine interface {
	Name() string
	Stream(ctx context.Context, req domain.EngineRequest, onDelta func(string)) (domain.EngineResponse, error)
}

type Tool interface {
	Spec() domain.ToolSpec
	Execute(ctx context.Context, args map[string]any) (domain.ToolResult, error)
}

// ToolExecutor must be safe for concurrent calls of parallel-safe tools.
type ToolExecutor interface {
	Specs() []domain.ToolSpec
	Execute(ctx context.Context, call domain.ToolCall) domain.ToolResult
	IsParallelSafe(name string) bool
}

type Classifier interface {
	Classify(text string, hasActiveThread bool, kind domain.MergeKind) domain.Intent
}

type PatternGeneralizer interface {
	GeneralizePattern(message string, domains []string) string
}

// SnapshotStore persists versioned snapshots by key. Load returns nil data
// and nil error for a missing key.
type SnapshotStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

type ResponsePublisher interface {
	PublishResponse(ctx context.Context, resp domain.SessionResponse) error
}

type InboundMessage struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Source    string `json:"source"`
}

type MessageSubscriber interface {
	SubscribeMessages(ctx context.Context, handler func(context.Context, InboundMessage) error) error
}

type RunRecorder interface {
	RecordBatch(kind domain.MergeKind)
	RecordIntent(intentType domain.IntentType)
	RecordRun(result domain.RunResult)
	RecordToolCall(tool string, success, parallel bool, durationSeconds float64)
	RecordEngineCall(endpoint string, err error)
	RecordEngineRetry(kind domain.ErrorKind)
	RecordFailover()
	RecordCacheLookup(hit bool)
	RecordCognitionFlag(flag string)
	RecordCompaction(reason string)
}
