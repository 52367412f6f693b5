package ports

import (
	"context"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

// MessageIngestor is the inbound contract for raw conversational input.
type MessageIngestor interface {
	Ingest(ctx context.Context, sessionID, text, source string) error
	Flush(ctx context.Context, sessionID string) error
}

// BatchProcessor runs one batch through classification, routing and the
// orchestration loop.
type BatchProcessor interface {
	Process(ctx context.Context, sessionID string, batch domain.Batch) (domain.RunResult, error)
	ProcessText(ctx context.Context, sessionID, text, source string) (domain.RunResult, error)
}

// StatsReader is the inbound read model for session and cache state.
type StatsReader interface {
	Stats(ctx context.Context, sessionID string) (domain.SessionStats, error)
	CachePatterns(ctx context.Context) []domain.CacheEntry
}

type Orchestrator interface {
	MessageIngestor
	BatchProcessor
	StatsReader
}
