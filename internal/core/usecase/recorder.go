package usecase

import "github.com/kirillkom/agent-orchestrator/internal/core/domain"

// NopRecorder discards all run telemetry.
type NopRecorder struct{}

func (NopRecorder) RecordBatch(domain.MergeKind)               {}
func (NopRecorder) RecordIntent(domain.IntentType)             {}
func (NopRecorder) RecordRun(domain.RunResult)                 {}
func (NopRecorder) RecordToolCall(string, bool, bool, float64) {}
func (NopRecorder) RecordEngineCall(string, error)             {}
func (NopRecorder) RecordEngineRetry(domain.ErrorKind)         {}
func (NopRecorder) RecordFailover()                            {}
func (NopRecorder) RecordCacheLookup(bool)                     {}
func (NopRecorder) RecordCognitionFlag(string)                 {}
func (NopRecorder) RecordCompaction(string)                    {}
