package domain

import "time"

type StreamRelation string

const (
	RelationNew            StreamRelation = "new"
	RelationCorrection     StreamRelation = "correction"
	RelationAddition       StreamRelation = "addition"
	RelationAcknowledgment StreamRelation = "acknowledgment"
)

type MergeKind string

const (
	MergeSingle     MergeKind = "single"
	MergeCorrection MergeKind = "correction"
	MergeAddition   MergeKind = "addition"
	MergeMultiTask  MergeKind = "multi_task"
)

type RawMessage struct {
	Text      string         `json:"text"`
	ArrivedAt time.Time      `json:"arrived_at"`
	Source    string         `json:"source"`
	Relation  StreamRelation `json:"relation"`
}

// Batch is one or more raw messages merged into a single unit of work.
type Batch struct {
	Messages   []RawMessage `json:"messages"`
	Kind       MergeKind    `json:"kind"`
	MergedText string       `json:"merged_text"`
	Tasks      []string     `json:"tasks,omitempty"`
	Source     string       `json:"source"`
	EmittedAt  time.Time    `json:"emitted_at"`
}

func (b Batch) IsSingle() bool {
	return len(b.Messages) == 1
}

// SingleBatch wraps one text as a batch that skipped the aggregator.
func SingleBatch(text, source string, now time.Time) Batch {
	return Batch{
		Messages: []RawMessage{{
			Text:      text,
			ArrivedAt: now,
			Source:    source,
			Relation:  RelationNew,
		}},
		Kind:       MergeSingle,
		MergedText: text,
		Source:     source,
		EmittedAt:  now,
	}
}
