package domain

import "time"

type ThreadStatus string

const (
	ThreadIdle        ThreadStatus = "idle"
	ThreadWorking     ThreadStatus = "working"
	ThreadWaitingUser ThreadStatus = "waiting_user"
	ThreadCompleted   ThreadStatus = "completed"
	ThreadFailed      ThreadStatus = "failed"
)

type SubtaskStatus string

const (
	SubtaskPending    SubtaskStatus = "pending"
	SubtaskInProgress SubtaskStatus = "in_progress"
	SubtaskCompleted  SubtaskStatus = "completed"
	SubtaskFailed     SubtaskStatus = "failed"
	SubtaskSkipped    SubtaskStatus = "skipped"
)

type DecisionOutcome string

const (
	OutcomePending DecisionOutcome = "pending"
	OutcomeSuccess DecisionOutcome = "success"
	OutcomeFailed  DecisionOutcome = "failed"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleSystem    = "system"
)

type ThreadMessage struct {
	Role       string     `json:"role"`
	Text       string     `json:"text"`
	At         time.Time  `json:"at"`
	IntentType IntentType `json:"intent_type,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
}

type Decision struct {
	Action     string          `json:"action"`
	Reasoning  string          `json:"reasoning,omitempty"`
	Confidence float64         `json:"confidence"`
	At         time.Time       `json:"at"`
	Outcome    DecisionOutcome `json:"outcome"`
}

type Subtask struct {
	ID          int           `json:"id"`
	Description string        `json:"description"`
	Status      SubtaskStatus `json:"status"`
	Capability  string        `json:"capability,omitempty"`
	Result      string        `json:"result,omitempty"`
	DependsOn   []int         `json:"depends_on,omitempty"`
}

// Thread owns its message, decision and subtask logs by value.
type Thread struct {
	ID              string          `json:"id"`
	CreatedAt       time.Time       `json:"created_at"`
	LastActivity    time.Time       `json:"last_activity"`
	Topic           string          `json:"topic"`
	Messages        []ThreadMessage `json:"messages"`
	ActiveTask      string          `json:"active_task,omitempty"`
	Status          ThreadStatus    `json:"status"`
	Subtasks        []Subtask       `json:"subtasks,omitempty"`
	Decisions       []Decision      `json:"decisions,omitempty"`
	EscalationCount int             `json:"escalation_count"`
}

func (t Thread) IsStale(now time.Time, idleTimeout time.Duration) bool {
	return now.Sub(t.LastActivity) > idleTimeout
}

func (t Thread) CompletedSubtasks() int {
	n := 0
	for _, st := range t.Subtasks {
		if st.Status == SubtaskCompleted {
			n++
		}
	}
	return n
}

// Clone returns a deep copy safe to hand out of a lock.
func (t Thread) Clone() Thread {
	out := t
	out.Messages = append([]ThreadMessage(nil), t.Messages...)
	out.Decisions = append([]Decision(nil), t.Decisions...)
	out.Subtasks = make([]Subtask, len(t.Subtasks))
	for i, st := range t.Subtasks {
		st.DependsOn = append([]int(nil), st.DependsOn...)
		out.Subtasks[i] = st
	}
	if len(t.Subtasks) == 0 {
		out.Subtasks = nil
	}
	return out
}
