package resilience

import "github.com/kirillkom/agent-orchestrator/internal/core/domain"

type Action int

const (
	ActionFail Action = iota
	ActionRetry
	ActionFailover
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionFailover:
		return "failover"
	default:
		return "fail"
	}
}

type FailoverState struct {
	HasAlternate  bool
	OnAlternate   bool
	MaxAttempts   int
	FailoverAfter int
}

// Decide is the single place that maps a failed engine call to what happens
// next. failures counts failed calls in this sequence, including this one.
func Decide(kind domain.ErrorKind, failures int, st FailoverState) Action {
	switch kind {
	case domain.KindRateLimit, domain.KindTransient, domain.KindMalformedResponse:
	default:
		return ActionFail
	}

	// MaxAttempts bounds calls in total, the first one included.
	if failures >= st.MaxAttempts {
		return ActionFail
	}
	retriesDone := failures - 1
	canSwitch := st.HasAlternate && !st.OnAlternate
	if canSwitch && kind == domain.KindRateLimit {
		return ActionFailover
	}
	if canSwitch && retriesDone >= st.FailoverAfter {
		return ActionFailover
	}
	return ActionRetry
}
