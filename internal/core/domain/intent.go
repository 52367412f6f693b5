package domain

type IntentType string

const (
	IntentConversation   IntentType = "CONVERSATION"
	IntentQuickQuestion  IntentType = "QUICK_QUESTION"
	IntentTask           IntentType = "TASK"
	IntentFollowUp       IntentType = "FOLLOW_UP"
	IntentCorrection     IntentType = "CORRECTION"
	IntentEmergency      IntentType = "EMERGENCY"
	IntentAcknowledgment IntentType = "ACKNOWLEDGMENT"
)

type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

type Intent struct {
	Type       IntentType `json:"type"`
	Confidence float64    `json:"confidence"`
	Detail     string     `json:"detail"`
	Domains    []string   `json:"domains,omitempty"`
	Complexity Complexity `json:"complexity"`
	Urgency    float64    `json:"urgency"`
	Subtasks   []string   `json:"subtasks,omitempty"`
	Entities   []string   `json:"entities,omitempty"`
}

// IsActionable reports whether the intent requires work rather than a reply.
func (i Intent) IsActionable() bool {
	switch i.Type {
	case IntentTask, IntentEmergency, IntentCorrection:
		return true
	default:
		return false
	}
}

func (i Intent) IsConversational() bool {
	return i.Type == IntentConversation || i.Type == IntentAcknowledgment
}

func (i Intent) HasDomain(name string) bool {
	for _, d := range i.Domains {
		if d == name {
			return true
		}
	}
	return false
}
