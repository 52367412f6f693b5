package domain

import "time"

const (
	ReliableThresholdPercent = 70
	ReliableMinUses          = 2
	MaxAntiPatterns          = 5
)

// CacheEntry is a learned (intent, domain, pattern) -> strategy mapping.
type CacheEntry struct {
	IntentType   IntentType `json:"intent_type"`
	Domain       string     `json:"domain"`
	Pattern      string     `json:"pattern"`
	ToolSequence []string   `json:"tool_sequence"`
	Strategy     string     `json:"strategy"`
	SuccessCount int        `json:"success_count"`
	FailureCount int        `json:"failure_count"`
	AntiPatterns []string   `json:"anti_patterns,omitempty"`
	AvgSteps     float64    `json:"avg_steps"`
	BestSteps    int        `json:"best_steps"`
	Complexity   Complexity `json:"complexity,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsed     time.Time  `json:"last_used"`
}

func (e CacheEntry) Uses() int {
	return e.SuccessCount + e.FailureCount
}

// Reliability is the success rate as a percentage.
func (e CacheEntry) Reliability() float64 {
	total := e.Uses()
	if total == 0 {
		return 0
	}
	return float64(e.SuccessCount) / float64(total) * 100
}

// IsReliable compares in integers so 7 of 10 is exactly at the threshold.
func (e CacheEntry) IsReliable() bool {
	uses := e.Uses()
	return uses >= ReliableMinUses && e.SuccessCount*100 >= ReliableThresholdPercent*uses
}

func (e CacheEntry) IsStale(now time.Time, staleAfter time.Duration) bool {
	return now.Sub(e.LastUsed) > staleAfter
}

func (e CacheEntry) Clone() CacheEntry {
	out := e
	out.ToolSequence = append([]string(nil), e.ToolSequence...)
	out.AntiPatterns = append([]string(nil), e.AntiPatterns...)
	if len(e.AntiPatterns) == 0 {
		out.AntiPatterns = nil
	}
	return out
}

type DomainInsights struct {
	Domain       string   `json:"domain"`
	Entries      int      `json:"entries"`
	SuccessRate  float64  `json:"success_rate"`
	TopStrategy  []string `json:"top_strategies,omitempty"`
	AntiPatterns []string `json:"anti_patterns,omitempty"`
}
