package threads

import (
	"fmt"
	"strings"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

const (
	contextMessages     = 15
	contextDecisions    = 5
	crossRefThreads     = 3
	recentThreadsWindow = 5
)

var subtaskIcons = map[domain.SubtaskStatus]string{
	domain.SubtaskPending:    "⬜",
	domain.SubtaskInProgress: "🔄",
	domain.SubtaskCompleted:  "✅",
	domain.SubtaskFailed:     "❌",
	domain.SubtaskSkipped:    "⏭️",
}

// GetContextForBrain renders the active thread and short summaries of other
// recent threads for the decision engine's system context. Empty when there
// is nothing to say.
func (r *Router) GetContextForBrain() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.opts.Now()
	var parts []string
	active := r.activeLocked()

	if active != nil {
		parts = append(parts,
			"## Active Conversation Thread",
			"Topic: "+active.Topic,
			"Status: "+string(active.Status),
			fmt.Sprintf("Duration: %.0f min", now.Sub(active.CreatedAt).Minutes()),
		)
		if active.ActiveTask != "" {
			parts = append(parts, "Current task: "+active.ActiveTask)
		}
		if active.EscalationCount > 0 {
			parts = append(parts, fmt.Sprintf("Escalations to user: %d", active.EscalationCount))
		}

		if recent := tail(active.Messages, contextMessages); len(recent) > 0 {
			parts = append(parts, "\nRecent messages:")
			for _, m := range recent {
				prefix := "🤖 Assistant"
				if m.Role == domain.RoleUser {
					prefix = "👤 User"
				}
				parts = append(parts, fmt.Sprintf("  %s: %s", prefix, clip(m.Text, 250)))
			}
		}

		if len(active.Subtasks) > 0 {
			parts = append(parts, "\nTask decomposition:")
			for _, st := range active.Subtasks {
				icon, ok := subtaskIcons[st.Status]
				if !ok {
					icon = "•"
				}
				parts = append(parts, fmt.Sprintf("  %s [%d] %s (%s)", icon, st.ID, clip(st.Description, 100), st.Status))
				if st.Result != "" {
					parts = append(parts, "       → "+clip(st.Result, 150))
				}
			}
		}

		if len(active.Decisions) > 0 {
			q := computeQuality(active.Decisions)
			if q.Evaluated > 0 {
				parts = append(parts, fmt.Sprintf("\nDecision track record: %d✅ %d❌ of %d evaluated", q.Successes, q.Failures, q.Evaluated))
			}
			parts = append(parts, "Recent decisions:")
			for _, d := range tailDecisions(active.Decisions, contextDecisions) {
				outcome := ""
				if evaluated(d.Outcome) {
					outcome = " → " + string(d.Outcome)
				}
				parts = append(parts, fmt.Sprintf("  → %s (confidence: %.0f/100)%s", d.Action, d.Confidence, outcome))
				if d.Reasoning != "" {
					parts = append(parts, "    Reasoning: "+clip(d.Reasoning, 150))
				}
			}
		}
	}

	var others []*domain.Thread
	for _, t := range r.recentLocked(recentThreadsWindow) {
		if active != nil && t.ID == active.ID {
			continue
		}
		others = append(others, t)
	}
	if len(others) > 0 {
		parts = append(parts, "\n## Recent Threads (for cross-reference)")
		for i, t := range others {
			if i == crossRefThreads {
				break
			}
			stale := ""
			if t.IsStale(now, r.opts.IdleTimeout) {
				stale = " [stale]"
			}
			parts = append(parts, "  - "+summarize(t)+stale)
		}
	}

	return strings.Join(parts, "\n")
}

// DecisionQuality aggregates the journals of the most recent threads.
func (r *Router) DecisionQuality() domain.DecisionQuality {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []domain.Decision
	for _, t := range r.recentLocked(recentThreadsWindow) {
		all = append(all, t.Decisions...)
	}
	return computeQuality(all)
}

func (r *Router) Stats() domain.ThreadStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.opts.Now()
	stats := domain.ThreadStats{
		TotalThreads:   len(r.threads),
		ActiveThreadID: r.activeID,
		ActiveStatus:   domain.ThreadIdle,
	}
	if active := r.activeLocked(); active != nil {
		stats.ActiveTopic = active.Topic
		stats.ActiveStatus = active.Status
		stats.ActiveMessages = len(active.Messages)
		stats.ActiveSubtasks = len(active.Subtasks)
		stats.ActiveDecisions = len(active.Decisions)
	}
	for _, t := range r.recentLocked(recentThreadsWindow) {
		stats.Recent = append(stats.Recent, domain.ThreadSummary{
			ID:           t.ID,
			Topic:        t.Topic,
			Status:       t.Status,
			Messages:     len(t.Messages),
			Subtasks:     len(t.Subtasks),
			SubtasksDone: t.CompletedSubtasks(),
			Stale:        t.IsStale(now, r.opts.IdleTimeout),
		})
	}
	return stats
}

func summarize(t *domain.Thread) string {
	last := "empty"
	if n := len(t.Messages); n > 0 {
		last = clip(t.Messages[n-1].Text, 80)
	}
	status := ""
	if t.ActiveTask != "" {
		status = " [" + string(t.Status) + "]"
	}
	subtasks := ""
	if len(t.Subtasks) > 0 {
		subtasks = fmt.Sprintf(" (%d/%d subtasks)", t.CompletedSubtasks(), len(t.Subtasks))
	}
	return fmt.Sprintf("Thread '%s'%s%s (%d msgs) - last: %s", t.Topic, status, subtasks, len(t.Messages), last)
}

func computeQuality(decisions []domain.Decision) domain.DecisionQuality {
	q := domain.DecisionQuality{Total: len(decisions)}
	var successConf, failureConf float64
	for _, d := range decisions {
		if !evaluated(d.Outcome) {
			continue
		}
		q.Evaluated++
		switch d.Outcome {
		case domain.OutcomeSuccess:
			q.Successes++
			successConf += d.Confidence
		case domain.OutcomeFailed:
			q.Failures++
			failureConf += d.Confidence
		}
	}
	if q.Evaluated > 0 {
		q.SuccessRate = float64(q.Successes) / float64(q.Evaluated) * 100
	}
	if q.Successes > 0 {
		q.AvgSuccessConfidence = successConf / float64(q.Successes)
	}
	if q.Failures > 0 {
		q.AvgFailureConfidence = failureConf / float64(q.Failures)
	}
	return q
}

func evaluated(o domain.DecisionOutcome) bool {
	return o != "" && o != domain.OutcomePending
}

func tail(messages []domain.ThreadMessage, n int) []domain.ThreadMessage {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}

func tailDecisions(decisions []domain.Decision, n int) []domain.Decision {
	if len(decisions) <= n {
		return decisions
	}
	return decisions[len(decisions)-n:]
}
