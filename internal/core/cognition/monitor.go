// Package cognition watches one orchestration run and reports loops, stalls
// and failure spirals. The monitor only diagnoses; the loop decides what to
// do with the result.
package cognition

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

const defaultAvgConfidence = 75.0

var phaseWeight = map[string]float64{
	PhaseStart:       0,
	PhaseResearch:    0.25,
	PhaseAction:      0.5,
	PhaseCompilation: 0.75,
	PhaseDelivery:    1,
}

type Monitor struct {
	policy Policy
	now    func() time.Time

	mu                  sync.Mutex
	history             []domain.ToolCallRecord
	confidence          []float64
	consecutiveFailures int
	consecutiveThinks   int
	stepsSinceVerify    int
	stepsSinceReport    int
	totalSteps          int
	successes           int
	toolCounts          map[string]int
	phase               string
	researchSteps       int
	compiled            bool
	deployments         int
	deploymentBudget    int
	maxToolLoops        int
	loopStreak          int
	startedAt           time.Time
	last                domain.CognitiveState
}

func NewMonitor(policy Policy) *Monitor {
	m := &Monitor{
		policy: policy.normalize(),
		now:    time.Now,
	}
	m.Reset()
	return m
}

func (m *Monitor) Policy() Policy {
	return m.policy
}

// Reset starts a new run. Budgets set through SetBudget are kept.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
	m.confidence = nil
	m.consecutiveFailures = 0
	m.consecutiveThinks = 0
	m.stepsSinceVerify = 0
	m.stepsSinceReport = 0
	m.totalSteps = 0
	m.successes = 0
	m.toolCounts = make(map[string]int)
	m.phase = PhaseStart
	m.researchSteps = 0
	m.compiled = false
	m.deployments = 0
	m.loopStreak = 0
	m.startedAt = m.now()
	m.last = domain.CognitiveState{ConfidenceTrend: domain.TrendStable, AvgConfidence: defaultAvgConfidence, Phase: PhaseStart}
}

// SetBudget limits delegated work per run and, when maxToolLoops is set,
// the number of consecutive looping analyses before a forced break.
func (m *Monitor) SetBudget(maxDeployments, maxToolLoops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deploymentBudget = max(maxDeployments, 0)
	m.maxToolLoops = max(maxToolLoops, 0)
}

func (m *Monitor) RecordToolCall(name string, args map[string]any, success bool, duration time.Duration) {
	p := m.policy
	record := domain.ToolCallRecord{
		Name:        name,
		Fingerprint: p.Fingerprint(name, args),
		At:          m.now(),
		Success:     success,
		Duration:    duration,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, record)
	if len(m.history) > p.HistorySize {
		m.history = append([]domain.ToolCallRecord(nil), m.history[len(m.history)-p.HistorySize:]...)
	}
	m.totalSteps++
	m.toolCounts[name]++

	if success {
		m.successes++
		m.consecutiveFailures = 0
	} else {
		m.consecutiveFailures++
	}
	if name == p.ReasoningTool {
		m.consecutiveThinks++
	} else {
		m.consecutiveThinks = 0
	}
	if in(p.VerificationTools, name) {
		m.stepsSinceVerify = 0
	} else {
		m.stepsSinceVerify++
	}
	if in(p.ReportTools, name) {
		m.stepsSinceReport = 0
	} else {
		m.stepsSinceReport++
	}

	if name != p.ReasoningTool {
		if phase := m.phaseOf(name); phase != "" {
			m.phase = phase
		}
	}
	switch m.phase {
	case PhaseResearch:
		m.researchSteps++
	case PhaseCompilation:
		m.compiled = true
	}
}

func (m *Monitor) phaseOf(tool string) string {
	if phase, ok := m.policy.Phases[tool]; ok {
		return phase
	}
	if m.isDelegation(tool) {
		return PhaseAction
	}
	return ""
}

func (m *Monitor) isDelegation(tool string) bool {
	prefix := m.policy.DelegationPrefix
	return prefix != "" && strings.HasPrefix(tool, prefix)
}

// RecordConfidence stores a self-reported confidence score in [0, 100].
func (m *Monitor) RecordConfidence(score float64) {
	score = min(max(score, 0), 100)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confidence = append(m.confidence, score)
	if len(m.confidence) > m.policy.ConfidenceHistory {
		m.confidence = m.confidence[len(m.confidence)-m.policy.ConfidenceHistory:]
	}
}

// RecordDeployment counts one successful unit of delegated work.
func (m *Monitor) RecordDeployment() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deployments++
}

// Analyze runs the checks in priority order; the first finding sets the
// recommendation. ForceBreak is set once looping persists for
// ForceBreakAnalyses analyses in a row, or at once for a delivery loop.
func (m *Monitor) Analyze() domain.CognitiveState {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.policy
	state := domain.CognitiveState{
		DeploymentsUsed:  m.deployments,
		DeploymentBudget: m.deploymentBudget,
		Phase:            m.phase,
		ToolDiversity:    m.diversityLocked(),
		ProgressScore:    m.progressLocked(),
	}

	if tool, count, ok := m.detectLoopLocked(); ok {
		state.IsLooping = true
		state.LoopTool = tool
		state.LoopCount = count
		state.Recommendation = fmt.Sprintf("⚠️ SELF-CHECK: You've called `%s` %d times with similar arguments. You are LOOPING. "+
			"Stop this approach entirely and try a different strategy: a different tool, a different method, or ask the user for help.", tool, count)
	} else if m.stepsSinceVerify > p.StallSteps && m.hasDelegationLocked() {
		state.IsStalled = true
		state.StallReason = domain.StallNoVerification
		state.Recommendation = fmt.Sprintf("⚠️ SELF-CHECK: You've taken %d steps without verifying results. "+
			"Check whether the delegated work actually succeeded before continuing.", m.stepsSinceVerify)
	} else if m.consecutiveFailures >= p.FailureSpiral {
		state.IsStalled = true
		state.StallReason = domain.StallFailureSpiral
		state.Recommendation = fmt.Sprintf("⚠️ SELF-CHECK: %d consecutive failures. You're in a failure spiral. "+
			"Stop and reassess: try a different tool, a simpler approach, or ask the user.", m.consecutiveFailures)
	} else if m.consecutiveThinks >= p.Overthinking {
		state.IsStalled = true
		state.StallReason = domain.StallOverthinking
		state.Recommendation = fmt.Sprintf("⚠️ SELF-CHECK: You've called %s() %d times in a row without taking any action. "+
			"Stop thinking and act.", p.ReasoningTool, m.consecutiveThinks)
	} else if m.stepsSinceReport > p.NoReportSteps && m.totalSteps > p.NoReportSteps {
		state.StallReason = domain.StallNoReporting
		state.Recommendation = fmt.Sprintf("⚠️ SELF-CHECK: %d steps without updating the user. Send a progress update.", m.stepsSinceReport)
	} else if m.deploymentBudget > 0 && m.deployments > 0 && m.deployments >= m.deploymentBudget-1 && (m.phase == PhaseStart || m.phase == PhaseResearch) {
		state.StallReason = domain.StallBudgetCrisis
		state.Recommendation = fmt.Sprintf("⚠️ SELF-CHECK: %d of %d delegations used and still gathering information. "+
			"Work with what you have and move toward a result.", m.deployments, m.deploymentBudget)
	} else if m.researchSteps > p.PhaseImbalanceSteps && !m.compiled {
		state.StallReason = domain.StallPhaseImbalance
		state.Recommendation = fmt.Sprintf("⚠️ SELF-CHECK: %d steps of research and nothing compiled yet. "+
			"Start assembling the answer from what you have found.", m.researchSteps)
	} else if m.totalSteps > p.LowDiversitySteps && len(m.toolCounts) <= p.LowDiversityTools {
		state.StallReason = domain.StallLowDiversity
		state.Recommendation = fmt.Sprintf("⚠️ SELF-CHECK: %d steps using only %d different tools. Consider another approach.",
			m.totalSteps, len(m.toolCounts))
	}

	state.ConfidenceTrend = m.trendLocked()
	state.AvgConfidence = m.avgConfidenceLocked()
	if state.Recommendation == "" && state.ConfidenceTrend == domain.TrendFalling && state.AvgConfidence < p.EscalateBelow {
		state.Recommendation = fmt.Sprintf("⚠️ SELF-CHECK: Your confidence is declining (avg: %.0f%%). "+
			"Consider escalating to the user for guidance before proceeding.", state.AvgConfidence)
	}

	if state.IsLooping {
		m.loopStreak++
	} else {
		m.loopStreak = 0
	}
	streakLimit := p.ForceBreakAnalyses
	if m.maxToolLoops > 0 {
		streakLimit = m.maxToolLoops
	}
	state.ForceBreak = state.IsLooping && (m.loopStreak >= streakLimit || state.LoopTool == p.DeliveryTool)

	m.last = state
	return state
}

// detectLoopLocked looks at the trailing window: a repeated fingerprint
// wins over a repeated tool name. Excluded tools never count.
func (m *Monitor) detectLoopLocked() (string, int, bool) {
	p := m.policy
	recent := m.history
	if len(recent) > p.Window {
		recent = recent[len(recent)-p.Window:]
	}

	var (
		printOrder []string
		printCount = make(map[string]int)
		printTool  = make(map[string]string)
		nameOrder  []string
		nameCount  = make(map[string]int)
	)
	for _, r := range recent {
		if in(p.ExcludedTools, r.Name) {
			continue
		}
		if printCount[r.Fingerprint] == 0 {
			printOrder = append(printOrder, r.Fingerprint)
			printTool[r.Fingerprint] = r.Name
		}
		printCount[r.Fingerprint]++
		if nameCount[r.Name] == 0 {
			nameOrder = append(nameOrder, r.Name)
		}
		nameCount[r.Name]++
	}

	bestPrint, bestCount := "", 0
	for _, fp := range printOrder {
		if printCount[fp] > bestCount {
			bestPrint, bestCount = fp, printCount[fp]
		}
	}
	if bestCount >= p.FingerprintThreshold {
		return printTool[bestPrint], bestCount, true
	}

	bestName, nameHits := "", 0
	for _, name := range nameOrder {
		if c := nameCount[name]; c >= p.nameThreshold(name) && c > nameHits {
			bestName, nameHits = name, c
		}
	}
	return bestName, nameHits, bestName != ""
}

func (m *Monitor) hasDelegationLocked() bool {
	for _, r := range m.history {
		if m.isDelegation(r.Name) {
			return true
		}
	}
	return false
}

// trendLocked compares the last three scores with the three before them,
// or with the first three while fewer than six exist.
func (m *Monitor) trendLocked() domain.ConfidenceTrend {
	scores := m.confidence
	if len(scores) < 3 {
		return domain.TrendStable
	}
	recent := scores[len(scores)-3:]
	older := scores[:3]
	if len(scores) >= 6 {
		older = scores[len(scores)-6 : len(scores)-3]
	}
	avgRecent, avgOlder := mean(recent), mean(older)
	switch {
	case avgRecent < avgOlder-m.policy.TrendBand:
		return domain.TrendFalling
	case avgRecent > avgOlder+m.policy.TrendBand:
		return domain.TrendRising
	default:
		return domain.TrendStable
	}
}

func (m *Monitor) avgConfidenceLocked() float64 {
	if len(m.confidence) == 0 {
		return defaultAvgConfidence
	}
	recent := m.confidence
	if len(recent) > m.policy.ConfidenceWindow {
		recent = recent[len(recent)-m.policy.ConfidenceWindow:]
	}
	return mean(recent)
}

func (m *Monitor) diversityLocked() float64 {
	if m.totalSteps == 0 {
		return 0
	}
	return float64(len(m.toolCounts)) / float64(m.totalSteps)
}

// progressLocked blends how far the run has moved through the phases with
// its tool success rate, on a 0-100 scale.
func (m *Monitor) progressLocked() float64 {
	if m.totalSteps == 0 {
		return 0
	}
	successRate := float64(m.successes) / float64(m.totalSteps)
	return (0.6*phaseWeight[m.phase] + 0.4*successRate) * 100
}

func (m *Monitor) Stats() domain.CognitionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.CognitionStats{
		TotalSteps:          m.totalSteps,
		ConsecutiveFailures: m.consecutiveFailures,
		StepsSinceVerify:    m.stepsSinceVerify,
		StepsSinceReport:    m.stepsSinceReport,
		DistinctTools:       len(m.toolCounts),
		IsLooping:           m.last.IsLooping,
		IsStalled:           m.last.IsStalled,
		ConfidenceTrend:     m.last.ConfidenceTrend,
		AvgConfidence:       m.last.AvgConfidence,
		ElapsedSeconds:      m.now().Sub(m.startedAt).Seconds(),
	}
}

// History returns a copy of the recorded calls, oldest first.
func (m *Monitor) History() []domain.ToolCallRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ToolCallRecord(nil), m.history...)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
