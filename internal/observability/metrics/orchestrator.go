package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
	"github.com/kirillkom/agent-orchestrator/internal/core/ports"
)

const namespace = "agent"

var _ ports.RunRecorder = (*OrchestratorMetrics)(nil)

// OrchestratorMetrics records the orchestration pipeline into a private
// registry. HTTP metrics may share the same registry.
type OrchestratorMetrics struct {
	registry *prometheus.Registry

	batchesTotal      *prometheus.CounterVec
	intentsTotal      *prometheus.CounterVec
	runsTotal         *prometheus.CounterVec
	runIterations     prometheus.Histogram
	toolCallsTotal    *prometheus.CounterVec
	toolCallDuration  *prometheus.HistogramVec
	engineCallsTotal  *prometheus.CounterVec
	engineRetries     *prometheus.CounterVec
	engineFailovers   prometheus.Counter
	cacheLookupsTotal *prometheus.CounterVec
	cognitionFlags    *prometheus.CounterVec
	compactionsTotal  *prometheus.CounterVec
}

func NewOrchestratorMetrics(service string) *OrchestratorMetrics {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": service}

	counter := func(name, help string, vars ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, vars)
	}

	m := &OrchestratorMetrics{
		registry:     registry,
		batchesTotal: counter("batches_total", "Batches emitted by the aggregator by merge kind.", "kind"),
		intentsTotal: counter("intents_total", "Classified batches by intent type.", "type"),
		runsTotal:    counter("runs_total", "Finished runs by outcome.", "outcome"),
		runIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "run_iterations",
			Help:        "Loop iterations per finished run.",
			Buckets:     []float64{1, 2, 3, 5, 8, 13, 21, 34, 50},
			ConstLabels: labels,
		}),
		toolCallsTotal: counter("tool_calls_total", "Tool calls by tool, status and dispatch mode.", "tool", "status", "mode"),
		toolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "tool_call_duration_seconds",
			Help:        "Tool call duration in seconds.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, []string{"tool"}),
		engineCallsTotal: counter("engine_calls_total", "Decision engine calls by endpoint and status.", "endpoint", "status"),
		engineRetries:    counter("engine_retries_total", "Decision engine retries by error kind.", "kind"),
		engineFailovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "engine_failovers_total",
			Help:        "Switches to the secondary decision engine.",
			ConstLabels: labels,
		}),
		cacheLookupsTotal: counter("cache_lookups_total", "Decision cache lookups by result.", "result"),
		cognitionFlags:    counter("cognition_flags_total", "Cognition monitor detections by flag.", "flag"),
		compactionsTotal:  counter("compactions_total", "Conversation compactions by trigger.", "reason"),
	}

	registry.MustRegister(
		m.batchesTotal,
		m.intentsTotal,
		m.runsTotal,
		m.runIterations,
		m.toolCallsTotal,
		m.toolCallDuration,
		m.engineCallsTotal,
		m.engineRetries,
		m.engineFailovers,
		m.cacheLookupsTotal,
		m.cognitionFlags,
		m.compactionsTotal,
	)
	return m
}

func (m *OrchestratorMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *OrchestratorMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *OrchestratorMetrics) RecordBatch(kind domain.MergeKind) {
	m.batchesTotal.WithLabelValues(labelOr(string(kind))).Inc()
}

func (m *OrchestratorMetrics) RecordIntent(intentType domain.IntentType) {
	m.intentsTotal.WithLabelValues(labelOr(string(intentType))).Inc()
}

func (m *OrchestratorMetrics) RecordRun(result domain.RunResult) {
	m.runsTotal.WithLabelValues(labelOr(string(result.Outcome))).Inc()
	if result.Iterations > 0 {
		m.runIterations.Observe(float64(result.Iterations))
	}
}

func (m *OrchestratorMetrics) RecordToolCall(tool string, success, parallel bool, durationSeconds float64) {
	status := "success"
	if !success {
		status = "failure"
	}
	mode := "sequential"
	if parallel {
		mode = "parallel"
	}
	tool = labelOr(tool)
	m.toolCallsTotal.WithLabelValues(tool, status, mode).Inc()
	if durationSeconds >= 0 {
		m.toolCallDuration.WithLabelValues(tool).Observe(durationSeconds)
	}
}

func (m *OrchestratorMetrics) RecordEngineCall(endpoint string, err error) {
	status := "ok"
	if err != nil {
		status = domain.KindOf(err).String()
	}
	m.engineCallsTotal.WithLabelValues(labelOr(endpoint), status).Inc()
}

func (m *OrchestratorMetrics) RecordEngineRetry(kind domain.ErrorKind) {
	m.engineRetries.WithLabelValues(kind.String()).Inc()
}

func (m *OrchestratorMetrics) RecordFailover() {
	m.engineFailovers.Inc()
}

func (m *OrchestratorMetrics) RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupsTotal.WithLabelValues(result).Inc()
}

func (m *OrchestratorMetrics) RecordCognitionFlag(flag string) {
	m.cognitionFlags.WithLabelValues(labelOr(flag)).Inc()
}

func (m *OrchestratorMetrics) RecordCompaction(reason string) {
	m.compactionsTotal.WithLabelValues(labelOr(reason)).Inc()
}

func labelOr(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
