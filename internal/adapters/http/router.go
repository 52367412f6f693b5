package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
	"github.com/kirillkom/agent-orchestrator/internal/core/ports"
	"github.com/kirillkom/agent-orchestrator/internal/observability/metrics"
)

const (
	serviceName    = "api"
	maxBodyBytes   = 1 << 20
	defaultSource  = "http"
	defaultWaitMax = 50 * time.Millisecond
)

type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	MaxInFlight    int
	QueueWait      time.Duration
	// MetricsHandler is served on /metrics when set.
	MetricsHandler http.Handler
	HTTPMetrics    *metrics.HTTPServerMetrics
}

type Router struct {
	orch ports.Orchestrator
	opts Options
}

func NewRouter(orch ports.Orchestrator, opts Options) *Router {
	if opts.QueueWait <= 0 {
		opts.QueueWait = defaultWaitMax
	}
	return &Router{orch: orch, opts: opts}
}

// Handler builds the mux wrapped in, from outermost: request id, access log,
// metrics, rate limit and backpressure.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", rt.opts.MetricsHandler)
	}
	mux.HandleFunc("POST /v1/sessions/{id}/messages", rt.postMessage)
	mux.HandleFunc("POST /v1/sessions/{id}/process", rt.processMessage)
	mux.HandleFunc("POST /v1/sessions/{id}/flush", rt.flushSession)
	mux.HandleFunc("GET /v1/sessions/{id}/stats", rt.sessionStats)
	mux.HandleFunc("GET /v1/cache/patterns", rt.cachePatterns)

	var h http.Handler = mux
	h = backpressureMiddleware(h, rt.opts.MaxInFlight, rt.opts.QueueWait, rt.onReject)
	h = rateLimitMiddleware(h, rt.opts.RateLimitRPS, rt.opts.RateLimitBurst, rt.onReject)
	if rt.opts.HTTPMetrics != nil {
		h = rt.opts.HTTPMetrics.Middleware(serviceName, h)
	}
	h = accessLogMiddleware(h)
	return requestIDMiddleware(h)
}

func (rt *Router) onReject(reason string) {
	if rt.opts.HTTPMetrics != nil {
		rt.opts.HTTPMetrics.RecordRejection(serviceName, reason)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type messageRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

func (rt *Router) postMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, req, ok := decodeMessage(w, r)
	if !ok {
		return
	}
	if err := rt.orch.Ingest(r.Context(), sessionID, req.Text, req.Source); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "session_id": sessionID})
}

func (rt *Router) processMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, req, ok := decodeMessage(w, r)
	if !ok {
		return
	}
	result, err := rt.orch.ProcessText(r.Context(), sessionID, req.Text, req.Source)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) flushSession(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.PathValue("id"))
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session id is required"})
		return
	}
	if err := rt.orch.Flush(r.Context(), sessionID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "flushed", "session_id": sessionID})
}

func (rt *Router) sessionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.orch.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) cachePatterns(w http.ResponseWriter, r *http.Request) {
	entries := rt.orch.CachePatterns(r.Context())
	if entries == nil {
		entries = []domain.CacheEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": entries, "count": len(entries)})
}

func decodeMessage(w http.ResponseWriter, r *http.Request) (string, messageRequest, bool) {
	var req messageRequest
	sessionID := strings.TrimSpace(r.PathValue("id"))
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session id is required"})
		return "", req, false
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return "", req, false
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return "", req, false
	}
	if req.Source == "" {
		req.Source = defaultSource
	}
	return sessionID, req, true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError && !errors.Is(err, domain.ErrCancelled) {
		slog.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
