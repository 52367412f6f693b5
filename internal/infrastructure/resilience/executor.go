package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
)

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// Executor runs calls with classified retries behind per-operation circuit
// breakers.
type Executor struct {
	cfg Config

	// Overridable in tests.
	rnd   func() float64
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.normalize(),
		rnd:      rand.Float64,
		sleep:    sleepContext,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
}

func (e *Executor) Config() Config {
	return e.cfg
}

func (e *Executor) Execute(
	ctx context.Context,
	operation string,
	fn func(context.Context) error,
	classifier ErrorClassifier,
) error {
	if fn == nil {
		return fmt.Errorf("resilience: operation callback is nil")
	}
	op := operationName(operation)
	if classifier == nil {
		classifier = defaultClassifier
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.RetryMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := e.guard(op, classifier, func() error { return fn(ctx) })
		if err == nil {
			return nil
		}
		lastErr = err
		if !classifier(err).Retryable || attempt == e.cfg.RetryMaxAttempts {
			return err
		}

		wait := e.cfg.RetryBackoff.Delay(attempt-1, e.rnd)
		slog.Warn("retry_attempt",
			"operation", op,
			"attempt", attempt,
			"max_attempts", e.cfg.RetryMaxAttempts,
			"backoff_ms", float64(wait.Microseconds())/1000.0,
			"error", err,
		)
		if err := e.sleep(ctx, wait); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// FailoverHooks observe ExecuteWithFailover; all fields are optional.
type FailoverHooks struct {
	OnRetry    func(kind domain.ErrorKind, retry int, wait time.Duration)
	OnFailover func(from, to string)
}

// ExecuteWithFailover calls fn against endpoints[0], retrying typed engine
// errors with the backoff profile for their kind and moving at most once to
// endpoints[1]. Switching endpoints never sleeps. It returns the index of
// the endpoint that produced the final outcome.
func (e *Executor) ExecuteWithFailover(
	ctx context.Context,
	operation string,
	endpoints []string,
	fn func(ctx context.Context, endpoint int) error,
	hooks FailoverHooks,
) (int, error) {
	if fn == nil {
		return 0, fmt.Errorf("resilience: operation callback is nil")
	}
	if len(endpoints) == 0 {
		return 0, domain.WrapError(domain.ErrInvalidInput, operationName(operation), errors.New("no endpoints configured"))
	}
	op := operationName(operation)

	current, failures, retries := 0, 0, 0
	for {
		if err := ctx.Err(); err != nil {
			return current, err
		}

		endpoint := endpoints[current]
		idx := current
		err := e.guard(op+":"+endpoint, classifyEngineError, func() error { return fn(ctx, idx) })
		if err == nil {
			return current, nil
		}
		failures++

		kind := domain.KindOf(err)
		if IsCircuitOpen(err) {
			kind = domain.KindTransient
		}
		action := Decide(kind, failures, FailoverState{
			HasAlternate:  len(endpoints) > 1,
			OnAlternate:   current > 0,
			MaxAttempts:   e.cfg.EngineMaxAttempts,
			FailoverAfter: e.cfg.FailoverAfterRetries,
		})

		switch action {
		case ActionFailover:
			slog.Warn("engine_failover",
				"operation", op,
				"from", endpoint,
				"to", endpoints[1],
				"kind", kind.String(),
				"error", err,
			)
			if hooks.OnFailover != nil {
				hooks.OnFailover(endpoint, endpoints[1])
			}
			current = 1
		case ActionRetry:
			retries++
			wait := e.backoffFor(kind).Delay(retries, e.rnd)
			slog.Warn("retry_attempt",
				"operation", op,
				"endpoint", endpoint,
				"attempt", retries,
				"max_attempts", e.cfg.EngineMaxAttempts,
				"kind", kind.String(),
				"backoff_ms", float64(wait.Microseconds())/1000.0,
				"error", err,
			)
			if hooks.OnRetry != nil {
				hooks.OnRetry(kind, retries, wait)
			}
			if serr := e.sleep(ctx, wait); serr != nil {
				return current, serr
			}
		default:
			switch kind {
			case domain.KindRateLimit, domain.KindTransient, domain.KindMalformedResponse:
				return current, domain.WrapError(domain.ErrEngineExhausted, op, err)
			}
			return current, err
		}
	}
}

func (e *Executor) backoffFor(kind domain.ErrorKind) Backoff {
	if kind == domain.KindRateLimit {
		return e.cfg.RateLimitBackoff
	}
	return e.cfg.TransientBackoff
}

// guard runs one call through the breaker for name, when breakers are on.
func (e *Executor) guard(name string, classifier ErrorClassifier, call func() error) error {
	if !e.cfg.BreakerEnabled {
		return call()
	}
	_, err := e.circuitBreaker(name, classifier).Execute(func() (any, error) {
		return nil, call()
	})
	return err
}

func (e *Executor) circuitBreaker(name string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[any] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if breaker, ok := e.breakers[name]; ok {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: e.cfg.BreakerHalfOpenMaxCalls,
		Timeout:     e.cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < e.cfg.BreakerMinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= e.cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return !classifier(err).RecordFailure
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	}

	breaker := gobreaker.NewCircuitBreaker[any](settings)
	e.breakers[name] = breaker
	return breaker
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// classifyEngineError counts only rate limits and transient failures
// against an endpoint's breaker.
func classifyEngineError(err error) ErrorClassification {
	switch domain.KindOf(err) {
	case domain.KindRateLimit, domain.KindTransient:
		return ErrorClassification{Retryable: true, RecordFailure: true}
	case domain.KindMalformedResponse:
		return ErrorClassification{Retryable: true, RecordFailure: false}
	default:
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}

func operationName(operation string) string {
	op := strings.TrimSpace(operation)
	if op == "" {
		return "unknown"
	}
	return op
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
