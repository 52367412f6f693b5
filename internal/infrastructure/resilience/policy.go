package resilience

import (
	"math"
	"time"
)

// Backoff is an exponential delay profile with a cap.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay is min(Cap, Base*2^attempt) scaled by a jitter factor drawn from
// [0.5, 1.0). rnd returns values in [0, 1); nil means no jitter.
func (b Backoff) Delay(attempt int, rnd func() float64) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	attempt = max(attempt, 0)
	raw := float64(b.Base) * math.Pow(2, float64(attempt))
	if b.Cap > 0 && raw > float64(b.Cap) {
		raw = float64(b.Cap)
	}
	factor := 1.0
	if rnd != nil {
		factor = 0.5 + 0.5*rnd()
	}
	return time.Duration(raw * factor)
}

type Config struct {
	// RetryMaxAttempts and RetryBackoff drive Execute.
	RetryMaxAttempts int
	RetryBackoff     Backoff

	// Engine calls through ExecuteWithFailover.
	EngineMaxAttempts    int
	RateLimitBackoff     Backoff
	TransientBackoff     Backoff
	FailoverAfterRetries int

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts: 3,
		RetryBackoff:     Backoff{Base: 100 * time.Millisecond, Cap: 400 * time.Millisecond},

		EngineMaxAttempts:    5,
		RateLimitBackoff:     Backoff{Base: 3 * time.Second, Cap: 90 * time.Second},
		TransientBackoff:     Backoff{Base: time.Second, Cap: 30 * time.Second},
		FailoverAfterRetries: 2,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	out.RetryBackoff = normalizeBackoff(out.RetryBackoff, def.RetryBackoff)
	if out.EngineMaxAttempts <= 0 {
		out.EngineMaxAttempts = def.EngineMaxAttempts
	}
	out.RateLimitBackoff = normalizeBackoff(out.RateLimitBackoff, def.RateLimitBackoff)
	out.TransientBackoff = normalizeBackoff(out.TransientBackoff, def.TransientBackoff)
	if out.FailoverAfterRetries <= 0 {
		out.FailoverAfterRetries = def.FailoverAfterRetries
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}

	return out
}

func normalizeBackoff(b, def Backoff) Backoff {
	if b.Base <= 0 {
		b.Base = def.Base
	}
	if b.Cap <= 0 {
		b.Cap = def.Cap
	}
	if b.Cap < b.Base {
		b.Cap = b.Base
	}
	return b
}
