package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrTemporary       = errors.New("temporary failure")
	ErrNotFound        = errors.New("not found")
	ErrToolNotFound    = errors.New("tool not found")
	ErrEngineExhausted = errors.New("decision engine exhausted")
	ErrCancelled       = errors.New("cancelled")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ErrorKind classifies decision-engine failures for the retry/failover decision.
type ErrorKind int

const (
	KindFatal ErrorKind = iota
	KindAuth
	KindRateLimit
	KindTransient
	KindMalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindTransient:
		return "transient"
	case KindMalformedResponse:
		return "malformed_response"
	default:
		return "fatal"
	}
}

// EngineError is returned by decision engine adapters.
type EngineError struct {
	Kind     ErrorKind
	Endpoint string
	Op       string
	Err      error
}

func (e *EngineError) Error() string {
	if e == nil {
		return "engine error"
	}
	if e.Endpoint == "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s: %v", e.Op, e.Endpoint, e.Kind, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func NewEngineError(kind ErrorKind, endpoint, op string, err error) *EngineError {
	return &EngineError{Kind: kind, Endpoint: endpoint, Op: op, Err: err}
}

// KindOf extracts the ErrorKind carried by err. Context errors and untyped
// errors are fatal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindFatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindFatal
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Kind
	}
	if errors.Is(err, ErrUnauthorized) {
		return KindAuth
	}
	if errors.Is(err, ErrTemporary) {
		return KindTransient
	}
	return KindFatal
}
