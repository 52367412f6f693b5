package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
	"github.com/kirillkom/agent-orchestrator/internal/core/ports"
	"github.com/kirillkom/agent-orchestrator/internal/infrastructure/resilience"
)

type fakePublisher struct {
	errs    []error
	calls   int
	subject string
	data    []byte
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	f.subject = subject
	f.data = data
	return nil
}

func testExecutor() *resilience.Executor {
	cfg := resilience.DefaultConfig()
	cfg.RetryMaxAttempts = 3
	cfg.RetryBackoff = resilience.Backoff{Base: time.Millisecond, Cap: 2 * time.Millisecond}
	cfg.BreakerEnabled = false
	return resilience.NewExecutor(cfg)
}

func TestPublishResponseEncodesJSON(t *testing.T) {
	pub := &fakePublisher{}
	q := newQueue(pub, Options{OutboundSubject: "out.responses"})
	resp := domain.SessionResponse{SessionID: "s1", RunID: "run-1", Text: "done", Outcome: domain.RunFinal}

	if err := q.PublishResponse(context.Background(), resp); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if pub.subject != "out.responses" {
		t.Fatalf("unexpected subject %q", pub.subject)
	}
	var got map[string]any
	if err := json.Unmarshal(pub.data, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got["session_id"] != "s1" || got["text"] != "done" || got["run_id"] != "run-1" {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestPublishResponseRetriesConnectionErrors(t *testing.T) {
	pub := &fakePublisher{errs: []error{nats.ErrTimeout, nats.ErrDisconnected}}
	q := newQueue(pub, Options{ResilienceExecutor: testExecutor()})

	if err := q.PublishResponse(context.Background(), domain.SessionResponse{SessionID: "s1"}); err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if pub.calls != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", pub.calls)
	}
	if pub.subject != "agent.responses" {
		t.Fatalf("expected default subject, got %q", pub.subject)
	}
}

func TestPublishResponseMarksExhaustedRetriesTemporary(t *testing.T) {
	pub := &fakePublisher{errs: []error{nats.ErrNoServers, nats.ErrNoServers, nats.ErrNoServers}}
	q := newQueue(pub, Options{ResilienceExecutor: testExecutor()})

	err := q.PublishResponse(context.Background(), domain.SessionResponse{SessionID: "s1"})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
}

func TestPublishResponseDoesNotRetryPermanentErrors(t *testing.T) {
	pub := &fakePublisher{errs: []error{nats.ErrMaxPayload}}
	q := newQueue(pub, Options{ResilienceExecutor: testExecutor()})

	err := q.PublishResponse(context.Background(), domain.SessionResponse{SessionID: "s1"})
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if pub.calls != 1 {
		t.Fatalf("expected one attempt, got %d", pub.calls)
	}
}

func TestHandleDecodesAndDispatches(t *testing.T) {
	q := newQueue(&fakePublisher{}, Options{})
	var got []ports.InboundMessage
	handler := func(_ context.Context, msg ports.InboundMessage) error {
		got = append(got, msg)
		return errors.New("ignored")
	}

	q.handle(context.Background(), []byte(`{"session_id":" chat-1 ","text":"hello"}`), handler)
	q.handle(context.Background(), []byte(`{"session_id":"chat-1","text":"hi","source":"telegram"}`), handler)
	q.handle(context.Background(), []byte(`not json`), handler)
	q.handle(context.Background(), []byte(`{"text":"no session"}`), handler)
	q.handle(context.Background(), []byte(`{"session_id":"chat-1","text":"  "}`), handler)

	if len(got) != 2 {
		t.Fatalf("expected 2 dispatched messages, got %+v", got)
	}
	if got[0].SessionID != "chat-1" || got[0].Source != "nats" {
		t.Fatalf("unexpected first message %+v", got[0])
	}
	if got[1].Source != "telegram" {
		t.Fatalf("expected source kept, got %+v", got[1])
	}
}

func TestHandleSkipsAfterCancel(t *testing.T) {
	q := newQueue(&fakePublisher{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	q.handle(ctx, []byte(`{"session_id":"s","text":"x"}`), func(context.Context, ports.InboundMessage) error {
		called = true
		return nil
	})
	if called {
		t.Fatalf("expected handler skipped after cancel")
	}
}

func TestSubscribeRequiresConnection(t *testing.T) {
	q := newQueue(&fakePublisher{}, Options{})
	err := q.SubscribeMessages(context.Background(), func(context.Context, ports.InboundMessage) error { return nil })
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{"nil", nil, false, false},
		{"cancelled", context.Canceled, false, false},
		{"timeout", nats.ErrTimeout, true, true},
		{"wrapped no servers", errors.Join(errors.New("publish"), nats.ErrNoServers), true, true},
		{"bad subject", nats.ErrBadSubject, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyNATSError(tc.err)
			if got.Retryable != tc.retryable || got.RecordFailure != tc.record {
				t.Fatalf("classification = %+v", got)
			}
		})
	}
}
