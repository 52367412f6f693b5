package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/agent-orchestrator/internal/core/domain"
	"github.com/kirillkom/agent-orchestrator/internal/core/ports"
	"github.com/kirillkom/agent-orchestrator/internal/infrastructure/resilience"
)

const (
	queueGroup         = "orchestrators"
	defaultSource      = "nats"
	drainFlushTimeout  = 5 * time.Second
	defaultConnTimeout = 2 * time.Second
)

var (
	_ ports.ResponsePublisher = (*Queue)(nil)
	_ ports.MessageSubscriber = (*Queue)(nil)
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// Queue carries inbound session messages and outbound responses.
type Queue struct {
	conn     *nats.Conn
	pub      publisher
	inbound  string
	outbound string
	executor *resilience.Executor
}

type Options struct {
	InboundSubject  string
	OutboundSubject string

	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnTimeout
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("agent-orchestrator"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	q := newQueue(conn, options)
	q.conn = conn
	return q, nil
}

func newQueue(pub publisher, options Options) *Queue {
	inbound := strings.TrimSpace(options.InboundSubject)
	if inbound == "" {
		inbound = "agent.messages"
	}
	outbound := strings.TrimSpace(options.OutboundSubject)
	if outbound == "" {
		outbound = "agent.responses"
	}
	return &Queue{
		pub:      pub,
		inbound:  inbound,
		outbound: outbound,
		executor: options.ResilienceExecutor,
	}
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishResponse(ctx context.Context, resp domain.SessionResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "encode response", err)
	}
	call := func(_ context.Context) error {
		if err := q.pub.Publish(q.outbound, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubscribeMessages consumes the inbound subject in the orchestrators queue
// group until ctx is done, then drains the subscription.
func (q *Queue) SubscribeMessages(ctx context.Context, handler func(context.Context, ports.InboundMessage) error) error {
	if q.conn == nil {
		return domain.WrapError(domain.ErrInvalidInput, "nats subscribe", errors.New("queue is not connected"))
	}
	sub, err := q.conn.QueueSubscribe(q.inbound, queueGroup, func(msg *nats.Msg) {
		q.handle(ctx, msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	slog.Info("nats_subscribed", "subject", q.inbound, "queue_group", queueGroup)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(drainFlushTimeout); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) handle(ctx context.Context, data []byte, handler func(context.Context, ports.InboundMessage) error) {
	if ctx.Err() != nil {
		return
	}
	msg, err := decodeMessage(data)
	if err != nil {
		slog.Warn("nats_message_rejected", "subject", q.inbound, "error", err)
		return
	}

	handlerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := handler(handlerCtx, msg); err != nil {
		slog.Error("nats_message_failed", "session_id", msg.SessionID, "error", err)
	}
}

func decodeMessage(data []byte) (ports.InboundMessage, error) {
	var msg ports.InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ports.InboundMessage{}, domain.WrapError(domain.ErrInvalidInput, "decode message", err)
	}
	msg.SessionID = strings.TrimSpace(msg.SessionID)
	if msg.SessionID == "" {
		return ports.InboundMessage{}, domain.WrapError(domain.ErrInvalidInput, "decode message", errors.New("session_id is required"))
	}
	if strings.TrimSpace(msg.Text) == "" {
		return ports.InboundMessage{}, domain.WrapError(domain.ErrInvalidInput, "decode message", errors.New("text is required"))
	}
	if msg.Source == "" {
		msg.Source = defaultSource
	}
	return msg, nil
}
