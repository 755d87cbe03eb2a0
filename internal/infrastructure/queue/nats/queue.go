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

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/resilience"
)

const workerQueueGroup = "analysis-workers"

// Bus carries analysis submissions to worker nodes and relays progress
// events back out.
type Bus struct {
	conn            *nats.Conn
	requestsSubject string
	eventsSubject   string
	executor        *resilience.Executor
	logger          *slog.Logger
}

type Options struct {
	RequestsSubject      string
	EventsSubject        string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url string, options Options) (*Bus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
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
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if options.RequestsSubject == "" {
		options.RequestsSubject = "analysis.requests"
	}
	if options.EventsSubject == "" {
		options.EventsSubject = "analysis.events"
	}

	conn, err := nats.Connect(
		url,
		nats.Name("proposal-compliance"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{
		conn:            conn,
		requestsSubject: options.RequestsSubject,
		eventsSubject:   options.EventsSubject,
		executor:        options.ResilienceExecutor,
		logger:          logger,
	}, nil
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// Connected is used by the health endpoint.
func (b *Bus) Connected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

type requestEnvelope struct {
	SessionID string                 `json:"session_id"`
	Request   domain.AnalysisRequest `json:"request"`
	SentAt    time.Time              `json:"sent_at"`
}

func encodeRequest(sessionID string, req domain.AnalysisRequest, now time.Time) ([]byte, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id is required", domain.ErrInvalidInput)
	}
	return json.Marshal(requestEnvelope{SessionID: sessionID, Request: req, SentAt: now.UTC()})
}

func decodeRequest(data []byte) (requestEnvelope, error) {
	var env requestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: decode analysis request: %v", domain.ErrInvalidInput, err)
	}
	if env.SessionID == "" {
		return env, fmt.Errorf("%w: analysis request without session id", domain.ErrInvalidInput)
	}
	return env, nil
}

// progressSubject scopes events per session so consumers can filter with a
// wildcard.
func progressSubject(base, sessionID string) string {
	return base + "." + sessionID
}

func (b *Bus) PublishAnalysisRequest(ctx context.Context, sessionID string, req domain.AnalysisRequest) error {
	payload, err := encodeRequest(sessionID, req, time.Now())
	if err != nil {
		return err
	}
	return b.publish(ctx, "nats.publish_request", b.requestsSubject, payload)
}

func (b *Bus) PublishProgress(ctx context.Context, event domain.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	return b.publish(ctx, "nats.publish_progress", progressSubject(b.eventsSubject, event.SessionID), payload)
}

func (b *Bus) publish(ctx context.Context, operation, subject string, payload []byte) error {
	call := func(_ context.Context) error {
		if err := b.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	var err error
	if b.executor != nil {
		err = b.executor.Execute(ctx, operation, call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return publishFailure(operation, err)
	}
	return nil
}

// SubscribeAnalysisRequests delivers each request to one worker in the
// queue group and blocks until ctx is done.
func (b *Bus) SubscribeAnalysisRequests(ctx context.Context, handler func(context.Context, string, domain.AnalysisRequest) error) error {
	return b.consume(ctx, b.requestsSubject, workerQueueGroup, func(msg *nats.Msg) {
		env, err := decodeRequest(msg.Data)
		if err != nil {
			b.logger.Warn("nats_request_dropped", "error", err)
			return
		}
		if err := handler(ctx, env.SessionID, env.Request); err != nil {
			b.logger.Error("nats_request_handler_failed", "session_id", env.SessionID, "error", err)
		}
	})
}

// SubscribeProgress relays events from every worker node and blocks until
// ctx is done.
func (b *Bus) SubscribeProgress(ctx context.Context, handler func(context.Context, domain.ProgressEvent)) error {
	return b.consume(ctx, progressSubject(b.eventsSubject, "*"), "", func(msg *nats.Msg) {
		var event domain.ProgressEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Warn("nats_progress_dropped", "subject", msg.Subject, "error", err)
			return
		}
		handler(ctx, event)
	})
}

func (b *Bus) consume(ctx context.Context, subject, group string, handle func(*nats.Msg)) error {
	callback := func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		handle(msg)
	}

	var (
		sub *nats.Subscription
		err error
	)
	if group != "" {
		sub, err = b.conn.QueueSubscribe(subject, group, callback)
	} else {
		sub, err = b.conn.Subscribe(subject, callback)
	}
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
