package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/core/ports"
)

const (
	callbackQueueSize       = 64
	callbackDeliveryTimeout = time.Minute
)

var (
	errCallbackQueueFull = errors.New("callback queue full")
	errCallbackClosed    = errors.New("callback subscriber closed")
)

// CallbackSubscriber forwards terminal events to the session's callback URL.
// Delivery runs on its own goroutine so a slow client endpoint never holds a
// pool worker.
type CallbackSubscriber struct {
	sessions ports.SessionStore
	notifier ports.CallbackNotifier
	logger   *slog.Logger

	mu      sync.Mutex
	closed  bool
	pending chan domain.ProgressEvent
	done    chan struct{}
}

func NewCallbackSubscriber(sessions ports.SessionStore, notifier ports.CallbackNotifier, logger *slog.Logger) *CallbackSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	s := &CallbackSubscriber{
		sessions: sessions,
		notifier: notifier,
		logger:   logger,
		pending:  make(chan domain.ProgressEvent, callbackQueueSize),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *CallbackSubscriber) ID() string { return "callback-notifier" }

// Send queues terminal events and returns immediately.
func (s *CallbackSubscriber) Send(_ context.Context, event domain.ProgressEvent) error {
	if !event.Terminal() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errCallbackClosed
	}
	select {
	case s.pending <- event:
		return nil
	default:
		return errCallbackQueueFull
	}
}

// Close stops accepting events and waits until queued callbacks are delivered.
func (s *CallbackSubscriber) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.pending)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *CallbackSubscriber) run() {
	defer close(s.done)
	for event := range s.pending {
		ctx, cancel := context.WithTimeout(context.Background(), callbackDeliveryTimeout)
		if err := s.deliver(ctx, event); err != nil {
			s.logger.Warn("analysis_callback_failed", "session_id", event.SessionID, "event_type", event.Type, "error", err)
		}
		cancel()
	}
}

func (s *CallbackSubscriber) deliver(ctx context.Context, event domain.ProgressEvent) error {
	session, err := s.sessions.GetSession(ctx, event.SessionID)
	if err != nil {
		return err
	}
	if session.CallbackURL == "" {
		return nil
	}
	if err := s.notifier.Notify(ctx, session.CallbackURL, event); err != nil {
		return err
	}
	s.logger.Info("analysis_callback_delivered", "session_id", event.SessionID, "event_type", event.Type)
	return nil
}
