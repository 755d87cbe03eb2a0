package processing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
)

// Subscriber receives progress events. ID must be stable for the subscriber's lifetime.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, event domain.ProgressEvent) error
}

// Broadcaster delivers progress events to every live subscriber, best effort.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]Subscriber
	order  []string
	logger *slog.Logger
}

func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:   make(map[string]Subscriber),
		logger: logger,
	}
}

func (b *Broadcaster) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.ID()]; !ok {
		b.order = append(b.order, sub.ID())
	}
	b.subs[sub.ID()] = sub
}

func (b *Broadcaster) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := sub.ID()
	if _, ok := b.subs[id]; !ok {
		return
	}
	delete(b.subs, id)
	for i, existing := range b.order {
		if existing == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Broadcast sends event to a snapshot of the current subscribers.
// Delivery errors are logged and never returned.
func (b *Broadcaster) Broadcast(ctx context.Context, event domain.ProgressEvent) {
	b.mu.RLock()
	snapshot := make([]Subscriber, 0, len(b.order))
	for _, id := range b.order {
		snapshot = append(snapshot, b.subs[id])
	}
	b.mu.RUnlock()

	for _, sub := range snapshot {
		if err := b.deliver(ctx, sub, event); err != nil {
			b.logger.Warn("progress_broadcast_failed",
				"subscriber_id", sub.ID(),
				"session_id", event.SessionID,
				"event_type", event.Type,
				"error", err,
			)
		}
	}
}

func (b *Broadcaster) deliver(ctx context.Context, sub Subscriber, event domain.ProgressEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return sub.Send(ctx, event)
}
