package nats

import (
	"context"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/core/ports"
)

// RelaySubscriber forwards broadcast progress events to the bus.
type RelaySubscriber struct {
	publisher ports.EventPublisher
}

func NewRelaySubscriber(publisher ports.EventPublisher) *RelaySubscriber {
	return &RelaySubscriber{publisher: publisher}
}

func (r *RelaySubscriber) ID() string { return "nats-relay" }

func (r *RelaySubscriber) Send(ctx context.Context, event domain.ProgressEvent) error {
	return r.publisher.PublishProgress(ctx, event)
}
