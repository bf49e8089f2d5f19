package events

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/storefront/api/internal/services"
)

// PubSubPublisher publishes order events to a Pub/Sub topic. Messages share the order id as
// ordering key when the topic has message ordering enabled.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

var _ services.OrderEventPublisher = (*PubSubPublisher)(nil)

// NewPubSubPublisher constructs a Pub/Sub backed publisher.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	return &PubSubPublisher{topic: topic}, nil
}

// PublishOrderEvent blocks until the broker acknowledges the message.
func (p *PubSubPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	env := NewEnvelope(event)
	data, err := env.marshal()
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: env.attributes()}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = env.OrderID
	}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return nil
}
