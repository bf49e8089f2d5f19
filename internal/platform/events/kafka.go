package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/storefront/api/internal/services"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes order events keyed by order id, so every event of an order lands on
// the same partition in order.
type KafkaPublisher struct {
	writer messageWriter
}

var _ services.OrderEventPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher builds a writer for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka order publisher: brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka order publisher: topic is required")
	}
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}}, nil
}

func (p *KafkaPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	env := NewEnvelope(event)
	data, err := env.marshal()
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	headers := make([]kafka.Header, 0, 3)
	for key, value := range env.attributes() {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(env.OrderID),
		Value:   data,
		Headers: headers,
		Time:    env.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
