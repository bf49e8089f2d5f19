package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/services"
)

func sampleEvent() services.OrderEvent {
	return services.OrderEvent{
		Type:           services.OrderEventStatusChanged,
		OrderID:        "01HQORDER",
		OrderNumber:    "ORD2403010001",
		Status:         domain.OrderStatusConfirmed,
		PreviousStatus: domain.OrderStatusPending,
		PaymentStatus:  domain.PaymentStatusPaid,
		Total:          decimal.RequireFromString("25.50"),
		Currency:       domain.CurrencyUSD,
		ActorID:        "staff-1",
		OccurredAt:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestPubSubPublisherPublishesEnvelope(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubPublisher: %v", err)
	}
	defer publisher.Close()

	if err := publisher.PublishOrderEvent(ctx, sampleEvent()); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload Envelope
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ID == "" || payload.Type != services.OrderEventStatusChanged || payload.OrderID != "01HQORDER" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.Total != "25.5" || payload.PreviousStatus != "pending" {
		t.Fatalf("unexpected amounts or statuses %#v", payload)
	}
	if attr := messages[0].Attributes["eventId"]; attr != payload.ID {
		t.Fatalf("expected event id attribute %q, got %q", payload.ID, attr)
	}
	if attr := messages[0].Attributes["orderNumber"]; attr != "ORD2403010001" {
		t.Fatalf("expected order number attribute, got %q", attr)
	}
}

func TestNewPubSubPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
