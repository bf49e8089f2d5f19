// Package events publishes order lifecycle events to a message broker.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/storefront/api/internal/services"
)

// Envelope is the wire format shared by every broker. ID is unique per publish attempt so
// consumers can deduplicate redeliveries.
type Envelope struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	OrderID        string    `json:"orderId"`
	OrderNumber    string    `json:"orderNumber,omitempty"`
	Status         string    `json:"status,omitempty"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	PaymentStatus  string    `json:"paymentStatus,omitempty"`
	Total          string    `json:"total,omitempty"`
	Currency       string    `json:"currency,omitempty"`
	ActorID        string    `json:"actorId,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// NewEnvelope converts a service event into its wire form.
func NewEnvelope(event services.OrderEvent) Envelope {
	env := Envelope{
		ID:             uuid.NewString(),
		Type:           event.Type,
		OrderID:        event.OrderID,
		OrderNumber:    event.OrderNumber,
		Status:         string(event.Status),
		PreviousStatus: string(event.PreviousStatus),
		PaymentStatus:  string(event.PaymentStatus),
		Currency:       string(event.Currency),
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt.UTC(),
	}
	if !event.Total.IsZero() || event.Currency != "" {
		env.Total = event.Total.String()
	}
	return env
}

func (e Envelope) marshal() ([]byte, error) {
	return json.Marshal(e)
}

func (e Envelope) attributes() map[string]string {
	attrs := map[string]string{"eventId": e.ID, "type": e.Type, "orderId": e.OrderID}
	if e.OrderNumber != "" {
		attrs["orderNumber"] = e.OrderNumber
	}
	return attrs
}
