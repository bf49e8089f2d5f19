package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const metricNamespace = "github.com/storefront/api/internal/services"

// Metrics holds the counters recorded by the cart and order services. The zero value records
// nothing.
type Metrics struct {
	cartMutations    metric.Int64Counter
	ordersCreated    metric.Int64Counter
	orderTransitions metric.Int64Counter
}

// NewMetrics registers instruments on meter, or on the global provider when meter is nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	cartMutations, err := meter.Int64Counter(
		"storefront.cart.mutations",
		metric.WithDescription("Cart mutations by operation and outcome"),
	)
	if err != nil {
		return nil, err
	}
	ordersCreated, err := meter.Int64Counter(
		"storefront.orders.created",
		metric.WithDescription("Orders created by checkout source"),
	)
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter(
		"storefront.orders.transitions",
		metric.WithDescription("Order status and payment transitions"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{
		cartMutations:    cartMutations,
		ordersCreated:    ordersCreated,
		orderTransitions: transitions,
	}, nil
}

func (m *Metrics) cartMutation(ctx context.Context, op string, err error) {
	if m == nil || m.cartMutations == nil {
		return
	}
	m.cartMutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome(err)),
	))
}

func (m *Metrics) orderCreated(ctx context.Context, source string) {
	if m == nil || m.ordersCreated == nil {
		return
	}
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *Metrics) orderTransition(ctx context.Context, axis, to string) {
	if m == nil || m.orderTransitions == nil {
		return
	}
	m.orderTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("axis", axis),
		attribute.String("to", to),
	))
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
