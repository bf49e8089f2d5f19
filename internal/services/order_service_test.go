package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories/memory"
)

func newOrderFixture(t *testing.T) (OrderService, *memory.Registry, *testClock, *recordingPublisher) {
	t.Helper()
	reg := memory.NewRegistry(nil)
	clock := newTestClock(time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC))
	publisher := &recordingPublisher{}
	svc, err := NewOrderService(OrderServiceDeps{Orders: reg.Orders(), Events: publisher, Clock: clock.Now})
	if err != nil {
		t.Fatalf("unexpected error constructing order service: %v", err)
	}
	return svc, reg, clock, publisher
}

func seedOrder(t *testing.T, reg *memory.Registry, id string, mutate func(*domain.Order)) domain.Order {
	t.Helper()
	order := domain.Order{
		ID:            id,
		OrderNumber:   "ORD240201" + fmt.Sprintf("%04d", len(id)),
		UserID:        testUser.ID,
		Currency:      domain.CurrencyUSD,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Total:         decimal.RequireFromString("12.00"),
		CreatedAt:     time.Date(2024, 2, 1, 7, 0, 0, 0, time.UTC),
	}
	if mutate != nil {
		mutate(&order)
	}
	if err := reg.Orders().Insert(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func TestCanTransitionTable(t *testing.T) {
	allowed := map[domain.OrderStatus][]domain.OrderStatus{
		domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
		domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
		domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusRefunded},
		domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusRefunded},
		domain.OrderStatusDelivered:  {domain.OrderStatusRefunded},
		domain.OrderStatusCancelled:  {domain.OrderStatusRefunded},
		domain.OrderStatusRefunded:   nil,
	}
	all := []domain.OrderStatus{
		domain.OrderStatusPending, domain.OrderStatusConfirmed, domain.OrderStatusProcessing, domain.OrderStatusShipped,
		domain.OrderStatusDelivered, domain.OrderStatusCancelled, domain.OrderStatusRefunded,
	}
	for _, from := range all {
		for _, to := range all {
			want := false
			for _, candidate := range allowed[from] {
				if candidate == to {
					want = true
				}
			}
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestOrderServiceUpdateStatusHappyPath(t *testing.T) {
	svc, reg, clock, publisher := newOrderFixture(t)
	ctx := context.Background()
	seedOrder(t, reg, "o1", nil)

	steps := []domain.OrderStatus{
		domain.OrderStatusConfirmed,
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	}
	var order domain.Order
	for _, status := range steps {
		clock.Advance(time.Hour)
		var err error
		order, err = svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "o1", Status: status, ActorID: "staff-1", TrackingNumber: "VN123"})
		if err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}
	if order.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected delivered, got %s", order.Status)
	}
	if order.ConfirmedAt == nil || order.ProcessingAt == nil || order.ShippedAt == nil || order.DeliveredAt == nil {
		t.Fatalf("expected every stage timestamp set, got %+v", order)
	}
	if !order.DeliveredAt.After(*order.ConfirmedAt) {
		t.Fatalf("expected timestamps to advance")
	}
	if order.TrackingNumber != "VN123" {
		t.Fatalf("expected tracking number recorded, got %q", order.TrackingNumber)
	}
	if got := publisher.types(); len(got) != 4 || got[0] != OrderEventStatusChanged {
		t.Fatalf("expected four status events, got %v", got)
	}
	if publisher.events[0].PreviousStatus != domain.OrderStatusPending {
		t.Fatalf("expected previous status pending, got %s", publisher.events[0].PreviousStatus)
	}
}

func TestOrderServiceUpdateStatusRejectsInvalidTransitions(t *testing.T) {
	svc, reg, _, publisher := newOrderFixture(t)
	ctx := context.Background()
	seedOrder(t, reg, "o1", nil)

	cases := []domain.OrderStatus{domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusPending}
	for _, target := range cases {
		_, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "o1", Status: target})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("pending -> %s: expected ErrInvalidTransition, got %v", target, err)
		}
	}
	if _, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "o1", Status: "lost"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown status, got %v", err)
	}
	if _, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "missing", Status: domain.OrderStatusConfirmed}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	stored, err := reg.Orders().FindByID(ctx, "o1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Status != domain.OrderStatusPending || stored.Version != 1 {
		t.Fatalf("rejected transitions must not write, got %s v%d", stored.Status, stored.Version)
	}
	if len(publisher.types()) != 0 {
		t.Fatalf("no events expected")
	}
}

func TestOrderServiceRefundFromAnyNonTerminalStatus(t *testing.T) {
	svc, reg, _, _ := newOrderFixture(t)
	ctx := context.Background()
	seedOrder(t, reg, "o1", func(o *domain.Order) { o.Status = domain.OrderStatusCancelled })

	order, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "o1", Status: domain.OrderStatusRefunded})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.RefundedAt == nil {
		t.Fatalf("expected refunded timestamp")
	}
	if _, err := svc.UpdateStatus(ctx, UpdateOrderStatusCommand{OrderID: "o1", Status: domain.OrderStatusConfirmed}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("refunded is terminal, got %v", err)
	}
}

func TestOrderServiceCancel(t *testing.T) {
	svc, reg, _, publisher := newOrderFixture(t)
	ctx := context.Background()
	seedOrder(t, reg, "o1", nil)
	seedOrder(t, reg, "o22", func(o *domain.Order) { o.Status = domain.OrderStatusShipped })

	owner := OrderViewer{Identity: testUser}
	order, err := svc.Cancel(ctx, CancelOrderCommand{OrderID: "o1", Reason: "changed my mind", Viewer: owner})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled || order.CancelledAt == nil {
		t.Fatalf("expected cancelled order, got %+v", order)
	}
	if order.CancellationReason != "changed my mind" || order.CancelledBy != testUser.String() {
		t.Fatalf("unexpected cancellation metadata %q %q", order.CancellationReason, order.CancelledBy)
	}
	if got := publisher.types(); len(got) != 1 || got[0] != OrderEventCancelled {
		t.Fatalf("expected order.cancelled event, got %v", got)
	}

	_, err = svc.Cancel(ctx, CancelOrderCommand{OrderID: "o22", Viewer: owner})
	if !errors.Is(err, ErrCannotCancel) || !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrCannotCancel, got %v", err)
	}

	seedOrder(t, reg, "o333", nil)
	stranger := OrderViewer{Identity: domain.UserIdentity("someone-else")}
	if _, err := svc.Cancel(ctx, CancelOrderCommand{OrderID: "o333", Viewer: stranger}); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied for stranger, got %v", err)
	}
	untouched, err := reg.Orders().FindByID(ctx, "o333")
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if untouched.Status != domain.OrderStatusPending {
		t.Fatalf("stranger must not cancel the order, got %s", untouched.Status)
	}
	if got := publisher.types(); len(got) != 1 {
		t.Fatalf("expected no further events, got %v", got)
	}
	if _, err := svc.Cancel(ctx, CancelOrderCommand{OrderID: "missing", Viewer: owner}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing order, got %v", err)
	}
}

func TestOrderServiceUpdatePaymentStatus(t *testing.T) {
	svc, reg, clock, publisher := newOrderFixture(t)
	ctx := context.Background()
	seedOrder(t, reg, "o1", nil)

	order, err := svc.UpdatePaymentStatus(ctx, UpdatePaymentStatusCommand{OrderID: "o1", Status: domain.PaymentStatusFailed, Details: map[string]string{"code": "card_declined"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusFailed || order.PaymentDate != nil {
		t.Fatalf("unexpected payment state %+v", order)
	}
	if len(order.PaymentDetails) != 0 {
		t.Fatalf("failed payment must not record details, got %v", order.PaymentDetails)
	}

	clock.Advance(time.Minute)
	order, err = svc.UpdatePaymentStatus(ctx, UpdatePaymentStatusCommand{OrderID: "o1", Status: domain.PaymentStatusPaid, Details: map[string]string{"txn": "T-1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.PaymentDate == nil || !order.PaymentDate.Equal(clock.Now()) {
		t.Fatalf("expected payment date stamped, got %v", order.PaymentDate)
	}
	if len(order.PaymentDetails) != 1 || order.PaymentDetails["txn"] != "T-1" {
		t.Fatalf("expected only paid details recorded, got %v", order.PaymentDetails)
	}

	repeat, err := svc.UpdatePaymentStatus(ctx, UpdatePaymentStatusCommand{OrderID: "o1", Status: domain.PaymentStatusPaid})
	if err != nil {
		t.Fatalf("repeated status must be a no-op, got %v", err)
	}
	if repeat.Version != order.Version {
		t.Fatalf("repeated status must not write, version %d -> %d", order.Version, repeat.Version)
	}
	if got := publisher.types(); len(got) != 2 {
		t.Fatalf("expected two payment events, got %v", got)
	}

	if _, err := svc.UpdatePaymentStatus(ctx, UpdatePaymentStatusCommand{OrderID: "o1", Status: domain.PaymentStatusPending}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("paid -> pending must be rejected, got %v", err)
	}
	if _, err := svc.UpdatePaymentStatus(ctx, UpdatePaymentStatusCommand{OrderID: "o1", Status: domain.PaymentStatusRefunded}); err != nil {
		t.Fatalf("paid -> refunded: %v", err)
	}
}

func TestOrderServiceGetOrderVisibility(t *testing.T) {
	svc, reg, _, _ := newOrderFixture(t)
	ctx := context.Background()
	seedOrder(t, reg, "user-order", nil)
	seedOrder(t, reg, "guest-order", func(o *domain.Order) {
		o.UserID = ""
		o.GuestID = testGuest.ID
		o.GuestEmail = "guest@example.com"
	})

	cases := []struct {
		name    string
		orderID string
		viewer  OrderViewer
		visible bool
	}{
		{name: "owner", orderID: "user-order", viewer: OrderViewer{Identity: testUser}, visible: true},
		{name: "other user", orderID: "user-order", viewer: OrderViewer{Identity: domain.UserIdentity("u2")}, visible: false},
		{name: "staff", orderID: "user-order", viewer: OrderViewer{Privileged: true}, visible: true},
		{name: "guest token", orderID: "guest-order", viewer: OrderViewer{Identity: testGuest}, visible: true},
		{name: "guest email", orderID: "guest-order", viewer: OrderViewer{Identity: domain.GuestIdentity("ffffffffffffffffffffffffffffffff"), Email: "GUEST@example.com"}, visible: true},
		{name: "wrong email", orderID: "guest-order", viewer: OrderViewer{Email: "other@example.com"}, visible: false},
		{name: "email cannot read user order", orderID: "user-order", viewer: OrderViewer{Email: "guest@example.com"}, visible: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.GetOrder(ctx, tc.orderID, tc.viewer)
			if tc.visible && err != nil {
				t.Fatalf("expected visible, got %v", err)
			}
			if !tc.visible && !errors.Is(err, ErrAccessDenied) {
				t.Fatalf("expected ErrAccessDenied, got %v", err)
			}
		})
	}
}

func TestOrderServiceListUserOrdersPaginates(t *testing.T) {
	svc, reg, _, _ := newOrderFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		i := i
		seedOrder(t, reg, fmt.Sprintf("o%d", i), func(o *domain.Order) {
			o.OrderNumber = fmt.Sprintf("ORD240201%04d", i+1)
			o.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		})
	}
	seedOrder(t, reg, "other", func(o *domain.Order) { o.UserID = "u2"; o.OrderNumber = "ORD2402019999" })

	first, err := svc.ListUserOrders(ctx, testUser.ID, domain.Pagination{PageSize: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first.Items) != 3 || first.Items[0].ID != "o4" || first.NextPageToken == "" {
		t.Fatalf("unexpected first page %+v", first)
	}
	second, err := svc.ListUserOrders(ctx, testUser.ID, domain.Pagination{PageSize: 3, PageToken: first.NextPageToken})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second.Items) != 2 || second.Items[1].ID != "o0" || second.NextPageToken != "" {
		t.Fatalf("unexpected second page %+v", second)
	}

	if _, err := svc.ListGuestOrders(ctx, "not-an-email", "", domain.Pagination{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := svc.ListUserOrders(ctx, testUser.ID, domain.Pagination{PageToken: "%%%"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for a garbled token, got %v", err)
	}
}

func TestOrderServiceListGuestOrdersPaginatesWithinGuestToken(t *testing.T) {
	svc, reg, _, _ := newOrderFixture(t)
	ctx := context.Background()
	other := domain.GuestIdentity("ffffffffffffffffffffffffffffffff")
	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		i := i
		seedOrder(t, reg, fmt.Sprintf("g%d", i), func(o *domain.Order) {
			o.UserID = ""
			o.GuestID = testGuest.ID
			if i%2 == 1 {
				o.GuestID = other.ID
			}
			o.GuestEmail = "shared@example.com"
			o.OrderNumber = fmt.Sprintf("ORD240201%04d", i+1)
			o.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		})
	}

	first, err := svc.ListGuestOrders(ctx, "Shared@Example.com", testGuest.ID, domain.Pagination{PageSize: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first.Items) != 2 || first.Items[0].ID != "g4" || first.Items[1].ID != "g2" || first.NextPageToken == "" {
		t.Fatalf("unexpected first page %+v", first)
	}
	second, err := svc.ListGuestOrders(ctx, "shared@example.com", testGuest.ID, domain.Pagination{PageSize: 2, PageToken: first.NextPageToken})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].ID != "g0" || second.NextPageToken != "" {
		t.Fatalf("unexpected second page %+v", second)
	}

	all, err := svc.ListGuestOrders(ctx, "shared@example.com", "", domain.Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all.Items) != 6 {
		t.Fatalf("expected every order for the email, got %d", len(all.Items))
	}
}
