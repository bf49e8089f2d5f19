package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/repositories"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxReasonLength      = 500
)

var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusRefunded},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusRefunded},
	domain.OrderStatusDelivered:  {domain.OrderStatusRefunded},
	domain.OrderStatusCancelled:  {domain.OrderStatusRefunded},
}

var paymentTransitions = map[domain.PaymentStatus][]domain.PaymentStatus{
	domain.PaymentStatusPending: {domain.PaymentStatusPaid, domain.PaymentStatusFailed},
	domain.PaymentStatusFailed:  {domain.PaymentStatusPending, domain.PaymentStatusPaid},
	domain.PaymentStatusPaid:    {domain.PaymentStatusRefunded},
}

// CanTransition reports whether an order may move from one status to another. Staying in the
// same status is never a transition.
func CanTransition(from, to domain.OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionPayment reports whether the payment axis may move between the two states.
func CanTransitionPayment(from, to domain.PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Cancellable reports whether a customer may still cancel an order in this status.
func Cancellable(status domain.OrderStatus) bool {
	return status == domain.OrderStatusPending || status == domain.OrderStatusConfirmed
}

// OrderServiceDeps wires the order repository and optional collaborators.
type OrderServiceDeps struct {
	Orders  repositories.OrderRepository
	Events  OrderEventPublisher
	Metrics *Metrics
	Clock   func() time.Time
	Logger  Logger
}

type orderService struct {
	orders  repositories.OrderRepository
	events  OrderEventPublisher
	metrics *Metrics
	now     func() time.Time
	logger  Logger
}

// NewOrderService validates dependencies and returns the order state machine.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &orderService{
		orders:  deps.Orders,
		events:  deps.Events,
		metrics: deps.Metrics,
		now:     func() time.Time { return clock().UTC() },
		logger:  logger,
	}, nil
}

// GetOrder loads an order visible to viewer. Orders owned by someone else fail with
// ErrAccessDenied.
func (s *orderService) GetOrder(ctx context.Context, orderID string, viewer OrderViewer) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, invalidFields("order id is required", "order_id")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, translateRepoError("order", orderID, err)
	}
	if !canView(order, viewer) {
		return domain.Order{}, fmt.Errorf("%w: order %s", ErrAccessDenied, orderID)
	}
	return order, nil
}

func (s *orderService) ListUserOrders(ctx context.Context, userID string, page domain.Pagination) (domain.CursorPage[domain.Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[domain.Order]{}, invalidFields("user id is required", "user_id")
	}
	return s.list(ctx, repositories.OrderListFilter{UserID: userID, Pagination: normalizePage(page)})
}

// ListGuestOrders finds orders placed with the given email address, matched case-insensitively.
func (s *orderService) ListGuestOrders(ctx context.Context, email, guestID string, page domain.Pagination) (domain.CursorPage[domain.Order], error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !looksLikeEmail(email) {
		return domain.CursorPage[domain.Order]{}, invalidFields("a valid email is required", "email")
	}
	return s.list(ctx, repositories.OrderListFilter{
		GuestEmail: email,
		GuestID:    strings.TrimSpace(guestID),
		Pagination: normalizePage(page),
	})
}

func (s *orderService) list(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if _, err := pagination.DecodeToken(filter.Pagination.PageToken); err != nil {
		return domain.CursorPage[domain.Order]{}, invalidFields("page token is invalid", "page_token")
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, translateRepoError("orders", filter.UserID+filter.GuestEmail, err)
	}
	return page, nil
}

// UpdateStatus moves an order along the fulfilment table and stamps the matching timestamp.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, invalidFields("order id is required", "order_id")
	}
	target, ok := domain.ParseOrderStatus(string(cmd.Status))
	if !ok {
		return domain.Order{}, invalidFields(fmt.Sprintf("unknown order status %q", cmd.Status), "status")
	}
	reason := truncateRunes(strings.TrimSpace(cmd.Reason), maxReasonLength)
	tracking := strings.TrimSpace(cmd.TrackingNumber)

	var previous domain.OrderStatus
	updated, err := s.orders.Mutate(ctx, orderID, func(order *domain.Order) error {
		previous = order.Status
		if !CanTransition(order.Status, target) {
			return fmt.Errorf("%w: order %s cannot move from %s to %s", ErrInvalidTransition, orderID, order.Status, target)
		}
		now := s.now()
		applyStatus(order, target, now)
		if target == domain.OrderStatusCancelled {
			order.CancelledBy = strings.TrimSpace(cmd.ActorID)
			order.CancellationReason = reason
		}
		if tracking != "" {
			order.TrackingNumber = tracking
		}
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Order{}, translateRepoError("order", orderID, err)
	}

	s.metrics.orderTransition(ctx, "status", string(target))
	eventType := OrderEventStatusChanged
	if target == domain.OrderStatusCancelled {
		eventType = OrderEventCancelled
	}
	s.emit(ctx, eventType, updated, previous, cmd.ActorID)
	return updated, nil
}

// UpdatePaymentStatus moves the payment axis. Repeating the current status is a no-op so
// provider retries are harmless.
func (s *orderService) UpdatePaymentStatus(ctx context.Context, cmd UpdatePaymentStatusCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, invalidFields("order id is required", "order_id")
	}
	target, ok := domain.ParsePaymentStatus(string(cmd.Status))
	if !ok {
		return domain.Order{}, invalidFields(fmt.Sprintf("unknown payment status %q", cmd.Status), "payment_status")
	}

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, translateRepoError("order", orderID, err)
	}
	if current.PaymentStatus == target {
		return current, nil
	}

	changed := false
	updated, err := s.orders.Mutate(ctx, orderID, func(order *domain.Order) error {
		changed = false
		if order.PaymentStatus == target {
			return nil
		}
		if !CanTransitionPayment(order.PaymentStatus, target) {
			return fmt.Errorf("%w: payment of order %s cannot move from %s to %s", ErrInvalidTransition, orderID, order.PaymentStatus, target)
		}
		now := s.now()
		order.PaymentStatus = target
		if target == domain.PaymentStatusPaid {
			paidAt := now
			order.PaymentDate = &paidAt
			if len(cmd.Details) > 0 && order.PaymentDetails == nil {
				order.PaymentDetails = make(map[string]string, len(cmd.Details))
			}
			for key, value := range cmd.Details {
				order.PaymentDetails[key] = value
			}
		}
		order.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return domain.Order{}, translateRepoError("order", orderID, err)
	}
	if !changed {
		return updated, nil
	}

	s.metrics.orderTransition(ctx, "payment", string(target))
	s.emit(ctx, OrderEventPaymentStatusChanged, updated, updated.Status, cmd.ActorID)
	return updated, nil
}

// Cancel lets the owner, or a privileged actor, cancel an order that has not started processing.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, invalidFields("order id is required", "order_id")
	}
	reason := truncateRunes(strings.TrimSpace(cmd.Reason), maxReasonLength)
	actor := cmd.Viewer.Identity.String()
	if cmd.Viewer.Privileged && !cmd.Viewer.Identity.Valid() {
		actor = "staff"
	}

	var previous domain.OrderStatus
	updated, err := s.orders.Mutate(ctx, orderID, func(order *domain.Order) error {
		if !canView(*order, cmd.Viewer) {
			return fmt.Errorf("%w: order %s", ErrAccessDenied, orderID)
		}
		previous = order.Status
		if !Cancellable(order.Status) {
			return fmt.Errorf("%w: order %s is %s", ErrCannotCancel, orderID, order.Status)
		}
		now := s.now()
		applyStatus(order, domain.OrderStatusCancelled, now)
		order.CancelledBy = actor
		order.CancellationReason = reason
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Order{}, translateRepoError("order", orderID, err)
	}

	s.metrics.orderTransition(ctx, "status", string(domain.OrderStatusCancelled))
	s.emit(ctx, OrderEventCancelled, updated, previous, actor)
	return updated, nil
}

func (s *orderService) emit(ctx context.Context, eventType string, order domain.Order, previous domain.OrderStatus, actorID string) {
	s.logger(ctx, eventType, map[string]any{
		"orderId":        order.ID,
		"status":         string(order.Status),
		"previousStatus": string(previous),
		"paymentStatus":  string(order.PaymentStatus),
		"actorId":        actorID,
	})
	if s.events == nil {
		return
	}
	err := s.events.PublishOrderEvent(ctx, OrderEvent{
		Type:           eventType,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         order.Status,
		PreviousStatus: previous,
		PaymentStatus:  order.PaymentStatus,
		Total:          order.Total,
		Currency:       order.Currency,
		ActorID:        actorID,
		OccurredAt:     order.UpdatedAt,
	})
	if err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{"orderId": order.ID, "type": eventType, "error": err.Error()})
	}
}

// applyStatus sets the status and the timestamp belonging to it.
func applyStatus(order *domain.Order, status domain.OrderStatus, now time.Time) {
	order.Status = status
	stamp := now
	switch status {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &stamp
	case domain.OrderStatusProcessing:
		order.ProcessingAt = &stamp
	case domain.OrderStatusShipped:
		order.ShippedAt = &stamp
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &stamp
	case domain.OrderStatusCancelled:
		order.CancelledAt = &stamp
	case domain.OrderStatusRefunded:
		order.RefundedAt = &stamp
	}
}

func canView(order domain.Order, viewer OrderViewer) bool {
	if viewer.Privileged {
		return true
	}
	id := viewer.Identity
	switch {
	case id.IsUser() && order.UserID != "":
		return order.UserID == id.ID
	case id.IsGuest() && order.GuestID == id.ID:
		return true
	}
	email := strings.ToLower(strings.TrimSpace(viewer.Email))
	return email != "" && order.UserID == "" && strings.EqualFold(order.GuestEmail, email)
}

func normalizePage(page domain.Pagination) domain.Pagination {
	switch {
	case page.PageSize <= 0:
		page.PageSize = defaultOrderPageSize
	case page.PageSize > maxOrderPageSize:
		page.PageSize = maxOrderPageSize
	}
	page.PageToken = strings.TrimSpace(page.PageToken)
	return page
}

func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
