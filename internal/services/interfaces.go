package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront/api/internal/domain"
)

// Logger receives structured service events. Nil loggers are replaced with a no-op.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// CartService owns cart state for users and guests.
type CartService interface {
	GetOrCreate(ctx context.Context, owner domain.Identity) (domain.Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (domain.Cart, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (domain.Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (domain.Cart, error)
	Clear(ctx context.Context, ref CartRef) (domain.Cart, error)
	ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (domain.Cart, error)
	RemoveCoupon(ctx context.Context, cmd RemoveCouponCommand) (domain.Cart, error)
	MergeGuestCart(ctx context.Context, guest, user domain.Identity) (domain.Cart, error)
}

// CheckoutService converts carts or explicit item lists into orders.
type CheckoutService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (domain.Order, error)
	CreateFromItems(ctx context.Context, cmd CreateOrderFromItemsCommand) (domain.Order, error)
}

// OrderService reads orders and drives their status machine.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string, viewer OrderViewer) (domain.Order, error)
	ListUserOrders(ctx context.Context, userID string, page domain.Pagination) (domain.CursorPage[domain.Order], error)
	// ListGuestOrders lists guest orders by email. A non-empty guestID narrows the listing to
	// orders placed under that guest token before pagination.
	ListGuestOrders(ctx context.Context, email, guestID string, page domain.Pagination) (domain.CursorPage[domain.Order], error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (domain.Order, error)
	UpdatePaymentStatus(ctx context.Context, cmd UpdatePaymentStatusCommand) (domain.Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
}

// CounterService hands out values of named monotonic sequences. Values may skip but never
// repeat.
type CounterService interface {
	Next(ctx context.Context, seq Sequence) (CounterValue, error)
	NextOrderNumber(ctx context.Context, at time.Time) (string, error)
}

// ProductCatalog is the external product lookup.
type ProductCatalog interface {
	FindByRef(ctx context.Context, productRef string) (domain.Product, error)
}

// CartCache fronts active-cart reads. Set must not replace an entry holding a newer snapshot
// (see domain.Cart.Supersedes); every write path offers its result or drops the entry.
type CartCache interface {
	Get(ctx context.Context, owner domain.Identity) (domain.Cart, bool, error)
	Set(ctx context.Context, cart domain.Cart) error
	Delete(ctx context.Context, owner domain.Identity) error
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// Order event types.
const (
	OrderEventCreated              = "order.created"
	OrderEventStatusChanged        = "order.status_changed"
	OrderEventPaymentStatusChanged = "order.payment_status_changed"
	OrderEventCancelled            = "order.cancelled"
)

// OrderEvent is the payload published after an order write commits.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	Status         domain.OrderStatus
	PreviousStatus domain.OrderStatus
	PaymentStatus  domain.PaymentStatus
	Total          decimal.Decimal
	Currency       domain.Currency
	ActorID        string
	OccurredAt     time.Time
}

// CartRef addresses a cart. An empty CartID targets the owner's active cart.
type CartRef struct {
	Owner  domain.Identity
	CartID string
}

// AddCartItemCommand adds quantity of a product. A nil UnitPrice is sourced from the catalog.
type AddCartItemCommand struct {
	CartRef
	ProductRef string
	Quantity   int
	Options    domain.SelectedOptions
	UnitPrice  *domain.Money
}

// UpdateCartItemCommand replaces a line quantity; zero or less removes the line.
type UpdateCartItemCommand struct {
	CartRef
	ItemID   string
	Quantity int
}

// RemoveCartItemCommand removes a line by id.
type RemoveCartItemCommand struct {
	CartRef
	ItemID string
}

// ApplyCouponCommand records a discount code with its amount.
type ApplyCouponCommand struct {
	CartRef
	Code           string
	DiscountAmount decimal.Decimal
}

// RemoveCouponCommand drops every entry of a code.
type RemoveCouponCommand struct {
	CartRef
	Code string
}

// CheckoutDetails are the fields shared by both checkout variants.
type CheckoutDetails struct {
	ShippingAddress domain.Address
	BillingAddress  *domain.Address
	PaymentMethod   string
	Notes           string
	Email           string
}

// CreateOrderFromCartCommand converts the referenced cart.
type CreateOrderFromCartCommand struct {
	CartRef
	CheckoutDetails
}

// CheckoutItem is one line of a direct checkout.
type CheckoutItem struct {
	ProductRef string
	Quantity   int
	Options    domain.SelectedOptions
	UnitPrice  *domain.Money
}

// CheckoutCoupon is a discount applied to a direct checkout.
type CheckoutCoupon struct {
	Code           string
	DiscountAmount decimal.Decimal
}

// CreateOrderFromItemsCommand creates an order without a stored cart.
type CreateOrderFromItemsCommand struct {
	Owner   domain.Identity
	Items   []CheckoutItem
	Coupons []CheckoutCoupon
	CheckoutDetails
}

// OrderViewer describes who is reading or acting on an order.
type OrderViewer struct {
	Identity   domain.Identity
	Email      string
	Privileged bool
}

// UpdateOrderStatusCommand moves an order along its status machine.
type UpdateOrderStatusCommand struct {
	OrderID        string
	Status         domain.OrderStatus
	ActorID        string
	Reason         string
	TrackingNumber string
}

// UpdatePaymentStatusCommand moves the payment axis of an order.
type UpdatePaymentStatusCommand struct {
	OrderID string
	Status  domain.PaymentStatus
	Details map[string]string
	ActorID string
}

// CancelOrderCommand cancels a pending or confirmed order on behalf of Viewer.
type CancelOrderCommand struct {
	OrderID string
	Reason  string
	Viewer  OrderViewer
}

// Sequence names a counter and how its values advance and render. The counter id is
// Scope:Name. Zero Step and Max leave the stored settings alone; a nil Format renders the
// plain decimal value.
type Sequence struct {
	Scope  string
	Name   string
	Step   int64
	Max    int64
	Format func(value int64) string
}

// CounterValue is a raw sequence value with its formatted rendering.
type CounterValue struct {
	Value     int64
	Formatted string
}
