package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/textutil"
	"github.com/storefront/api/internal/repositories"
)

const maxOrderNotesLength = 1000

// ChargePolicy computes a shipping or tax amount for a prospective order. Both default to zero.
type ChargePolicy func(items []domain.CartItem, shipping domain.Address) decimal.Decimal

func zeroCharge([]domain.CartItem, domain.Address) decimal.Decimal { return decimal.Zero }

// CheckoutServiceDeps wires the collaborators of the order factory.
type CheckoutServiceDeps struct {
	Carts       repositories.CartRepository
	Orders      repositories.OrderRepository
	Products    ProductCatalog
	Counters    CounterService
	UnitOfWork  repositories.UnitOfWork
	Cache       CartCache
	Events      OrderEventPublisher
	Metrics     *Metrics
	Shipping    ChargePolicy
	Tax         ChargePolicy
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type checkoutService struct {
	carts    repositories.CartRepository
	orders   repositories.OrderRepository
	products ProductCatalog
	counters CounterService
	uow      repositories.UnitOfWork
	cache    CartCache
	events   OrderEventPublisher
	metrics  *Metrics
	pricing  PricingEngine
	shipping ChargePolicy
	tax      ChargePolicy
	now      func() time.Time
	newID    func() string
	logger   Logger
}

// NewCheckoutService validates dependencies and returns the order factory.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	switch {
	case deps.Carts == nil:
		return nil, errors.New("checkout service: cart repository is required")
	case deps.Orders == nil:
		return nil, errors.New("checkout service: order repository is required")
	case deps.Products == nil:
		return nil, errors.New("checkout service: product catalog is required")
	case deps.Counters == nil:
		return nil, errors.New("checkout service: counter service is required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("checkout service: unit of work is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	shipping := deps.Shipping
	if shipping == nil {
		shipping = zeroCharge
	}
	tax := deps.Tax
	if tax == nil {
		tax = zeroCharge
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &checkoutService{
		carts:    deps.Carts,
		orders:   deps.Orders,
		products: deps.Products,
		counters: deps.Counters,
		uow:      deps.UnitOfWork,
		cache:    deps.Cache,
		events:   deps.Events,
		metrics:  deps.Metrics,
		shipping: shipping,
		tax:      tax,
		now:      func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

// CreateFromCart snapshots the owner's cart into an order and marks the cart converted. No order
// is written when validation or availability checks fail, and the cart stays active.
func (s *checkoutService) CreateFromCart(ctx context.Context, cmd CreateOrderFromCartCommand) (domain.Order, error) {
	details, err := s.validateDetails(cmd.Owner, cmd.CheckoutDetails)
	if err != nil {
		return domain.Order{}, err
	}

	cart, err := s.loadCart(ctx, cmd.CartRef)
	if err != nil {
		return domain.Order{}, err
	}
	if len(cart.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: %s", ErrEmptyCart, cart.ID)
	}

	products, err := s.checkAvailability(ctx, cart.Items)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now()
	order, err := s.buildOrder(ctx, cmd.Owner, details, cart.Items, cart.AppliedCoupons, products, now)
	if err != nil {
		return domain.Order{}, err
	}
	order.CartID = cart.ID

	if err := s.persistWithConversion(ctx, order, cart, now); err != nil {
		return domain.Order{}, err
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, cart.Owner()); err != nil {
			s.logger(ctx, "checkout.cache_delete_failed", map[string]any{"cartId": cart.ID, "error": err.Error()})
		}
	}

	s.completed(ctx, order, "cart")
	return order, nil
}

// CreateFromItems builds an order from an explicit line list without touching any cart.
func (s *checkoutService) CreateFromItems(ctx context.Context, cmd CreateOrderFromItemsCommand) (domain.Order, error) {
	details, err := s.validateDetails(cmd.Owner, cmd.CheckoutDetails)
	if err != nil {
		return domain.Order{}, err
	}
	if len(cmd.Items) == 0 {
		return domain.Order{}, ErrEmptyCart
	}

	now := s.now()
	items, err := s.explicitLines(ctx, cmd.Items, now)
	if err != nil {
		return domain.Order{}, err
	}
	coupons, err := explicitCoupons(cmd.Coupons, now)
	if err != nil {
		return domain.Order{}, err
	}

	products, err := s.checkAvailability(ctx, items)
	if err != nil {
		return domain.Order{}, err
	}

	order, err := s.buildOrder(ctx, cmd.Owner, details, items, coupons, products, now)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return domain.Order{}, translateRepoError("order", order.ID, err)
	}

	s.completed(ctx, order, "direct")
	return order, nil
}

type checkoutDetails struct {
	shipping domain.Address
	billing  domain.Address
	method   domain.PaymentMethod
	notes    string
	email    string
}

func (s *checkoutService) validateDetails(owner domain.Identity, in CheckoutDetails) (checkoutDetails, error) {
	if !owner.Valid() {
		return checkoutDetails{}, invalid("checkout requires a user or guest identity")
	}

	method, ok := domain.ParsePaymentMethod(in.PaymentMethod)
	if !ok {
		return checkoutDetails{}, invalidFields(fmt.Sprintf("unsupported payment method %q", in.PaymentMethod), "payment_method")
	}

	shipping := in.ShippingAddress.Normalize()
	if missing := shipping.MissingFields(); len(missing) > 0 {
		return checkoutDetails{}, invalidFields("shipping address is incomplete", prefixFields("shipping_address.", missing)...)
	}
	billing := shipping
	if in.BillingAddress != nil && !in.BillingAddress.IsZero() {
		billing = in.BillingAddress.Normalize()
		if missing := billing.MissingFields(); len(missing) > 0 {
			return checkoutDetails{}, invalidFields("billing address is incomplete", prefixFields("billing_address.", missing)...)
		}
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email != "" && !looksLikeEmail(email) {
		return checkoutDetails{}, invalidFields("email is malformed", "email")
	}
	if owner.IsGuest() && email == "" {
		return checkoutDetails{}, invalidFields("guest checkout requires an email", "email")
	}

	return checkoutDetails{
		shipping: shipping,
		billing:  billing,
		method:   method,
		notes:    textutil.SanitizeNotes(in.Notes, maxOrderNotesLength),
		email:    email,
	}, nil
}

func (s *checkoutService) loadCart(ctx context.Context, ref CartRef) (domain.Cart, error) {
	var (
		cart domain.Cart
		err  error
	)
	if id := strings.TrimSpace(ref.CartID); id != "" {
		cart, err = s.carts.FindByID(ctx, id)
		if err != nil {
			return domain.Cart{}, translateRepoError("cart", id, err)
		}
		if !cart.OwnedBy(ref.Owner) {
			return domain.Cart{}, fmt.Errorf("%w: cart %s", ErrAccessDenied, id)
		}
	} else {
		cart, err = s.carts.FindActiveByOwner(ctx, ref.Owner)
		if err != nil {
			if repositories.IsNotFound(err) {
				return domain.Cart{}, ErrEmptyCart
			}
			return domain.Cart{}, translateRepoError("cart", ref.Owner.String(), err)
		}
	}

	switch {
	case cart.Status == domain.CartStatusConverted:
		return domain.Cart{}, fmt.Errorf("%w: %s", ErrCartConverted, cart.ID)
	case !cart.IsUsable(s.now()):
		return domain.Cart{}, fmt.Errorf("%w: %s", ErrCartInactive, cart.ID)
	}
	return cart, nil
}

// checkAvailability re-validates every product and stops at the first unavailable one.
func (s *checkoutService) checkAvailability(ctx context.Context, items []domain.CartItem) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(items))
	for _, item := range items {
		if _, seen := products[item.ProductRef]; seen {
			continue
		}
		product, err := s.products.FindByRef(ctx, item.ProductRef)
		if err != nil {
			if repositories.IsNotFound(err) {
				return nil, productUnavailable(item.ProductRef)
			}
			return nil, translateRepoError("product", item.ProductRef, err)
		}
		if !product.Available() {
			return nil, productUnavailable(item.ProductRef)
		}
		products[item.ProductRef] = product
	}
	return products, nil
}

func (s *checkoutService) buildOrder(
	ctx context.Context,
	owner domain.Identity,
	details checkoutDetails,
	items []domain.CartItem,
	coupons []domain.AppliedCoupon,
	products map[string]domain.Product,
	now time.Time,
) (domain.Order, error) {
	currency, err := singleCurrency(items)
	if err != nil {
		return domain.Order{}, err
	}

	snapshot := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		product := products[item.ProductRef]
		snapshot = append(snapshot, domain.OrderItem{
			ProductRef:      item.ProductRef,
			Name:            product.Name,
			SKU:             product.SKU,
			SelectedOptions: item.SelectedOptions.Clone(),
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			LineTotal:       item.LineTotal(),
		})
	}
	orderCoupons := make([]domain.OrderCoupon, 0, len(coupons))
	for _, coupon := range coupons {
		orderCoupons = append(orderCoupons, domain.OrderCoupon{Code: coupon.Code, DiscountAmount: coupon.DiscountAmount})
	}

	totals := s.pricing.OrderTotals(items, coupons, s.shipping(items, details.shipping), s.tax(items, details.shipping))

	number, err := s.counters.NextOrderNumber(ctx, now)
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		ID:              s.newID(),
		OrderNumber:     number,
		CustomerEmail:   details.email,
		Currency:        currency,
		Items:           snapshot,
		Coupons:         orderCoupons,
		ShippingAddress: details.shipping,
		BillingAddress:  details.billing,
		PaymentMethod:   details.method,
		PaymentStatus:   domain.PaymentStatusPending,
		Subtotal:        totals.Subtotal,
		ShippingCost:    totals.Shipping,
		Tax:             totals.Tax,
		Discount:        totals.Discount,
		Total:           totals.Total,
		Status:          domain.OrderStatusPending,
		Notes:           details.notes,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
	if owner.IsUser() {
		order.UserID = owner.ID
	} else {
		order.GuestID = owner.ID
		order.GuestEmail = details.email
	}
	return order, nil
}

// persistWithConversion writes the order and converts the cart. With a transactional store both
// writes commit together and a cart that changed since it was read aborts the checkout. Otherwise
// the order is written first and a failed conversion is only logged: the order is authoritative.
func (s *checkoutService) persistWithConversion(ctx context.Context, order domain.Order, cart domain.Cart, now time.Time) error {
	if s.uow.Transactional() {
		err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
			// Firestore transactions require reads before writes, so the cart goes first.
			if err := s.carts.MarkConverted(txCtx, cart.ID, cart.Version, now); err != nil {
				return err
			}
			return s.orders.Insert(txCtx, order)
		})
		if err != nil {
			if repositories.IsConflict(err) {
				return fmt.Errorf("%w: cart %s changed during checkout", ErrConflict, cart.ID)
			}
			return translateRepoError("order", order.ID, err)
		}
		return nil
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return translateRepoError("order", order.ID, err)
	}
	if err := s.carts.MarkConverted(ctx, cart.ID, cart.Version, now); err != nil {
		s.logger(ctx, "checkout.cart_conversion_failed", map[string]any{
			"cartId":  cart.ID,
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
	return nil
}

func (s *checkoutService) explicitLines(ctx context.Context, in []CheckoutItem, now time.Time) ([]domain.CartItem, error) {
	lines := make([]domain.CartItem, 0, len(in))
	for idx, raw := range in {
		ref := strings.TrimSpace(raw.ProductRef)
		if ref == "" {
			return nil, invalidFields("product is required", fmt.Sprintf("items[%d].product_ref", idx))
		}
		if raw.Quantity < 1 || raw.Quantity > maxLineQuantity {
			return nil, invalidFields(fmt.Sprintf("quantity must be between 1 and %d", maxLineQuantity), fmt.Sprintf("items[%d].quantity", idx))
		}

		var price domain.Money
		if raw.UnitPrice != nil {
			cur, err := domain.ParseCurrency(string(raw.UnitPrice.Currency))
			if err != nil {
				return nil, invalidFields(err.Error(), fmt.Sprintf("items[%d].currency", idx))
			}
			if raw.UnitPrice.Amount.IsNegative() {
				return nil, invalidFields("unit price must not be negative", fmt.Sprintf("items[%d].unit_price", idx))
			}
			price = domain.Money{Amount: raw.UnitPrice.Amount, Currency: cur}
		} else {
			product, err := s.products.FindByRef(ctx, ref)
			if err != nil {
				if repositories.IsNotFound(err) {
					return nil, productUnavailable(ref)
				}
				return nil, translateRepoError("product", ref, err)
			}
			price = product.UnitPrice
		}

		if pos := findMatch(lines, domain.CartItem{ProductRef: ref, SelectedOptions: raw.Options}); pos >= 0 {
			lines[pos].Quantity += raw.Quantity
			continue
		}
		lines = append(lines, domain.CartItem{
			ID:              s.newID(),
			ProductRef:      ref,
			Quantity:        raw.Quantity,
			SelectedOptions: raw.Options.Clone(),
			UnitPrice:       price,
			AddedAt:         now,
			UpdatedAt:       now,
		})
	}
	return lines, nil
}

func explicitCoupons(in []CheckoutCoupon, now time.Time) ([]domain.AppliedCoupon, error) {
	out := make([]domain.AppliedCoupon, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, raw := range in {
		code := NormalizeCouponCode(raw.Code)
		if code == "" {
			return nil, invalidFields("coupon code is required", "coupons")
		}
		if raw.DiscountAmount.IsNegative() {
			return nil, invalidFields("discount amount must not be negative", "coupons")
		}
		if _, dup := seen[code]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCoupon, code)
		}
		seen[code] = struct{}{}
		out = append(out, domain.AppliedCoupon{Code: code, DiscountAmount: raw.DiscountAmount, AppliedAt: now})
	}
	return out, nil
}

func (s *checkoutService) completed(ctx context.Context, order domain.Order, source string) {
	s.metrics.orderCreated(ctx, source)
	s.logger(ctx, "checkout.order_created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"cartId":      order.CartID,
		"total":       order.Total.String(),
		"currency":    string(order.Currency),
		"source":      source,
	})
	if s.events == nil {
		return
	}
	event := OrderEvent{
		Type:          OrderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Total:         order.Total,
		Currency:      order.Currency,
		ActorID:       firstNonEmpty(order.UserID, order.GuestID),
		OccurredAt:    order.CreatedAt,
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "checkout.event_publish_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
	}
}

func singleCurrency(items []domain.CartItem) (domain.Currency, error) {
	var currency domain.Currency
	for _, item := range items {
		if currency == "" {
			currency = item.UnitPrice.Currency
			continue
		}
		if item.UnitPrice.Currency != currency {
			return "", invalidFields("items use more than one currency", "currency")
		}
	}
	return currency, nil
}

func prefixFields(prefix string, fields []string) []string {
	out := make([]string, len(fields))
	for i, field := range fields {
		out[i] = prefix + field
	}
	return out
}

func looksLikeEmail(value string) bool {
	at := strings.LastIndex(value, "@")
	return at > 0 && at < len(value)-1 && !strings.ContainsAny(value, " \t\r\n")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
