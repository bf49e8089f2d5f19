package mongo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/storefront/api/internal/domain"
)

type cartDoc struct {
	ID        string          `bson:"_id"`
	OwnerKey  string          `bson:"owner_key"`
	UserID    string          `bson:"user_id,omitempty"`
	GuestID   string          `bson:"guest_id,omitempty"`
	Currency  string          `bson:"currency,omitempty"`
	Items     []cartItemDoc   `bson:"items"`
	Coupons   []cartCouponDoc `bson:"coupons"`
	Status    string          `bson:"status"`
	ExpiresAt time.Time       `bson:"expires_at"`
	CreatedAt time.Time       `bson:"created_at"`
	UpdatedAt time.Time       `bson:"updated_at"`
	Version   int64           `bson:"version"`
}

type cartItemDoc struct {
	ID         string               `bson:"id"`
	ProductRef string               `bson:"product_ref"`
	Quantity   int                  `bson:"quantity"`
	Options    map[string]string    `bson:"options,omitempty"`
	UnitPrice  primitive.Decimal128 `bson:"unit_price"`
	Currency   string               `bson:"currency"`
	AddedAt    time.Time            `bson:"added_at"`
	UpdatedAt  time.Time            `bson:"updated_at"`
}

type cartCouponDoc struct {
	Code      string               `bson:"code"`
	Discount  primitive.Decimal128 `bson:"discount"`
	AppliedAt time.Time            `bson:"applied_at"`
}

type orderDoc struct {
	ID                 string               `bson:"_id"`
	OrderNumber        string               `bson:"order_number"`
	UserID             string               `bson:"user_id"`
	GuestID            string               `bson:"guest_id,omitempty"`
	GuestEmail         string               `bson:"guest_email,omitempty"`
	CustomerEmail      string               `bson:"customer_email,omitempty"`
	CartID             string               `bson:"cart_id,omitempty"`
	Currency           string               `bson:"currency"`
	Items              []orderItemDoc       `bson:"items"`
	Coupons            []orderCouponDoc     `bson:"coupons"`
	ShippingAddress    addressDoc           `bson:"shipping_address"`
	BillingAddress     addressDoc           `bson:"billing_address"`
	PaymentMethod      string               `bson:"payment_method"`
	PaymentStatus      string               `bson:"payment_status"`
	PaymentDetails     map[string]string    `bson:"payment_details,omitempty"`
	PaymentDate        *time.Time           `bson:"payment_date,omitempty"`
	Subtotal           primitive.Decimal128 `bson:"subtotal"`
	ShippingCost       primitive.Decimal128 `bson:"shipping_cost"`
	Tax                primitive.Decimal128 `bson:"tax"`
	Discount           primitive.Decimal128 `bson:"discount"`
	Total              primitive.Decimal128 `bson:"total"`
	Status             string               `bson:"status"`
	Notes              string               `bson:"notes,omitempty"`
	TrackingNumber     string               `bson:"tracking_number,omitempty"`
	ConfirmedAt        *time.Time           `bson:"confirmed_at,omitempty"`
	ProcessingAt       *time.Time           `bson:"processing_at,omitempty"`
	ShippedAt          *time.Time           `bson:"shipped_at,omitempty"`
	DeliveredAt        *time.Time           `bson:"delivered_at,omitempty"`
	RefundedAt         *time.Time           `bson:"refunded_at,omitempty"`
	CancelledAt        *time.Time           `bson:"cancelled_at,omitempty"`
	CancelledBy        string               `bson:"cancelled_by,omitempty"`
	CancellationReason string               `bson:"cancellation_reason,omitempty"`
	CreatedAt          time.Time            `bson:"created_at"`
	UpdatedAt          time.Time            `bson:"updated_at"`
	Version            int64                `bson:"version"`
}

type orderItemDoc struct {
	ProductRef string               `bson:"product_ref"`
	Name       string               `bson:"name"`
	SKU        string               `bson:"sku,omitempty"`
	Options    map[string]string    `bson:"options,omitempty"`
	Quantity   int                  `bson:"quantity"`
	UnitPrice  primitive.Decimal128 `bson:"unit_price"`
	LineTotal  primitive.Decimal128 `bson:"line_total"`
}

type orderCouponDoc struct {
	Code     string               `bson:"code"`
	Discount primitive.Decimal128 `bson:"discount"`
}

type addressDoc struct {
	FullName   string `bson:"full_name"`
	Line1      string `bson:"line1"`
	Line2      string `bson:"line2,omitempty"`
	City       string `bson:"city"`
	State      string `bson:"state,omitempty"`
	PostalCode string `bson:"postal_code"`
	Country    string `bson:"country"`
	Phone      string `bson:"phone,omitempty"`
}

type productDoc struct {
	Ref       string               `bson:"_id"`
	Name      string               `bson:"name"`
	SKU       string               `bson:"sku"`
	IsActive  bool                 `bson:"is_active"`
	Status    string               `bson:"status,omitempty"`
	UnitPrice primitive.Decimal128 `bson:"unit_price"`
	Currency  string               `bson:"currency"`
}

type counterDoc struct {
	ID        string    `bson:"_id"`
	Value     int64     `bson:"value"`
	Step      int64     `bson:"step,omitempty"`
	MaxValue  *int64    `bson:"max_value,omitempty"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// toDecimal128 cannot fail for amounts produced by shopspring/decimal within Decimal128 range.
func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	out, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.NewDecimal128(0, 0)
	}
	return out
}

func fromDecimal128(d primitive.Decimal128) (decimal.Decimal, error) {
	raw := d.String()
	if raw == "" || raw == "NaN" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func encodeCart(cart domain.Cart) cartDoc {
	doc := cartDoc{
		ID:        cart.ID,
		OwnerKey:  cart.Owner().String(),
		UserID:    cart.UserID,
		GuestID:   cart.GuestID,
		Currency:  string(cart.Currency),
		Items:     make([]cartItemDoc, 0, len(cart.Items)),
		Coupons:   make([]cartCouponDoc, 0, len(cart.AppliedCoupons)),
		Status:    string(cart.Status),
		ExpiresAt: cart.ExpiresAt.UTC(),
		CreatedAt: cart.CreatedAt.UTC(),
		UpdatedAt: cart.UpdatedAt.UTC(),
		Version:   cart.Version,
	}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, cartItemDoc{
			ID:         item.ID,
			ProductRef: item.ProductRef,
			Quantity:   item.Quantity,
			Options:    item.SelectedOptions.Map(),
			UnitPrice:  toDecimal128(item.UnitPrice.Amount),
			Currency:   string(item.UnitPrice.Currency),
			AddedAt:    item.AddedAt.UTC(),
			UpdatedAt:  item.UpdatedAt.UTC(),
		})
	}
	for _, coupon := range cart.AppliedCoupons {
		doc.Coupons = append(doc.Coupons, cartCouponDoc{
			Code:      coupon.Code,
			Discount:  toDecimal128(coupon.DiscountAmount),
			AppliedAt: coupon.AppliedAt.UTC(),
		})
	}
	return doc
}

func (doc cartDoc) toDomain() (domain.Cart, error) {
	cart := domain.Cart{
		ID:        doc.ID,
		UserID:    doc.UserID,
		GuestID:   doc.GuestID,
		Currency:  domain.Currency(doc.Currency),
		Status:    domain.CartStatus(doc.Status),
		ExpiresAt: doc.ExpiresAt.UTC(),
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
		Version:   doc.Version,
	}
	for _, item := range doc.Items {
		amount, err := fromDecimal128(item.UnitPrice)
		if err != nil {
			return domain.Cart{}, fmt.Errorf("cart %s item %s: %w", doc.ID, item.ID, err)
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ID:              item.ID,
			ProductRef:      item.ProductRef,
			Quantity:        item.Quantity,
			SelectedOptions: domain.NewSelectedOptions(item.Options),
			UnitPrice:       domain.Money{Amount: amount, Currency: domain.Currency(item.Currency)},
			AddedAt:         item.AddedAt.UTC(),
			UpdatedAt:       item.UpdatedAt.UTC(),
		})
	}
	for _, coupon := range doc.Coupons {
		amount, err := fromDecimal128(coupon.Discount)
		if err != nil {
			return domain.Cart{}, fmt.Errorf("cart %s coupon %s: %w", doc.ID, coupon.Code, err)
		}
		cart.AppliedCoupons = append(cart.AppliedCoupons, domain.AppliedCoupon{
			Code:           coupon.Code,
			DiscountAmount: amount,
			AppliedAt:      coupon.AppliedAt.UTC(),
		})
	}
	return cart, nil
}

func encodeOrder(order domain.Order) orderDoc {
	doc := orderDoc{
		ID:                 order.ID,
		OrderNumber:        order.OrderNumber,
		UserID:             order.UserID,
		GuestID:            order.GuestID,
		GuestEmail:         order.GuestEmail,
		CustomerEmail:      order.CustomerEmail,
		CartID:             order.CartID,
		Currency:           string(order.Currency),
		Items:              make([]orderItemDoc, 0, len(order.Items)),
		Coupons:            make([]orderCouponDoc, 0, len(order.Coupons)),
		ShippingAddress:    addressDoc(order.ShippingAddress),
		BillingAddress:     addressDoc(order.BillingAddress),
		PaymentMethod:      string(order.PaymentMethod),
		PaymentStatus:      string(order.PaymentStatus),
		PaymentDetails:     order.PaymentDetails,
		PaymentDate:        order.PaymentDate,
		Subtotal:           toDecimal128(order.Subtotal),
		ShippingCost:       toDecimal128(order.ShippingCost),
		Tax:                toDecimal128(order.Tax),
		Discount:           toDecimal128(order.Discount),
		Total:              toDecimal128(order.Total),
		Status:             string(order.Status),
		Notes:              order.Notes,
		TrackingNumber:     order.TrackingNumber,
		ConfirmedAt:        order.ConfirmedAt,
		ProcessingAt:       order.ProcessingAt,
		ShippedAt:          order.ShippedAt,
		DeliveredAt:        order.DeliveredAt,
		RefundedAt:         order.RefundedAt,
		CancelledAt:        order.CancelledAt,
		CancelledBy:        order.CancelledBy,
		CancellationReason: order.CancellationReason,
		CreatedAt:          order.CreatedAt.UTC(),
		UpdatedAt:          order.UpdatedAt.UTC(),
		Version:            order.Version,
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDoc{
			ProductRef: item.ProductRef,
			Name:       item.Name,
			SKU:        item.SKU,
			Options:    item.SelectedOptions.Map(),
			Quantity:   item.Quantity,
			UnitPrice:  toDecimal128(item.UnitPrice.Amount),
			LineTotal:  toDecimal128(item.LineTotal),
		})
	}
	for _, coupon := range order.Coupons {
		doc.Coupons = append(doc.Coupons, orderCouponDoc{Code: coupon.Code, Discount: toDecimal128(coupon.DiscountAmount)})
	}
	return doc
}

func (doc orderDoc) toDomain() (domain.Order, error) {
	currency := domain.Currency(doc.Currency)
	order := domain.Order{
		ID:                 doc.ID,
		OrderNumber:        doc.OrderNumber,
		UserID:             doc.UserID,
		GuestID:            doc.GuestID,
		GuestEmail:         doc.GuestEmail,
		CustomerEmail:      doc.CustomerEmail,
		CartID:             doc.CartID,
		Currency:           currency,
		ShippingAddress:    domain.Address(doc.ShippingAddress),
		BillingAddress:     domain.Address(doc.BillingAddress),
		PaymentMethod:      domain.PaymentMethod(doc.PaymentMethod),
		PaymentStatus:      domain.PaymentStatus(doc.PaymentStatus),
		PaymentDetails:     doc.PaymentDetails,
		PaymentDate:        utcPtr(doc.PaymentDate),
		Status:             domain.OrderStatus(doc.Status),
		Notes:              doc.Notes,
		TrackingNumber:     doc.TrackingNumber,
		ConfirmedAt:        utcPtr(doc.ConfirmedAt),
		ProcessingAt:       utcPtr(doc.ProcessingAt),
		ShippedAt:          utcPtr(doc.ShippedAt),
		DeliveredAt:        utcPtr(doc.DeliveredAt),
		RefundedAt:         utcPtr(doc.RefundedAt),
		CancelledAt:        utcPtr(doc.CancelledAt),
		CancelledBy:        doc.CancelledBy,
		CancellationReason: doc.CancellationReason,
		CreatedAt:          doc.CreatedAt.UTC(),
		UpdatedAt:          doc.UpdatedAt.UTC(),
		Version:            doc.Version,
	}

	var err error
	if order.Subtotal, err = fromDecimal128(doc.Subtotal); err != nil {
		return domain.Order{}, fmt.Errorf("order %s subtotal: %w", doc.ID, err)
	}
	if order.ShippingCost, err = fromDecimal128(doc.ShippingCost); err != nil {
		return domain.Order{}, fmt.Errorf("order %s shipping: %w", doc.ID, err)
	}
	if order.Tax, err = fromDecimal128(doc.Tax); err != nil {
		return domain.Order{}, fmt.Errorf("order %s tax: %w", doc.ID, err)
	}
	if order.Discount, err = fromDecimal128(doc.Discount); err != nil {
		return domain.Order{}, fmt.Errorf("order %s discount: %w", doc.ID, err)
	}
	if order.Total, err = fromDecimal128(doc.Total); err != nil {
		return domain.Order{}, fmt.Errorf("order %s total: %w", doc.ID, err)
	}

	for _, item := range doc.Items {
		unit, err := fromDecimal128(item.UnitPrice)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s item %s: %w", doc.ID, item.ProductRef, err)
		}
		line, err := fromDecimal128(item.LineTotal)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s item %s: %w", doc.ID, item.ProductRef, err)
		}
		order.Items = append(order.Items, domain.OrderItem{
			ProductRef:      item.ProductRef,
			Name:            item.Name,
			SKU:             item.SKU,
			SelectedOptions: domain.NewSelectedOptions(item.Options),
			Quantity:        item.Quantity,
			UnitPrice:       domain.Money{Amount: unit, Currency: currency},
			LineTotal:       line,
		})
	}
	for _, coupon := range doc.Coupons {
		amount, err := fromDecimal128(coupon.Discount)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s coupon %s: %w", doc.ID, coupon.Code, err)
		}
		order.Coupons = append(order.Coupons, domain.OrderCoupon{Code: coupon.Code, DiscountAmount: amount})
	}
	return order, nil
}

func (doc productDoc) toDomain() (domain.Product, error) {
	amount, err := fromDecimal128(doc.UnitPrice)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: %w", doc.Ref, err)
	}
	price, err := domain.NewMoney(amount.String(), doc.Currency)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: %w", doc.Ref, err)
	}
	return domain.Product{
		Ref:       doc.Ref,
		Name:      doc.Name,
		SKU:       doc.SKU,
		IsActive:  doc.IsActive,
		Status:    domain.ProductStatus(doc.Status),
		UnitPrice: price,
	}, nil
}

// Mongo stores millisecond precision UTC; normalising keeps round trips comparable.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
