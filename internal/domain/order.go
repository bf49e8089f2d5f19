package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfilment lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// ParseOrderStatus normalises a status string. ok is false for unknown values.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return status, true
	}
	return "", false
}

// PaymentStatus is the payment axis of an order, independent of OrderStatus.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// ParsePaymentStatus normalises a payment status string.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	status := PaymentStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return status, true
	}
	return "", false
}

// PaymentMethod is recorded as a label only.
type PaymentMethod string

const (
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodPayPal         PaymentMethod = "paypal"
	PaymentMethodWallet         PaymentMethod = "wallet"
)

// ParsePaymentMethod validates the payment label.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	switch method {
	case PaymentMethodCashOnDelivery, PaymentMethodBankTransfer, PaymentMethodCard,
		PaymentMethodPayPal, PaymentMethodWallet:
		return method, true
	}
	return "", false
}

// OrderItem is an immutable snapshot of a purchased line.
type OrderItem struct {
	ProductRef      string
	Name            string
	SKU             string
	SelectedOptions SelectedOptions
	Quantity        int
	UnitPrice       Money
	LineTotal       decimal.Decimal
}

// OrderCoupon records a discount that contributed to the order total.
type OrderCoupon struct {
	Code           string
	DiscountAmount decimal.Decimal
}

// Order is created once at checkout. Only status, payment and tracking fields change afterwards.
type Order struct {
	ID                 string
	OrderNumber        string
	UserID             string
	GuestID            string
	GuestEmail         string
	CustomerEmail      string
	CartID             string
	Currency           Currency
	Items              []OrderItem
	Coupons            []OrderCoupon
	ShippingAddress    Address
	BillingAddress     Address
	PaymentMethod      PaymentMethod
	PaymentStatus      PaymentStatus
	PaymentDetails     map[string]string
	PaymentDate        *time.Time
	Subtotal           decimal.Decimal
	ShippingCost       decimal.Decimal
	Tax                decimal.Decimal
	Discount           decimal.Decimal
	Total              decimal.Decimal
	Status             OrderStatus
	Notes              string
	TrackingNumber     string
	ConfirmedAt        *time.Time
	ProcessingAt       *time.Time
	ShippedAt          *time.Time
	DeliveredAt        *time.Time
	RefundedAt         *time.Time
	CancelledAt        *time.Time
	CancelledBy        string
	CancellationReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int64
}

// Clone returns a deep copy of the order.
func (o Order) Clone() Order {
	out := o
	if o.Items != nil {
		out.Items = make([]OrderItem, len(o.Items))
		for i, item := range o.Items {
			item.SelectedOptions = item.SelectedOptions.Clone()
			out.Items[i] = item
		}
	}
	if o.Coupons != nil {
		out.Coupons = append([]OrderCoupon(nil), o.Coupons...)
	}
	if o.PaymentDetails != nil {
		out.PaymentDetails = make(map[string]string, len(o.PaymentDetails))
		for k, v := range o.PaymentDetails {
			out.PaymentDetails[k] = v
		}
	}
	return out
}

// ProductStatus is the catalog state of a product.
type ProductStatus string

const (
	ProductStatusActive       ProductStatus = "active"
	ProductStatusDraft        ProductStatus = "draft"
	ProductStatusArchived     ProductStatus = "archived"
	ProductStatusOutOfStock   ProductStatus = "out_of_stock"
	ProductStatusDiscontinued ProductStatus = "discontinued"
)

// Product is the subset of catalog data the cart and checkout flows read.
type Product struct {
	Ref       string
	Name      string
	SKU       string
	IsActive  bool
	Status    ProductStatus
	UnitPrice Money
}

// Available reports whether the product can be purchased.
func (p Product) Available() bool {
	return p.IsActive && (p.Status == "" || p.Status == ProductStatusActive)
}
