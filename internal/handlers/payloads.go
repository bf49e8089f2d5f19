package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/services"
)

var pricing services.PricingEngine

type moneyPayload struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type totalsPayload struct {
	Subtotal string `json:"subtotal"`
	Discount string `json:"discount"`
	Shipping string `json:"shipping"`
	Tax      string `json:"tax"`
	Total    string `json:"total"`
}

type cartItemPayload struct {
	ID         string            `json:"id"`
	ProductRef string            `json:"product_ref"`
	Quantity   int               `json:"quantity"`
	Options    map[string]string `json:"options,omitempty"`
	UnitPrice  moneyPayload      `json:"unit_price"`
	LineTotal  string            `json:"line_total"`
	AddedAt    string            `json:"added_at"`
	UpdatedAt  string            `json:"updated_at,omitempty"`
}

type couponPayload struct {
	Code           string `json:"code"`
	DiscountAmount string `json:"discount_amount"`
	AppliedAt      string `json:"applied_at,omitempty"`
}

type cartPayload struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id,omitempty"`
	GuestID    string            `json:"guest_id,omitempty"`
	Status     string            `json:"status"`
	Currency   string            `json:"currency,omitempty"`
	ItemsCount int               `json:"items_count"`
	Items      []cartItemPayload `json:"items"`
	Coupons    []couponPayload   `json:"coupons"`
	Estimate   totalsPayload     `json:"estimate"`
	ExpiresAt  string            `json:"expires_at"`
	CreatedAt  string            `json:"created_at"`
	UpdatedAt  string            `json:"updated_at"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type addressPayload struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type orderItemPayload struct {
	ProductRef string            `json:"product_ref"`
	Name       string            `json:"name,omitempty"`
	SKU        string            `json:"sku,omitempty"`
	Options    map[string]string `json:"options,omitempty"`
	Quantity   int               `json:"quantity"`
	UnitPrice  moneyPayload      `json:"unit_price"`
	LineTotal  string            `json:"line_total"`
}

type orderCancellationPayload struct {
	CancelledAt string `json:"cancelled_at"`
	CancelledBy string `json:"cancelled_by,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type orderPayload struct {
	ID              string                    `json:"id"`
	OrderNumber     string                    `json:"order_number"`
	UserID          string                    `json:"user_id,omitempty"`
	GuestEmail      string                    `json:"guest_email,omitempty"`
	CustomerEmail   string                    `json:"customer_email,omitempty"`
	CartID          string                    `json:"cart_id,omitempty"`
	Status          string                    `json:"status"`
	PaymentStatus   string                    `json:"payment_status"`
	PaymentMethod   string                    `json:"payment_method"`
	PaymentDetails  map[string]string         `json:"payment_details,omitempty"`
	PaidAt          string                    `json:"paid_at,omitempty"`
	Currency        string                    `json:"currency"`
	Items           []orderItemPayload        `json:"items"`
	Coupons         []couponPayload           `json:"coupons,omitempty"`
	Totals          totalsPayload             `json:"totals"`
	ShippingAddress addressPayload            `json:"shipping_address"`
	BillingAddress  addressPayload            `json:"billing_address"`
	Notes           string                    `json:"notes,omitempty"`
	TrackingNumber  string                    `json:"tracking_number,omitempty"`
	ConfirmedAt     string                    `json:"confirmed_at,omitempty"`
	ProcessingAt    string                    `json:"processing_at,omitempty"`
	ShippedAt       string                    `json:"shipped_at,omitempty"`
	DeliveredAt     string                    `json:"delivered_at,omitempty"`
	RefundedAt      string                    `json:"refunded_at,omitempty"`
	Cancellation    *orderCancellationPayload `json:"cancellation,omitempty"`
	CreatedAt       string                    `json:"created_at"`
	UpdatedAt       string                    `json:"updated_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Currency      string `json:"currency"`
	Total         string `json:"total"`
	ItemsCount    int    `json:"items_count"`
	CreatedAt     string `json:"created_at"`
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

func buildCartPayload(cart domain.Cart) cartPayload {
	totals := pricing.CartTotals(cart)
	payload := cartPayload{
		ID:         cart.ID,
		UserID:     cart.UserID,
		GuestID:    cart.GuestID,
		Status:     string(cart.Status),
		Currency:   string(cart.Currency),
		ItemsCount: len(cart.Items),
		Items:      make([]cartItemPayload, 0, len(cart.Items)),
		Coupons:    make([]couponPayload, 0, len(cart.AppliedCoupons)),
		Estimate:   buildTotals(totals, cart.Currency),
		ExpiresAt:  formatTime(cart.ExpiresAt),
		CreatedAt:  formatTime(cart.CreatedAt),
		UpdatedAt:  formatTime(cart.UpdatedAt),
	}
	for _, item := range cart.Items {
		payload.Items = append(payload.Items, cartItemPayload{
			ID:         item.ID,
			ProductRef: item.ProductRef,
			Quantity:   item.Quantity,
			Options:    item.SelectedOptions.Map(),
			UnitPrice:  buildMoney(item.UnitPrice),
			LineTotal:  formatAmount(item.LineTotal(), item.UnitPrice.Currency),
			AddedAt:    formatTime(item.AddedAt),
			UpdatedAt:  formatTime(item.UpdatedAt),
		})
	}
	for _, coupon := range cart.AppliedCoupons {
		payload.Coupons = append(payload.Coupons, couponPayload{
			Code:           coupon.Code,
			DiscountAmount: formatAmount(coupon.DiscountAmount, cart.Currency),
			AppliedAt:      formatTime(coupon.AppliedAt),
		})
	}
	return payload
}

// buildOrderPayload renders an order. Payment provider details are only shown to staff.
func buildOrderPayload(order domain.Order, privileged bool) orderPayload {
	cur := order.Currency
	payload := orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		GuestEmail:    order.GuestEmail,
		CustomerEmail: order.CustomerEmail,
		CartID:        order.CartID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: string(order.PaymentMethod),
		PaidAt:        formatTimePtr(order.PaymentDate),
		Currency:      string(cur),
		Items:         make([]orderItemPayload, 0, len(order.Items)),
		Totals: buildTotals(services.Totals{
			Subtotal: order.Subtotal,
			Shipping: order.ShippingCost,
			Tax:      order.Tax,
			Discount: order.Discount,
			Total:    order.Total,
		}, cur),
		ShippingAddress: buildAddress(order.ShippingAddress),
		BillingAddress:  buildAddress(order.BillingAddress),
		Notes:           order.Notes,
		TrackingNumber:  order.TrackingNumber,
		ConfirmedAt:     formatTimePtr(order.ConfirmedAt),
		ProcessingAt:    formatTimePtr(order.ProcessingAt),
		ShippedAt:       formatTimePtr(order.ShippedAt),
		DeliveredAt:     formatTimePtr(order.DeliveredAt),
		RefundedAt:      formatTimePtr(order.RefundedAt),
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
	if privileged && len(order.PaymentDetails) > 0 {
		payload.PaymentDetails = make(map[string]string, len(order.PaymentDetails))
		for k, v := range order.PaymentDetails {
			payload.PaymentDetails[k] = v
		}
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductRef: item.ProductRef,
			Name:       item.Name,
			SKU:        item.SKU,
			Options:    item.SelectedOptions.Map(),
			Quantity:   item.Quantity,
			UnitPrice:  buildMoney(item.UnitPrice),
			LineTotal:  formatAmount(item.LineTotal, cur),
		})
	}
	for _, coupon := range order.Coupons {
		payload.Coupons = append(payload.Coupons, couponPayload{
			Code:           coupon.Code,
			DiscountAmount: formatAmount(coupon.DiscountAmount, cur),
		})
	}
	if order.CancelledAt != nil {
		payload.Cancellation = &orderCancellationPayload{
			CancelledAt: formatTimePtr(order.CancelledAt),
			CancelledBy: order.CancelledBy,
			Reason:      order.CancellationReason,
		}
	}
	return payload
}

func buildOrderSummary(order domain.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Currency:      string(order.Currency),
		Total:         formatAmount(order.Total, order.Currency),
		ItemsCount:    len(order.Items),
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderList(page domain.CursorPage[domain.Order]) orderListResponse {
	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	return orderListResponse{Items: items, NextPageToken: strings.TrimSpace(page.NextPageToken)}
}

func buildTotals(t services.Totals, cur domain.Currency) totalsPayload {
	return totalsPayload{
		Subtotal: formatAmount(t.Subtotal, cur),
		Discount: formatAmount(t.Discount, cur),
		Shipping: formatAmount(t.Shipping, cur),
		Tax:      formatAmount(t.Tax, cur),
		Total:    formatAmount(t.Total, cur),
	}
}

func buildMoney(m domain.Money) moneyPayload {
	return moneyPayload{Amount: m.Display(), Currency: string(m.Currency)}
}

func buildAddress(a domain.Address) addressPayload {
	return addressPayload{
		FullName:   a.FullName,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

func formatAmount(amount decimal.Decimal, cur domain.Currency) string {
	return amount.StringFixed(cur.Scale())
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// Request bodies.

type moneyRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func (m *moneyRequest) toDomain() (*domain.Money, error) {
	if m == nil {
		return nil, nil
	}
	money, err := domain.NewMoney(m.Amount, m.Currency)
	if err != nil {
		return nil, fmt.Errorf("unit_price: %w", err)
	}
	return &money, nil
}

type addressRequest struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

func (a addressRequest) toDomain() domain.Address {
	return domain.Address{
		FullName:   a.FullName,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

type couponRequest struct {
	Code           string `json:"code"`
	DiscountAmount string `json:"discount_amount"`
}

func (c couponRequest) amount() (decimal.Decimal, error) {
	raw := strings.TrimSpace(c.DiscountAmount)
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("discount_amount must be a decimal string")
	}
	return value, nil
}
