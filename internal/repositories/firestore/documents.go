package firestore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/storefront/api/internal/domain"
)

// Amounts are stored as decimal strings so no precision is lost to float64.

type cartDocument struct {
	OwnerKey  string               `firestore:"ownerKey"`
	UserID    string               `firestore:"userId"`
	GuestID   string               `firestore:"guestId"`
	Currency  string               `firestore:"currency,omitempty"`
	Items     []cartItemDocument   `firestore:"items"`
	Coupons   []cartCouponDocument `firestore:"coupons"`
	Status    string               `firestore:"status"`
	ExpiresAt time.Time            `firestore:"expiresAt"`
	CreatedAt time.Time            `firestore:"createdAt"`
	UpdatedAt time.Time            `firestore:"updatedAt"`
	Version   int64                `firestore:"version"`
}

type cartItemDocument struct {
	ID         string            `firestore:"id"`
	ProductRef string            `firestore:"productRef"`
	Quantity   int               `firestore:"quantity"`
	Options    map[string]string `firestore:"options,omitempty"`
	UnitPrice  string            `firestore:"unitPrice"`
	Currency   string            `firestore:"currency"`
	AddedAt    time.Time         `firestore:"addedAt"`
	UpdatedAt  time.Time         `firestore:"updatedAt"`
}

type cartCouponDocument struct {
	Code      string    `firestore:"code"`
	Discount  string    `firestore:"discount"`
	AppliedAt time.Time `firestore:"appliedAt"`
}

func encodeCart(cart domain.Cart) cartDocument {
	doc := cartDocument{
		OwnerKey:  cart.Owner().String(),
		UserID:    cart.UserID,
		GuestID:   cart.GuestID,
		Currency:  string(cart.Currency),
		Items:     make([]cartItemDocument, 0, len(cart.Items)),
		Coupons:   make([]cartCouponDocument, 0, len(cart.AppliedCoupons)),
		Status:    string(cart.Status),
		ExpiresAt: cart.ExpiresAt.UTC(),
		CreatedAt: cart.CreatedAt.UTC(),
		UpdatedAt: cart.UpdatedAt.UTC(),
		Version:   cart.Version,
	}
	for _, item := range cart.Items {
		doc.Items = append(doc.Items, cartItemDocument{
			ID:         item.ID,
			ProductRef: item.ProductRef,
			Quantity:   item.Quantity,
			Options:    item.SelectedOptions.Map(),
			UnitPrice:  item.UnitPrice.Amount.String(),
			Currency:   string(item.UnitPrice.Currency),
			AddedAt:    item.AddedAt.UTC(),
			UpdatedAt:  item.UpdatedAt.UTC(),
		})
	}
	for _, coupon := range cart.AppliedCoupons {
		doc.Coupons = append(doc.Coupons, cartCouponDocument{
			Code:      coupon.Code,
			Discount:  coupon.DiscountAmount.String(),
			AppliedAt: coupon.AppliedAt.UTC(),
		})
	}
	return doc
}

func decodeCart(id string, doc cartDocument) (domain.Cart, error) {
	cart := domain.Cart{
		ID:        id,
		UserID:    doc.UserID,
		GuestID:   doc.GuestID,
		Currency:  domain.Currency(doc.Currency),
		Status:    domain.CartStatus(doc.Status),
		ExpiresAt: doc.ExpiresAt,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
		Version:   doc.Version,
	}
	for _, item := range doc.Items {
		amount, err := parseAmount(item.UnitPrice)
		if err != nil {
			return domain.Cart{}, fmt.Errorf("cart %s item %s: %w", id, item.ID, err)
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ID:              item.ID,
			ProductRef:      item.ProductRef,
			Quantity:        item.Quantity,
			SelectedOptions: domain.NewSelectedOptions(item.Options),
			UnitPrice:       domain.Money{Amount: amount, Currency: domain.Currency(item.Currency)},
			AddedAt:         item.AddedAt,
			UpdatedAt:       item.UpdatedAt,
		})
	}
	for _, coupon := range doc.Coupons {
		amount, err := parseAmount(coupon.Discount)
		if err != nil {
			return domain.Cart{}, fmt.Errorf("cart %s coupon %s: %w", id, coupon.Code, err)
		}
		cart.AppliedCoupons = append(cart.AppliedCoupons, domain.AppliedCoupon{
			Code:           coupon.Code,
			DiscountAmount: amount,
			AppliedAt:      coupon.AppliedAt,
		})
	}
	return cart, nil
}

type orderDocument struct {
	OrderNumber        string              `firestore:"orderNumber"`
	UserID             string              `firestore:"userId"`
	GuestID            string              `firestore:"guestId"`
	GuestEmail         string              `firestore:"guestEmail"`
	CustomerEmail      string              `firestore:"customerEmail,omitempty"`
	CartID             string              `firestore:"cartId,omitempty"`
	Currency           string              `firestore:"currency"`
	Items              []orderItemDocument `firestore:"items"`
	Coupons            []orderCouponDoc    `firestore:"coupons"`
	ShippingAddress    addressDocument     `firestore:"shippingAddress"`
	BillingAddress     addressDocument     `firestore:"billingAddress"`
	PaymentMethod      string              `firestore:"paymentMethod"`
	PaymentStatus      string              `firestore:"paymentStatus"`
	PaymentDetails     map[string]string   `firestore:"paymentDetails,omitempty"`
	PaymentDate        *time.Time          `firestore:"paymentDate,omitempty"`
	Subtotal           string              `firestore:"subtotal"`
	ShippingCost       string              `firestore:"shippingCost"`
	Tax                string              `firestore:"tax"`
	Discount           string              `firestore:"discount"`
	Total              string              `firestore:"total"`
	Status             string              `firestore:"status"`
	Notes              string              `firestore:"notes,omitempty"`
	TrackingNumber     string              `firestore:"trackingNumber,omitempty"`
	ConfirmedAt        *time.Time          `firestore:"confirmedAt,omitempty"`
	ProcessingAt       *time.Time          `firestore:"processingAt,omitempty"`
	ShippedAt          *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt        *time.Time          `firestore:"deliveredAt,omitempty"`
	RefundedAt         *time.Time          `firestore:"refundedAt,omitempty"`
	CancelledAt        *time.Time          `firestore:"cancelledAt,omitempty"`
	CancelledBy        string              `firestore:"cancelledBy,omitempty"`
	CancellationReason string              `firestore:"cancellationReason,omitempty"`
	CreatedAt          time.Time           `firestore:"createdAt"`
	UpdatedAt          time.Time           `firestore:"updatedAt"`
	Version            int64               `firestore:"version"`
}

type orderItemDocument struct {
	ProductRef string            `firestore:"productRef"`
	Name       string            `firestore:"name"`
	SKU        string            `firestore:"sku,omitempty"`
	Options    map[string]string `firestore:"options,omitempty"`
	Quantity   int               `firestore:"quantity"`
	UnitPrice  string            `firestore:"unitPrice"`
	LineTotal  string            `firestore:"lineTotal"`
}

type orderCouponDoc struct {
	Code     string `firestore:"code"`
	Discount string `firestore:"discount"`
}

type addressDocument struct {
	FullName   string `firestore:"fullName"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
}

func encodeAddress(a domain.Address) addressDocument {
	return addressDocument(a)
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber:        order.OrderNumber,
		UserID:             order.UserID,
		GuestID:            order.GuestID,
		GuestEmail:         order.GuestEmail,
		CustomerEmail:      order.CustomerEmail,
		CartID:             order.CartID,
		Currency:           string(order.Currency),
		Items:              make([]orderItemDocument, 0, len(order.Items)),
		Coupons:            make([]orderCouponDoc, 0, len(order.Coupons)),
		ShippingAddress:    encodeAddress(order.ShippingAddress),
		BillingAddress:     encodeAddress(order.BillingAddress),
		PaymentMethod:      string(order.PaymentMethod),
		PaymentStatus:      string(order.PaymentStatus),
		PaymentDetails:     order.PaymentDetails,
		PaymentDate:        order.PaymentDate,
		Subtotal:           order.Subtotal.String(),
		ShippingCost:       order.ShippingCost.String(),
		Tax:                order.Tax.String(),
		Discount:           order.Discount.String(),
		Total:              order.Total.String(),
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
		doc.Items = append(doc.Items, orderItemDocument{
			ProductRef: item.ProductRef,
			Name:       item.Name,
			SKU:        item.SKU,
			Options:    item.SelectedOptions.Map(),
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice.Amount.String(),
			LineTotal:  item.LineTotal.String(),
		})
	}
	for _, coupon := range order.Coupons {
		doc.Coupons = append(doc.Coupons, orderCouponDoc{Code: coupon.Code, Discount: coupon.DiscountAmount.String()})
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) (domain.Order, error) {
	currency := domain.Currency(doc.Currency)
	order := domain.Order{
		ID:                 id,
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
		PaymentDate:        doc.PaymentDate,
		Status:             domain.OrderStatus(doc.Status),
		Notes:              doc.Notes,
		TrackingNumber:     doc.TrackingNumber,
		ConfirmedAt:        doc.ConfirmedAt,
		ProcessingAt:       doc.ProcessingAt,
		ShippedAt:          doc.ShippedAt,
		DeliveredAt:        doc.DeliveredAt,
		RefundedAt:         doc.RefundedAt,
		CancelledAt:        doc.CancelledAt,
		CancelledBy:        doc.CancelledBy,
		CancellationReason: doc.CancellationReason,
		CreatedAt:          doc.CreatedAt,
		UpdatedAt:          doc.UpdatedAt,
		Version:            doc.Version,
	}

	amounts := []struct {
		raw    string
		target *decimal.Decimal
	}{
		{doc.Subtotal, &order.Subtotal},
		{doc.ShippingCost, &order.ShippingCost},
		{doc.Tax, &order.Tax},
		{doc.Discount, &order.Discount},
		{doc.Total, &order.Total},
	}
	for _, amount := range amounts {
		value, err := parseAmount(amount.raw)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s: %w", id, err)
		}
		*amount.target = value
	}

	for _, item := range doc.Items {
		unit, err := parseAmount(item.UnitPrice)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s item %s: %w", id, item.ProductRef, err)
		}
		line, err := parseAmount(item.LineTotal)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s item %s: %w", id, item.ProductRef, err)
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
		amount, err := parseAmount(coupon.Discount)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s coupon %s: %w", id, coupon.Code, err)
		}
		order.Coupons = append(order.Coupons, domain.OrderCoupon{Code: coupon.Code, DiscountAmount: amount})
	}
	return order, nil
}

type productDocument struct {
	Name      string `firestore:"name"`
	SKU       string `firestore:"sku"`
	IsActive  bool   `firestore:"isActive"`
	Status    string `firestore:"status,omitempty"`
	UnitPrice string `firestore:"unitPrice"`
	Currency  string `firestore:"currency"`
}

func decodeProduct(ref string, doc productDocument) (domain.Product, error) {
	price, err := domain.NewMoney(doc.UnitPrice, doc.Currency)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: %w", ref, err)
	}
	return domain.Product{
		Ref:       ref,
		Name:      doc.Name,
		SKU:       doc.SKU,
		IsActive:  doc.IsActive,
		Status:    domain.ProductStatus(doc.Status),
		UnitPrice: price,
	}, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
