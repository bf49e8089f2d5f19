package services

import (
	"github.com/shopspring/decimal"

	"github.com/storefront/api/internal/domain"
)

// Totals is the derived money summary of a cart or order.
type Totals struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

// PricingEngine derives totals. It holds no state.
type PricingEngine struct{}

// Subtotal sums unit price times quantity over all items.
func (PricingEngine) Subtotal(items []domain.CartItem) decimal.Decimal {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.LineTotal())
	}
	return sum
}

// TotalDiscount sums the discount of every applied coupon.
func (PricingEngine) TotalDiscount(coupons []domain.AppliedCoupon) decimal.Decimal {
	sum := decimal.Zero
	for _, coupon := range coupons {
		sum = sum.Add(coupon.DiscountAmount)
	}
	return sum
}

// Total is subtotal minus discounts, never below zero.
func (p PricingEngine) Total(items []domain.CartItem, coupons []domain.AppliedCoupon) decimal.Decimal {
	return clampZero(p.Subtotal(items).Sub(p.TotalDiscount(coupons)))
}

// CartTotals summarises a cart for display. Shipping and tax are not estimated on carts.
func (p PricingEngine) CartTotals(cart domain.Cart) Totals {
	subtotal := p.Subtotal(cart.Items)
	discount := p.TotalDiscount(cart.AppliedCoupons)
	return Totals{
		Subtotal: subtotal,
		Shipping: decimal.Zero,
		Tax:      decimal.Zero,
		Discount: discount,
		Total:    clampZero(subtotal.Sub(discount)),
	}
}

// OrderTotals computes subtotal + shipping + tax - discount, clamped at zero.
func (p PricingEngine) OrderTotals(items []domain.CartItem, coupons []domain.AppliedCoupon, shipping, tax decimal.Decimal) Totals {
	subtotal := p.Subtotal(items)
	discount := p.TotalDiscount(coupons)
	return Totals{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Discount: discount,
		Total:    clampZero(subtotal.Add(shipping).Add(tax).Sub(discount)),
	}
}

func clampZero(value decimal.Decimal) decimal.Decimal {
	if value.IsNegative() {
		return decimal.Zero
	}
	return value
}
