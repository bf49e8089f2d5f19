package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartStatus tracks the lifecycle of a cart document.
type CartStatus string

const (
	CartStatusActive    CartStatus = "active"
	CartStatusAbandoned CartStatus = "abandoned"
	CartStatusConverted CartStatus = "converted"
)

// CartTTL is the fixed lifetime of a cart measured from its creation.
const CartTTL = 30 * 24 * time.Hour

// CartItem is one line of a cart. UnitPrice is frozen when the line is first added.
type CartItem struct {
	ID              string
	ProductRef      string
	Quantity        int
	SelectedOptions SelectedOptions
	UnitPrice       Money
	AddedAt         time.Time
	UpdatedAt       time.Time
}

// LineTotal returns unit price multiplied by quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Amount.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Matches reports whether the item has the given merge identity.
func (i CartItem) Matches(productRef string, opts SelectedOptions) bool {
	return i.ProductRef == productRef && i.SelectedOptions.Equal(opts)
}

// AppliedCoupon is a discount code recorded against a cart.
type AppliedCoupon struct {
	Code           string
	DiscountAmount decimal.Decimal
	AppliedAt      time.Time
}

// Cart is the mutable line-item collection of a single owner.
type Cart struct {
	ID             string
	UserID         string
	GuestID        string
	Currency       Currency
	Items          []CartItem
	AppliedCoupons []AppliedCoupon
	Status         CartStatus
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Version        int64
}

// Owner returns the identity that owns the cart.
func (c Cart) Owner() Identity {
	if c.UserID != "" {
		return UserIdentity(c.UserID)
	}
	return GuestIdentity(c.GuestID)
}

// OwnedBy reports whether the identity owns the cart.
func (c Cart) OwnedBy(id Identity) bool {
	switch id.Kind {
	case IdentityUser:
		return c.UserID != "" && c.UserID == id.ID
	case IdentityGuest:
		return c.UserID == "" && c.GuestID != "" && c.GuestID == id.ID
	default:
		return false
	}
}

// IsExpired reports whether the fixed TTL elapsed.
func (c Cart) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// IsUsable reports whether the cart is the owner's live cart.
func (c Cart) IsUsable(now time.Time) bool {
	return c.Status == CartStatusActive && !c.IsExpired(now)
}

// FindItem returns the index of the item with the id, or -1.
func (c Cart) FindItem(itemID string) int {
	for idx, item := range c.Items {
		if item.ID == itemID {
			return idx
		}
	}
	return -1
}

// HasCoupon reports whether the code is already applied.
func (c Cart) HasCoupon(code string) bool {
	for _, coupon := range c.AppliedCoupons {
		if coupon.Code == code {
			return true
		}
	}
	return false
}

// Supersedes reports whether c is a newer snapshot of the owner's cart than other: a higher
// version of the same cart, or a cart created after other.
func (c Cart) Supersedes(other Cart) bool {
	if c.ID == other.ID {
		return c.Version > other.Version
	}
	return c.CreatedAt.After(other.CreatedAt)
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (c Cart) Clone() Cart {
	out := c
	if c.Items != nil {
		out.Items = make([]CartItem, len(c.Items))
		for i, item := range c.Items {
			item.SelectedOptions = item.SelectedOptions.Clone()
			out.Items[i] = item
		}
	}
	if c.AppliedCoupons != nil {
		out.AppliedCoupons = append([]AppliedCoupon(nil), c.AppliedCoupons...)
	}
	return out
}
