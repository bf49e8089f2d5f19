package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const (
	maxLineQuantity  = 999
	maxCouponCodeLen = 64
)

// CartServiceDeps wires the repository and catalog dependencies for cart operations.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Products    ProductCatalog
	Cache       CartCache
	Metrics     *Metrics
	Clock       func() time.Time
	IDGenerator func() string
	TTL         time.Duration
	Logger      Logger
}

type cartService struct {
	carts    repositories.CartRepository
	products ProductCatalog
	cache    CartCache
	metrics  *Metrics
	now      func() time.Time
	newID    func() string
	ttl      time.Duration
	logger   Logger

	// loads collapses concurrent cache misses for one owner into a single store round trip.
	loads singleflight.Group
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product catalog is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = domain.CartTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		cache:    deps.Cache,
		metrics:  deps.Metrics,
		now:      func() time.Time { return clock().UTC() },
		newID:    idGen,
		ttl:      ttl,
		logger:   logger,
	}, nil
}

// GetOrCreate returns the owner's usable cart, creating an empty one when none exists or the
// previous one expired.
func (s *cartService) GetOrCreate(ctx context.Context, owner domain.Identity) (domain.Cart, error) {
	if !owner.Valid() {
		return domain.Cart{}, invalid("cart owner is required")
	}
	now := s.now()

	if cached, ok := s.cachedCart(ctx, owner, now); ok {
		return cached, nil
	}

	v, err, shared := s.loads.Do(owner.String(), func() (any, error) {
		return s.loadOrCreate(ctx, owner, now)
	})
	if err != nil {
		return domain.Cart{}, err
	}
	cart := v.(domain.Cart)
	if shared {
		cart = cart.Clone()
	}
	return cart, nil
}

func (s *cartService) loadOrCreate(ctx context.Context, owner domain.Identity, now time.Time) (domain.Cart, error) {
	existing, err := s.carts.FindActiveByOwner(ctx, owner)
	switch {
	case err == nil && existing.IsUsable(now):
		s.storeCache(ctx, existing)
		return existing, nil
	case err == nil:
		s.expire(ctx, existing)
	case !repositories.IsNotFound(err):
		return domain.Cart{}, translateRepoError("cart", owner.String(), err)
	}

	cart := s.newCart(owner, now)
	if err := s.carts.Insert(ctx, cart); err != nil {
		if !repositories.IsConflict(err) {
			return domain.Cart{}, translateRepoError("cart", cart.ID, err)
		}
		// Lost a creation race; the winner's cart is authoritative.
		winner, findErr := s.carts.FindActiveByOwner(ctx, owner)
		if findErr != nil {
			return domain.Cart{}, translateRepoError("cart", owner.String(), findErr)
		}
		s.storeCache(ctx, winner)
		return winner, nil
	}

	s.logger(ctx, "cart.created", map[string]any{"cartId": cart.ID, "owner": owner.String()})
	s.storeCache(ctx, cart)
	return cart, nil
}

// AddItem merges into an existing line with the same product and options or appends a new
// line. The first captured unit price of a line is kept.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (domain.Cart, error) {
	productRef := strings.TrimSpace(cmd.ProductRef)
	if productRef == "" {
		return domain.Cart{}, invalidFields("product is required", "product_ref")
	}
	if cmd.Quantity < 1 {
		return domain.Cart{}, invalidFields("quantity must be at least 1", "quantity")
	}

	price, err := s.resolvePrice(ctx, productRef, cmd.UnitPrice)
	if err != nil {
		return domain.Cart{}, err
	}

	return s.mutate(ctx, cmd.CartRef, "add_item", func(cart *domain.Cart, now time.Time) error {
		if cart.Currency != "" && cart.Currency != price.Currency {
			return invalidFields(fmt.Sprintf("cart currency is %s", cart.Currency), "currency")
		}
		cart.Currency = price.Currency

		for idx := range cart.Items {
			item := &cart.Items[idx]
			if !item.Matches(productRef, cmd.Options) {
				continue
			}
			if item.Quantity+cmd.Quantity > maxLineQuantity {
				return invalidFields(fmt.Sprintf("quantity cannot exceed %d", maxLineQuantity), "quantity")
			}
			item.Quantity += cmd.Quantity
			item.UpdatedAt = now
			return nil
		}

		if cmd.Quantity > maxLineQuantity {
			return invalidFields(fmt.Sprintf("quantity cannot exceed %d", maxLineQuantity), "quantity")
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ID:              s.newID(),
			ProductRef:      productRef,
			Quantity:        cmd.Quantity,
			SelectedOptions: cmd.Options.Clone(),
			UnitPrice:       price,
			AddedAt:         now,
			UpdatedAt:       now,
		})
		return nil
	})
}

// UpdateItemQuantity replaces the quantity of a line; zero or less removes it.
func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (domain.Cart, error) {
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return domain.Cart{}, invalidFields("item id is required", "item_id")
	}
	if cmd.Quantity > maxLineQuantity {
		return domain.Cart{}, invalidFields(fmt.Sprintf("quantity cannot exceed %d", maxLineQuantity), "quantity")
	}
	return s.mutate(ctx, cmd.CartRef, "update_item", func(cart *domain.Cart, now time.Time) error {
		idx := cart.FindItem(itemID)
		if idx < 0 {
			return notFound("cart item", itemID)
		}
		if cmd.Quantity <= 0 {
			removeItemAt(cart, idx)
			return nil
		}
		cart.Items[idx].Quantity = cmd.Quantity
		cart.Items[idx].UpdatedAt = now
		return nil
	})
}

// RemoveItem deletes a line by id.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (domain.Cart, error) {
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return domain.Cart{}, invalidFields("item id is required", "item_id")
	}
	return s.mutate(ctx, cmd.CartRef, "remove_item", func(cart *domain.Cart, _ time.Time) error {
		idx := cart.FindItem(itemID)
		if idx < 0 {
			return notFound("cart item", itemID)
		}
		removeItemAt(cart, idx)
		return nil
	})
}

// Clear drops items and coupons together.
func (s *cartService) Clear(ctx context.Context, ref CartRef) (domain.Cart, error) {
	return s.mutate(ctx, ref, "clear", func(cart *domain.Cart, _ time.Time) error {
		cart.Items = nil
		cart.AppliedCoupons = nil
		cart.Currency = ""
		return nil
	})
}

// ApplyCoupon records a discount code once per cart.
func (s *cartService) ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (domain.Cart, error) {
	code := NormalizeCouponCode(cmd.Code)
	if code == "" {
		return domain.Cart{}, invalidFields("coupon code is required", "code")
	}
	if len(code) > maxCouponCodeLen {
		return domain.Cart{}, invalidFields("coupon code is too long", "code")
	}
	if cmd.DiscountAmount.IsNegative() {
		return domain.Cart{}, invalidFields("discount amount must not be negative", "discount_amount")
	}
	return s.mutate(ctx, cmd.CartRef, "apply_coupon", func(cart *domain.Cart, now time.Time) error {
		if cart.HasCoupon(code) {
			return fmt.Errorf("%w: %s", ErrDuplicateCoupon, code)
		}
		cart.AppliedCoupons = append(cart.AppliedCoupons, domain.AppliedCoupon{
			Code:           code,
			DiscountAmount: cmd.DiscountAmount,
			AppliedAt:      now,
		})
		return nil
	})
}

// RemoveCoupon drops every entry matching the code. Absent codes are not an error.
func (s *cartService) RemoveCoupon(ctx context.Context, cmd RemoveCouponCommand) (domain.Cart, error) {
	code := NormalizeCouponCode(cmd.Code)
	if code == "" {
		return domain.Cart{}, invalidFields("coupon code is required", "code")
	}
	return s.mutate(ctx, cmd.CartRef, "remove_coupon", func(cart *domain.Cart, _ time.Time) error {
		kept := cart.AppliedCoupons[:0]
		for _, coupon := range cart.AppliedCoupons {
			if coupon.Code != code {
				kept = append(kept, coupon)
			}
		}
		if len(kept) == 0 {
			kept = nil
		}
		cart.AppliedCoupons = kept
		return nil
	})
}

// MergeGuestCart folds the guest's active cart into the user's cart and abandons the guest cart.
// Matching lines keep the user's price; coupons already on the user cart are skipped.
//
// The guest cart is claimed first: it is abandoned only if it is still active at the version
// read here, and only the claimed snapshot is folded in. A retried or concurrent merge finds
// the guest cart already abandoned and returns the user's cart untouched.
func (s *cartService) MergeGuestCart(ctx context.Context, guest, user domain.Identity) (domain.Cart, error) {
	if !guest.IsGuest() || !user.IsUser() {
		return domain.Cart{}, invalid("merge requires a guest and a user identity")
	}

	now := s.now()
	guestCart, err := s.carts.FindActiveByOwner(ctx, guest)
	if err != nil {
		if repositories.IsNotFound(err) {
			return s.GetOrCreate(ctx, user)
		}
		return domain.Cart{}, translateRepoError("cart", guest.String(), err)
	}
	if !guestCart.IsUsable(now) || (len(guestCart.Items) == 0 && len(guestCart.AppliedCoupons) == 0) {
		return s.GetOrCreate(ctx, user)
	}

	claimed, err := s.claimGuestCart(ctx, guestCart, now)
	s.dropCache(ctx, guest)
	if errors.Is(err, errMergeClaimed) {
		s.logger(ctx, "cart.merge_skipped", map[string]any{"guestCartId": guestCart.ID})
		return s.GetOrCreate(ctx, user)
	}
	if err != nil {
		return domain.Cart{}, translateRepoError("cart", guestCart.ID, err)
	}

	var skipped []string
	merged, err := s.mutate(ctx, CartRef{Owner: user}, "merge", func(cart *domain.Cart, now time.Time) error {
		skipped = skipped[:0]
		for _, incoming := range claimed.Items {
			if cart.Currency != "" && cart.Currency != incoming.UnitPrice.Currency {
				skipped = append(skipped, incoming.ID)
				continue
			}
			cart.Currency = incoming.UnitPrice.Currency
			if idx := findMatch(cart.Items, incoming); idx >= 0 {
				cart.Items[idx].Quantity = min(cart.Items[idx].Quantity+incoming.Quantity, maxLineQuantity)
				cart.Items[idx].UpdatedAt = now
				continue
			}
			item := incoming
			item.ID = s.newID()
			item.SelectedOptions = incoming.SelectedOptions.Clone()
			item.UpdatedAt = now
			cart.Items = append(cart.Items, item)
		}
		for _, coupon := range claimed.AppliedCoupons {
			if !cart.HasCoupon(coupon.Code) {
				cart.AppliedCoupons = append(cart.AppliedCoupons, coupon)
			}
		}
		return nil
	})
	if err != nil {
		s.releaseGuestCart(ctx, claimed)
		return domain.Cart{}, err
	}

	s.logger(ctx, "cart.merged", map[string]any{
		"guestCartId": claimed.ID,
		"cartId":      merged.ID,
		"skipped":     len(skipped),
	})
	return merged, nil
}

// errMergeClaimed aborts the claim when another merge already took the guest cart.
var errMergeClaimed = errors.New("guest cart already merged")

// claimGuestCart abandons the guest cart if it is unchanged since read and returns the
// claimed contents.
func (s *cartService) claimGuestCart(ctx context.Context, read domain.Cart, now time.Time) (domain.Cart, error) {
	var snapshot domain.Cart
	_, err := s.carts.Mutate(ctx, read.ID, func(cart *domain.Cart) error {
		if cart.Status != domain.CartStatusActive || cart.Version != read.Version {
			return errMergeClaimed
		}
		snapshot = cart.Clone()
		cart.Status = domain.CartStatusAbandoned
		cart.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return snapshot, nil
}

// releaseGuestCart reactivates a claimed guest cart after the fold into the user cart failed,
// so the guest keeps their items and the merge can be retried.
func (s *cartService) releaseGuestCart(ctx context.Context, claimed domain.Cart) {
	_, err := s.carts.Mutate(ctx, claimed.ID, func(cart *domain.Cart) error {
		if cart.Status != domain.CartStatusAbandoned {
			return nil
		}
		cart.Status = domain.CartStatusActive
		cart.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		s.logger(ctx, "cart.merge_release_failed", map[string]any{"cartId": claimed.ID, "error": err.Error()})
	}
}

// NormalizeCouponCode trims and upper-cases a code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type cartEdit func(cart *domain.Cart, now time.Time) error

// mutate resolves the target cart and applies edit through the repository's atomic mutation.
func (s *cartService) mutate(ctx context.Context, ref CartRef, op string, edit cartEdit) (domain.Cart, error) {
	cart, err := s.mutateCart(ctx, ref, edit)
	s.metrics.cartMutation(ctx, op, err)
	if err != nil {
		s.logger(ctx, "cart.mutation_failed", map[string]any{"op": op, "owner": ref.Owner.String(), "error": err.Error()})
		if errors.Is(err, ErrCartConverted) || errors.Is(err, ErrCartInactive) {
			s.dropCache(ctx, ref.Owner)
		}
		return domain.Cart{}, err
	}
	s.storeCache(ctx, cart)
	s.logger(ctx, "cart."+op, map[string]any{"cartId": cart.ID, "items": len(cart.Items), "version": cart.Version})
	return cart, nil
}

func (s *cartService) mutateCart(ctx context.Context, ref CartRef, edit cartEdit) (domain.Cart, error) {
	if !ref.Owner.Valid() {
		return domain.Cart{}, invalid("cart owner is required")
	}
	cartID := strings.TrimSpace(ref.CartID)
	if cartID == "" {
		active, err := s.GetOrCreate(ctx, ref.Owner)
		if err != nil {
			return domain.Cart{}, err
		}
		cartID = active.ID
	}

	now := s.now()
	updated, err := s.carts.Mutate(ctx, cartID, func(cart *domain.Cart) error {
		if !cart.OwnedBy(ref.Owner) {
			return fmt.Errorf("%w: cart %s", ErrAccessDenied, cartID)
		}
		switch cart.Status {
		case domain.CartStatusConverted:
			return fmt.Errorf("%w: %s", ErrCartConverted, cartID)
		case domain.CartStatusActive:
		default:
			return fmt.Errorf("%w: %s is %s", ErrCartInactive, cartID, cart.Status)
		}
		if err := edit(cart, now); err != nil {
			return err
		}
		cart.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Cart{}, translateRepoError("cart", cartID, err)
	}
	return updated, nil
}

func (s *cartService) resolvePrice(ctx context.Context, productRef string, explicit *domain.Money) (domain.Money, error) {
	if explicit != nil {
		cur, err := domain.ParseCurrency(string(explicit.Currency))
		if err != nil {
			return domain.Money{}, invalidFields(err.Error(), "currency")
		}
		if explicit.Amount.IsNegative() {
			return domain.Money{}, invalidFields("unit price must not be negative", "unit_price")
		}
		return domain.Money{Amount: explicit.Amount, Currency: cur}, nil
	}

	product, err := s.products.FindByRef(ctx, productRef)
	if err != nil {
		return domain.Money{}, translateRepoError("product", productRef, err)
	}
	if !product.Available() {
		return domain.Money{}, productUnavailable(productRef)
	}
	return product.UnitPrice, nil
}

func (s *cartService) newCart(owner domain.Identity, now time.Time) domain.Cart {
	cart := domain.Cart{
		ID:        s.newID(),
		Status:    domain.CartStatusActive,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	if owner.IsUser() {
		cart.UserID = owner.ID
	} else {
		cart.GuestID = owner.ID
	}
	return cart
}

// expire marks a stale active cart abandoned so it no longer shadows the owner's new cart.
func (s *cartService) expire(ctx context.Context, cart domain.Cart) {
	_, err := s.carts.Mutate(ctx, cart.ID, func(c *domain.Cart) error {
		if c.Status == domain.CartStatusActive {
			c.Status = domain.CartStatusAbandoned
			c.UpdatedAt = s.now()
		}
		return nil
	})
	if err != nil {
		s.logger(ctx, "cart.expire_failed", map[string]any{"cartId": cart.ID, "error": err.Error()})
	}
}

func (s *cartService) cachedCart(ctx context.Context, owner domain.Identity, now time.Time) (domain.Cart, bool) {
	if s.cache == nil {
		return domain.Cart{}, false
	}
	cart, ok, err := s.cache.Get(ctx, owner)
	if err != nil {
		s.logger(ctx, "cart.cache_read_failed", map[string]any{"owner": owner.String(), "error": err.Error()})
		return domain.Cart{}, false
	}
	if !ok || !cart.OwnedBy(owner) || !cart.IsUsable(now) {
		return domain.Cart{}, false
	}
	return cart, true
}

func (s *cartService) storeCache(ctx context.Context, cart domain.Cart) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, cart); err != nil {
		s.logger(ctx, "cart.cache_write_failed", map[string]any{"cartId": cart.ID, "error": err.Error()})
	}
}

func (s *cartService) dropCache(ctx context.Context, owner domain.Identity) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, owner); err != nil {
		s.logger(ctx, "cart.cache_delete_failed", map[string]any{"owner": owner.String(), "error": err.Error()})
	}
}

func removeItemAt(cart *domain.Cart, idx int) {
	cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
	if len(cart.Items) == 0 {
		cart.Items = nil
		if len(cart.AppliedCoupons) == 0 {
			cart.Currency = ""
		}
	}
}

func findMatch(items []domain.CartItem, target domain.CartItem) int {
	for idx, item := range items {
		if item.Matches(target.ProductRef, target.SelectedOptions) {
			return idx
		}
	}
	return -1
}

// CartTotals derives the display totals of a cart.
func CartTotals(cart domain.Cart) Totals {
	return PricingEngine{}.CartTotals(cart)
}
