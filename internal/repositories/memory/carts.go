package memory

import (
	"context"
	"sort"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

// CartRepository stores carts in the registry map.
type CartRepository struct {
	r *Registry
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// Insert stores a new cart. A second usable active cart for the same owner is a conflict.
func (c *CartRepository) Insert(_ context.Context, cart domain.Cart) error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	if _, exists := c.r.carts[cart.ID]; exists {
		return repositories.Conflict("carts.insert", "cart "+cart.ID+" already exists")
	}
	if cart.Status == domain.CartStatusActive {
		owner := cart.Owner()
		for _, existing := range c.r.carts {
			if existing.Status == domain.CartStatusActive && existing.OwnedBy(owner) && !existing.IsExpired(cart.CreatedAt) {
				return repositories.Conflict("carts.insert", "owner already has an active cart")
			}
		}
	}
	if cart.Version == 0 {
		cart.Version = 1
	}
	c.r.carts[cart.ID] = cart.Clone()
	return nil
}

func (c *CartRepository) FindByID(_ context.Context, cartID string) (domain.Cart, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	cart, ok := c.r.carts[cartID]
	if !ok {
		return domain.Cart{}, repositories.NotFound("carts.find", "cart", cartID)
	}
	return cart.Clone(), nil
}

func (c *CartRepository) FindActiveByOwner(_ context.Context, owner domain.Identity) (domain.Cart, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	var (
		found domain.Cart
		ok    bool
	)
	for _, cart := range c.r.carts {
		if cart.Status != domain.CartStatusActive || !cart.OwnedBy(owner) {
			continue
		}
		if !ok || cart.CreatedAt.After(found.CreatedAt) {
			found, ok = cart, true
		}
	}
	if !ok {
		return domain.Cart{}, repositories.NotFound("carts.find_active", "cart", owner.String())
	}
	return found.Clone(), nil
}

// Mutate applies fn to a copy and stores it only when fn succeeds.
func (c *CartRepository) Mutate(_ context.Context, cartID string, fn repositories.CartMutation) (domain.Cart, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	current, ok := c.r.carts[cartID]
	if !ok {
		return domain.Cart{}, repositories.NotFound("carts.mutate", "cart", cartID)
	}
	working := current.Clone()
	if err := fn(&working); err != nil {
		return domain.Cart{}, err
	}
	working.ID = current.ID
	working.Version = current.Version + 1
	c.r.carts[cartID] = working.Clone()
	return working, nil
}

func (c *CartRepository) MarkConverted(_ context.Context, cartID string, expectedVersion int64, at time.Time) error {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	cart, ok := c.r.carts[cartID]
	if !ok {
		return repositories.NotFound("carts.mark_converted", "cart", cartID)
	}
	if cart.Status != domain.CartStatusActive {
		return repositories.Conflict("carts.mark_converted", "cart "+cartID+" is "+string(cart.Status))
	}
	if expectedVersion > 0 && cart.Version != expectedVersion {
		return repositories.Conflict("carts.mark_converted", "cart "+cartID+" changed")
	}
	cart.Status = domain.CartStatusConverted
	cart.UpdatedAt = at.UTC()
	cart.Version++
	c.r.carts[cartID] = cart
	return nil
}

func (c *CartRepository) ListExpiredActive(_ context.Context, now time.Time, limit int) ([]domain.Cart, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	var out []domain.Cart
	for _, cart := range c.r.carts {
		if cart.Status == domain.CartStatusActive && cart.IsExpired(now) {
			out = append(out, cart.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
