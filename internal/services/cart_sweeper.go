package services

import (
	"context"
	"errors"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const defaultSweepBatch = 200

// CartSweeper abandons active carts whose TTL elapsed so they stop counting as live.
type CartSweeper interface {
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// CartSweeperDeps wires the sweeper.
type CartSweeperDeps struct {
	Carts  repositories.CartRepository
	Cache  CartCache
	Clock  func() time.Time
	Logger Logger
}

type cartSweeper struct {
	carts  repositories.CartRepository
	cache  CartCache
	now    func() time.Time
	logger Logger
}

// NewCartSweeper constructs the expired cart sweeper.
func NewCartSweeper(deps CartSweeperDeps) (CartSweeper, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart sweeper: cart repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &cartSweeper{
		carts:  deps.Carts,
		cache:  deps.Cache,
		now:    func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// SweepExpired marks up to limit expired carts abandoned and returns how many changed. A cart
// that fails to update is logged and skipped so one bad document does not stall the batch.
func (s *cartSweeper) SweepExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepBatch
	}
	now := s.now()
	expired, err := s.carts.ListExpiredActive(ctx, now, limit)
	if err != nil {
		return 0, translateRepoError("carts", "expired", err)
	}

	swept := 0
	for _, cart := range expired {
		if err := ctx.Err(); err != nil {
			return swept, err
		}
		changed := false
		_, err := s.carts.Mutate(ctx, cart.ID, func(c *domain.Cart) error {
			changed = false
			if c.Status != domain.CartStatusActive || !c.IsExpired(now) {
				return nil
			}
			c.Status = domain.CartStatusAbandoned
			c.UpdatedAt = now
			changed = true
			return nil
		})
		if err != nil {
			s.logger(ctx, "cart.sweep_failed", map[string]any{"cartId": cart.ID, "error": err.Error()})
			continue
		}
		if !changed {
			continue
		}
		swept++
		if s.cache != nil {
			if err := s.cache.Delete(ctx, cart.Owner()); err != nil {
				s.logger(ctx, "cart.cache_delete_failed", map[string]any{"cartId": cart.ID, "error": err.Error()})
			}
		}
	}

	s.logger(ctx, "cart.sweep_completed", map[string]any{"scanned": len(expired), "abandoned": swept})
	return swept, nil
}
