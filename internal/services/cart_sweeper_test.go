package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/storefront/api/internal/domain"
)

func TestCartSweeperAbandonsExpiredCarts(t *testing.T) {
	reg := seededRegistry(t)
	clock := newTestClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	cache := newFakeCartCache()
	carts := mustCartService(t, CartServiceDeps{Carts: reg.Carts(), Products: reg.Products(), Cache: cache, Clock: clock.Now, IDGenerator: sequentialIDs("c")})
	ctx := context.Background()

	stale, err := carts.GetOrCreate(ctx, testGuest)
	if err != nil {
		t.Fatalf("create stale cart: %v", err)
	}
	clock.Advance(domain.CartTTL - time.Hour)
	fresh, err := carts.GetOrCreate(ctx, testUser)
	if err != nil {
		t.Fatalf("create fresh cart: %v", err)
	}
	clock.Advance(2 * time.Hour)

	sweeper, err := NewCartSweeper(CartSweeperDeps{Carts: reg.Carts(), Cache: cache, Clock: clock.Now})
	if err != nil {
		t.Fatalf("unexpected error constructing sweeper: %v", err)
	}
	swept, err := sweeper.SweepExpired(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected one cart swept, got %d", swept)
	}

	got, _ := reg.Carts().FindByID(ctx, stale.ID)
	if got.Status != domain.CartStatusAbandoned {
		t.Fatalf("expected stale cart abandoned, got %s", got.Status)
	}
	got, _ = reg.Carts().FindByID(ctx, fresh.ID)
	if got.Status != domain.CartStatusActive {
		t.Fatalf("fresh cart must stay active, got %s", got.Status)
	}
	if _, ok, _ := cache.Get(ctx, testGuest); ok {
		t.Fatalf("expected cache entry of swept cart dropped")
	}

	again, err := sweeper.SweepExpired(ctx, 10)
	if err != nil || again != 0 {
		t.Fatalf("expected idempotent second sweep, got %d %v", again, err)
	}
}

func TestCartSweeperPropagatesListFailure(t *testing.T) {
	reg := seededRegistry(t)
	repo := &stubCartRepository{
		CartRepository: reg.Carts(),
		listExpiredFunc: func(context.Context, time.Time, int) ([]domain.Cart, error) {
			return nil, &repositoryErrorStub{unavailable: true}
		},
	}
	sweeper, err := NewCartSweeper(CartSweeperDeps{Carts: repo})
	if err != nil {
		t.Fatalf("unexpected error constructing sweeper: %v", err)
	}
	if _, err := sweeper.SweepExpired(context.Background(), 0); !errors.Is(err, ErrInfrastructure) {
		t.Fatalf("expected ErrInfrastructure, got %v", err)
	}
}
