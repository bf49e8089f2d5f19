//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/firestore/firestoretest"
	"github.com/storefront/api/internal/repositories"
)

func TestCartAndOrderRepositoriesIntegration(t *testing.T) {
	provider := firestoretest.StartProvider(t, "lifecycle-test")
	reg, err := NewRegistry(provider, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	owner := domain.UserIdentity("u1")
	cart := domain.Cart{
		ID:        "cart-1",
		UserID:    owner.ID,
		Currency:  domain.CurrencyUSD,
		Status:    domain.CartStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(domain.CartTTL),
	}
	if err := reg.Carts().Insert(ctx, cart); err != nil {
		t.Fatalf("insert cart: %v", err)
	}
	second := cart
	second.ID = "cart-2"
	if err := reg.Carts().Insert(ctx, second); !repositories.IsConflict(err) {
		t.Fatalf("expected conflict for a second active cart, got %v", err)
	}

	sentinel := errors.New("rejected")
	if _, err := reg.Carts().Mutate(ctx, cart.ID, func(*domain.Cart) error { return sentinel }); err != sentinel {
		t.Fatalf("expected mutation error returned unchanged, got %v", err)
	}
	updated, err := reg.Carts().Mutate(ctx, cart.ID, func(c *domain.Cart) error {
		c.Items = append(c.Items, domain.CartItem{
			ID:         "item-1",
			ProductRef: "tee",
			Quantity:   2,
			UnitPrice:  domain.MustMoney("10.00", domain.CurrencyUSD),
			AddedAt:    now,
			UpdatedAt:  now,
		})
		return nil
	})
	if err != nil {
		t.Fatalf("mutate cart: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2, got %d", updated.Version)
	}
	active, err := reg.Carts().FindActiveByOwner(ctx, owner)
	if err != nil || len(active.Items) != 1 || !active.Items[0].UnitPrice.Amount.Equal(updated.Items[0].UnitPrice.Amount) {
		t.Fatalf("unexpected active cart %+v err=%v", active, err)
	}

	order := domain.Order{
		ID:            "order-1",
		OrderNumber:   "ORD2403010001",
		UserID:        owner.ID,
		CartID:        cart.ID,
		Currency:      domain.CurrencyUSD,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Subtotal:      updated.Items[0].LineTotal(),
		Total:         updated.Items[0].LineTotal(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	stale := int64(1)
	err = reg.RunInTx(ctx, func(ctx context.Context) error {
		if err := reg.Carts().MarkConverted(ctx, cart.ID, stale, now); err != nil {
			return err
		}
		return reg.Orders().Insert(ctx, order)
	})
	if !repositories.IsConflict(err) {
		t.Fatalf("expected stale version conflict, got %v", err)
	}
	if _, err := reg.Orders().FindByID(ctx, order.ID); !repositories.IsNotFound(err) {
		t.Fatalf("expected no order after aborted transaction, got %v", err)
	}

	if err := reg.RunInTx(ctx, func(ctx context.Context) error {
		if err := reg.Carts().MarkConverted(ctx, cart.ID, updated.Version, now); err != nil {
			return err
		}
		return reg.Orders().Insert(ctx, order)
	}); err != nil {
		t.Fatalf("checkout transaction: %v", err)
	}
	converted, _ := reg.Carts().FindByID(ctx, cart.ID)
	if converted.Status != domain.CartStatusConverted {
		t.Fatalf("expected converted cart, got %s", converted.Status)
	}

	dup := order
	dup.ID = "order-2"
	if err := reg.Orders().Insert(ctx, dup); !repositories.IsConflict(err) {
		t.Fatalf("expected duplicate order number conflict, got %v", err)
	}

	for i := 2; i <= 5; i++ {
		next := order
		next.ID = fmt.Sprintf("order-%d", i)
		next.OrderNumber = fmt.Sprintf("ORD240301%04d", i)
		next.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		if err := reg.Orders().Insert(ctx, next); err != nil {
			t.Fatalf("insert order %d: %v", i, err)
		}
	}
	first, err := reg.Orders().List(ctx, repositories.OrderListFilter{UserID: owner.ID, Pagination: domain.Pagination{PageSize: 3}})
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if len(first.Items) != 3 || first.Items[0].ID != "order-5" || first.NextPageToken == "" {
		t.Fatalf("unexpected first page %+v", first)
	}
	rest, err := reg.Orders().List(ctx, repositories.OrderListFilter{UserID: owner.ID, Pagination: domain.Pagination{PageSize: 3, PageToken: first.NextPageToken}})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(rest.Items) != 2 || rest.Items[1].ID != "order-1" || rest.NextPageToken != "" {
		t.Fatalf("unexpected second page %+v", rest)
	}
}
