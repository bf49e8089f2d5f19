//go:build integration

package mongo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/config"
	"github.com/storefront/api/internal/repositories"
)

func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := Connect(ctx, config.MongoConfig{URI: uri, Database: "storefront_test"})
	require.NoError(t, err)

	reg, err := NewRegistry(ctx, client, "storefront_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return reg
}

func activeCart(id, userID string, created time.Time) domain.Cart {
	return domain.Cart{
		ID:        id,
		UserID:    userID,
		Status:    domain.CartStatusActive,
		CreatedAt: created,
		UpdatedAt: created,
		ExpiresAt: created.Add(domain.CartTTL),
	}
}

func TestCartRepository_OneActiveCartPerOwner(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, reg.Carts().Insert(ctx, activeCart("c1", "u1", now)))

	err := reg.Carts().Insert(ctx, activeCart("c2", "u1", now.Add(time.Minute)))
	assert.True(t, repositories.IsConflict(err), "expected conflict, got %v", err)

	later := now.Add(domain.CartTTL + time.Hour)
	require.NoError(t, reg.Carts().Insert(ctx, activeCart("c3", "u1", later)))

	old, err := reg.Carts().FindByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.CartStatusAbandoned, old.Status)

	current, err := reg.Carts().FindActiveByOwner(ctx, domain.UserIdentity("u1"))
	require.NoError(t, err)
	assert.Equal(t, "c3", current.ID)
}

func TestCartRepository_MutateAndConvert(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, reg.Carts().Insert(ctx, activeCart("c1", "u1", now)))

	sentinel := errors.New("rejected")
	_, err := reg.Carts().Mutate(ctx, "c1", func(*domain.Cart) error { return sentinel })
	assert.Same(t, sentinel, err)

	updated, err := reg.Carts().Mutate(ctx, "c1", func(c *domain.Cart) error {
		c.Currency = domain.CurrencyUSD
		c.Items = append(c.Items, domain.CartItem{
			ID:              "i1",
			ProductRef:      "tee",
			Quantity:        3,
			SelectedOptions: domain.NewSelectedOptions(map[string]string{"size": "M"}),
			UnitPrice:       domain.MustMoney("19.99", domain.CurrencyUSD),
			AddedAt:         now,
			UpdatedAt:       now,
		})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	stored, err := reg.Carts().FindByID(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "19.99", stored.Items[0].UnitPrice.Amount.StringFixed(2))
	assert.Equal(t, "size=M", stored.Items[0].SelectedOptions.Key())

	err = reg.Carts().MarkConverted(ctx, "c1", 1, now)
	assert.True(t, repositories.IsConflict(err), "expected stale version conflict, got %v", err)
	require.NoError(t, reg.Carts().MarkConverted(ctx, "c1", 2, now))
	err = reg.Carts().MarkConverted(ctx, "c1", 0, now)
	assert.True(t, repositories.IsConflict(err), "expected conflict on converted cart, got %v", err)
	err = reg.Carts().MarkConverted(ctx, "missing", 0, now)
	assert.True(t, repositories.IsNotFound(err), "expected not found, got %v", err)
}

func TestCartRepository_ListExpiredActive(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, reg.Carts().Insert(ctx, activeCart("old", "u1", now.Add(-domain.CartTTL-time.Hour))))
	require.NoError(t, reg.Carts().Insert(ctx, activeCart("fresh", "u2", now)))

	expired, err := reg.Carts().ListExpiredActive(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].ID)
}

func TestOrderRepository_InsertListAndMutate(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		require.NoError(t, reg.Orders().Insert(ctx, domain.Order{
			ID:            fmt.Sprintf("o%d", i),
			OrderNumber:   fmt.Sprintf("ORD240301%04d", i),
			UserID:        "u1",
			Currency:      domain.CurrencyVND,
			Status:        domain.OrderStatusPending,
			PaymentStatus: domain.PaymentStatusPending,
			Total:         domain.MustMoney("120000", domain.CurrencyVND).Amount,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}
	err := reg.Orders().Insert(ctx, domain.Order{ID: "dup", OrderNumber: "ORD2403010001", CreatedAt: base})
	assert.True(t, repositories.IsConflict(err), "expected duplicate number conflict, got %v", err)

	first, err := reg.Orders().List(ctx, repositories.OrderListFilter{UserID: "u1", Pagination: domain.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "o5", first.Items[0].ID)
	require.NotEmpty(t, first.NextPageToken)

	second, err := reg.Orders().List(ctx, repositories.OrderListFilter{
		UserID:     "u1",
		Status:     []domain.OrderStatus{domain.OrderStatusPending},
		Pagination: domain.Pagination{PageSize: 10, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.Items, 3)
	assert.Equal(t, "o1", second.Items[2].ID)
	assert.Empty(t, second.NextPageToken)

	moved, err := reg.Orders().Mutate(ctx, "o1", func(o *domain.Order) error {
		o.Status = domain.OrderStatusConfirmed
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), moved.Version)
	assert.True(t, moved.Total.Equal(domain.MustMoney("120000", domain.CurrencyVND).Amount))
}

func TestCounterRepository_NextAndExhaustion(t *testing.T) {
	reg := setupRegistry(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := reg.Counters().Next(ctx, "orders:20240301", 1)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	limit := int64(2)
	require.NoError(t, reg.Counters().Configure(ctx, "orders:20240302", repositories.CounterConfig{Step: 1, MaxValue: &limit}))
	for want := int64(1); want <= limit; want++ {
		got, err := reg.Counters().Next(ctx, "orders:20240302", 0)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := reg.Counters().Next(ctx, "orders:20240302", 0)
	var counterErr *repositories.CounterError
	require.ErrorAs(t, err, &counterErr)
	assert.Equal(t, repositories.CounterErrorExhausted, counterErr.Code)
}
