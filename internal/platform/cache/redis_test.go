package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/api/internal/domain"
)

func setupTestRedis(t *testing.T, opts ...Option) (*RedisCartCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCartCache(client, opts...), mr
}

func sampleCart() domain.Cart {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return domain.Cart{
		ID:       "c1",
		GuestID:  "g1",
		Currency: domain.CurrencyEUR,
		Status:   domain.CartStatusActive,
		Items: []domain.CartItem{{
			ID:              "i1",
			ProductRef:      "mug",
			Quantity:        2,
			SelectedOptions: domain.NewSelectedOptions(map[string]string{"color": "blue"}),
			UnitPrice:       domain.MustMoney("5.50", domain.CurrencyEUR),
			AddedAt:         now,
			UpdatedAt:       now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(domain.CartTTL),
		Version:   3,
	}
}

func TestRedisCartCache_RoundTrip(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()
	cart := sampleCart()

	require.NoError(t, cache.Set(ctx, cart))
	assert.True(t, mr.Exists("cart:guest:g1"))

	got, ok, err := cache.Get(ctx, domain.GuestIdentity("g1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cart.ID, got.ID)
	assert.Equal(t, cart.Version, got.Version)
	require.Len(t, got.Items, 1)
	assert.True(t, got.Items[0].UnitPrice.Amount.Equal(cart.Items[0].UnitPrice.Amount))
	assert.Equal(t, "color=blue", got.Items[0].SelectedOptions.Key())
	assert.True(t, got.ExpiresAt.Equal(cart.ExpiresAt))
}

func TestRedisCartCache_Miss(t *testing.T) {
	cache, _ := setupTestRedis(t)
	_, ok, err := cache.Get(context.Background(), domain.UserIdentity("nobody"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCartCache_InvalidPayload(t *testing.T) {
	cache, mr := setupTestRedis(t)
	mr.HSet("cart:user:u1", "data", "{not json")
	_, ok, err := cache.Get(context.Background(), domain.UserIdentity("u1"))
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestRedisCartCache_Delete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, sampleCart()))
	require.NoError(t, cache.Delete(ctx, domain.GuestIdentity("g1")))
	assert.False(t, mr.Exists("cart:guest:g1"))
}

func TestRedisCartCache_TTLWithJitter(t *testing.T) {
	cache, mr := setupTestRedis(t, WithTTL(10*time.Minute), WithJitter(2*time.Minute))
	require.NoError(t, cache.Set(context.Background(), sampleCart()))

	ttl := mr.TTL("cart:guest:g1")
	assert.GreaterOrEqual(t, ttl, 10*time.Minute)
	assert.Less(t, ttl, 12*time.Minute)

	mr.FastForward(13 * time.Minute)
	assert.False(t, mr.Exists("cart:guest:g1"))
}

func TestRedisCartCache_Unavailable(t *testing.T) {
	cache, mr := setupTestRedis(t)
	mr.Close()
	_, _, err := cache.Get(context.Background(), domain.UserIdentity("u1"))
	assert.Error(t, err)
}

func TestRedisCartCache_SetKeepsNewerVersion(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	fresh := sampleCart()
	fresh.Version = 3
	stale := sampleCart()
	stale.Version = 2
	stale.Items = nil

	require.NoError(t, cache.Set(ctx, fresh))
	require.NoError(t, cache.Set(ctx, stale))

	got, ok, err := cache.Get(ctx, domain.GuestIdentity("g1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), got.Version)
	assert.Len(t, got.Items, 1)

	newer := sampleCart()
	newer.Version = 4
	require.NoError(t, cache.Set(ctx, newer))
	got, _, err = cache.Get(ctx, domain.GuestIdentity("g1"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Version)
}

func TestRedisCartCache_SetPrefersLaterCart(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	old := sampleCart()
	old.Version = 9
	replacement := sampleCart()
	replacement.ID = "c2"
	replacement.Version = 1
	replacement.CreatedAt = old.CreatedAt.Add(time.Hour)

	require.NoError(t, cache.Set(ctx, replacement))
	require.NoError(t, cache.Set(ctx, old))

	got, ok, err := cache.Get(ctx, domain.GuestIdentity("g1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c2", got.ID)
}
