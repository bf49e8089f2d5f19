// Package cache fronts active-cart reads with Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storefront/api/internal/domain"
)

const (
	defaultTTL    = 15 * time.Minute
	defaultJitter = 5 * time.Minute

	fieldData = "data"
)

// RedisCartCache stores the active cart of an owner as a hash under cart:<kind>:<id>, keeping
// the cart id, creation time and version beside the JSON payload. Entries expire
// after the base TTL plus a random jitter so a burst of writes does not expire together.
type RedisCartCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
	jitter  time.Duration
}

// Option customises the cache.
type Option func(*RedisCartCache)

// WithTTL overrides the base entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *RedisCartCache) {
		if ttl > 0 {
			c.baseTTL = ttl
		}
	}
}

// WithJitter overrides the upper bound of the random TTL extension. Zero disables it.
func WithJitter(jitter time.Duration) Option {
	return func(c *RedisCartCache) {
		if jitter >= 0 {
			c.jitter = jitter
		}
	}
}

// NewRedisCartCache wraps client.
func NewRedisCartCache(client redis.UniversalClient, opts ...Option) *RedisCartCache {
	c := &RedisCartCache{client: client, baseTTL: defaultTTL, jitter: defaultJitter}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Get returns ok=false on a miss.
func (c *RedisCartCache) Get(ctx context.Context, owner domain.Identity) (domain.Cart, bool, error) {
	data, err := c.client.HGet(ctx, Key(owner), fieldData).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Cart{}, false, nil
	}
	if err != nil {
		return domain.Cart{}, false, fmt.Errorf("cache: redis get: %w", err)
	}
	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return domain.Cart{}, false, fmt.Errorf("cache: decode cart: %w", err)
	}
	return cart, true, nil
}

// setIfNewer writes the entry unless the stored one is a later version of the same cart or
// belongs to a cart created after the incoming one. Mirrors domain.Cart.Supersedes.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'id', 'created', 'v')
if cur[1] then
  if cur[1] == ARGV[1] then
    if tonumber(cur[3]) > tonumber(ARGV[3]) then return 0 end
  elseif tonumber(cur[2]) > tonumber(ARGV[2]) then
    return 0
  end
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'created', ARGV[2], 'v', ARGV[3], 'data', ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// Set stores the cart unless the entry already holds a newer snapshot, so a slow writer
// cannot replace a fresher cart with the one it loaded earlier.
func (c *RedisCartCache) Set(ctx context.Context, cart domain.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("cache: encode cart: %w", err)
	}
	args := []any{cart.ID, cart.CreatedAt.UnixMilli(), cart.Version, data, c.ttl().Milliseconds()}
	if err := setIfNewer.Run(ctx, c.client, []string{Key(cart.Owner())}, args...).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (c *RedisCartCache) Delete(ctx context.Context, owner domain.Identity) error {
	if err := c.client.Del(ctx, Key(owner)).Err(); err != nil {
		return fmt.Errorf("cache: redis delete: %w", err)
	}
	return nil
}

// Ping is the readiness probe.
func (c *RedisCartCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCartCache) ttl() time.Duration {
	if c.jitter <= 0 {
		return c.baseTTL
	}
	return c.baseTTL + rand.N(c.jitter)
}

// Key is the Redis key of the owner's active cart.
func Key(owner domain.Identity) string {
	return "cart:" + owner.String()
}
