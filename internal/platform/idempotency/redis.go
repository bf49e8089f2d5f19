package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idempotency:"

// RedisStore keeps each record as a JSON string whose key TTL equals the record lifetime.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	return &RedisStore{client: client}, nil
}

func redisKey(key string) string { return redisKeyPrefix + hashKey(key) }

// Reserve relies on SET NX so two racing requests cannot both win. A key that expires between
// SET NX and GET is claimed again.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	fresh := claim(key, fingerprint, now, ttl)
	payload, err := json.Marshal(fresh)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: encode record: %w", err)
	}
	rk := redisKey(key)
	for {
		won, err := s.client.SetNX(ctx, rk, payload, lifetime(ttl)).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
		}
		if won {
			return Reservation{State: ReservationNew, Record: fresh}, nil
		}
		existing, err := s.read(ctx, s.client, rk)
		if err != nil {
			return Reservation{}, err
		}
		if existing != nil {
			return existing.reservation(fingerprint)
		}
	}
}

// Complete overwrites the pending record under WATCH so a concurrent Release is not undone.
func (s *RedisStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	rk := redisKey(key)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := s.read(ctx, tx, rk)
		if err != nil {
			return err
		}
		done, err := settleOrClaim(existing, key, fingerprint, resp, now, ttl)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(done)
		if err != nil {
			return fmt.Errorf("idempotency: encode record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, payload, lifetime(ttl))
			return nil
		})
		return err
	}, rk)
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// read returns nil without error when the key is absent.
func (s *RedisStore) read(ctx context.Context, c getter, rk string) (*Record, error) {
	raw, err := c.Get(ctx, rk).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: load: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return &record, nil
}
