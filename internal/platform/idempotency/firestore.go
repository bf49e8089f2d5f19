package idempotency

import (
	"context"
	"errors"
	"time"

	pfirestore "github.com/storefront/api/internal/platform/firestore"
)

const firestoreCollection = "idempotencyKeys"

// FirestoreStore keeps one document per hashed key. Expired documents are removed by a
// Firestore TTL policy on expiresAt.
type FirestoreStore struct {
	provider *pfirestore.Provider
	docs     *pfirestore.Collection[Record]
}

func NewFirestoreStore(provider *pfirestore.Provider) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	return &FirestoreStore{
		provider: provider,
		docs:     pfirestore.NewCollection[Record](provider, firestoreCollection),
	}, nil
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	var out Reservation
	err := s.provider.InTransaction(ctx, func(ctx context.Context) error {
		existing, err := s.lookup(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil && existing.liveAt(now) {
			out, err = existing.reservation(fingerprint)
			return err
		}
		fresh := claim(key, fingerprint, now, ttl)
		out = Reservation{State: ReservationNew, Record: fresh}
		return s.docs.Put(ctx, hashKey(key), fresh)
	})
	if err != nil {
		return Reservation{}, err
	}
	return out, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	return s.provider.InTransaction(ctx, func(ctx context.Context) error {
		existing, err := s.lookup(ctx, key)
		if err != nil {
			return err
		}
		done, err := settleOrClaim(existing, key, fingerprint, resp, now, ttl)
		if err != nil {
			return err
		}
		return s.docs.Put(ctx, hashKey(key), done)
	})
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	return s.docs.Delete(ctx, hashKey(key))
}

// lookup returns nil without error when no document exists.
func (s *FirestoreStore) lookup(ctx context.Context, key string) (*Record, error) {
	doc, err := s.docs.Get(ctx, hashKey(key))
	if pfirestore.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := doc.Data
	return &record, nil
}
