package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process. Used by tests and the memory storage backend.
type MemoryStore struct {
	mu    sync.Mutex
	byKey map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: map[string]Record{}}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	id := hashKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byKey[id]; ok && existing.liveAt(now) {
		return existing.reservation(fingerprint)
	}
	s.sweep(now)
	fresh := claim(key, fingerprint, now, ttl)
	s.byKey[id] = fresh
	return Reservation{State: ReservationNew, Record: fresh}, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	id := hashKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *Record
	if current, ok := s.byKey[id]; ok {
		existing = &current
	}
	done, err := settleOrClaim(existing, key, fingerprint, resp, now, ttl)
	if err != nil {
		return err
	}
	s.byKey[id] = done
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.byKey, hashKey(key))
	s.mu.Unlock()
	return nil
}

// Len reports the number of records held, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

func (s *MemoryStore) sweep(now time.Time) {
	for id, r := range s.byKey {
		if !r.liveAt(now) {
			delete(s.byKey, id)
		}
	}
}
