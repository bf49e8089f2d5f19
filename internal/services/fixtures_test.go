package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
	"github.com/storefront/api/internal/repositories/memory"
)

var (
	testUser  = domain.UserIdentity("user-1")
	testGuest = domain.GuestIdentity("0123456789abcdef0123456789abcdef")
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs(prefix string) func() string {
	var (
		mu   sync.Mutex
		next int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("%s-%d", prefix, next)
	}
}

func seededRegistry(t *testing.T) *memory.Registry {
	t.Helper()
	reg := memory.NewRegistry(nil)
	reg.PutProduct(domain.Product{Ref: "tee", Name: "Tee", SKU: "TEE-1", IsActive: true, Status: domain.ProductStatusActive, UnitPrice: domain.MustMoney("10.00", domain.CurrencyUSD)})
	reg.PutProduct(domain.Product{Ref: "mug", Name: "Mug", SKU: "MUG-1", IsActive: true, Status: domain.ProductStatusActive, UnitPrice: domain.MustMoney("5.50", domain.CurrencyUSD)})
	reg.PutProduct(domain.Product{Ref: "pho", Name: "Pho kit", SKU: "PHO-1", IsActive: true, UnitPrice: domain.MustMoney("120000", domain.CurrencyVND)})
	reg.PutProduct(domain.Product{Ref: "retired", Name: "Retired", SKU: "OLD-1", IsActive: false, Status: domain.ProductStatusDiscontinued, UnitPrice: domain.MustMoney("1.00", domain.CurrencyUSD)})
	return reg
}

type fakeCartCache struct {
	mu      sync.Mutex
	entries map[string]domain.Cart
	deletes int
}

func newFakeCartCache() *fakeCartCache {
	return &fakeCartCache{entries: make(map[string]domain.Cart)}
}

func (c *fakeCartCache) Get(_ context.Context, owner domain.Identity) (domain.Cart, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cart, ok := c.entries[owner.String()]
	return cart.Clone(), ok, nil
}

// Set keeps a newer stored snapshot, like the Redis cache does.
func (c *fakeCartCache) Set(_ context.Context, cart domain.Cart) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cart.Owner().String()
	if stored, ok := c.entries[key]; ok && stored.Supersedes(cart) {
		return nil
	}
	c.entries[key] = cart.Clone()
	return nil
}

// gatedCartCache parks the first Set until release is closed.
type gatedCartCache struct {
	*fakeCartCache
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedCartCache() *gatedCartCache {
	return &gatedCartCache{
		fakeCartCache: newFakeCartCache(),
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (c *gatedCartCache) Set(ctx context.Context, cart domain.Cart) error {
	first := false
	c.once.Do(func() { first = true })
	if first {
		close(c.entered)
		<-c.release
	}
	return c.fakeCartCache.Set(ctx, cart)
}

func (c *fakeCartCache) Delete(_ context.Context, owner domain.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, owner.String())
	c.deletes++
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, event := range p.events {
		out[i] = event.Type
	}
	return out
}

type recordingLogger struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingLogger) log(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

// stubCartRepository delegates to a real repository unless a func field overrides the call.
type stubCartRepository struct {
	repositories.CartRepository
	insertFunc        func(ctx context.Context, cart domain.Cart) error
	findActiveFunc    func(ctx context.Context, owner domain.Identity) (domain.Cart, error)
	markConvertedFunc func(ctx context.Context, cartID string, expectedVersion int64, at time.Time) error
	listExpiredFunc   func(ctx context.Context, now time.Time, limit int) ([]domain.Cart, error)
	mutateFunc        func(ctx context.Context, cartID string, fn repositories.CartMutation) (domain.Cart, error)
}

func (s *stubCartRepository) Mutate(ctx context.Context, cartID string, fn repositories.CartMutation) (domain.Cart, error) {
	if s.mutateFunc != nil {
		return s.mutateFunc(ctx, cartID, fn)
	}
	return s.CartRepository.Mutate(ctx, cartID, fn)
}

func (s *stubCartRepository) Insert(ctx context.Context, cart domain.Cart) error {
	if s.insertFunc != nil {
		return s.insertFunc(ctx, cart)
	}
	return s.CartRepository.Insert(ctx, cart)
}

func (s *stubCartRepository) FindActiveByOwner(ctx context.Context, owner domain.Identity) (domain.Cart, error) {
	if s.findActiveFunc != nil {
		return s.findActiveFunc(ctx, owner)
	}
	return s.CartRepository.FindActiveByOwner(ctx, owner)
}

func (s *stubCartRepository) MarkConverted(ctx context.Context, cartID string, expectedVersion int64, at time.Time) error {
	if s.markConvertedFunc != nil {
		return s.markConvertedFunc(ctx, cartID, expectedVersion, at)
	}
	return s.CartRepository.MarkConverted(ctx, cartID, expectedVersion, at)
}

func (s *stubCartRepository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]domain.Cart, error) {
	if s.listExpiredFunc != nil {
		return s.listExpiredFunc(ctx, now, limit)
	}
	return s.CartRepository.ListExpiredActive(ctx, now, limit)
}

type stubOrderRepository struct {
	repositories.OrderRepository
	insertFunc func(ctx context.Context, order domain.Order) error
}

func (s *stubOrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFunc != nil {
		return s.insertFunc(ctx, order)
	}
	return s.OrderRepository.Insert(ctx, order)
}

// stubUnitOfWork reports itself transactional and records whether fn ran inside RunInTx.
type stubUnitOfWork struct {
	transactional bool
	calls         int
	runFunc       func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (u *stubUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	u.calls++
	if u.runFunc != nil {
		return u.runFunc(ctx, fn)
	}
	return fn(ctx)
}

func (u *stubUnitOfWork) Transactional() bool { return u.transactional }

type repositoryErrorStub struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repositoryErrorStub) Error() string       { return "repository error" }
func (e *repositoryErrorStub) IsNotFound() bool    { return e.notFound }
func (e *repositoryErrorStub) IsConflict() bool    { return e.conflict }
func (e *repositoryErrorStub) IsUnavailable() bool { return e.unavailable }

func mustCartService(t *testing.T, deps CartServiceDeps) CartService {
	t.Helper()
	svc, err := NewCartService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing cart service: %v", err)
	}
	return svc
}

func mustCounterService(t *testing.T, repo repositories.CounterRepository, clock func() time.Time) CounterService {
	t.Helper()
	svc, err := NewCounterService(CounterServiceDeps{Repository: repo, Clock: clock})
	if err != nil {
		t.Fatalf("unexpected error constructing counter service: %v", err)
	}
	return svc
}

func validShipping() domain.Address {
	return domain.Address{
		FullName:   "Nguyen Van A",
		Line1:      "12 Ly Thuong Kiet",
		City:       "Hanoi",
		PostalCode: "100000",
		Country:    "vn",
	}
}
