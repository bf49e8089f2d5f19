package repositories

import (
	"context"
	"time"

	"github.com/storefront/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Orders() OrderRepository
	Products() ProductRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Transactional reports whether RunInTx gives all-or-nothing semantics; stores without
// multi-document transactions run fn directly.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	Transactional() bool
}

// CartMutation edits a cart in place. Returning an error aborts the write and leaves the stored
// document untouched.
type CartMutation func(cart *domain.Cart) error

// CartRepository persists carts. Mutate must apply fn atomically with respect to concurrent
// mutations of the same cart, either inside a transaction or behind an optimistic version check.
type CartRepository interface {
	Insert(ctx context.Context, cart domain.Cart) error
	FindByID(ctx context.Context, cartID string) (domain.Cart, error)
	// FindActiveByOwner returns the newest active cart of the owner, expired or not.
	FindActiveByOwner(ctx context.Context, owner domain.Identity) (domain.Cart, error)
	Mutate(ctx context.Context, cartID string, fn CartMutation) (domain.Cart, error)
	// MarkConverted flips an active cart to converted. It returns a conflict when the stored
	// version differs from expectedVersion or the cart is no longer active.
	MarkConverted(ctx context.Context, cartID string, expectedVersion int64, at time.Time) error
	// ListExpiredActive returns active carts whose expiry is at or before now.
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]domain.Cart, error)
}

// OrderMutation edits an order in place. Returning an error aborts the write.
type OrderMutation func(order *domain.Order) error

// OrderRepository persists orders. Orders are never deleted.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	Mutate(ctx context.Context, orderID string, fn OrderMutation) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ProductRepository is the read-only catalog lookup used by cart and checkout.
type ProductRepository interface {
	FindByRef(ctx context.Context, productRef string) (domain.Product, error)
}

// CounterRepository provides atomic counter increments.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// OrderListFilter narrows order listings to one customer. Exactly one of UserID or GuestEmail
// is expected. GuestID further restricts a GuestEmail listing to one guest token.
type OrderListFilter struct {
	UserID     string
	GuestEmail string
	GuestID    string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}

// CounterConfig holds optional settings for a counter document.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}
