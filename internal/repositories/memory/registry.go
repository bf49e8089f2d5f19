// Package memory implements the repository interfaces on process memory. It backs local
// development and the service level behaviour tests.
package memory

import (
	"context"
	"sync"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

// Registry is a repositories.Registry whose state lives behind a single mutex.
type Registry struct {
	mu       sync.Mutex
	carts    map[string]domain.Cart
	orders   map[string]domain.Order
	products map[string]domain.Product
	counters map[string]*counterState

	cartRepo    *CartRepository
	orderRepo   *OrderRepository
	productRepo *ProductRepository
	counterRepo *CounterRepository
	health      repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry returns an empty registry. health may be nil.
func NewRegistry(health repositories.HealthRepository) *Registry {
	r := &Registry{
		carts:    make(map[string]domain.Cart),
		orders:   make(map[string]domain.Order),
		products: make(map[string]domain.Product),
		counters: make(map[string]*counterState),
		health:   health,
	}
	r.cartRepo = &CartRepository{r: r}
	r.orderRepo = &OrderRepository{r: r}
	r.productRepo = &ProductRepository{r: r}
	r.counterRepo = &CounterRepository{r: r}
	return r
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Carts() repositories.CartRepository       { return r.cartRepo }
func (r *Registry) Orders() repositories.OrderRepository     { return r.orderRepo }
func (r *Registry) Products() repositories.ProductRepository { return r.productRepo }
func (r *Registry) Counters() repositories.CounterRepository { return r.counterRepo }
func (r *Registry) Health() repositories.HealthRepository    { return r.health }

// RunInTx runs fn directly. Writes made before a failure are not rolled back.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Transactional is false: the memory store has no rollback.
func (r *Registry) Transactional() bool { return false }

// PutProduct seeds or replaces a catalog entry.
func (r *Registry) PutProduct(product domain.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[product.Ref] = product
}
