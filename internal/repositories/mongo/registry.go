package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/storefront/api/internal/repositories"
)

// Registry wires the Mongo repositories onto one database.
type Registry struct {
	client       *mongo.Client
	carts        *CartRepository
	orders       *OrderRepository
	products     *ProductRepository
	counters     *CounterRepository
	health       repositories.HealthRepository
	transactions bool
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises the registry.
type RegistryOption func(*Registry)

// WithTransactions enables multi-document transactions for RunInTx. It requires a replica set.
func WithTransactions(enabled bool) RegistryOption {
	return func(r *Registry) { r.transactions = enabled }
}

// WithHealth attaches the readiness repository.
func WithHealth(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) { r.health = health }
}

// NewRegistry builds the repositories on database and ensures their indexes.
func NewRegistry(ctx context.Context, client *mongo.Client, database string, opts ...RegistryOption) (*Registry, error) {
	if client == nil {
		return nil, errors.New("mongo registry requires client")
	}
	if database == "" {
		return nil, errors.New("mongo registry requires database name")
	}
	db := client.Database(database)
	reg := &Registry{
		client:   client,
		carts:    NewCartRepository(db),
		orders:   NewOrderRepository(db),
		products: NewProductRepository(db),
		counters: NewCounterRepository(db),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}
	if err := reg.carts.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	if err := reg.orders.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.client.Disconnect(ctx) }

func (r *Registry) Carts() repositories.CartRepository       { return r.carts }
func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }
func (r *Registry) Health() repositories.HealthRepository    { return r.health }

// Ping is the readiness probe.
func (r *Registry) Ping(ctx context.Context) error {
	return wrapError("ping", r.client.Ping(ctx, nil))
}

// RunInTx runs fn inside a session transaction when enabled. Repositories called with the
// session context join the transaction. Without transactions fn runs directly.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.transactions {
		return fn(ctx)
	}
	session, err := r.client.StartSession()
	if err != nil {
		return wrapError("transaction", err)
	}
	defer session.EndSession(ctx)

	var fnErr error
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		fnErr = fn(sc)
		return nil, fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil && errors.Is(err, fnErr) {
		return fnErr
	}
	return wrapError("transaction", err)
}

func (r *Registry) Transactional() bool { return r.transactions }
