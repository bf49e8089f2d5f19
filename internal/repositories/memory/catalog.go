package memory

import (
	"context"
	"fmt"
	"math"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

// ProductRepository serves products seeded with Registry.PutProduct.
type ProductRepository struct {
	r *Registry
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func (p *ProductRepository) FindByRef(_ context.Context, productRef string) (domain.Product, error) {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()

	product, ok := p.r.products[productRef]
	if !ok {
		return domain.Product{}, repositories.NotFound("products.find", "product", productRef)
	}
	return product, nil
}

type counterState struct {
	value    int64
	step     int64
	maxValue *int64
}

// CounterRepository keeps sequences in memory.
type CounterRepository struct {
	r *Registry
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func (c *CounterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	if counterID == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "step must not be negative", nil)
	}

	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	state := c.r.counters[counterID]
	if state == nil {
		state = &counterState{}
		c.r.counters[counterID] = state
	}
	if step == 0 {
		step = state.step
	}
	if step == 0 {
		step = 1
	}
	if state.value > math.MaxInt64-step {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, "counter overflow", nil)
	}
	next := state.value + step
	if state.maxValue != nil && next > *state.maxValue {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted,
			fmt.Sprintf("counter %s reached %d", counterID, *state.maxValue), nil)
	}
	state.value = next
	return next, nil
}

func (c *CounterRepository) Configure(_ context.Context, counterID string, cfg repositories.CounterConfig) error {
	if counterID == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if cfg.Step < 0 {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "step must not be negative", nil)
	}

	c.r.mu.Lock()
	defer c.r.mu.Unlock()

	state := c.r.counters[counterID]
	if state == nil {
		state = &counterState{}
		c.r.counters[counterID] = state
	}
	if cfg.Step > 0 {
		state.step = cfg.Step
	}
	if cfg.MaxValue != nil {
		max := *cfg.MaxValue
		state.maxValue = &max
	}
	if cfg.InitialValue != nil && state.value == 0 {
		state.value = *cfg.InitialValue
	}
	return nil
}
