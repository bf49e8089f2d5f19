package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

const countersCollection = "counters"

// counterDocument backs one sequence, such as the order numbers of a single day.
type counterDocument struct {
	Value     int64     `firestore:"currentValue"`
	Step      int64     `firestore:"step"`
	Limit     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// advance moves the counter by step, or by its stored step when step is zero. Overflowing int64
// or passing Limit exhausts the counter.
func (d counterDocument) advance(id string, step int64) (counterDocument, error) {
	if step <= 0 {
		step = max(d.Step, 1)
	}
	next := d.Value + step
	if next < d.Value || (d.Limit != nil && next > *d.Limit) {
		return d, repositories.NewCounterError(repositories.CounterErrorExhausted,
			fmt.Sprintf("counter %s exhausted at %d", id, d.Value), nil)
	}
	d.Value = next
	return d, nil
}

// CounterRepository hands out gap-tolerant monotonic sequences. Each call is one Firestore
// transaction on the counter document, so concurrent callers never see the same value.
type CounterRepository struct {
	provider *pfirestore.Provider
	docs     *pfirestore.Collection[counterDocument]
	now      func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		docs:     pfirestore.NewCollection[counterDocument](provider, countersCollection),
		now:      time.Now,
	}, nil
}

func counterID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	return id, nil
}

// Next returns the next value of counterID. The first call creates the counter at step.
func (r *CounterRepository) Next(ctx context.Context, rawID string, step int64) (int64, error) {
	id, err := counterID(rawID)
	if err != nil {
		return 0, err
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput,
			fmt.Sprintf("step must not be negative, got %d", step), nil)
	}

	var value int64
	err = r.provider.InTransaction(ctx, func(ctx context.Context) error {
		var doc counterDocument
		current, err := r.docs.Get(ctx, id)
		switch {
		case err == nil:
			doc = current.Data
		case !pfirestore.IsNotFound(err):
			return err
		default:
			doc = counterDocument{Step: max(step, 1)}
		}
		doc, err = doc.advance(id, step)
		if err != nil {
			return err
		}
		doc.UpdatedAt = r.now().UTC()
		value = doc.Value
		return r.docs.Put(ctx, id, doc)
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

// Configure merges the non-zero settings of cfg into the counter, creating it when missing.
func (r *CounterRepository) Configure(ctx context.Context, rawID string, cfg repositories.CounterConfig) error {
	id, err := counterID(rawID)
	if err != nil {
		return err
	}
	fields := map[string]any{"updatedAt": r.now().UTC()}
	if cfg.Step > 0 {
		fields["step"] = cfg.Step
	}
	if cfg.MaxValue != nil {
		fields["maxValue"] = *cfg.MaxValue
	}
	if cfg.InitialValue != nil {
		fields["currentValue"] = *cfg.InitialValue
	}
	return r.docs.Put(ctx, id, fields, firestore.MergeAll)
}
