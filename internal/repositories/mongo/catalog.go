package mongo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const (
	productCollection = "products"
	counterCollection = "counters"
)

// ProductRepository reads catalog entries keyed by product ref.
type ProductRepository struct {
	collection *mongo.Collection
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(db *mongo.Database) *ProductRepository {
	return &ProductRepository{collection: db.Collection(productCollection)}
}

func (r *ProductRepository) FindByRef(ctx context.Context, productRef string) (domain.Product, error) {
	var doc productDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": strings.TrimSpace(productRef)}).Decode(&doc); err != nil {
		return domain.Product{}, wrapError("products.find", err)
	}
	return doc.toDomain()
}

// CounterRepository increments counters with a single $inc so concurrent callers never see the
// same value.
type CounterRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository(db *mongo.Database) *CounterRepository {
	return &CounterRepository{collection: db.Collection(counterCollection), now: time.Now}
}

// Next increments counterID by step. A non-positive step uses the stored step. The filter
// refuses to pass the configured max value; the resulting upsert of an existing _id fails with
// a duplicate key error, reported as exhaustion.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "step must not be negative", nil)
	}
	if step == 0 {
		var stored counterDoc
		err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&stored)
		switch {
		case err == nil:
			step = stored.Step
		case !errors.Is(err, mongo.ErrNoDocuments):
			return 0, wrapError("counters.next", err)
		}
		if step <= 0 {
			step = 1
		}
	}

	filter := bson.M{
		"_id": id,
		"$and": bson.A{
			bson.M{"$or": bson.A{
				bson.M{"max_value": bson.M{"$exists": false}},
				bson.M{"$expr": bson.M{"$lte": bson.A{bson.M{"$add": bson.A{"$value", step}}, "$max_value"}}},
			}},
			bson.M{"$or": bson.A{
				bson.M{"value": bson.M{"$exists": false}},
				bson.M{"value": bson.M{"$lte": math.MaxInt64 - step}},
			}},
		},
	}
	update := bson.M{
		"$inc":         bson.M{"value": step},
		"$set":         bson.M{"updated_at": r.now().UTC()},
		"$setOnInsert": bson.M{"step": step},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc counterDoc
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, fmt.Sprintf("counter %s exhausted", id), err)
	}
	if err != nil {
		return 0, wrapError("counters.next", err)
	}
	return doc.Value, nil
}

func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if cfg.Step < 0 {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "step must not be negative", nil)
	}
	set := bson.M{"updated_at": r.now().UTC()}
	if cfg.Step > 0 {
		set["step"] = cfg.Step
	}
	if cfg.MaxValue != nil {
		set["max_value"] = *cfg.MaxValue
	}
	if cfg.InitialValue != nil {
		set["value"] = *cfg.InitialValue
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set}, options.Update().SetUpsert(true))
	return wrapError("counters.configure", err)
}
