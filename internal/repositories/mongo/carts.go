package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

const (
	cartCollection     = "carts"
	maxMutateAttempts  = 5
	abandonedRetention = 90 * 24 * time.Hour
)

// CartRepository stores one document per cart. A partial unique index on owner_key over active
// carts enforces the one-active-cart rule.
type CartRepository struct {
	collection *mongo.Collection
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository binds the repository to the carts collection of db.
func NewCartRepository(db *mongo.Database) *CartRepository {
	return &CartRepository{collection: db.Collection(cartCollection)}
}

// EnsureIndexes creates the indexes the queries and invariants rely on.
func (r *CartRepository) EnsureIndexes(ctx context.Context) error {
	active := bson.M{"status": string(domain.CartStatusActive)}
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner_key", Value: 1}},
			Options: options.Index().SetName("one_active_cart_per_owner").SetUnique(true).SetPartialFilterExpression(active),
		},
		{
			Keys: bson.D{{Key: "owner_key", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().
				SetName("purge_abandoned").
				SetExpireAfterSeconds(int32(abandonedRetention / time.Second)).
				SetPartialFilterExpression(bson.M{"status": string(domain.CartStatusAbandoned)}),
		},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("mongo: create cart indexes: %w", err)
	}
	return nil
}

// Insert retires expired active carts of the owner first, so the unique index only rejects a
// live competitor.
func (r *CartRepository) Insert(ctx context.Context, cart domain.Cart) error {
	if strings.TrimSpace(cart.ID) == "" {
		return errors.New("cart repository: cart id is required")
	}
	if cart.Version == 0 {
		cart.Version = 1
	}
	if cart.Status == domain.CartStatusActive {
		_, err := r.collection.UpdateMany(ctx, bson.M{
			"owner_key":  cart.Owner().String(),
			"status":     string(domain.CartStatusActive),
			"expires_at": bson.M{"$lte": cart.CreatedAt.UTC()},
		}, bson.M{
			"$set": bson.M{"status": string(domain.CartStatusAbandoned), "updated_at": cart.CreatedAt.UTC()},
			"$inc": bson.M{"version": 1},
		})
		if err != nil {
			return wrapError("carts.insert", err)
		}
	}
	_, err := r.collection.InsertOne(ctx, encodeCart(cart))
	return wrapError("carts.insert", err)
}

func (r *CartRepository) FindByID(ctx context.Context, cartID string) (domain.Cart, error) {
	var doc cartDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": cartID}).Decode(&doc); err != nil {
		return domain.Cart{}, wrapError("carts.find", err)
	}
	return doc.toDomain()
}

func (r *CartRepository) FindActiveByOwner(ctx context.Context, owner domain.Identity) (domain.Cart, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var doc cartDoc
	err := r.collection.FindOne(ctx, bson.M{
		"owner_key": owner.String(),
		"status":    string(domain.CartStatusActive),
	}, opts).Decode(&doc)
	if err != nil {
		return domain.Cart{}, wrapError("carts.find_active", err)
	}
	return doc.toDomain()
}

// Mutate retries on a lost version race. Errors from fn are returned unchanged.
func (r *CartRepository) Mutate(ctx context.Context, cartID string, fn repositories.CartMutation) (domain.Cart, error) {
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		current, err := r.FindByID(ctx, cartID)
		if err != nil {
			return domain.Cart{}, err
		}
		working := current.Clone()
		if err := fn(&working); err != nil {
			return domain.Cart{}, err
		}
		working.ID = current.ID
		working.Version = current.Version + 1

		res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": current.ID, "version": current.Version}, encodeCart(working))
		if err != nil {
			return domain.Cart{}, wrapError("carts.mutate", err)
		}
		if res.MatchedCount == 1 {
			return working, nil
		}
	}
	return domain.Cart{}, repositories.Conflict("carts.mutate", "cart "+cartID+" kept changing")
}

func (r *CartRepository) MarkConverted(ctx context.Context, cartID string, expectedVersion int64, at time.Time) error {
	const op = "carts.mark_converted"
	filter := bson.M{"_id": cartID, "status": string(domain.CartStatusActive)}
	if expectedVersion > 0 {
		filter["version"] = expectedVersion
	}
	res, err := r.collection.UpdateOne(ctx, filter, bson.M{
		"$set": bson.M{"status": string(domain.CartStatusConverted), "updated_at": at.UTC()},
		"$inc": bson.M{"version": 1},
	})
	if err != nil {
		return wrapError(op, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := r.FindByID(ctx, cartID); err != nil {
		return err
	}
	return repositories.Conflict(op, "cart "+cartID+" is no longer convertible")
}

func (r *CartRepository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]domain.Cart, error) {
	opts := options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.collection.Find(ctx, bson.M{
		"status":     string(domain.CartStatusActive),
		"expires_at": bson.M{"$lte": now.UTC()},
	}, opts)
	if err != nil {
		return nil, wrapError("carts.list_expired", err)
	}
	var docs []cartDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, wrapError("carts.list_expired", err)
	}
	out := make([]domain.Cart, 0, len(docs))
	for _, doc := range docs {
		cart, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, cart)
	}
	return out, nil
}
