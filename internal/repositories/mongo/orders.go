package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/repositories"
)

const orderCollection = "orders"

// OrderRepository stores orders. order_number carries a unique index.
type OrderRepository struct {
	collection *mongo.Collection
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository binds the repository to the orders collection of db.
func NewOrderRepository(db *mongo.Database) *OrderRepository {
	return &OrderRepository{collection: db.Collection(orderCollection)}
}

// EnsureIndexes creates the uniqueness and listing indexes.
func (r *OrderRepository) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "order_number", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "guest_email", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
		},
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("mongo: create order indexes: %w", err)
	}
	return nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	if order.Version == 0 {
		order.Version = 1
	}
	_, err := r.collection.InsertOne(ctx, encodeOrder(order))
	return wrapError("orders.insert", err)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var doc orderDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": orderID}).Decode(&doc); err != nil {
		return domain.Order{}, wrapError("orders.find", err)
	}
	return doc.toDomain()
}

// Mutate retries on a lost version race. Errors from fn are returned unchanged.
func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn repositories.OrderMutation) (domain.Order, error) {
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		current, err := r.FindByID(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		working := current.Clone()
		if err := fn(&working); err != nil {
			return domain.Order{}, err
		}
		working.ID = current.ID
		working.Version = current.Version + 1

		res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": current.ID, "version": current.Version}, encodeOrder(working))
		if err != nil {
			return domain.Order{}, wrapError("orders.mutate", err)
		}
		if res.MatchedCount == 1 {
			return working, nil
		}
	}
	return domain.Order{}, repositories.Conflict("orders.mutate", "order "+orderID+" kept changing")
}

// List pages newest first on (created_at, _id). One extra document decides whether a next
// page exists.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	const op = "orders.list"
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, repositories.NewStoreError(op, repositories.KindUnknown, err)
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}

	query := bson.M{}
	if filter.UserID != "" {
		query["user_id"] = filter.UserID
	} else {
		query["user_id"] = ""
		query["guest_email"] = strings.ToLower(filter.GuestEmail)
		if filter.GuestID != "" {
			query["guest_id"] = filter.GuestID
		}
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		query["status"] = bson.M{"$in": statuses}
	}
	if !cursor.IsZero() {
		at := cursor.CreatedAt.UTC()
		query["$or"] = bson.A{
			bson.M{"created_at": bson.M{"$lt": at}},
			bson.M{"created_at": at, "_id": bson.M{"$lt": cursor.ID}},
		}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(size + 1))
	found, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError(op, err)
	}
	var docs []orderDoc
	if err := found.All(ctx, &docs); err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError(op, err)
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, min(len(docs), size))}
	for i, doc := range docs {
		if i == size {
			break
		}
		order, err := doc.toDomain()
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.Items = append(page.Items, order)
	}
	if len(docs) > size {
		last := page.Items[len(page.Items)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, repositories.NewStoreError(op, repositories.KindUnknown, err)
		}
		page.NextPageToken = token
	}
	return page, nil
}
