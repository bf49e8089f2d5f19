package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/repositories"
)

const (
	orderCollection       = "orders"
	orderNumberCollection = "orderNumbers"
)

type orderNumberDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// OrderRepository persists orders. Order numbers are reserved through a companion collection
// keyed by number, so uniqueness is enforced without a query.
type OrderRepository struct {
	base     *pfirestore.Collection[orderDocument]
	numbers  *pfirestore.Collection[orderNumberDocument]
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base:     pfirestore.NewCollection[orderDocument](provider, orderCollection),
		numbers:  pfirestore.NewCollection[orderNumberDocument](provider, orderNumberCollection),
		provider: provider,
	}, nil
}

// Insert only writes, so it can follow reads made earlier in the same transaction.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" || strings.TrimSpace(order.OrderNumber) == "" {
		return errors.New("order repository: order id and number are required")
	}
	if order.Version == 0 {
		order.Version = 1
	}
	return r.provider.InTransaction(ctx, func(ctx context.Context) error {
		if err := r.numbers.Create(ctx, order.OrderNumber, orderNumberDocument{OrderID: order.ID, CreatedAt: order.CreatedAt.UTC()}); err != nil {
			return err
		}
		return r.base.Create(ctx, order.ID, encodeOrder(order))
	})
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data)
}

func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn repositories.OrderMutation) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	var saved domain.Order
	err := r.provider.InTransaction(ctx, func(ctx context.Context) error {
		doc, err := r.base.Get(ctx, orderID)
		if err != nil {
			return err
		}
		current, err := decodeOrder(doc.ID, doc.Data)
		if err != nil {
			return err
		}
		working := current.Clone()
		if err := fn(&working); err != nil {
			return err
		}
		working.ID = current.ID
		working.Version = current.Version + 1
		if err := r.base.Put(ctx, orderID, encodeOrder(working)); err != nil {
			return err
		}
		saved = working
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return saved, nil
}

// List pages newest first on (createdAt, document id). One extra document is read to decide
// whether a next page exists.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}

	docs, err := r.base.Find(ctx, func(q firestore.Query) firestore.Query {
		switch {
		case filter.UserID != "":
			q = q.Where("userId", "==", filter.UserID)
		default:
			q = q.Where("userId", "==", "").Where("guestEmail", "==", strings.ToLower(filter.GuestEmail))
			if filter.GuestID != "" {
				q = q.Where("guestId", "==", filter.GuestID)
			}
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, status := range filter.Status {
				statuses = append(statuses, string(status))
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, min(len(docs), size))}
	for i, doc := range docs {
		if i == size {
			break
		}
		order, err := decodeOrder(doc.ID, doc.Data)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.Items = append(page.Items, order)
	}
	if len(docs) > size {
		last := page.Items[len(page.Items)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}
