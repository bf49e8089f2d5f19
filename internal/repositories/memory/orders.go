package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/repositories"
)

// OrderRepository stores orders in the registry map.
type OrderRepository struct {
	r *Registry
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func (o *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()

	if _, exists := o.r.orders[order.ID]; exists {
		return repositories.Conflict("orders.insert", "order "+order.ID+" already exists")
	}
	for _, existing := range o.r.orders {
		if existing.OrderNumber == order.OrderNumber {
			return repositories.Conflict("orders.insert", "order number "+order.OrderNumber+" already used")
		}
	}
	if order.Version == 0 {
		order.Version = 1
	}
	o.r.orders[order.ID] = order.Clone()
	return nil
}

func (o *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()

	order, ok := o.r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NotFound("orders.find", "order", orderID)
	}
	return order.Clone(), nil
}

func (o *OrderRepository) Mutate(_ context.Context, orderID string, fn repositories.OrderMutation) (domain.Order, error) {
	o.r.mu.Lock()
	defer o.r.mu.Unlock()

	current, ok := o.r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NotFound("orders.mutate", "order", orderID)
	}
	working := current.Clone()
	if err := fn(&working); err != nil {
		return domain.Order{}, err
	}
	working.ID = current.ID
	working.Version = current.Version + 1
	o.r.orders[orderID] = working.Clone()
	return working, nil
}

// List returns orders newest first, keyed by (CreatedAt, ID) for stable cursors.
func (o *OrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, repositories.NewStoreError("orders.list", repositories.KindUnknown, err)
	}

	o.r.mu.Lock()
	matched := make([]domain.Order, 0)
	for _, order := range o.r.orders {
		if matchesFilter(order, filter) {
			matched = append(matched, order.Clone())
		}
	}
	o.r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	start := 0
	if !cursor.IsZero() {
		for start < len(matched) && !cursor.Precedes(matched[start].CreatedAt, matched[start].ID) {
			start++
		}
	}

	size := filter.Pagination.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	end := min(start+size, len(matched))
	page := domain.CursorPage[domain.Order]{Items: matched[start:end]}
	if end < len(matched) {
		last := matched[end-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, repositories.NewStoreError("orders.list", repositories.KindUnknown, err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

func matchesFilter(order domain.Order, filter repositories.OrderListFilter) bool {
	switch {
	case filter.UserID != "":
		if order.UserID != filter.UserID {
			return false
		}
	case filter.GuestEmail != "":
		if order.UserID != "" || !strings.EqualFold(order.GuestEmail, filter.GuestEmail) {
			return false
		}
		if filter.GuestID != "" && order.GuestID != filter.GuestID {
			return false
		}
	default:
		return false
	}
	if len(filter.Status) == 0 {
		return true
	}
	for _, status := range filter.Status {
		if order.Status == status {
			return true
		}
	}
	return false
}
