package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

const cartCollection = "carts"

// CartRepository persists carts as single documents. Every write runs in a transaction so the
// one-active-cart rule and version bumps hold under concurrent requests.
type CartRepository struct {
	base     *pfirestore.Collection[cartDocument]
	provider *pfirestore.Provider
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base:     pfirestore.NewCollection[cartDocument](provider, cartCollection),
		provider: provider,
	}, nil
}

// Insert creates the cart. Another usable active cart of the same owner makes it a conflict.
func (r *CartRepository) Insert(ctx context.Context, cart domain.Cart) error {
	if strings.TrimSpace(cart.ID) == "" {
		return errors.New("cart repository: cart id is required")
	}
	if cart.Version == 0 {
		cart.Version = 1
	}
	return r.provider.InTransaction(ctx, func(ctx context.Context) error {
		if cart.Status == domain.CartStatusActive {
			existing, err := r.activeByOwner(ctx, cart.Owner(), 0)
			if err != nil {
				return err
			}
			for _, other := range existing {
				if !other.IsExpired(cart.CreatedAt) {
					return pfirestore.Conflict("carts.insert", "owner already has an active cart")
				}
			}
		}
		return r.base.Create(ctx, cart.ID, encodeCart(cart))
	})
}

func (r *CartRepository) FindByID(ctx context.Context, cartID string) (domain.Cart, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(cartID))
	if err != nil {
		return domain.Cart{}, err
	}
	return decodeCart(doc.ID, doc.Data)
}

func (r *CartRepository) FindActiveByOwner(ctx context.Context, owner domain.Identity) (domain.Cart, error) {
	carts, err := r.activeByOwner(ctx, owner, 1)
	if err != nil {
		return domain.Cart{}, err
	}
	if len(carts) == 0 {
		return domain.Cart{}, pfirestore.NotFound("carts.find_active", "no active cart for "+owner.String())
	}
	return carts[0], nil
}

func (r *CartRepository) activeByOwner(ctx context.Context, owner domain.Identity, limit int) ([]domain.Cart, error) {
	docs, err := r.base.Find(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("ownerKey", "==", owner.String()).
			Where("status", "==", string(domain.CartStatusActive)).
			OrderBy("createdAt", firestore.Desc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return decodeCarts(docs)
}

// Mutate reads, applies fn and writes back inside one transaction. Errors from fn are returned
// as is and nothing is written.
func (r *CartRepository) Mutate(ctx context.Context, cartID string, fn repositories.CartMutation) (domain.Cart, error) {
	cartID = strings.TrimSpace(cartID)
	var saved domain.Cart
	err := r.provider.InTransaction(ctx, func(ctx context.Context) error {
		doc, err := r.base.Get(ctx, cartID)
		if err != nil {
			return err
		}
		current, err := decodeCart(doc.ID, doc.Data)
		if err != nil {
			return err
		}
		working := current.Clone()
		if err := fn(&working); err != nil {
			return err
		}
		working.ID = current.ID
		working.Version = current.Version + 1
		if err := r.base.Put(ctx, cartID, encodeCart(working)); err != nil {
			return err
		}
		saved = working
		return nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return saved, nil
}

// MarkConverted joins the caller's transaction when there is one, so checkout can convert the
// cart and insert the order atomically.
func (r *CartRepository) MarkConverted(ctx context.Context, cartID string, expectedVersion int64, at time.Time) error {
	const op = "carts.mark_converted"
	return r.provider.InTransaction(ctx, func(ctx context.Context) error {
		doc, err := r.base.Get(ctx, cartID)
		if err != nil {
			return err
		}
		if doc.Data.Status != string(domain.CartStatusActive) {
			return pfirestore.Conflict(op, fmt.Sprintf("cart %s is %s", cartID, doc.Data.Status))
		}
		if expectedVersion > 0 && doc.Data.Version != expectedVersion {
			return pfirestore.Conflict(op, fmt.Sprintf("cart %s changed", cartID))
		}
		return r.base.Patch(ctx, cartID, []firestore.Update{
			{Path: "status", Value: string(domain.CartStatusConverted)},
			{Path: "updatedAt", Value: at.UTC()},
			{Path: "version", Value: doc.Data.Version + 1},
		})
	})
}

func (r *CartRepository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]domain.Cart, error) {
	docs, err := r.base.Find(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(domain.CartStatusActive)).
			Where("expiresAt", "<=", now.UTC()).
			OrderBy("expiresAt", firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return decodeCarts(docs)
}

func decodeCarts(docs []pfirestore.Document[cartDocument]) ([]domain.Cart, error) {
	out := make([]domain.Cart, 0, len(docs))
	for _, doc := range docs {
		cart, err := decodeCart(doc.ID, doc.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, cart)
	}
	return out, nil
}
