package firestore

import (
	"context"
	"errors"
	"strings"

	"github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository reads catalog entries keyed by product ref. The catalog is owned by another
// service; this side never writes.
type ProductRepository struct {
	base *pfirestore.Collection[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed catalog reader.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{base: pfirestore.NewCollection[productDocument](provider, productCollection)}, nil
}

func (r *ProductRepository) FindByRef(ctx context.Context, productRef string) (domain.Product, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(productRef))
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProduct(doc.ID, doc.Data)
}
