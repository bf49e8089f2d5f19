package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/storefront/api/internal/repositories"
)

// wrapError classifies driver errors into repository kinds. Context errors pass through.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		return err
	}
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return repositories.NewStoreError(op, repositories.KindNotFound, err)
	case mongo.IsDuplicateKeyError(err):
		return repositories.NewStoreError(op, repositories.KindConflict, err)
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), errors.Is(err, mongo.ErrClientDisconnected):
		return repositories.NewStoreError(op, repositories.KindUnavailable, err)
	default:
		return repositories.NewStoreError(op, repositories.KindUnknown, err)
	}
}
