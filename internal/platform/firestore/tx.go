package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

type txKey struct{}

func contextWithTx(ctx context.Context, tx *firestore.Transaction) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFrom(ctx context.Context) *firestore.Transaction {
	tx, _ := ctx.Value(txKey{}).(*firestore.Transaction)
	return tx
}

// InTransaction runs fn inside a Firestore transaction. Collection calls made with the ctx
// handed to fn read and write through that transaction. A ctx that already carries one is
// reused, since Firestore has no nested transactions. An error returned by fn comes back
// unwrapped so callers can match on it.
//
// Firestore rejects reads issued after the first write of a transaction; fn must do all its
// Gets and Finds first.
func (p *Provider) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("firestore: transaction function is nil")
	}
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > p.txTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.txTimeout)
		defer cancel()
	}

	var fnErr error
	err = client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		fnErr = fn(contextWithTx(ctx, tx))
		return fnErr
	}, firestore.MaxAttempts(p.txAttempts))
	switch {
	case err == nil:
		return nil
	case fnErr != nil && errors.Is(err, fnErr):
		return fnErr
	default:
		return WrapError("transaction", err)
	}
}
