package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document is a decoded snapshot.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// Collection is a typed view of one top-level collection. T is decoded with DataTo, so it
// carries firestore struct tags. Every method joins the transaction on ctx when there is one.
type Collection[T any] struct {
	provider *Provider
	name     string
}

func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Ref returns the document reference for id.
func (c *Collection[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if c == nil || c.provider == nil {
		return nil, errors.New("firestore: collection has no provider")
	}
	if strings.TrimSpace(id) == "" {
		return nil, &Error{Op: c.op("ref"), Err: errors.New("document id is required")}
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name).Doc(id), nil
}

// Get loads one document; a missing one yields a not-found *Error.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	var snap *firestore.DocumentSnapshot
	if tx := txFrom(ctx); tx != nil {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return decode[T](snap)
}

// Find runs the query built from the collection and decodes every match in order.
func (c *Collection[T]) Find(ctx context.Context, build func(firestore.Query) firestore.Query) ([]Document[T], error) {
	if c == nil || c.provider == nil {
		return nil, errors.New("firestore: collection has no provider")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	query := client.Collection(c.name).Query
	if build != nil {
		query = build(query)
	}
	var it *firestore.DocumentIterator
	if tx := txFrom(ctx); tx != nil {
		it = tx.Documents(query)
	} else {
		it = query.Documents(ctx)
	}
	defer it.Stop()

	var out []Document[T]
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(c.op("find"), err)
		}
		doc, err := decode[T](snap)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
}

// Create writes value under id and fails with a conflict when the document exists.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	return c.write(ctx, "create", id, func(tx *firestore.Transaction, ref *firestore.DocumentRef) error {
		if tx != nil {
			return tx.Create(ref, value)
		}
		_, err := ref.Create(ctx, value)
		return err
	})
}

// Put replaces, or with firestore.MergeAll merges, the document under id.
func (c *Collection[T]) Put(ctx context.Context, id string, value any, opts ...firestore.SetOption) error {
	return c.write(ctx, "put", id, func(tx *firestore.Transaction, ref *firestore.DocumentRef) error {
		if tx != nil {
			return tx.Set(ref, value, opts...)
		}
		_, err := ref.Set(ctx, value, opts...)
		return err
	})
}

// Patch updates the listed fields of an existing document.
func (c *Collection[T]) Patch(ctx context.Context, id string, updates []firestore.Update, preconds ...firestore.Precondition) error {
	return c.write(ctx, "patch", id, func(tx *firestore.Transaction, ref *firestore.DocumentRef) error {
		if tx != nil {
			return tx.Update(ref, updates, preconds...)
		}
		_, err := ref.Update(ctx, updates, preconds...)
		return err
	})
}

// Delete removes the document; deleting a missing one succeeds.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.write(ctx, "delete", id, func(tx *firestore.Transaction, ref *firestore.DocumentRef) error {
		if tx != nil {
			return tx.Delete(ref)
		}
		_, err := ref.Delete(ctx)
		return err
	})
}

func (c *Collection[T]) write(ctx context.Context, action, id string, fn func(*firestore.Transaction, *firestore.DocumentRef) error) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	return WrapError(c.op(action), fn(txFrom(ctx), ref))
}

func (c *Collection[T]) op(action string) string {
	return c.name + "." + action
}

func decode[T any](snap *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode %s: %w", snap.Ref.Path, err)
	}
	return Document[T]{ID: snap.Ref.ID, Data: data, CreateTime: snap.CreateTime, UpdateTime: snap.UpdateTime}, nil
}
