package docstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"eventpro/internal/common"
)

// Firestore maps collections and documents one-to-one onto Cloud Firestore.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore connects to projectID. credentialsFile may be empty to use
// application default credentials.
func NewFirestore(ctx context.Context, projectID, credentialsFile string) (*Firestore, error) {
	if projectID == "" {
		return nil, errors.New("docstore: firestore project id is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &Firestore{client: client}, nil
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (f *Firestore) Get(ctx context.Context, collection, id string) (Document, error) {
	snap, err := f.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		if notFound(err) {
			return Document{}, fmt.Errorf("docstore: %s/%s: %w", collection, id, common.ErrNotFound)
		}
		return Document{}, fmt.Errorf("firestore get: %w", err)
	}
	return Document{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

func (f *Firestore) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	ref := f.client.Collection(collection).Doc(id)
	var err error
	if merge {
		_, err = ref.Set(ctx, data, firestore.MergeAll)
	} else {
		_, err = ref.Set(ctx, data)
	}
	if err != nil {
		return fmt.Errorf("firestore set: %w", err)
	}
	return nil
}

func (f *Firestore) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	ref, _, err := f.client.Collection(collection).Add(ctx, data)
	if err != nil {
		return "", fmt.Errorf("firestore add: %w", err)
	}
	return ref.ID, nil
}

func (f *Firestore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		updates = append(updates, firestore.Update{Path: k, Value: v})
	}
	if _, err := f.client.Collection(collection).Doc(id).Update(ctx, updates); err != nil {
		if notFound(err) {
			return fmt.Errorf("docstore: %s/%s: %w", collection, id, common.ErrNotFound)
		}
		return fmt.Errorf("firestore update: %w", err)
	}
	return nil
}

func (f *Firestore) Delete(ctx context.Context, collection, id string) error {
	if _, err := f.client.Collection(collection).Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete: %w", err)
	}
	return nil
}

func (f *Firestore) Query(ctx context.Context, collection, field string, value any) ([]Document, error) {
	return collect(f.client.Collection(collection).Where(field, "==", value).Documents(ctx))
}

func (f *Firestore) List(ctx context.Context, collection string) ([]Document, error) {
	return collect(f.client.Collection(collection).Documents(ctx))
}

func (f *Firestore) CompareAndSet(ctx context.Context, collection, id, field string, expected, value any) (bool, error) {
	ref := f.client.Collection(collection).Doc(id)
	won := false
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		won = false
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		current, err := snap.DataAt(field)
		if err != nil {
			current = nil
		}
		if !jsonEqual(current, expected) {
			return nil
		}
		won = true
		return tx.Update(ref, []firestore.Update{{Path: field, Value: value}})
	})
	if err != nil {
		if notFound(err) {
			return false, fmt.Errorf("docstore: %s/%s: %w", collection, id, common.ErrNotFound)
		}
		return false, fmt.Errorf("firestore transaction: %w", err)
	}
	return won, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

func collect(it *firestore.DocumentIterator) ([]Document, error) {
	defer it.Stop()
	var out []Document
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore query: %w", err)
		}
		out = append(out, Document{ID: snap.Ref.ID, Data: snap.Data()})
	}
	return out, nil
}
