// Package docstore is a small document-database abstraction: named
// collections of JSON-shaped documents addressed by string IDs.
//
// Three backends are provided: an in-process map (development and tests),
// PostgreSQL (jsonb rows, migrated with goose) and Cloud Firestore.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Document is one stored record. Data holds JSON-compatible values; times
// are RFC 3339 strings.
type Document struct {
	ID   string
	Data map[string]any
}

// DataTo decodes the document into out (a pointer to a struct with json
// tags).
func (d Document) DataTo(out any) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("docstore: encode %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("docstore: decode %s: %w", d.ID, err)
	}
	return nil
}

// Store is implemented by every backend. Get and Update return
// common.ErrNotFound when the document does not exist; Delete of a missing
// document is not an error.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	// Set writes data under id. With merge, top-level fields are merged into
	// an existing document; otherwise the document is replaced.
	Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error
	// Add stores data under a generated id and returns it.
	Add(ctx context.Context, collection string, data map[string]any) (string, error)
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	// Query returns the documents whose top-level field equals value.
	Query(ctx context.Context, collection, field string, value any) ([]Document, error)
	List(ctx context.Context, collection string) ([]Document, error)
	// CompareAndSet sets field to value only if it currently equals
	// expected, and reports whether the write happened.
	CompareAndSet(ctx context.Context, collection, id, field string, expected, value any) (bool, error)
	Close() error
}

// Options selects and configures a backend for Open.
type Options struct {
	Driver          string // memory | postgres | firestore
	DSN             string
	ProjectID       string
	CredentialsFile string
}

// Open returns the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Driver) {
	case "", "memory":
		return NewMemory(), nil
	case "postgres":
		return NewPostgres(ctx, opts.DSN)
	case "firestore":
		return NewFirestore(ctx, opts.ProjectID, opts.CredentialsFile)
	default:
		return nil, fmt.Errorf("docstore: unknown driver %q", opts.Driver)
	}
}

// Encode converts a struct with json tags into document data.
func Encode(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("docstore: encode: %w", err)
	}
	return out, nil
}

// Decode is the collection form of Document.DataTo. The id of each document
// is passed to setID so callers can copy it into their struct.
func Decode[T any](docs []Document, setID func(*T, string)) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		var v T
		if err := d.DataTo(&v); err != nil {
			return nil, err
		}
		if setID != nil {
			setID(&v, d.ID)
		}
		out = append(out, v)
	}
	return out, nil
}

// jsonEqual compares two values by their JSON encoding, so that 1 and 1.0
// or a time.Time and its RFC 3339 string compare equal.
func jsonEqual(a, b any) bool {
	ra, err := json.Marshal(a)
	if err != nil {
		return false
	}
	rb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ra, rb)
}

func cloneData(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}
