package docstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"eventpro/internal/common"
)

type memEntry struct {
	data map[string]any
	seq  uint64
}

// Memory keeps every collection in process memory. Documents are deep
// copied on the way in and out.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]memEntry
	seq         uint64
}

func NewMemory() *Memory {
	return &Memory{collections: make(map[string]map[string]memEntry)}
}

func (m *Memory) coll(name string) map[string]memEntry {
	c, ok := m.collections[name]
	if !ok {
		c = make(map[string]memEntry)
		m.collections[name] = c
	}
	return c
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.collections[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("docstore: %s/%s: %w", collection, id, common.ErrNotFound)
	}
	return Document{ID: id, Data: cloneData(e.data)}, nil
}

func (m *Memory) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)
	e, exists := c[id]
	if !exists {
		m.seq++
		e = memEntry{seq: m.seq}
	}
	if merge && exists {
		merged := cloneData(e.data)
		for k, v := range cloneData(data) {
			merged[k] = v
		}
		e.data = merged
	} else {
		e.data = cloneData(data)
	}
	c[id] = e
	return nil
}

func (m *Memory) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.NewString()
	if err := m.Set(ctx, collection, id, data, false); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)
	e, ok := c[id]
	if !ok {
		return fmt.Errorf("docstore: %s/%s: %w", collection, id, common.ErrNotFound)
	}
	merged := cloneData(e.data)
	for k, v := range cloneData(fields) {
		merged[k] = v
	}
	e.data = merged
	c[id] = e
	return nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], id)
	return nil
}

func (m *Memory) Query(ctx context.Context, collection, field string, value any) ([]Document, error) {
	return m.filter(collection, func(data map[string]any) bool {
		v, ok := data[field]
		return ok && jsonEqual(v, value)
	}), nil
}

func (m *Memory) List(ctx context.Context, collection string) ([]Document, error) {
	return m.filter(collection, func(map[string]any) bool { return true }), nil
}

func (m *Memory) CompareAndSet(ctx context.Context, collection, id, field string, expected, value any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.coll(collection)
	e, ok := c[id]
	if !ok {
		return false, fmt.Errorf("docstore: %s/%s: %w", collection, id, common.ErrNotFound)
	}
	if !jsonEqual(e.data[field], expected) {
		return false, nil
	}
	e.data = cloneData(e.data)
	e.data[field] = cloneData(map[string]any{field: value})[field]
	c[id] = e
	return true, nil
}

func (m *Memory) Close() error { return nil }

// filter returns matching documents in insertion order.
func (m *Memory) filter(collection string, keep func(map[string]any) bool) []Document {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type hit struct {
		doc Document
		seq uint64
	}
	var hits []hit
	for id, e := range m.collections[collection] {
		if keep(e.data) {
			hits = append(hits, hit{doc: Document{ID: id, Data: cloneData(e.data)}, seq: e.seq})
		}
	}
	slices.SortFunc(hits, func(a, b hit) int { return cmp.Compare(a.seq, b.seq) })

	out := make([]Document, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.doc)
	}
	return out
}
