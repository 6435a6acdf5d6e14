package docstore

import (
	"context"
	"fmt"
	"sync"
)

// Memory keeps collections in process memory. Writes notify its Feed, which
// defaults to a LocalFeed.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	feed        Feed
}

type MemoryOption func(*Memory)

// WithFeed replaces the in-process change feed, e.g. with a RedisFeed.
func WithFeed(feed Feed) MemoryOption {
	return func(m *Memory) { m.feed = feed }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		collections: map[string]map[string]map[string]any{},
		feed:        NewLocalFeed(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, collection, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.collections[collection][id]
	if !ok {
		return nil, nil
	}
	doc := cloneDocument(Document{ID: id, Data: data})
	return &doc, nil
}

func (m *Memory) Query(_ context.Context, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	docs := make([]Document, 0, len(m.collections[q.Collection]))
	for id, data := range m.collections[q.Collection] {
		docs = append(docs, cloneDocument(Document{ID: id, Data: data}))
	}
	m.mu.RUnlock()
	return Apply(docs, q), nil
}

func (m *Memory) Subscribe(ctx context.Context, q Query, fn SnapshotFunc) (Unsubscribe, error) {
	return watchFeed(ctx, m.feed, q, m.Query, fn)
}

func (m *Memory) Set(ctx context.Context, collection, id string, data map[string]any) error {
	normalized, err := Normalize(data)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	delete(normalized, "id")
	m.mu.Lock()
	if m.collections[collection] == nil {
		m.collections[collection] = map[string]map[string]any{}
	}
	m.collections[collection][id] = normalized
	m.mu.Unlock()
	return m.feed.Publish(ctx, collection)
}

func (m *Memory) Create(ctx context.Context, collection, id string, data map[string]any) error {
	normalized, err := Normalize(data)
	if err != nil {
		return fmt.Errorf("create %s/%s: %w", collection, id, err)
	}
	delete(normalized, "id")
	m.mu.Lock()
	if m.collections[collection] == nil {
		m.collections[collection] = map[string]map[string]any{}
	}
	if _, ok := m.collections[collection][id]; ok {
		m.mu.Unlock()
		return fmt.Errorf("create %s/%s: %w", collection, id, ErrExists)
	}
	m.collections[collection][id] = normalized
	m.mu.Unlock()
	return m.feed.Publish(ctx, collection)
}

func (m *Memory) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	normalized, err := Normalize(fields)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	delete(normalized, "id")
	m.mu.Lock()
	current, ok := m.collections[collection][id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	merged := make(map[string]any, len(current)+len(normalized))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range normalized {
		merged[k] = v
	}
	m.collections[collection][id] = merged
	m.mu.Unlock()
	return m.feed.Publish(ctx, collection)
}

func (m *Memory) ArrayUnion(ctx context.Context, collection, id, field string, values ...any) error {
	if !validField(field) {
		return fmt.Errorf("array union %s/%s: %w: bad field %q", collection, id, ErrInvalidQuery, field)
	}
	m.mu.Lock()
	current, ok := m.collections[collection][id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("array union %s/%s: %w", collection, id, ErrNotFound)
	}
	existing, _ := current[field].([]any)
	merged := unionValues(existing, values)
	next := make(map[string]any, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[field] = merged
	m.collections[collection][id] = next
	m.mu.Unlock()
	return m.feed.Publish(ctx, collection)
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	_, existed := m.collections[collection][id]
	delete(m.collections[collection], id)
	m.mu.Unlock()
	if !existed {
		return nil
	}
	return m.feed.Publish(ctx, collection)
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return m.feed.Close() }

// unionValues appends the values not already present, comparing by deep
// equality of their normalized form.
func unionValues(existing []any, values []any) []any {
	out := make([]any, 0, len(existing)+len(values))
	out = append(out, existing...)
	for _, value := range values {
		value = normalizeValue(value)
		found := false
		for _, item := range out {
			if equalValues(item, value) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, value)
		}
	}
	return out
}
