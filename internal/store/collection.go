package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"teamsync/api/internal/docstore"
	"teamsync/api/internal/rbac"
	"teamsync/api/internal/util"
)

// collection maps one document collection onto entity type T. Entities cross
// the boundary as JSON so the struct tags are the stored field names.
type collection[T any] struct {
	store   docstore.Store
	name    string
	idField string
	prefix  string
	now     func() time.Time
}

func newCollection[T any](store docstore.Store, name, idField, prefix string, now func() time.Time) collection[T] {
	return collection[T]{store: store, name: name, idField: idField, prefix: prefix, now: now}
}

func (c collection[T]) stamp() string {
	return util.FormatTime(c.now())
}

func (c collection[T]) decode(doc docstore.Document) (T, error) {
	var out T
	data := make(map[string]any, len(doc.Data)+1)
	for k, v := range doc.Data {
		data[k] = v
	}
	data[c.idField] = doc.ID
	raw, err := json.Marshal(data)
	if err != nil {
		return out, fmt.Errorf("encode %s/%s: %w", c.name, doc.ID, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s/%s: %w", c.name, doc.ID, err)
	}
	return out, nil
}

func (c collection[T]) decodeAll(docs []docstore.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		item, err := c.decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func toFields(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func (c collection[T]) get(ctx context.Context, id string) (*T, error) {
	if id == "" {
		return nil, nil
	}
	doc, err := c.store.Get(ctx, c.name, id)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", c.name, err)
	}
	if doc == nil {
		return nil, nil
	}
	item, err := c.decode(*doc)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// create writes item under a new ID (or id when given) with both timestamps
// set to now, and returns the stored entity.
func (c collection[T]) create(ctx context.Context, id string, item T) (T, error) {
	var zero T
	if id == "" {
		id = util.NewID(c.prefix)
	}
	fields, err := toFields(item)
	if err != nil {
		return zero, fmt.Errorf("encode %s: %w", c.name, err)
	}
	delete(fields, c.idField)
	now := c.stamp()
	fields["createdAt"] = now
	fields["updatedAt"] = now
	if err := c.store.Set(ctx, c.name, id, fields); err != nil {
		return zero, fmt.Errorf("create %s: %w", c.name, err)
	}
	return c.decode(docstore.Document{ID: id, Data: fields})
}

// update merges the non-empty fields of patch and returns the result. A
// missing document yields nil without error.
func (c collection[T]) update(ctx context.Context, id string, patch any) (*T, error) {
	fields, err := toFields(patch)
	if err != nil {
		return nil, fmt.Errorf("encode %s patch: %w", c.name, err)
	}
	return c.updateFields(ctx, id, fields)
}

func (c collection[T]) updateFields(ctx context.Context, id string, fields map[string]any) (*T, error) {
	delete(fields, c.idField)
	delete(fields, "createdAt")
	delete(fields, "createdBy")
	fields["updatedAt"] = c.stamp()
	if err := c.store.Update(ctx, c.name, id, fields); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("update %s: %w", c.name, err)
	}
	return c.get(ctx, id)
}

// appendTo atomically adds values to an embedded array and bumps updatedAt.
func (c collection[T]) appendTo(ctx context.Context, id, field string, values ...any) (*T, error) {
	if err := c.store.ArrayUnion(ctx, c.name, id, field, values...); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("append %s.%s: %w", c.name, field, err)
	}
	return c.updateFields(ctx, id, map[string]any{})
}

func (c collection[T]) delete(ctx context.Context, id string) error {
	if err := c.store.Delete(ctx, c.name, id); err != nil {
		return fmt.Errorf("delete %s: %w", c.name, err)
	}
	return nil
}

// list queries the store with the scope's single-field predicates only, then
// applies refine, orders and limit in memory so no query ever needs a
// composite index.
func (c collection[T]) list(ctx context.Context, scope rbac.Scope, refine []docstore.Filter, orders []docstore.Order, limit int) ([]T, error) {
	if scope.Deny {
		return []T{}, nil
	}
	docs, err := c.store.Query(ctx, scope.Query())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c.name, err)
	}
	docs = docstore.Apply(docs, docstore.Query{Collection: c.name, Filters: refine, Orders: orders, Limit: limit})
	return c.decodeAll(docs)
}

// listWhere is list over an explicit base query instead of a viewer scope.
func (c collection[T]) listWhere(ctx context.Context, base []docstore.Filter, refine []docstore.Filter, orders []docstore.Order, limit int) ([]T, error) {
	docs, err := c.store.Query(ctx, docstore.Query{Collection: c.name, Filters: base})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c.name, err)
	}
	docs = docstore.Apply(docs, docstore.Query{Collection: c.name, Filters: refine, Orders: orders, Limit: limit})
	return c.decodeAll(docs)
}

// Snapshot is one typed delivery of a live query.
type Snapshot[T any] struct {
	Items []T
	Err   error
}

func (c collection[T]) subscribe(ctx context.Context, scope rbac.Scope, orders []docstore.Order, fn func(Snapshot[T])) (docstore.Unsubscribe, error) {
	if scope.Deny {
		fn(Snapshot[T]{Items: []T{}})
		return func() {}, nil
	}
	q := scope.Query()
	unsub, err := c.store.Subscribe(ctx, q, func(s docstore.Snapshot) {
		if s.Err != nil {
			fn(Snapshot[T]{Err: s.Err})
			return
		}
		docs := docstore.Apply(s.Docs, docstore.Query{Collection: c.name, Orders: orders})
		items, err := c.decodeAll(docs)
		if err != nil {
			fn(Snapshot[T]{Err: err})
			return
		}
		fn(Snapshot[T]{Items: items})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", c.name, err)
	}
	return unsub, nil
}
