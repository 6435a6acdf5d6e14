// Package docstore is the document database adapter. Every backend exposes the
// same primitives: point read, filtered query, live subscription, single
// document writes and an atomic array append.
package docstore

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrUnavailable  = errors.New("document store unavailable")
	ErrInvalidQuery = errors.New("invalid query")
	ErrExists       = errors.New("document already exists")
)

// Unavailable marks err as a transport failure of the backing store.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// Document is a stored record. ID is the collection key and is never part of Data.
type Document struct {
	ID   string
	Data map[string]any
}

type Op string

const (
	OpEq            Op = "=="
	OpNotEq         Op = "!="
	OpLess          Op = "<"
	OpLessEq        Op = "<="
	OpGreater       Op = ">"
	OpGreaterEq     Op = ">="
	OpIn            Op = "in"
	OpArrayContains Op = "array-contains"
	OpOr            Op = "or"
)

// Filter is a single predicate on a top-level field. An OpOr filter carries its
// alternatives in Any and ignores Field and Value.
type Filter struct {
	Field string
	Op    Op
	Value any
	Any   []Filter
}

func Eq(field string, value any) Filter { return Filter{Field: field, Op: OpEq, Value: value} }

func NotEq(field string, value any) Filter { return Filter{Field: field, Op: OpNotEq, Value: value} }

func Greater(field string, value any) Filter { return Filter{Field: field, Op: OpGreater, Value: value} }

func GreaterEq(field string, value any) Filter {
	return Filter{Field: field, Op: OpGreaterEq, Value: value}
}

func Less(field string, value any) Filter { return Filter{Field: field, Op: OpLess, Value: value} }

func LessEq(field string, value any) Filter { return Filter{Field: field, Op: OpLessEq, Value: value} }

func In(field string, values ...any) Filter { return Filter{Field: field, Op: OpIn, Value: values} }

func ArrayContains(field string, value any) Filter {
	return Filter{Field: field, Op: OpArrayContains, Value: value}
}

func Or(filters ...Filter) Filter { return Filter{Op: OpOr, Any: filters} }

type Order struct {
	Field string
	Desc  bool
}

func Asc(field string) Order  { return Order{Field: field} }
func Desc(field string) Order { return Order{Field: field, Desc: true} }

// Query selects documents of one collection. Filters are combined with AND.
// Documents missing an ordered field are excluded, as are documents missing a
// filtered field.
type Query struct {
	Collection string
	Filters    []Filter
	Orders     []Order
	Limit      int
}

func (q Query) Validate() error {
	if q.Collection == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidQuery)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	return validateFilters(q.Filters)
}

func validateFilters(filters []Filter) error {
	for _, f := range filters {
		switch f.Op {
		case OpOr:
			if len(f.Any) == 0 {
				return fmt.Errorf("%w: empty or group", ErrInvalidQuery)
			}
			if err := validateFilters(f.Any); err != nil {
				return err
			}
		case OpEq, OpNotEq, OpLess, OpLessEq, OpGreater, OpGreaterEq, OpArrayContains:
			if !validField(f.Field) {
				return fmt.Errorf("%w: bad field %q", ErrInvalidQuery, f.Field)
			}
		case OpIn:
			if !validField(f.Field) {
				return fmt.Errorf("%w: bad field %q", ErrInvalidQuery, f.Field)
			}
			if _, ok := f.Value.([]any); !ok {
				return fmt.Errorf("%w: in filter on %q needs a value list", ErrInvalidQuery, f.Field)
			}
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, f.Op)
		}
	}
	return nil
}

func validField(field string) bool {
	if field == "" || field == "id" || field == "_id" {
		return false
	}
	for _, r := range field {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}

// Snapshot is one delivery of a live query. Err is set when the backend failed
// to produce the result set; Docs is nil in that case.
type Snapshot struct {
	Docs []Document
	Err  error
}

type SnapshotFunc func(Snapshot)

// Unsubscribe stops a live query. It is safe to call more than once.
type Unsubscribe func()

type Store interface {
	Get(ctx context.Context, collection, id string) (*Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
	Subscribe(ctx context.Context, q Query, fn SnapshotFunc) (Unsubscribe, error)
	Set(ctx context.Context, collection, id string, data map[string]any) error
	// Create writes the document only when id is free and returns ErrExists
	// otherwise. Concurrent creates of one id succeed at most once.
	Create(ctx context.Context, collection, id string, data map[string]any) error
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	ArrayUnion(ctx context.Context, collection, id, field string, values ...any) error
	Delete(ctx context.Context, collection, id string) error
	Ping(ctx context.Context) error
	Close() error
}
