package docstore

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"
)

// Normalize converts a document map into plain JSON types (string, float64,
// bool, nil, []any, map[string]any) so every backend compares the same way.
func Normalize(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeValue(v any) any {
	switch v.(type) {
	case nil, string, bool, float64:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// Match reports whether data satisfies every filter.
func Match(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !matchOne(data, f) {
			return false
		}
	}
	return true
}

func matchOne(data map[string]any, f Filter) bool {
	if f.Op == OpOr {
		for _, alt := range f.Any {
			if matchOne(data, alt) {
				return true
			}
		}
		return false
	}
	got, ok := data[f.Field]
	if !ok {
		return false
	}
	got = normalizeValue(got)
	want := normalizeValue(f.Value)
	switch f.Op {
	case OpEq:
		return equalValues(got, want)
	case OpNotEq:
		return !equalValues(got, want)
	case OpLess, OpLessEq, OpGreater, OpGreaterEq:
		cmp, comparable := compareSameKind(got, want)
		if !comparable {
			return false
		}
		switch f.Op {
		case OpLess:
			return cmp < 0
		case OpLessEq:
			return cmp <= 0
		case OpGreater:
			return cmp > 0
		default:
			return cmp >= 0
		}
	case OpIn:
		options, _ := want.([]any)
		for _, option := range options {
			if equalValues(got, option) {
				return true
			}
		}
		return false
	case OpArrayContains:
		items, isArray := got.([]any)
		if !isArray {
			return false
		}
		for _, item := range items {
			if equalValues(item, want) {
				return true
			}
		}
		return false
	}
	return false
}

func equalValues(a, b any) bool {
	return reflect.DeepEqual(normalizeValue(a), normalizeValue(b))
}

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	case []any:
		return 4
	default:
		return 5
	}
}

func compareSameKind(a, b any) (int, bool) {
	if typeRank(a) != typeRank(b) {
		return 0, false
	}
	return compareValues(a, b), true
}

// compareValues orders null < bool < number < string < array < map.
func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case nil:
		return 0
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		return strings.Compare(av, b.(string))
	case []any:
		bv := b.([]any)
		for i := 0; i < len(av) && i < len(bv); i++ {
			if c := compareValues(normalizeValue(av[i]), normalizeValue(bv[i])); c != 0 {
				return c
			}
		}
		switch {
		case len(av) < len(bv):
			return -1
		case len(av) > len(bv):
			return 1
		default:
			return 0
		}
	default:
		ra, _ := json.Marshal(a)
		rb, _ := json.Marshal(b)
		return strings.Compare(string(ra), string(rb))
	}
}

// Apply evaluates q against docs in memory: filter, order (ties broken by ID)
// and limit. It is the reference semantics for every backend.
func Apply(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if !Match(doc.Data, q.Filters) {
			continue
		}
		if !hasFields(doc.Data, q.Orders) {
			continue
		}
		out = append(out, doc)
	}
	SortDocuments(out, q.Orders)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func hasFields(data map[string]any, orders []Order) bool {
	for _, o := range orders {
		if _, ok := data[o.Field]; !ok {
			return false
		}
	}
	return true
}

func SortDocuments(docs []Document, orders []Order) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range orders {
			c := compareValues(normalizeValue(docs[i].Data[o.Field]), normalizeValue(docs[j].Data[o.Field]))
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return docs[i].ID < docs[j].ID
	})
}

func cloneDocument(doc Document) Document {
	data, err := Normalize(doc.Data)
	if err != nil {
		data = map[string]any{}
		for k, v := range doc.Data {
			data[k] = v
		}
	}
	return Document{ID: doc.ID, Data: data}
}
