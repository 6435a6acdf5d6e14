package docstore

import "testing"

func TestMatchOperators(t *testing.T) {
	data := map[string]any{
		"status":          "In Progress",
		"progress":        40,
		"assignedTo":      []string{"u1", "u2"},
		"isAssignedToAll": false,
		"startTime":       "2024-03-10T10:00:00.000Z",
	}

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"eq string", Eq("status", "In Progress"), true},
		{"eq number across types", Eq("progress", 40.0), true},
		{"eq missing", Eq("missing", "x"), false},
		{"not eq", NotEq("status", "Completed"), true},
		{"not eq missing", NotEq("missing", "x"), false},
		{"less", Less("progress", 50), true},
		{"less wrong type", Less("progress", "50"), false},
		{"greater eq string", GreaterEq("startTime", "2024-03-10T10:00:00.000Z"), true},
		{"greater", Greater("startTime", "2024-03-10T10:00:00.000Z"), false},
		{"in", In("status", "To Do", "In Progress"), true},
		{"in miss", In("status", "To Do"), false},
		{"array contains", ArrayContains("assignedTo", "u2"), true},
		{"array contains miss", ArrayContains("assignedTo", "u3"), false},
		{"array contains on scalar", ArrayContains("status", "In Progress"), false},
		{"eq bool", Eq("isAssignedToAll", false), true},
		{"or any", Or(Eq("isAssignedToAll", true), ArrayContains("assignedTo", "u1")), true},
		{"or none", Or(Eq("isAssignedToAll", true), ArrayContains("assignedTo", "u9")), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Match(data, []Filter{tc.filter}); got != tc.want {
				t.Fatalf("Match(%+v) = %v, want %v", tc.filter, got, tc.want)
			}
		})
	}
}

func TestApplyOrdersWithTieBreakAndLimit(t *testing.T) {
	docs := []Document{
		{ID: "c", Data: map[string]any{"priority": "High", "n": 2.0}},
		{ID: "a", Data: map[string]any{"priority": "High", "n": 2.0}},
		{ID: "b", Data: map[string]any{"priority": "Low", "n": 1.0}},
		{ID: "d", Data: map[string]any{"priority": "Low"}},
	}
	got := Apply(docs, Query{Collection: "x", Orders: []Order{Desc("n")}, Limit: 2})
	if ids := docIDs(got); !equalIDs(ids, []string{"a", "c"}) {
		t.Fatalf("expected [a c], got %v", ids)
	}

	got = Apply(docs, Query{Collection: "x", Orders: []Order{Asc("priority"), Asc("n")}})
	if ids := docIDs(got); !equalIDs(ids, []string{"a", "c", "b"}) {
		t.Fatalf("expected [a c b], got %v", ids)
	}
}

func TestQueryValidate(t *testing.T) {
	cases := []struct {
		name  string
		query Query
		ok    bool
	}{
		{"valid", Query{Collection: "tasks", Filters: []Filter{Eq("status", "To Do")}}, true},
		{"no collection", Query{}, false},
		{"negative limit", Query{Collection: "tasks", Limit: -1}, false},
		{"id field", Query{Collection: "tasks", Filters: []Filter{Eq("id", "x")}}, false},
		{"dotted field", Query{Collection: "tasks", Filters: []Filter{Eq("a.b", "x")}}, false},
		{"empty or", Query{Collection: "tasks", Filters: []Filter{Or()}}, false},
		{"in without list", Query{Collection: "tasks", Filters: []Filter{{Field: "status", Op: OpIn, Value: "x"}}}, false},
		{"unknown op", Query{Collection: "tasks", Filters: []Filter{{Field: "status", Op: "like"}}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.query.Validate()
			if (err == nil) != tc.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}
