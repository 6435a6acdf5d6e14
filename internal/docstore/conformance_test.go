package docstore

import (
	"context"
	"errors"
	"testing"
	"time"
)

// runConformance exercises the behavior every backend must share. Collection
// names are prefixed so integration runs against a shared server do not
// collide.
func runConformance(t *testing.T, store Store, prefix string) {
	t.Helper()
	ctx := context.Background()
	tasks := prefix + "tasks"

	t.Run("get missing returns nil", func(t *testing.T) {
		doc, err := store.Get(ctx, tasks, "missing")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if doc != nil {
			t.Fatalf("expected nil document, got %+v", doc)
		}
	})

	t.Run("set get update", func(t *testing.T) {
		if err := store.Set(ctx, tasks, "t1", map[string]any{"title": "Write docs", "status": "To Do", "assignedTo": []string{"u1"}}); err != nil {
			t.Fatalf("set: %v", err)
		}
		if err := store.Update(ctx, tasks, "t1", map[string]any{"status": "Completed"}); err != nil {
			t.Fatalf("update: %v", err)
		}
		doc, err := store.Get(ctx, tasks, "t1")
		if err != nil || doc == nil {
			t.Fatalf("get: doc=%v err=%v", doc, err)
		}
		if doc.Data["status"] != "Completed" || doc.Data["title"] != "Write docs" {
			t.Fatalf("unexpected data after merge: %#v", doc.Data)
		}
		if _, ok := doc.Data["id"]; ok {
			t.Fatalf("id must not be stored in data: %#v", doc.Data)
		}
	})

	t.Run("update missing is not found", func(t *testing.T) {
		err := store.Update(ctx, tasks, "nope", map[string]any{"status": "x"})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		err = store.ArrayUnion(ctx, tasks, "nope", "assignedTo", "u1")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound from array union, got %v", err)
		}
	})

	t.Run("create only once", func(t *testing.T) {
		claims := prefix + "claims"
		if err := store.Create(ctx, claims, "c1", map[string]any{"owner": "u1"}); err != nil {
			t.Fatalf("create: %v", err)
		}
		err := store.Create(ctx, claims, "c1", map[string]any{"owner": "u2"})
		if !errors.Is(err, ErrExists) {
			t.Fatalf("expected ErrExists, got %v", err)
		}
		doc, err := store.Get(ctx, claims, "c1")
		if err != nil || doc == nil || doc.Data["owner"] != "u1" {
			t.Fatalf("expected first create to win, got doc=%v err=%v", doc, err)
		}
		if err := store.Delete(ctx, claims, "c1"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := store.Create(ctx, claims, "c1", map[string]any{"owner": "u2"}); err != nil {
			t.Fatalf("create after delete: %v", err)
		}
	})

	t.Run("array union dedups", func(t *testing.T) {
		comment := map[string]any{"text": "hi", "userId": "u1"}
		if err := store.ArrayUnion(ctx, tasks, "t1", "assignedTo", "u1", "u2", "u2"); err != nil {
			t.Fatalf("array union: %v", err)
		}
		if err := store.ArrayUnion(ctx, tasks, "t1", "comments", comment); err != nil {
			t.Fatalf("array union comment: %v", err)
		}
		if err := store.ArrayUnion(ctx, tasks, "t1", "comments", map[string]any{"userId": "u1", "text": "hi"}); err != nil {
			t.Fatalf("array union comment again: %v", err)
		}
		doc, err := store.Get(ctx, tasks, "t1")
		if err != nil || doc == nil {
			t.Fatalf("get: doc=%v err=%v", doc, err)
		}
		assigned, _ := doc.Data["assignedTo"].([]any)
		if len(assigned) != 2 || assigned[0] != "u1" || assigned[1] != "u2" {
			t.Fatalf("unexpected assignedTo: %#v", doc.Data["assignedTo"])
		}
		comments, _ := doc.Data["comments"].([]any)
		if len(comments) != 1 {
			t.Fatalf("expected 1 comment, got %#v", doc.Data["comments"])
		}
	})

	t.Run("query filters order limit", func(t *testing.T) {
		seed := map[string]map[string]any{
			"q1": {"status": "To Do", "priority": "High", "dueDate": "2024-03-01T00:00:00.000Z", "assignedTo": []string{"a"}},
			"q2": {"status": "To Do", "priority": "Low", "dueDate": "2024-02-01T00:00:00.000Z", "assignedTo": []string{"b"}},
			"q3": {"status": "Review", "priority": "High", "dueDate": "2024-01-01T00:00:00.000Z", "assignedTo": []string{"a", "b"}},
			"q4": {"status": "To Do", "priority": "High"},
		}
		col := prefix + "query_tasks"
		for id, data := range seed {
			if err := store.Set(ctx, col, id, data); err != nil {
				t.Fatalf("seed %s: %v", id, err)
			}
		}

		cases := []struct {
			name  string
			query Query
			want  []string
		}{
			{"eq", Query{Collection: col, Filters: []Filter{Eq("status", "To Do")}, Orders: []Order{Asc("priority")}}, []string{"q1", "q4", "q2"}},
			{"in", Query{Collection: col, Filters: []Filter{In("status", "Review", "Testing")}}, []string{"q3"}},
			{"array contains", Query{Collection: col, Filters: []Filter{ArrayContains("assignedTo", "a")}, Orders: []Order{Asc("dueDate")}}, []string{"q3", "q1"}},
			{"range", Query{Collection: col, Filters: []Filter{GreaterEq("dueDate", "2024-02-01T00:00:00.000Z")}, Orders: []Order{Desc("dueDate")}}, []string{"q1", "q2"}},
			{"not equal skips missing", Query{Collection: col, Filters: []Filter{NotEq("dueDate", "2024-01-01T00:00:00.000Z")}}, []string{"q1", "q2"}},
			{"or", Query{Collection: col, Filters: []Filter{Or(Eq("status", "Review"), Eq("priority", "Low"))}}, []string{"q2", "q3"}},
			{"order excludes missing", Query{Collection: col, Orders: []Order{Asc("dueDate")}, Limit: 2}, []string{"q3", "q2"}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				docs, err := store.Query(ctx, tc.query)
				if err != nil {
					t.Fatalf("query: %v", err)
				}
				if got := docIDs(docs); !equalIDs(got, tc.want) {
					t.Fatalf("expected %v, got %v", tc.want, got)
				}
			})
		}
	})

	t.Run("invalid query", func(t *testing.T) {
		_, err := store.Query(ctx, Query{Collection: tasks, Filters: []Filter{Eq("bad field", 1)}})
		if !errors.Is(err, ErrInvalidQuery) {
			t.Fatalf("expected ErrInvalidQuery, got %v", err)
		}
	})

	t.Run("subscribe delivers initial and changes", func(t *testing.T) {
		col := prefix + "live_meetings"
		if err := store.Set(ctx, col, "m1", map[string]any{"status": "Scheduled"}); err != nil {
			t.Fatalf("seed: %v", err)
		}
		snaps := make(chan Snapshot, 16)
		unsub, err := store.Subscribe(ctx, Query{Collection: col, Filters: []Filter{Eq("status", "Scheduled")}}, func(s Snapshot) {
			snaps <- s
		})
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		defer unsub()

		first := waitSnapshot(t, snaps)
		if got := docIDs(first.Docs); !equalIDs(got, []string{"m1"}) {
			t.Fatalf("initial snapshot: %v", got)
		}

		if err := store.Set(ctx, col, "m2", map[string]any{"status": "Scheduled"}); err != nil {
			t.Fatalf("set: %v", err)
		}
		next := waitSnapshot(t, snaps)
		if got := docIDs(next.Docs); !equalIDs(got, []string{"m1", "m2"}) {
			t.Fatalf("after insert: %v", got)
		}

		if err := store.Delete(ctx, col, "m1"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		next = waitSnapshot(t, snaps)
		if got := docIDs(next.Docs); !equalIDs(got, []string{"m2"}) {
			t.Fatalf("after delete: %v", got)
		}

		unsub()
		unsub()
		if err := store.Set(ctx, col, "m3", map[string]any{"status": "Scheduled"}); err != nil {
			t.Fatalf("set after unsubscribe: %v", err)
		}
		select {
		case s := <-snaps:
			t.Fatalf("snapshot after unsubscribe: %v", docIDs(s.Docs))
		case <-time.After(200 * time.Millisecond):
		}
	})
}

func waitSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		if s.Err != nil {
			t.Fatalf("snapshot error: %v", s.Err)
		}
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return Snapshot{}
}

func docIDs(docs []Document) []string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
