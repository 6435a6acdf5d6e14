package docstore

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryConformance(t *testing.T) {
	store := NewMemory()
	defer store.Close()
	runConformance(t, store, "")
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	if err := store.Set(ctx, "projects", "p1", map[string]any{"name": "Apollo"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	doc, _ := store.Get(ctx, "projects", "p1")
	doc.Data["name"] = "mutated"

	again, _ := store.Get(ctx, "projects", "p1")
	if again.Data["name"] != "Apollo" {
		t.Fatalf("stored document was mutated through a read: %v", again.Data["name"])
	}
}

func TestMemoryConcurrentArrayUnion(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	if err := store.Set(ctx, "projects", "p1", map[string]any{"comments": []any{}}); err != nil {
		t.Fatalf("set: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.ArrayUnion(ctx, "projects", "p1", "comments", map[string]any{"n": i}); err != nil {
				t.Errorf("array union %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	doc, _ := store.Get(ctx, "projects", "p1")
	comments, _ := doc.Data["comments"].([]any)
	if len(comments) != 50 {
		t.Fatalf("expected 50 comments, got %d", len(comments))
	}
}

func TestMemoryDeleteMissingIsNoop(t *testing.T) {
	store := NewMemory()
	if err := store.Delete(context.Background(), "tasks", "missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}
