package live

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"teamsync/api/internal/docstore"
	"teamsync/api/internal/rbac"
	"teamsync/api/internal/store"
	"teamsync/api/internal/views"
)

var testNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

var admin = rbac.Viewer{UID: "admin", Role: rbac.RoleAdmin, Approved: true}

// flakyStore turns every delivered snapshot into an error while fail is set.
type flakyStore struct {
	docstore.Store
	fail atomic.Bool
}

func (f *flakyStore) Subscribe(ctx context.Context, q docstore.Query, fn docstore.SnapshotFunc) (docstore.Unsubscribe, error) {
	return f.Store.Subscribe(ctx, q, func(s docstore.Snapshot) {
		if f.fail.Load() {
			fn(docstore.Snapshot{Err: errors.New("backend offline")})
			return
		}
		fn(s)
	})
}

func newTestManager(t *testing.T, ds docstore.Store) (*Manager, *store.Repositories) {
	t.Helper()
	clock := func() time.Time { return testNow }
	repos := store.New(ds, store.WithClock(clock))
	m := NewManager(repos, WithClock(clock))
	t.Cleanup(func() {
		m.Close()
		ds.Close()
	})
	return m, repos
}

func waitViewSet(t *testing.T, ch <-chan ViewSet, ok func(ViewSet) bool) ViewSet {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case vs := <-ch:
			if ok(vs) {
				return vs
			}
		case <-timeout:
			t.Fatal("timed out waiting for view set")
		}
	}
}

func collect(ch chan<- ViewSet) func(ViewSet) {
	return func(vs ViewSet) {
		select {
		case ch <- vs:
		default:
		}
	}
}

func TestSubscribeSameScopeReplacesListener(t *testing.T) {
	m, repos := newTestManager(t, docstore.NewMemory())
	ctx := context.Background()

	var firstCalls atomic.Int32
	if _, err := m.SubscribeTasks(ctx, admin, func(store.Snapshot[store.Task]) {
		firstCalls.Add(1)
	}); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}

	second := make(chan store.Snapshot[store.Task], 16)
	unsub, err := m.SubscribeTasks(ctx, admin, func(s store.Snapshot[store.Task]) { second <- s })
	if err != nil {
		t.Fatalf("second subscribe: %v", err)
	}
	defer unsub()
	before := firstCalls.Load()

	if m.Active() != 1 {
		t.Fatalf("expected 1 active registration, got %d", m.Active())
	}
	if _, err := repos.Tasks.Create(ctx, store.Task{Title: "Write tests", CreatedBy: "admin"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-second:
			if len(s.Items) != 1 {
				continue
			}
			if got := firstCalls.Load(); got != before {
				t.Fatalf("replaced listener was called again: %d -> %d", before, got)
			}
			return
		case <-timeout:
			t.Fatal("timed out waiting for replacement listener")
		}
	}
}

func TestSyncPublishesOnlyCompleteViewSets(t *testing.T) {
	m, repos := newTestManager(t, docstore.NewMemory())
	ctx := context.Background()

	ch := make(chan ViewSet, 64)
	unsub, err := m.Sync(ctx, admin, collect(ch))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	defer unsub()

	first := waitViewSet(t, ch, func(ViewSet) bool { return true })
	if first.Version != 1 {
		t.Fatalf("expected first published version 1, got %d", first.Version)
	}
	if len(first.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", first.Errors)
	}

	_, err = repos.Meetings.Create(ctx, store.Meeting{
		Title:           "Standup",
		StartTime:       "2025-03-14T09:10:00.000Z",
		Status:          store.MeetingScheduled,
		IsAssignedToAll: true,
		CreatedBy:       "admin",
	})
	if err != nil {
		t.Fatalf("create meeting: %v", err)
	}

	vs := waitViewSet(t, ch, func(vs ViewSet) bool { return len(vs.Meetings) == 1 })
	if len(vs.TodaysMeetings) != 1 || len(vs.UpcomingMeetings) != 1 {
		t.Fatalf("derived views not rebuilt: today=%d upcoming=%d", len(vs.TodaysMeetings), len(vs.UpcomingMeetings))
	}
	if vs.UpcomingMeetings[0].Countdown.Status != views.StatusStartingSoon {
		t.Fatalf("expected starting_soon countdown, got %s", vs.UpcomingMeetings[0].Countdown.Status)
	}
	if vs.Summary.Meetings.Today != 1 {
		t.Fatalf("summary not rebuilt: %+v", vs.Summary.Meetings)
	}
	if vs.Version <= first.Version {
		t.Fatalf("version did not advance: %d", vs.Version)
	}
}

func TestSyncKeepsLastGoodItemsOnError(t *testing.T) {
	ds := &flakyStore{Store: docstore.NewMemory()}
	m, repos := newTestManager(t, ds)
	ctx := context.Background()

	if _, err := repos.Projects.Create(ctx, store.Project{Name: "Atlas", CreatedBy: "admin"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	ch := make(chan ViewSet, 64)
	unsub, err := m.Sync(ctx, admin, collect(ch))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	defer unsub()
	waitViewSet(t, ch, func(vs ViewSet) bool { return len(vs.Projects) == 1 })

	ds.fail.Store(true)
	if _, err := repos.Projects.Create(ctx, store.Project{Name: "Borealis", CreatedBy: "admin"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	degraded := waitViewSet(t, ch, func(vs ViewSet) bool { return vs.Errors[rbac.EntityProjects] != "" })
	if len(degraded.Projects) != 1 || degraded.Projects[0].Name != "Atlas" {
		t.Fatalf("expected last good projects, got %+v", degraded.Projects)
	}

	ds.fail.Store(false)
	if _, err := repos.Projects.Create(ctx, store.Project{Name: "Cygnus", CreatedBy: "admin"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	recovered := waitViewSet(t, ch, func(vs ViewSet) bool { return len(vs.Projects) == 3 })
	if len(recovered.Errors) != 0 {
		t.Fatalf("errors not cleared after recovery: %v", recovered.Errors)
	}
}

func TestSyncUnapprovedViewerSeesNothing(t *testing.T) {
	m, repos := newTestManager(t, docstore.NewMemory())
	ctx := context.Background()
	if _, err := repos.Tasks.Create(ctx, store.Task{Title: "Hidden", CreatedBy: "admin"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	ch := make(chan ViewSet, 8)
	unsub, err := m.Sync(ctx, rbac.Viewer{UID: "newbie", Role: rbac.RoleDeveloper}, collect(ch))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	defer unsub()
	vs := waitViewSet(t, ch, func(ViewSet) bool { return true })
	if len(vs.Tasks) != 0 || len(vs.Projects) != 0 || len(vs.Meetings) != 0 {
		t.Fatalf("unapproved viewer saw data: %+v", vs)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t, docstore.NewMemory())
	unsub, err := m.Sync(context.Background(), admin, func(ViewSet) {})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	unsub()
	unsub()
	if m.Active() != 0 {
		t.Fatalf("expected no active registrations, got %d", m.Active())
	}
}

func TestCloseRejectsNewSubscriptions(t *testing.T) {
	m, _ := newTestManager(t, docstore.NewMemory())
	unsub, err := m.SubscribeProjects(context.Background(), admin, func(store.Snapshot[store.Project]) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	m.Close()
	m.Close()
	unsub()
	if _, err := m.Sync(context.Background(), admin, func(ViewSet) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestManagersAreIndependent(t *testing.T) {
	ds := docstore.NewMemory()
	clock := func() time.Time { return testNow }
	repos := store.New(ds, store.WithClock(clock))
	a := NewManager(repos, WithClock(clock))
	b := NewManager(repos, WithClock(clock))
	defer a.Close()
	defer b.Close()
	defer ds.Close()

	var mu sync.Mutex
	seen := map[string]int{}
	done := make(chan struct{}, 2)
	for name, m := range map[string]*Manager{"a": a, "b": b} {
		name := name
		if _, err := m.SubscribeNotifications(context.Background(), admin, func(store.Snapshot[store.Notification]) {
			mu.Lock()
			seen[name]++
			first := seen[name] == 1
			mu.Unlock()
			if first {
				done <- struct{}{}
			}
		}); err != nil {
			t.Fatalf("subscribe %s: %v", name, err)
		}
	}
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for both managers")
		}
	}
	if a.Active() != 1 || b.Active() != 1 {
		t.Fatalf("expected one registration each, got a=%d b=%d", a.Active(), b.Active())
	}
}

func TestRefreshRepublishes(t *testing.T) {
	ds := docstore.NewMemory()
	repos := store.New(ds)
	m := NewManager(repos, WithRefresh(10*time.Millisecond))
	defer m.Close()
	defer ds.Close()

	ch := make(chan ViewSet, 64)
	unsub, err := m.Sync(context.Background(), admin, collect(ch))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	defer unsub()
	waitViewSet(t, ch, func(vs ViewSet) bool { return vs.Version >= 3 })
}
