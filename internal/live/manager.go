// Package live owns live query subscriptions and turns their snapshots into
// published view sets. A Manager keeps at most one subscription per scope key;
// subscribing again with the same key replaces the earlier listener.
package live

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"teamsync/api/internal/docstore"
	"teamsync/api/internal/rbac"
	"teamsync/api/internal/store"
)

var ErrClosed = errors.New("live manager closed")

type Unsubscribe func()

type Manager struct {
	repos   *store.Repositories
	now     func() time.Time
	loc     *time.Location
	refresh time.Duration

	mu     sync.Mutex
	regs   map[string]*registration
	closed bool
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(m *Manager) {
		if loc != nil {
			m.loc = loc
		}
	}
}

// WithRefresh republishes synced view sets on this interval so countdowns
// advance between snapshots. Zero disables it.
func WithRefresh(interval time.Duration) Option {
	return func(m *Manager) { m.refresh = interval }
}

func NewManager(repos *store.Repositories, opts ...Option) *Manager {
	m := &Manager{
		repos: repos,
		now:   time.Now,
		loc:   time.UTC,
		regs:  map[string]*registration{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// registration is one active listener. deliverMu serializes its callbacks and
// lets cancel wait for an in-flight delivery.
type registration struct {
	key       string
	deliverMu sync.Mutex
	cancelled bool
	unsubs    []docstore.Unsubscribe
	stop      func()
	once      sync.Once
}

// deliver runs fn unless the registration has been cancelled.
func (r *registration) deliver(fn func()) {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()
	if r.cancelled {
		return
	}
	fn()
}

func (r *registration) cancel() {
	r.once.Do(func() {
		r.deliverMu.Lock()
		r.cancelled = true
		unsubs := r.unsubs
		r.unsubs = nil
		stop := r.stop
		r.deliverMu.Unlock()
		if stop != nil {
			stop()
		}
		for _, unsub := range unsubs {
			unsub()
		}
	})
}

// attach records a store listener, or drops it at once if the registration
// was cancelled while the listener was starting.
func (r *registration) attach(unsub docstore.Unsubscribe) {
	r.deliverMu.Lock()
	if r.cancelled {
		r.deliverMu.Unlock()
		unsub()
		return
	}
	r.unsubs = append(r.unsubs, unsub)
	r.deliverMu.Unlock()
}

// register installs a registration for key, cancelling the previous one.
func (m *Manager) register(key string) (*registration, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	previous := m.regs[key]
	reg := &registration{key: key}
	m.regs[key] = reg
	m.mu.Unlock()

	if previous != nil {
		previous.cancel()
	}
	return reg, nil
}

func (m *Manager) release(reg *registration) Unsubscribe {
	return func() {
		m.mu.Lock()
		if m.regs[reg.key] == reg {
			delete(m.regs, reg.key)
		}
		m.mu.Unlock()
		reg.cancel()
	}
}

// Active reports how many registrations are live.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regs)
}

// Close cancels every registration. Further subscriptions fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	regs := make([]*registration, 0, len(m.regs))
	for _, reg := range m.regs {
		regs = append(regs, reg)
	}
	m.regs = map[string]*registration{}
	m.mu.Unlock()

	for _, reg := range regs {
		reg.cancel()
	}
}

type startFunc[T any] func(ctx context.Context, scope rbac.Scope, fn func(store.Snapshot[T])) (docstore.Unsubscribe, error)

// watch subscribes one entity for viewer. A failed snapshot is passed on with
// the last good items so callers keep showing them. fn must not call the
// returned Unsubscribe synchronously.
func watch[T any](ctx context.Context, m *Manager, viewer rbac.Viewer, entity rbac.Entity, start startFunc[T], fn func(store.Snapshot[T])) (Unsubscribe, error) {
	scope := rbac.ScopeFor(viewer, entity)
	reg, err := m.register("single|" + scope.Key)
	if err != nil {
		return nil, err
	}
	var lastGood []T
	unsub, err := start(ctx, scope, func(s store.Snapshot[T]) {
		reg.deliver(func() {
			if s.Err != nil {
				log.Printf("live: %s snapshot: %v", entity, s.Err)
				fn(store.Snapshot[T]{Items: lastGood, Err: s.Err})
				return
			}
			lastGood = s.Items
			fn(s)
		})
	})
	if err != nil {
		m.release(reg)()
		return nil, fmt.Errorf("subscribe %s: %w", entity, err)
	}
	reg.attach(unsub)
	return m.release(reg), nil
}

func (m *Manager) SubscribeProjects(ctx context.Context, viewer rbac.Viewer, fn func(store.Snapshot[store.Project])) (Unsubscribe, error) {
	return watch[store.Project](ctx, m, viewer, rbac.EntityProjects, m.repos.Projects.Subscribe, fn)
}

func (m *Manager) SubscribeTasks(ctx context.Context, viewer rbac.Viewer, fn func(store.Snapshot[store.Task])) (Unsubscribe, error) {
	return watch[store.Task](ctx, m, viewer, rbac.EntityTasks, m.repos.Tasks.Subscribe, fn)
}

func (m *Manager) SubscribeMeetings(ctx context.Context, viewer rbac.Viewer, fn func(store.Snapshot[store.Meeting])) (Unsubscribe, error) {
	return watch[store.Meeting](ctx, m, viewer, rbac.EntityMeetings, m.repos.Meetings.Subscribe, fn)
}

func (m *Manager) SubscribeReports(ctx context.Context, viewer rbac.Viewer, fn func(store.Snapshot[store.Report])) (Unsubscribe, error) {
	return watch[store.Report](ctx, m, viewer, rbac.EntityReports, m.repos.Reports.Subscribe, fn)
}

func (m *Manager) SubscribeNotifications(ctx context.Context, viewer rbac.Viewer, fn func(store.Snapshot[store.Notification])) (Unsubscribe, error) {
	return watch[store.Notification](ctx, m, viewer, rbac.EntityNotifications, m.repos.Notifications.Subscribe, fn)
}

func (m *Manager) SubscribeActivities(ctx context.Context, viewer rbac.Viewer, fn func(store.Snapshot[store.Activity])) (Unsubscribe, error) {
	return watch[store.Activity](ctx, m, viewer, rbac.EntityActivities, m.repos.Activities.Subscribe, fn)
}
