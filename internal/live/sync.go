package live

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"teamsync/api/internal/docstore"
	"teamsync/api/internal/rbac"
	"teamsync/api/internal/store"
)

// Sync subscribes the viewer's projects, tasks, meetings, notifications and
// activities and calls fn with a fresh ViewSet after every snapshot. Nothing
// is published until each collection has reported once, so no ViewSet mixes
// loaded and not-yet-loaded collections. fn must not call the returned
// Unsubscribe synchronously.
func (m *Manager) Sync(ctx context.Context, viewer rbac.Viewer, fn func(ViewSet)) (Unsubscribe, error) {
	keys := make([]string, 0, len(syncedEntities))
	for _, entity := range syncedEntities {
		keys = append(keys, rbac.ScopeFor(viewer, entity).Key)
	}
	reg, err := m.register("sync|" + strings.Join(keys, "|"))
	if err != nil {
		return nil, err
	}
	state := newSyncState()
	publish := func() {
		if state.ready() {
			fn(state.build(viewer.UID, m.now(), m.loc))
		}
	}

	starts := []func() (docstore.Unsubscribe, error){
		func() (docstore.Unsubscribe, error) {
			return m.repos.Projects.Subscribe(ctx, rbac.ScopeFor(viewer, rbac.EntityProjects), func(s store.Snapshot[store.Project]) {
				reg.deliver(func() {
					if s.Err == nil {
						state.projects = s.Items
					}
					m.apply(state, rbac.EntityProjects, s.Err)
					publish()
				})
			})
		},
		func() (docstore.Unsubscribe, error) {
			return m.repos.Tasks.Subscribe(ctx, rbac.ScopeFor(viewer, rbac.EntityTasks), func(s store.Snapshot[store.Task]) {
				reg.deliver(func() {
					if s.Err == nil {
						state.tasks = s.Items
					}
					m.apply(state, rbac.EntityTasks, s.Err)
					publish()
				})
			})
		},
		func() (docstore.Unsubscribe, error) {
			return m.repos.Meetings.Subscribe(ctx, rbac.ScopeFor(viewer, rbac.EntityMeetings), func(s store.Snapshot[store.Meeting]) {
				reg.deliver(func() {
					if s.Err == nil {
						state.meetings = s.Items
					}
					m.apply(state, rbac.EntityMeetings, s.Err)
					publish()
				})
			})
		},
		func() (docstore.Unsubscribe, error) {
			return m.repos.Notifications.Subscribe(ctx, rbac.ScopeFor(viewer, rbac.EntityNotifications), func(s store.Snapshot[store.Notification]) {
				reg.deliver(func() {
					if s.Err == nil {
						state.notifications = s.Items
					}
					m.apply(state, rbac.EntityNotifications, s.Err)
					publish()
				})
			})
		},
		func() (docstore.Unsubscribe, error) {
			return m.repos.Activities.Subscribe(ctx, rbac.ScopeFor(viewer, rbac.EntityActivities), func(s store.Snapshot[store.Activity]) {
				reg.deliver(func() {
					if s.Err == nil {
						state.activities = s.Items
					}
					m.apply(state, rbac.EntityActivities, s.Err)
					publish()
				})
			})
		},
	}

	release := m.release(reg)
	for i, start := range starts {
		unsub, err := start()
		if err != nil {
			release()
			return nil, fmt.Errorf("sync %s: %w", syncedEntities[i], err)
		}
		reg.attach(unsub)
	}

	if m.refresh > 0 {
		m.startRefresh(ctx, reg, publish)
	}
	return release, nil
}

func (m *Manager) apply(state *syncState, entity rbac.Entity, err error) {
	if err != nil {
		log.Printf("live: %s snapshot: %v", entity, err)
	}
	state.record(entity, err)
}

// startRefresh republishes on m.refresh until the registration is cancelled
// or ctx ends.
func (m *Manager) startRefresh(ctx context.Context, reg *registration, publish func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	reg.deliverMu.Lock()
	if reg.cancelled {
		reg.deliverMu.Unlock()
		return
	}
	reg.stop = func() {
		close(done)
		<-finished
	}
	reg.deliverMu.Unlock()

	go func() {
		defer close(finished)
		ticker := time.NewTicker(m.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				reg.deliver(publish)
			}
		}
	}()
}
