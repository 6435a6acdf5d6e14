package store

import (
	"context"

	"teamsync/api/internal/docstore"
	"teamsync/api/internal/rbac"
)

type Notifications struct {
	c collection[Notification]
}

var notificationOrder = []docstore.Order{docstore.Desc("createdAt")}

var notificationTypes = []string{NotificationInfo, NotificationSuccess, NotificationWarning, NotificationError}

func (r *Notifications) Get(ctx context.Context, id string) (*Notification, error) {
	return r.c.get(ctx, id)
}

func (r *Notifications) ListForUser(ctx context.Context, uid string, limit int) ([]Notification, error) {
	return r.c.listWhere(ctx, []docstore.Filter{docstore.Eq("userId", uid)}, nil, notificationOrder, limit)
}

func (r *Notifications) UnreadCount(ctx context.Context, uid string) (int, error) {
	unread, err := r.listUnread(ctx, uid)
	if err != nil {
		return 0, err
	}
	return len(unread), nil
}

func (r *Notifications) listUnread(ctx context.Context, uid string) ([]Notification, error) {
	return r.c.listWhere(ctx, []docstore.Filter{docstore.Eq("userId", uid)}, []docstore.Filter{docstore.Eq("read", false)}, notificationOrder, 0)
}

func (r *Notifications) Create(ctx context.Context, n Notification) (Notification, error) {
	if err := required("userId", n.UserID); err != nil {
		return Notification{}, err
	}
	if err := required("title", n.Title); err != nil {
		return Notification{}, err
	}
	if n.Type == "" {
		n.Type = NotificationInfo
	}
	if err := oneOf("type", n.Type, notificationTypes); err != nil {
		return Notification{}, err
	}
	if n.Metadata == nil {
		n.Metadata = map[string]any{}
	}
	n.Read = false
	return r.c.create(ctx, "", n)
}

func (r *Notifications) MarkRead(ctx context.Context, id string) (*Notification, error) {
	return r.c.updateFields(ctx, id, map[string]any{"read": true})
}

// MarkAllRead marks every unread notification of uid and returns how many
// were changed.
func (r *Notifications) MarkAllRead(ctx context.Context, uid string) (int, error) {
	unread, err := r.listUnread(ctx, uid)
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, n := range unread {
		updated, err := r.MarkRead(ctx, n.ID)
		if err != nil {
			return marked, err
		}
		if updated != nil {
			marked++
		}
	}
	return marked, nil
}

func (r *Notifications) Delete(ctx context.Context, id string) error {
	return r.c.delete(ctx, id)
}

func (r *Notifications) Subscribe(ctx context.Context, scope rbac.Scope, fn func(Snapshot[Notification])) (docstore.Unsubscribe, error) {
	return r.c.subscribe(ctx, scope, notificationOrder, fn)
}
