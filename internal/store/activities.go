package store

import (
	"context"

	"teamsync/api/internal/docstore"
	"teamsync/api/internal/rbac"
)

type Activities struct {
	c collection[Activity]
}

var activityOrder = []docstore.Order{docstore.Desc("createdAt")}

func (r *Activities) Get(ctx context.Context, id string) (*Activity, error) {
	return r.c.get(ctx, id)
}

func (r *Activities) List(ctx context.Context, scope rbac.Scope, limit int) ([]Activity, error) {
	return r.c.list(ctx, scope, nil, activityOrder, limit)
}

func (r *Activities) ListForUser(ctx context.Context, uid string, limit int) ([]Activity, error) {
	return r.c.listWhere(ctx, []docstore.Filter{docstore.ArrayContains("relatedUsers", uid)}, nil, activityOrder, limit)
}

func (r *Activities) Create(ctx context.Context, a Activity) (Activity, error) {
	if err := required("entityType", a.EntityType); err != nil {
		return Activity{}, err
	}
	if err := required("entityId", a.EntityID); err != nil {
		return Activity{}, err
	}
	if err := required("action", a.Action); err != nil {
		return Activity{}, err
	}
	if a.Type == "" {
		a.Type = a.EntityType
	}
	a.RelatedUsers = uniqueIDs(a.RelatedUsers)
	if len(a.RelatedUsers) == 0 {
		return Activity{}, invalid("relatedUsers", "must not be empty")
	}
	a.ReadBy = orEmpty(uniqueIDs(a.ReadBy))
	return r.c.create(ctx, "", a)
}

// MarkRead adds uid to readBy.
func (r *Activities) MarkRead(ctx context.Context, id, uid string) (*Activity, error) {
	if err := required("uid", uid); err != nil {
		return nil, err
	}
	return r.c.appendTo(ctx, id, "readBy", uid)
}

func (r *Activities) UnreadCount(ctx context.Context, uid string) (int, error) {
	items, err := r.ListForUser(ctx, uid, 0)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, a := range items {
		if !a.IsReadBy(uid) {
			count++
		}
	}
	return count, nil
}

func (r *Activities) Subscribe(ctx context.Context, scope rbac.Scope, fn func(Snapshot[Activity])) (docstore.Unsubscribe, error) {
	return r.c.subscribe(ctx, scope, activityOrder, fn)
}
