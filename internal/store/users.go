package store

import (
	"context"

	"teamsync/api/internal/docstore"
	"teamsync/api/internal/rbac"
)

type Users struct {
	c collection[User]
}

func (r *Users) Get(ctx context.Context, uid string) (*User, error) {
	return r.c.get(ctx, uid)
}

func (r *Users) List(ctx context.Context) ([]User, error) {
	return r.c.listWhere(ctx, nil, nil, []docstore.Order{docstore.Asc("displayName")}, 0)
}

// ListApproved returns the users that may be targeted by assignments and
// notifications.
func (r *Users) ListApproved(ctx context.Context) ([]User, error) {
	return r.c.listWhere(ctx, []docstore.Filter{docstore.Eq("approved", true)}, nil, []docstore.Order{docstore.Asc("displayName")}, 0)
}

func (r *Users) ListPending(ctx context.Context) ([]User, error) {
	return r.c.listWhere(ctx, []docstore.Filter{docstore.Eq("approved", false)}, nil, []docstore.Order{docstore.Asc("createdAt")}, 0)
}

// EnsureUser creates the user record on first sign-in as an unapproved
// developer. created is false when the user already existed.
func (r *Users) EnsureUser(ctx context.Context, uid, email, displayName string) (user User, created bool, err error) {
	if err := required("uid", uid); err != nil {
		return User{}, false, err
	}
	existing, err := r.c.get(ctx, uid)
	if err != nil {
		return User{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}
	if displayName == "" {
		displayName = email
	}
	user, err = r.c.create(ctx, uid, User{
		Email:       email,
		DisplayName: displayName,
		Role:        string(rbac.RoleDeveloper),
		Approved:    false,
	})
	return user, err == nil, err
}

func (r *Users) Approve(ctx context.Context, uid string) (*User, error) {
	return r.c.updateFields(ctx, uid, map[string]any{"approved": true})
}

// Reject deletes a pending user.
func (r *Users) Reject(ctx context.Context, uid string) error {
	return r.c.delete(ctx, uid)
}

func (r *Users) SetRole(ctx context.Context, uid, role string) (*User, error) {
	if err := oneOf("role", role, []string{string(rbac.RoleAdmin), string(rbac.RoleDeveloper)}); err != nil {
		return nil, err
	}
	return r.c.updateFields(ctx, uid, map[string]any{"role": role})
}

// SetPresence records the online flag; lastSeen is always moved to now.
func (r *Users) SetPresence(ctx context.Context, uid string, online bool) (*User, error) {
	return r.c.updateFields(ctx, uid, map[string]any{"isOnline": online, "lastSeen": r.c.stamp()})
}

func (r *Users) Subscribe(ctx context.Context, scope rbac.Scope, fn func(Snapshot[User])) (docstore.Unsubscribe, error) {
	return r.c.subscribe(ctx, scope, []docstore.Order{docstore.Asc("displayName")}, fn)
}

// Viewer resolves a uid to the viewer its queries run as. Unknown users are
// returned unapproved.
func (r *Users) Viewer(ctx context.Context, uid string) (rbac.Viewer, error) {
	user, err := r.Get(ctx, uid)
	if err != nil {
		return rbac.Viewer{}, err
	}
	if user == nil {
		return rbac.Viewer{UID: uid, Role: rbac.RoleDeveloper}, nil
	}
	return rbac.Viewer{UID: user.UID, Role: rbac.Normalize(user.Role), Approved: user.Approved}, nil
}

// ApprovedIDs keeps the ids that belong to approved users, in input order.
func (r *Users) ApprovedIDs(ctx context.Context, ids []string) ([]string, error) {
	approved, err := r.ListApproved(ctx)
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]bool, len(approved))
	for _, u := range approved {
		allowed[u.UID] = true
	}
	out := make([]string, 0, len(ids))
	for _, id := range uniqueIDs(ids) {
		if allowed[id] {
			out = append(out, id)
		}
	}
	return out, nil
}
