// Package rbac holds the role model and the one definition of what each
// viewer may see. Repositories, live subscriptions, the reminder scheduler
// and search all read visibility from ScopeFor.
package rbac

import (
	"slices"

	"teamsync/api/internal/docstore"
)

type Role string
type Action string

const (
	RoleDeveloper Role = "developer"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead          Action = "read"
	ActionWriteTask     Action = "write_task"
	ActionComment       Action = "comment"
	ActionManageProject Action = "manage_project"
	ActionManageMeeting Action = "manage_meeting"
	ActionManageReport  Action = "manage_report"
	ActionManageUsers   Action = "manage_users"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleDeveloper:
		return action == ActionRead || action == ActionWriteTask || action == ActionComment
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleDeveloper, RoleAdmin:
		return Role(role)
	default:
		return RoleDeveloper
	}
}

// Viewer is the signed-in user a query runs on behalf of.
type Viewer struct {
	UID      string
	Role     Role
	Approved bool
}

func (v Viewer) IsAdmin() bool { return v.Role == RoleAdmin }

type Entity string

// Entities are named after their collections.
const (
	EntityProjects      Entity = "projects"
	EntityTasks         Entity = "tasks"
	EntityMeetings      Entity = "meetings"
	EntityReports       Entity = "reports"
	EntityNotifications Entity = "notifications"
	EntityActivities    Entity = "activities"
	EntityUsers         Entity = "users"
)

// Scope is the role-based visibility of one entity for one viewer. A Deny
// scope matches nothing and must not reach the store.
type Scope struct {
	Entity  Entity
	Key     string
	Filters []docstore.Filter
	Deny    bool
}

// Matches reports whether a stored document is inside the scope.
func (s Scope) Matches(data map[string]any) bool {
	if s.Deny {
		return false
	}
	return docstore.Match(data, s.Filters)
}

// Query builds the store query for the scope with extra filters appended.
func (s Scope) Query(extra ...docstore.Filter) docstore.Query {
	return docstore.Query{
		Collection: string(s.Entity),
		Filters:    append(slices.Clone(s.Filters), extra...),
	}
}

func ScopeFor(viewer Viewer, entity Entity) Scope {
	scope := Scope{Entity: entity}
	switch {
	case !viewer.Approved || viewer.UID == "":
		scope.Deny = true
		scope.Key = string(entity) + ":none"
		return scope
	case entity == EntityNotifications:
		scope.Filters = []docstore.Filter{docstore.Eq("userId", viewer.UID)}
		scope.Key = string(entity) + ":user:" + viewer.UID
		return scope
	case entity == EntityActivities:
		scope.Filters = []docstore.Filter{docstore.ArrayContains("relatedUsers", viewer.UID)}
		scope.Key = string(entity) + ":related:" + viewer.UID
		return scope
	case entity == EntityUsers:
		if viewer.IsAdmin() {
			scope.Key = string(entity) + ":all"
			return scope
		}
		scope.Filters = []docstore.Filter{docstore.Eq("approved", true)}
		scope.Key = string(entity) + ":approved"
		return scope
	case viewer.IsAdmin():
		scope.Key = string(entity) + ":all"
		return scope
	}

	switch entity {
	case EntityTasks:
		// Every approved user sees every task.
		scope.Key = string(entity) + ":all"
	case EntityMeetings:
		scope.Filters = []docstore.Filter{docstore.Or(
			docstore.Eq("isAssignedToAll", true),
			docstore.ArrayContains("assignedTo", viewer.UID),
		)}
		scope.Key = string(entity) + ":assigned:" + viewer.UID
	default:
		scope.Filters = []docstore.Filter{docstore.ArrayContains("assignedTo", viewer.UID)}
		scope.Key = string(entity) + ":assigned:" + viewer.UID
	}
	return scope
}
