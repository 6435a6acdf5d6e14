// Package store holds the entity models and their repositories. Every write
// stamps its own timestamps and returns the resulting entity; every read of a
// missing document returns nil without an error.
package store

import (
	"encoding/json"
	"errors"
	"time"

	"teamsync/api/internal/docstore"
	"teamsync/api/internal/rbac"
)

type Repositories struct {
	Users         *Users
	Projects      *Projects
	Tasks         *Tasks
	Meetings      *Meetings
	Reports       *Reports
	Notifications *Notifications
	Activities    *Activities
}

type options struct {
	now func() time.Time
	loc *time.Location
}

type Option func(*options)

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLocation sets the location used to derive meeting day keys.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

func New(ds docstore.Store, opts ...Option) *Repositories {
	o := options{now: time.Now, loc: time.UTC}
	for _, opt := range opts {
		opt(&o)
	}
	return &Repositories{
		Users:         &Users{c: newCollection[User](ds, "users", "uid", "", o.now)},
		Projects:      &Projects{c: newCollection[Project](ds, "projects", "id", "prj", o.now)},
		Tasks:         &Tasks{c: newCollection[Task](ds, "tasks", "id", "tsk", o.now)},
		Meetings:      &Meetings{c: newCollection[Meeting](ds, "meetings", "id", "mtg", o.now), loc: o.loc},
		Reports:       &Reports{c: newCollection[Report](ds, "reports", "id", "rpt", o.now)},
		Notifications: &Notifications{c: newCollection[Notification](ds, "notifications", "id", "ntf", o.now)},
		Activities:    &Activities{c: newCollection[Activity](ds, "activities", "id", "act", o.now)},
	}
}

// Visible reports whether item, as stored, falls inside scope. It is the
// single-document form of the scope's query.
func Visible(scope rbac.Scope, item any) bool {
	if scope.Deny {
		return false
	}
	fields, err := toFields(item)
	if err != nil {
		return false
	}
	return scope.Matches(fields)
}

func isNotFound(err error) bool {
	return errors.Is(err, docstore.ErrNotFound)
}

// merged overlays patch onto current the way the store's shallow merge will.
func merged[T any](current T, patch any) (T, error) {
	var out T
	base, err := toFields(current)
	if err != nil {
		return out, err
	}
	fields, err := toFields(patch)
	if err != nil {
		return out, err
	}
	for k, v := range fields {
		base[k] = v
	}
	raw, err := json.Marshal(base)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(raw, &out)
	return out, err
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// uniqueIDs drops blanks and duplicates, keeping first-seen order.
func uniqueIDs(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
