// Package fanout records the Activity and Notification documents that follow
// a mutation. The mutation itself is already stored when fan-out runs, so a
// failure here is reported but never rolled back.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"teamsync/api/internal/store"
)

var ErrPartialFanout = errors.New("partial fan-out")

// PartialFailure lists the fan-out writes that failed for one mutation.
type PartialFailure struct {
	EntityType string
	EntityID   string
	Errs       []error
}

func (p *PartialFailure) Error() string {
	msgs := make([]string, 0, len(p.Errs))
	for _, err := range p.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("fan-out for %s %s: %d failed: %s", p.EntityType, p.EntityID, len(p.Errs), strings.Join(msgs, "; "))
}

func (p *PartialFailure) Unwrap() []error {
	return append([]error{ErrPartialFanout}, p.Errs...)
}

// Actor is the user performing a mutation.
type Actor struct {
	UID  string
	Name string
}

type Fanout struct {
	repos *store.Repositories
}

func New(repos *store.Repositories) *Fanout {
	return &Fanout{repos: repos}
}

type message struct {
	title      string
	body       string
	kind       string
	actionType string
}

type event struct {
	entityType  string
	entityID    string
	title       string
	action      string
	description string
	actor       Actor
	assignees   []string
	everyone    bool
	notifyActor bool
	message     message
	metadata    map[string]any
}

// publish writes one Activity and one Notification per target. Creation
// events notify every target; update events skip the actor.
func (f *Fanout) publish(ctx context.Context, ev event) error {
	var errs []error

	targets, err := f.targets(ctx, ev)
	if err != nil {
		errs = append(errs, fmt.Errorf("resolve recipients: %w", err))
	}

	related := make([]string, 0, len(targets)+1)
	seen := make(map[string]bool, len(targets)+1)
	for _, uid := range append([]string{ev.actor.UID}, targets...) {
		if uid == "" || seen[uid] {
			continue
		}
		seen[uid] = true
		related = append(related, uid)
	}
	_, err = f.repos.Activities.Create(ctx, store.Activity{
		Type:         ev.entityType + "_" + ev.action,
		Action:       ev.action,
		EntityType:   ev.entityType,
		EntityID:     ev.entityID,
		Title:        ev.title,
		Description:  ev.description,
		UserID:       ev.actor.UID,
		UserName:     ev.actor.Name,
		RelatedUsers: related,
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("create activity: %w", err))
	}

	for _, uid := range targets {
		if !ev.notifyActor && uid == ev.actor.UID {
			continue
		}
		if err := f.notify(ctx, uid, ev.message, ev.metadata); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", uid, err))
		}
	}

	if len(errs) > 0 {
		return &PartialFailure{EntityType: ev.entityType, EntityID: ev.entityID, Errs: errs}
	}
	return nil
}

// targets resolves the approved users an event concerns.
func (f *Fanout) targets(ctx context.Context, ev event) ([]string, error) {
	if ev.everyone {
		users, err := f.repos.Users.ListApproved(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(users))
		for _, u := range users {
			ids = append(ids, u.UID)
		}
		return ids, nil
	}
	if len(ev.assignees) == 0 {
		return nil, nil
	}
	return f.repos.Users.ApprovedIDs(ctx, ev.assignees)
}

func (f *Fanout) notify(ctx context.Context, uid string, msg message, metadata map[string]any) error {
	meta := make(map[string]any, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	_, err := f.repos.Notifications.Create(ctx, store.Notification{
		UserID:     uid,
		Title:      msg.title,
		Message:    msg.body,
		Type:       msg.kind,
		ActionType: msg.actionType,
		Metadata:   meta,
	})
	return err
}
