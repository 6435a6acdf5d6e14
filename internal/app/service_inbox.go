package app

import (
	"context"

	"teamsync/api/internal/rbac"
	"teamsync/api/internal/store"
)

// DefaultInboxLimit bounds notification and activity listings.
const DefaultInboxLimit = 50

func inboxLimit(limit int) int {
	if limit <= 0 {
		return DefaultInboxLimit
	}
	return limit
}

func (s *Service) GetNotifications(ctx context.Context, session Session, limit int) ([]store.Notification, error) {
	if !session.Viewer.Approved {
		return nil, errPendingApproval
	}
	return s.repos.Notifications.ListForUser(ctx, session.UserID, inboxLimit(limit))
}

func (s *Service) UnreadNotifications(ctx context.Context, session Session) (int, error) {
	if !session.Viewer.Approved {
		return 0, errPendingApproval
	}
	return s.repos.Notifications.UnreadCount(ctx, session.UserID)
}

// MarkNotificationRead marks one of the viewer's own notifications read.
func (s *Service) MarkNotificationRead(ctx context.Context, session Session, id string) (store.Notification, error) {
	if _, err := visible(ctx, session, rbac.EntityNotifications, "Notification", id, s.repos.Notifications.Get); err != nil {
		return store.Notification{}, err
	}
	item, err := s.repos.Notifications.MarkRead(ctx, id)
	if err != nil {
		return store.Notification{}, err
	}
	return orNotFound(item, "Notification")
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, session Session) (int, error) {
	if !session.Viewer.Approved {
		return 0, errPendingApproval
	}
	return s.repos.Notifications.MarkAllRead(ctx, session.UserID)
}

func (s *Service) DeleteNotification(ctx context.Context, session Session, id string) error {
	if _, err := visible(ctx, session, rbac.EntityNotifications, "Notification", id, s.repos.Notifications.Get); err != nil {
		return err
	}
	return s.repos.Notifications.Delete(ctx, id)
}

// GetActivities returns the activities the viewer is related to. Admins pass
// all=true to read the whole feed.
func (s *Service) GetActivities(ctx context.Context, session Session, all bool, limit int) ([]store.Activity, error) {
	if !session.Viewer.Approved {
		return nil, errPendingApproval
	}
	if all {
		if !session.Viewer.IsAdmin() {
			return nil, errForbidden
		}
		feed := rbac.Scope{Entity: rbac.EntityActivities, Key: string(rbac.EntityActivities) + ":all"}
		return s.repos.Activities.List(ctx, feed, inboxLimit(limit))
	}
	return s.repos.Activities.ListForUser(ctx, session.UserID, inboxLimit(limit))
}

func (s *Service) UnreadActivities(ctx context.Context, session Session) (int, error) {
	if !session.Viewer.Approved {
		return 0, errPendingApproval
	}
	return s.repos.Activities.UnreadCount(ctx, session.UserID)
}

func (s *Service) MarkActivityRead(ctx context.Context, session Session, id string) (store.Activity, error) {
	if _, err := visible(ctx, session, rbac.EntityActivities, "Activity", id, s.repos.Activities.Get); err != nil {
		return store.Activity{}, err
	}
	item, err := s.repos.Activities.MarkRead(ctx, id, session.UserID)
	if err != nil {
		return store.Activity{}, err
	}
	return orNotFound(item, "Activity")
}

// ListUsers returns every user to admins and approved users to everyone else.
func (s *Service) ListUsers(ctx context.Context, session Session) ([]store.User, error) {
	if !session.Viewer.Approved {
		return nil, errPendingApproval
	}
	if session.Viewer.IsAdmin() {
		return s.repos.Users.List(ctx)
	}
	return s.repos.Users.ListApproved(ctx)
}

func (s *Service) ListPendingUsers(ctx context.Context, session Session) ([]store.User, error) {
	if err := s.authorize(session, rbac.ActionManageUsers); err != nil {
		return nil, err
	}
	return s.repos.Users.ListPending(ctx)
}

func (s *Service) ApproveUser(ctx context.Context, session Session, uid string) (store.User, error) {
	if err := s.authorize(session, rbac.ActionManageUsers); err != nil {
		return store.User{}, err
	}
	item, err := s.repos.Users.Approve(ctx, uid)
	if err != nil {
		return store.User{}, err
	}
	return orNotFound(item, "User")
}

// RejectUser deletes a user that is still pending approval.
func (s *Service) RejectUser(ctx context.Context, session Session, uid string) error {
	if err := s.authorize(session, rbac.ActionManageUsers); err != nil {
		return err
	}
	user, err := s.repos.Users.Get(ctx, uid)
	if err != nil {
		return err
	}
	if user == nil {
		return notFound("User")
	}
	if user.Approved {
		return &store.ValidationError{Field: "uid", Message: "user is already approved"}
	}
	return s.repos.Users.Reject(ctx, uid)
}

func (s *Service) SetUserRole(ctx context.Context, session Session, uid, role string) (store.User, error) {
	if err := s.authorize(session, rbac.ActionManageUsers); err != nil {
		return store.User{}, err
	}
	if uid == session.UserID && rbac.Role(role) != rbac.RoleAdmin {
		return store.User{}, &store.ValidationError{Field: "role", Message: "admins cannot demote themselves"}
	}
	item, err := s.repos.Users.SetRole(ctx, uid, role)
	if err != nil {
		return store.User{}, err
	}
	return orNotFound(item, "User")
}

// Heartbeat keeps the viewer online. Without a presence tracker the flag is
// written straight to the user record.
func (s *Service) Heartbeat(ctx context.Context, session Session) error {
	if s.presence != nil {
		return s.presence.Heartbeat(ctx, session.UserID)
	}
	_, err := s.repos.Users.SetPresence(ctx, session.UserID, true)
	return err
}

func (s *Service) Leave(ctx context.Context, session Session) error {
	if s.presence != nil {
		return s.presence.Leave(ctx, session.UserID)
	}
	_, err := s.repos.Users.SetPresence(ctx, session.UserID, false)
	return err
}
