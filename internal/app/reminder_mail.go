package app

import (
	"context"
	"log"

	"teamsync/api/internal/email"
	"teamsync/api/internal/fanout"
	"teamsync/api/internal/reminder"
	"teamsync/api/internal/store"
)

type mailer interface {
	SendMeetingReminder(to string, r email.Reminder) error
}

// WithMailer also emails every meeting reminder to the user's address.
func WithMailer(m mailer) Option {
	return func(s *Service) { s.mail = m }
}

// mailingNotifier writes the reminder notification and then mails it. A mail
// failure is logged; the notification already counts as delivered.
type mailingNotifier struct {
	next  reminder.Notifier
	users *store.Users
	mail  mailer
}

func (n mailingNotifier) NotifyMeetingReminder(ctx context.Context, userID string, m store.Meeting, tier reminder.Tier) error {
	if err := n.next.NotifyMeetingReminder(ctx, userID, m, tier); err != nil {
		return err
	}
	user, err := n.users.Get(ctx, userID)
	if err != nil {
		log.Printf("email: load user %s: %v", userID, err)
		return nil
	}
	if user == nil || user.Email == "" {
		return nil
	}
	title, body := fanout.ReminderText(m, tier)
	if err := n.mail.SendMeetingReminder(user.Email, email.Reminder{
		UserName:    user.DisplayName,
		Headline:    title,
		Message:     body,
		Meeting:     m.Title,
		StartTime:   m.StartTime,
		MeetingLink: m.MeetingLink,
	}); err != nil {
		log.Printf("email: reminder %s for %s: %v", m.ID, userID, err)
	}
	return nil
}

func (s *Service) reminderNotifier() reminder.Notifier {
	if s.mail == nil {
		return s.fanout
	}
	return mailingNotifier{next: s.fanout, users: s.repos.Users, mail: s.mail}
}
