package fanout

import (
	"context"
	"fmt"

	"teamsync/api/internal/reminder"
	"teamsync/api/internal/store"
)

// NotifyMeetingReminder writes the reminder notification for one tier. It
// satisfies reminder.Notifier.
func (f *Fanout) NotifyMeetingReminder(ctx context.Context, userID string, m store.Meeting, tier reminder.Tier) error {
	msg := reminderMessage(m, tier)
	return f.notify(ctx, userID, msg, map[string]any{
		"meetingId": m.ID,
		"tier":      string(tier),
		"startTime": m.StartTime,
	})
}

// ReminderText returns the title and body used for a reminder of tier.
func ReminderText(m store.Meeting, tier reminder.Tier) (title, body string) {
	msg := reminderMessage(m, tier)
	return msg.title, msg.body
}

func reminderMessage(m store.Meeting, tier reminder.Tier) message {
	msg := message{actionType: "meeting_reminder", kind: store.NotificationInfo}
	switch tier {
	case reminder.TierOneDay:
		msg.title = "Meeting tomorrow"
		msg.body = fmt.Sprintf("%q starts in 24 hours", m.Title)
	case reminder.TierOneHour:
		msg.title = "Meeting in 1 hour"
		msg.body = fmt.Sprintf("%q starts in 1 hour", m.Title)
	case reminder.Tier15Min:
		msg.title = "Meeting starting soon"
		msg.body = fmt.Sprintf("%q starts in 15 minutes", m.Title)
		msg.kind = store.NotificationWarning
	case reminder.TierLive:
		msg.title = "Meeting is live"
		msg.body = fmt.Sprintf("%q has started", m.Title)
		msg.kind = store.NotificationSuccess
		if m.MeetingLink != "" {
			msg.body += ": " + m.MeetingLink
		}
	default:
		msg.title = "Meeting reminder"
		msg.body = fmt.Sprintf("%q is coming up", m.Title)
	}
	return msg
}

var _ reminder.Notifier = (*Fanout)(nil)
