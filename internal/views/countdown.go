// Package views computes the read-only projections shown to users: today's
// items, upcoming meetings with countdowns and aggregate counts. Every
// function is pure over its inputs and the reference time.
package views

import (
	"fmt"
	"time"

	"teamsync/api/internal/store"
	"teamsync/api/internal/util"
)

const (
	StartingSoonWindow = 15 * time.Minute
	CriticalWindow     = time.Hour
	UrgentWindow       = 24 * time.Hour

	// Reminder tolerances. The display countdown never uses them.
	ScheduleTolerance = 2 * time.Minute
	FireTolerance     = time.Minute
)

type CountdownStatus string

const (
	StatusUpcoming     CountdownStatus = "upcoming"
	StatusStartingSoon CountdownStatus = "starting_soon"
	StatusLive         CountdownStatus = "live"
	StatusCompleted    CountdownStatus = "completed"
)

type Countdown struct {
	Status      CountdownStatus `json:"status"`
	Remaining   time.Duration   `json:"-"`
	RemainingMs int64           `json:"remainingMs"`
	DisplayText string          `json:"displayText"`
	IsUrgent    bool            `json:"isUrgent"`
	IsCritical  bool            `json:"isCritical"`
}

// CountdownAt computes the countdown for a meeting over [start, end]. A zero
// end means the meeting has no end time and counts as completed once started.
func CountdownAt(start, end, now time.Time) Countdown {
	remaining := start.Sub(now)
	c := Countdown{Remaining: remaining, RemainingMs: remaining.Milliseconds()}
	switch {
	case !end.IsZero() && !now.Before(start) && !now.After(end):
		c.Status = StatusLive
		c.DisplayText = "Live now"
	case !now.Before(start):
		c.Status = StatusCompleted
		c.DisplayText = "Ended"
	default:
		if remaining <= StartingSoonWindow {
			c.Status = StatusStartingSoon
		} else {
			c.Status = StatusUpcoming
		}
		c.DisplayText = FormatRemaining(remaining)
		c.IsUrgent = remaining <= UrgentWindow
		c.IsCritical = remaining <= CriticalWindow
	}
	return c
}

// MeetingCountdown parses the meeting's times and computes its countdown.
func MeetingCountdown(m store.Meeting, now time.Time) (Countdown, error) {
	start, err := util.ParseTime(m.StartTime)
	if err != nil {
		return Countdown{}, fmt.Errorf("meeting %s start: %w", m.ID, err)
	}
	var end time.Time
	if m.EndTime != "" {
		end, err = util.ParseTime(m.EndTime)
		if err != nil {
			return Countdown{}, fmt.Errorf("meeting %s end: %w", m.ID, err)
		}
	}
	return CountdownAt(start, end, now), nil
}

// FormatRemaining renders a positive duration as "3d 4h left", "2h 5m left"
// or "14m left".
func FormatRemaining(d time.Duration) string {
	if d < time.Minute {
		return "Starting now"
	}
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh left", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm left", hours, minutes)
	default:
		return fmt.Sprintf("%dm left", minutes)
	}
}

// WithinWindow reports whether remaining lies in
// [threshold-tolerance, threshold+tolerance].
func WithinWindow(remaining, threshold, tolerance time.Duration) bool {
	return remaining >= threshold-tolerance && remaining <= threshold+tolerance
}
