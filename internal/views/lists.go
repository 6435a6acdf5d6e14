package views

import (
	"sort"
	"time"

	"teamsync/api/internal/store"
	"teamsync/api/internal/util"
)

// MeetingView pairs a meeting with its countdown at the reference time.
type MeetingView struct {
	store.Meeting
	Countdown Countdown `json:"countdown"`
}

// Today keeps the items whose day key equals now's day in loc.
func Today[T any](items []T, dayKey func(T) string, now time.Time, loc *time.Location) []T {
	today := util.DayKey(now, loc)
	out := make([]T, 0)
	for _, item := range items {
		if dayKey(item) == today {
			out = append(out, item)
		}
	}
	return out
}

func TodaysMeetings(meetings []store.Meeting, now time.Time, loc *time.Location) []store.Meeting {
	return Today(meetings, func(m store.Meeting) string { return m.Date }, now, loc)
}

// TasksDueToday keeps tasks whose due date falls on today's day in loc.
func TasksDueToday(tasks []store.Task, now time.Time, loc *time.Location) []store.Task {
	return Today(tasks, func(t store.Task) string {
		due, err := util.ParseTime(t.DueDate)
		if err != nil {
			return ""
		}
		return util.DayKey(due, loc)
	}, now, loc)
}

func isPending(status string) bool {
	return status == store.MeetingScheduled || status == store.MeetingInProgress
}

// UpcomingMeetings returns meetings that start strictly after now and are
// still scheduled or in progress, soonest first, at most limit of them
// (limit <= 0 means all).
func UpcomingMeetings(meetings []store.Meeting, now time.Time, limit int) []MeetingView {
	type dated struct {
		view  MeetingView
		start time.Time
	}
	candidates := make([]dated, 0)
	for _, m := range meetings {
		if !isPending(m.Status) {
			continue
		}
		start, err := util.ParseTime(m.StartTime)
		if err != nil || !start.After(now) {
			continue
		}
		var end time.Time
		if m.EndTime != "" {
			end, _ = util.ParseTime(m.EndTime)
		}
		candidates = append(candidates, dated{
			view:  MeetingView{Meeting: m, Countdown: CountdownAt(start, end, now)},
			start: start,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].start.Equal(candidates[j].start) {
			return candidates[i].view.ID < candidates[j].view.ID
		}
		return candidates[i].start.Before(candidates[j].start)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]MeetingView, len(candidates))
	for i, c := range candidates {
		out[i] = c.view
	}
	return out
}

// WithCountdowns decorates every meeting with its countdown, keeping order.
// Meetings with unparseable times are skipped.
func WithCountdowns(meetings []store.Meeting, now time.Time) []MeetingView {
	out := make([]MeetingView, 0, len(meetings))
	for _, m := range meetings {
		c, err := MeetingCountdown(m, now)
		if err != nil {
			continue
		}
		out = append(out, MeetingView{Meeting: m, Countdown: c})
	}
	return out
}
