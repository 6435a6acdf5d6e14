package views

import (
	"testing"
	"time"

	"teamsync/api/internal/store"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return parsed
}

func TestCountdownBoundary(t *testing.T) {
	now := mustTime(t, "2025-01-10T09:00:00Z")

	atWindow := CountdownAt(now.Add(15*time.Minute), time.Time{}, now)
	if atWindow.Status != StatusStartingSoon {
		t.Fatalf("start in exactly 15m: got %s", atWindow.Status)
	}
	pastWindow := CountdownAt(now.Add(15*time.Minute+time.Second), time.Time{}, now)
	if pastWindow.Status != StatusUpcoming {
		t.Fatalf("start in 15m1s: got %s", pastWindow.Status)
	}
	inside := CountdownAt(now.Add(-10*time.Minute), now.Add(20*time.Minute), now)
	if inside.Status != StatusLive {
		t.Fatalf("inside [start, end]: got %s", inside.Status)
	}
	atEnd := CountdownAt(now.Add(-time.Hour), now, now)
	if atEnd.Status != StatusLive {
		t.Fatalf("at end instant: got %s", atEnd.Status)
	}
	noEnd := CountdownAt(now, time.Time{}, now)
	if noEnd.Status != StatusCompleted {
		t.Fatalf("started without end: got %s", noEnd.Status)
	}
}

func TestMeetingCountdownScenario(t *testing.T) {
	meeting := store.Meeting{
		ID:        "m1",
		StartTime: "2025-01-10T10:00:00Z",
		EndTime:   "2025-01-10T11:00:00Z",
		Status:    store.MeetingScheduled,
	}

	cases := []struct {
		at       string
		status   CountdownStatus
		text     string
		critical bool
		urgent   bool
	}{
		{"2025-01-10T09:46:00Z", StatusStartingSoon, "14m left", true, true},
		{"2025-01-10T10:30:00Z", StatusLive, "Live now", false, false},
		{"2025-01-10T11:30:00Z", StatusCompleted, "Ended", false, false},
		{"2025-01-10T07:55:00Z", StatusUpcoming, "2h 5m left", false, true},
		{"2025-01-07T06:00:00Z", StatusUpcoming, "3d 4h left", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.at, func(t *testing.T) {
			c, err := MeetingCountdown(meeting, mustTime(t, tc.at))
			if err != nil {
				t.Fatalf("countdown: %v", err)
			}
			if c.Status != tc.status || c.DisplayText != tc.text || c.IsCritical != tc.critical || c.IsUrgent != tc.urgent {
				t.Fatalf("got %+v", c)
			}
		})
	}
}

func TestMeetingCountdownRejectsBadTime(t *testing.T) {
	if _, err := MeetingCountdown(store.Meeting{ID: "m", StartTime: "soon"}, time.Now()); err == nil {
		t.Fatal("expected error for bad start time")
	}
}

func TestWithinWindow(t *testing.T) {
	cases := []struct {
		remaining time.Duration
		want      bool
	}{
		{time.Hour, true},
		{time.Hour + time.Minute, true},
		{time.Hour - time.Minute, true},
		{time.Hour + time.Minute + time.Second, false},
		{time.Hour - time.Minute - time.Second, false},
	}
	for _, tc := range cases {
		if got := WithinWindow(tc.remaining, time.Hour, FireTolerance); got != tc.want {
			t.Fatalf("WithinWindow(%s) = %v, want %v", tc.remaining, got, tc.want)
		}
	}
}

func TestAggregateHasOnlyPresentKeys(t *testing.T) {
	tasks := []store.Task{{Status: "To Do"}, {Status: "To Do"}, {Status: "Done"}}
	got := Aggregate(tasks, func(t store.Task) string { return t.Status })
	if len(got) != 2 || got["To Do"] != 2 || got["Done"] != 1 {
		t.Fatalf("unexpected aggregate %v", got)
	}
	if _, ok := got["In Progress"]; ok {
		t.Fatal("absent statuses must not be pre-seeded")
	}
}

func TestUpcomingMeetings(t *testing.T) {
	now := mustTime(t, "2025-01-10T09:00:00Z")
	meetings := []store.Meeting{
		{ID: "later", StartTime: "2025-01-12T09:00:00.000Z", Status: store.MeetingScheduled},
		{ID: "soon", StartTime: "2025-01-10T09:10:00.000Z", Status: store.MeetingScheduled},
		{ID: "cancelled", StartTime: "2025-01-10T09:30:00.000Z", Status: store.MeetingCancelled},
		{ID: "past", StartTime: "2025-01-10T08:00:00.000Z", Status: store.MeetingScheduled},
		{ID: "now", StartTime: "2025-01-10T09:00:00.000Z", Status: store.MeetingScheduled},
		{ID: "middle", StartTime: "2025-01-11T09:00:00.000Z", Status: store.MeetingInProgress},
	}

	got := UpcomingMeetings(meetings, now, 2)
	if len(got) != 2 || got[0].ID != "soon" || got[1].ID != "middle" {
		t.Fatalf("unexpected upcoming: %+v", got)
	}
	if got[0].Countdown.Status != StatusStartingSoon {
		t.Fatalf("expected countdown on view, got %+v", got[0].Countdown)
	}
	if all := UpcomingMeetings(meetings, now, 0); len(all) != 3 {
		t.Fatalf("expected 3 without limit, got %d", len(all))
	}
}

func TestTodaysItems(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	now := mustTime(t, "2025-01-10T03:00:00Z") // 2025-01-09 locally
	meetings := []store.Meeting{
		{ID: "a", Date: "2025-01-09"},
		{ID: "b", Date: "2025-01-10"},
	}
	got := TodaysMeetings(meetings, now, loc)
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("unexpected today's meetings: %+v", got)
	}

	tasks := []store.Task{
		{ID: "due", DueDate: "2025-01-09T20:00:00.000Z"},
		{ID: "tomorrow", DueDate: "2025-01-10T20:00:00.000Z"},
		{ID: "none"},
	}
	due := TasksDueToday(tasks, now, loc)
	if len(due) != 1 || due[0].ID != "due" {
		t.Fatalf("unexpected tasks due today: %+v", due)
	}
}

func TestSummarize(t *testing.T) {
	now := mustTime(t, "2025-01-10T09:50:00Z")
	projects := []store.Project{{Status: "Active", Priority: "High", Progress: 20}, {Status: "Done", Progress: 80}}
	tasks := []store.Task{{Status: "To Do", Priority: "High"}, {Status: "Completed", Priority: "Low"}}
	meetings := []store.Meeting{
		{ID: "m1", Date: "2025-01-10", StartTime: "2025-01-10T09:30:00.000Z", EndTime: "2025-01-10T10:30:00.000Z", Status: store.MeetingInProgress},
		{ID: "m2", Date: "2025-01-10", StartTime: "2025-01-10T14:00:00.000Z", Status: store.MeetingScheduled},
	}
	s := Summarize(projects, tasks, meetings, now, time.UTC)
	if s.Projects.AverageProgress != 50 || len(s.Projects.ByPriority) != 1 {
		t.Fatalf("unexpected project stats %+v", s.Projects)
	}
	if s.Tasks.ByStatus["Completed"] != 1 || s.Tasks.Total != 2 {
		t.Fatalf("unexpected task stats %+v", s.Tasks)
	}
	if s.Meetings.Live != 1 || s.Meetings.Today != 2 || s.Meetings.Upcoming != 1 {
		t.Fatalf("unexpected meeting stats %+v", s.Meetings)
	}
	if len(s.UpcomingMeetings) != 1 || s.UpcomingMeetings[0].ID != "m2" {
		t.Fatalf("unexpected upcoming %+v", s.UpcomingMeetings)
	}
	if len(s.TodaysMeetings) != 2 || s.TodaysMeetings[0].Countdown.Status != StatusLive {
		t.Fatalf("unexpected today's meetings %+v", s.TodaysMeetings)
	}
}
