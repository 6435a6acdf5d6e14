package views

import (
	"time"

	"teamsync/api/internal/store"
)

// Aggregate counts items per distinct key. Only keys that occur are present.
func Aggregate[T any](items []T, key func(T) string) map[string]int {
	out := map[string]int{}
	for _, item := range items {
		out[key(item)]++
	}
	return out
}

type TaskStats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"byStatus"`
	ByPriority map[string]int `json:"byPriority"`
	DueToday   int            `json:"dueToday"`
}

type ProjectStats struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"byStatus"`
	ByPriority      map[string]int `json:"byPriority"`
	AverageProgress float64        `json:"averageProgress"`
}

type MeetingStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
	Today    int            `json:"today"`
	Upcoming int            `json:"upcoming"`
	Live     int            `json:"live"`
}

func TaskSummary(tasks []store.Task, now time.Time, loc *time.Location) TaskStats {
	return TaskStats{
		Total:      len(tasks),
		ByStatus:   Aggregate(tasks, func(t store.Task) string { return t.Status }),
		ByPriority: Aggregate(tasks, func(t store.Task) string { return t.Priority }),
		DueToday:   len(TasksDueToday(tasks, now, loc)),
	}
}

func ProjectSummary(projects []store.Project) ProjectStats {
	stats := ProjectStats{
		Total:    len(projects),
		ByStatus: Aggregate(projects, func(p store.Project) string { return p.Status }),
	}
	withPriority := make([]store.Project, 0, len(projects))
	progress := 0
	for _, p := range projects {
		progress += p.Progress
		if p.Priority != "" {
			withPriority = append(withPriority, p)
		}
	}
	stats.ByPriority = Aggregate(withPriority, func(p store.Project) string { return p.Priority })
	if len(projects) > 0 {
		stats.AverageProgress = float64(progress) / float64(len(projects))
	}
	return stats
}

func MeetingSummary(meetings []store.Meeting, now time.Time, loc *time.Location) MeetingStats {
	stats := MeetingStats{
		Total:    len(meetings),
		ByStatus: Aggregate(meetings, func(m store.Meeting) string { return m.Status }),
		Today:    len(TodaysMeetings(meetings, now, loc)),
		Upcoming: len(UpcomingMeetings(meetings, now, 0)),
	}
	for _, m := range meetings {
		if m.Status == store.MeetingCancelled {
			continue
		}
		if c, err := MeetingCountdown(m, now); err == nil && c.Status == StatusLive {
			stats.Live++
		}
	}
	return stats
}

// Summary is the dashboard projection over one viewer's visible items.
type Summary struct {
	Tasks            TaskStats     `json:"tasks"`
	Projects         ProjectStats  `json:"projects"`
	Meetings         MeetingStats  `json:"meetings"`
	TodaysMeetings   []MeetingView `json:"todaysMeetings"`
	UpcomingMeetings []MeetingView `json:"upcomingMeetings"`
}

// DefaultUpcomingLimit bounds the dashboard's upcoming meeting list.
const DefaultUpcomingLimit = 5

func Summarize(projects []store.Project, tasks []store.Task, meetings []store.Meeting, now time.Time, loc *time.Location) Summary {
	return Summary{
		Tasks:            TaskSummary(tasks, now, loc),
		Projects:         ProjectSummary(projects),
		Meetings:         MeetingSummary(meetings, now, loc),
		TodaysMeetings:   WithCountdowns(TodaysMeetings(meetings, now, loc), now),
		UpcomingMeetings: UpcomingMeetings(meetings, now, DefaultUpcomingLimit),
	}
}
