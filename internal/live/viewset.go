package live

import (
	"time"

	"teamsync/api/internal/rbac"
	"teamsync/api/internal/store"
	"teamsync/api/internal/views"
)

// ViewSet is one published state of a viewer's collections and every view
// derived from them. A ViewSet is never modified after it is published.
type ViewSet struct {
	Version     uint64    `json:"version"`
	GeneratedAt time.Time `json:"generatedAt"`

	Projects      []store.Project      `json:"projects"`
	Tasks         []store.Task         `json:"tasks"`
	Meetings      []store.Meeting      `json:"meetings"`
	Notifications []store.Notification `json:"notifications"`
	Activities    []store.Activity     `json:"activities"`

	TodaysTasks         []store.Task        `json:"todaysTasks"`
	TodaysMeetings      []views.MeetingView `json:"todaysMeetings"`
	UpcomingMeetings    []views.MeetingView `json:"upcomingMeetings"`
	Summary             views.Summary       `json:"summary"`
	UnreadNotifications int                 `json:"unreadNotifications"`
	UnreadActivities    int                 `json:"unreadActivities"`

	// Errors holds the last snapshot error per collection. Items of a
	// collection with an error are its last known good state.
	Errors map[rbac.Entity]string `json:"errors,omitempty"`
}

// UpcomingLimit bounds ViewSet.UpcomingMeetings.
const UpcomingLimit = 10

type syncState struct {
	projects      []store.Project
	tasks         []store.Task
	meetings      []store.Meeting
	notifications []store.Notification
	activities    []store.Activity

	seen    map[rbac.Entity]bool
	errs    map[rbac.Entity]string
	version uint64
}

var syncedEntities = []rbac.Entity{
	rbac.EntityProjects,
	rbac.EntityTasks,
	rbac.EntityMeetings,
	rbac.EntityNotifications,
	rbac.EntityActivities,
}

func newSyncState() *syncState {
	return &syncState{seen: map[rbac.Entity]bool{}, errs: map[rbac.Entity]string{}}
}

func (s *syncState) ready() bool {
	return len(s.seen) == len(syncedEntities)
}

func (s *syncState) record(entity rbac.Entity, err error) {
	s.seen[entity] = true
	if err != nil {
		s.errs[entity] = err.Error()
		return
	}
	delete(s.errs, entity)
}

func (s *syncState) build(uid string, now time.Time, loc *time.Location) ViewSet {
	s.version++
	vs := ViewSet{
		Version:          s.version,
		GeneratedAt:      now,
		Projects:         s.projects,
		Tasks:            s.tasks,
		Meetings:         s.meetings,
		Notifications:    s.notifications,
		Activities:       s.activities,
		TodaysTasks:      views.TasksDueToday(s.tasks, now, loc),
		TodaysMeetings:   views.WithCountdowns(views.TodaysMeetings(s.meetings, now, loc), now),
		UpcomingMeetings: views.UpcomingMeetings(s.meetings, now, UpcomingLimit),
		Summary:          views.Summarize(s.projects, s.tasks, s.meetings, now, loc),
	}
	for _, n := range s.notifications {
		if !n.Read {
			vs.UnreadNotifications++
		}
	}
	for _, a := range s.activities {
		if !a.IsReadBy(uid) {
			vs.UnreadActivities++
		}
	}
	if len(s.errs) > 0 {
		vs.Errors = make(map[rbac.Entity]string, len(s.errs))
		for k, v := range s.errs {
			vs.Errors[k] = v
		}
	}
	return vs
}
