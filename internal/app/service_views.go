package app

import (
	"context"
	"time"

	"teamsync/api/internal/live"
	"teamsync/api/internal/rbac"
	"teamsync/api/internal/reminder"
	"teamsync/api/internal/search"
	"teamsync/api/internal/store"
	"teamsync/api/internal/views"
)

// everyone reads across all users for the summary endpoints that take no
// user id.
var everyone = rbac.Viewer{UID: "system", Role: rbac.RoleAdmin, Approved: true}

// assignee scopes project and report listings to what uid is assigned to.
func assignee(uid string) rbac.Viewer {
	return rbac.Viewer{UID: uid, Role: rbac.RoleDeveloper, Approved: true}
}

func (s *Service) meetingsFor(ctx context.Context, userID string) ([]store.Meeting, error) {
	if userID == "" {
		return s.repos.Meetings.List(ctx, rbac.ScopeFor(everyone, rbac.EntityMeetings))
	}
	return s.repos.Meetings.ListForUser(ctx, userID)
}

// GetUpcomingMeetings returns the user's pending meetings that have not
// started yet, soonest first. limit <= 0 returns them all.
func (s *Service) GetUpcomingMeetings(ctx context.Context, userID string, limit int) ([]views.MeetingView, error) {
	meetings, err := s.meetingsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return views.UpcomingMeetings(meetings, s.now(), limit), nil
}

func (s *Service) GetTodaysMeetings(ctx context.Context, userID string) ([]views.MeetingView, error) {
	meetings, err := s.meetingsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return views.WithCountdowns(views.TodaysMeetings(meetings, now, s.cfg.Location), now), nil
}

// GetTaskSummary counts the tasks assigned to userID, or all tasks when
// userID is empty.
func (s *Service) GetTaskSummary(ctx context.Context, userID string) (views.TaskStats, error) {
	var (
		tasks []store.Task
		err   error
	)
	if userID == "" {
		tasks, err = s.repos.Tasks.List(ctx, rbac.ScopeFor(everyone, rbac.EntityTasks))
	} else {
		tasks, err = s.repos.Tasks.ListAssigned(ctx, userID, nil, 0)
	}
	if err != nil {
		return views.TaskStats{}, err
	}
	return views.TaskSummary(tasks, s.now(), s.cfg.Location), nil
}

func (s *Service) GetMeetingSummary(ctx context.Context, userID string) (views.MeetingStats, error) {
	meetings, err := s.meetingsFor(ctx, userID)
	if err != nil {
		return views.MeetingStats{}, err
	}
	return views.MeetingSummary(meetings, s.now(), s.cfg.Location), nil
}

func (s *Service) GetProjectSummary(ctx context.Context, userID string) (views.ProjectStats, error) {
	viewer := everyone
	if userID != "" {
		viewer = assignee(userID)
	}
	projects, err := s.repos.Projects.List(ctx, rbac.ScopeFor(viewer, rbac.EntityProjects))
	if err != nil {
		return views.ProjectStats{}, err
	}
	return views.ProjectSummary(projects), nil
}

// GetDashboard summarizes everything the viewer can see.
func (s *Service) GetDashboard(ctx context.Context, session Session) (views.Summary, error) {
	projects, err := s.GetProjects(ctx, session)
	if err != nil {
		return views.Summary{}, err
	}
	tasks, err := s.GetTasks(ctx, session, "")
	if err != nil {
		return views.Summary{}, err
	}
	meetings, err := s.GetMeetings(ctx, session, "")
	if err != nil {
		return views.Summary{}, err
	}
	return views.Summarize(projects, tasks, meetings, s.now(), s.cfg.Location), nil
}

// NewLiveManager returns a manager owned by the caller, for example one per
// websocket connection.
func (s *Service) NewLiveManager() *live.Manager {
	return live.NewManager(s.repos,
		live.WithClock(s.now),
		live.WithLocation(s.cfg.Location),
		live.WithRefresh(liveRefresh),
	)
}

// liveManager returns the manager shared by every subscription of uid. A new
// subscription of the same uid and scope replaces the previous one.
func (s *Service) liveManager(uid string) (*live.Manager, error) {
	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if s.closed {
		return nil, live.ErrClosed
	}
	m, ok := s.managers[uid]
	if !ok {
		m = s.NewLiveManager()
		s.managers[uid] = m
	}
	return m, nil
}

func (s *Service) SubscribeToProjects(ctx context.Context, viewer rbac.Viewer, fn func(store.Snapshot[store.Project])) (live.Unsubscribe, error) {
	m, err := s.liveManager(viewer.UID)
	if err != nil {
		return nil, err
	}
	return m.SubscribeProjects(ctx, viewer, fn)
}

func (s *Service) SubscribeToTasks(ctx context.Context, viewer rbac.Viewer, fn func(store.Snapshot[store.Task])) (live.Unsubscribe, error) {
	m, err := s.liveManager(viewer.UID)
	if err != nil {
		return nil, err
	}
	return m.SubscribeTasks(ctx, viewer, fn)
}

func (s *Service) SubscribeToMeetings(ctx context.Context, viewer rbac.Viewer, fn func(store.Snapshot[store.Meeting])) (live.Unsubscribe, error) {
	m, err := s.liveManager(viewer.UID)
	if err != nil {
		return nil, err
	}
	return m.SubscribeMeetings(ctx, viewer, fn)
}

func (s *Service) SubscribeToReports(ctx context.Context, viewer rbac.Viewer, fn func(store.Snapshot[store.Report])) (live.Unsubscribe, error) {
	m, err := s.liveManager(viewer.UID)
	if err != nil {
		return nil, err
	}
	return m.SubscribeReports(ctx, viewer, fn)
}

func (s *Service) SubscribeToNotifications(ctx context.Context, viewer rbac.Viewer, fn func(store.Snapshot[store.Notification])) (live.Unsubscribe, error) {
	m, err := s.liveManager(viewer.UID)
	if err != nil {
		return nil, err
	}
	return m.SubscribeNotifications(ctx, viewer, fn)
}

func (s *Service) SubscribeToActivities(ctx context.Context, viewer rbac.Viewer, fn func(store.Snapshot[store.Activity])) (live.Unsubscribe, error) {
	m, err := s.liveManager(viewer.UID)
	if err != nil {
		return nil, err
	}
	return m.SubscribeActivities(ctx, viewer, fn)
}

// SyncViews publishes a complete ViewSet each time one of the viewer's
// collections changes.
func (s *Service) SyncViews(ctx context.Context, viewer rbac.Viewer, fn func(live.ViewSet)) (live.Unsubscribe, error) {
	m, err := s.liveManager(viewer.UID)
	if err != nil {
		return nil, err
	}
	return m.Sync(ctx, viewer, fn)
}

// approvedMeetings lists a user's meetings for the reminder scheduler only
// while the user is approved.
type approvedMeetings struct {
	users    *store.Users
	meetings reminder.MeetingSource
}

func (a approvedMeetings) ListForUser(ctx context.Context, uid string) ([]store.Meeting, error) {
	viewer, err := a.users.Viewer(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !viewer.Approved {
		return nil, nil
	}
	return a.meetings.ListForUser(ctx, uid)
}

func (s *Service) reminderScheduler(interval time.Duration) *reminder.Scheduler {
	if interval <= 0 {
		interval = s.cfg.ReminderInterval
	}
	opts := []reminder.Option{
		reminder.WithLedger(s.ledger),
		reminder.WithClock(s.now),
		reminder.WithInterval(interval),
	}
	if s.cfg.ReminderTolerance > 0 {
		opts = append(opts, reminder.WithTolerance(s.cfg.ReminderTolerance))
	}
	source := approvedMeetings{users: s.repos.Users, meetings: s.repos.Meetings}
	return reminder.NewScheduler(source, s.reminderNotifier(), opts...)
}

// StartReminderService ticks the reminder scheduler for one user until stop
// is called or ctx ends. stop waits for an in-flight tick.
func (s *Service) StartReminderService(ctx context.Context, userID string, interval time.Duration) (stop func()) {
	return s.reminderScheduler(interval).Start(ctx, userID)
}

// RemindOnce runs a single reminder pass for userID.
func (s *Service) RemindOnce(ctx context.Context, userID string) (int, error) {
	return s.reminderScheduler(0).Tick(ctx, userID)
}

// ReminderRunner ticks every approved user from one loop.
func (s *Service) ReminderRunner(interval time.Duration) *reminder.Runner {
	return reminder.NewRunner(s.repos.Users, s.reminderScheduler(interval))
}

func (s *Service) Search(ctx context.Context, session Session, text string, typ search.ResultType, limit, offset int) (search.Response, error) {
	if !session.Viewer.Approved {
		return search.Response{}, errPendingApproval
	}
	return s.search.Search(ctx, search.Query{
		Text:       text,
		FilterType: typ,
		Limit:      limit,
		Offset:     offset,
		Viewer:     session.Viewer,
	}), nil
}

// Reindex pushes the whole store into the search index when one is healthy.
func (s *Service) Reindex(ctx context.Context) {
	s.search.ReindexAll(ctx)
}
