package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"teamsync/api/internal/attachments"
	"teamsync/api/internal/config"
	"teamsync/api/internal/docstore"
	"teamsync/api/internal/email"
	"teamsync/api/internal/rbac"
	"teamsync/api/internal/store"
)

func newTestService(t *testing.T, ds docstore.Store, opts ...Option) *Service {
	t.Helper()
	if ds == nil {
		ds = docstore.NewMemory()
	}
	cfg := config.Config{
		JWTSecret:        "test-secret",
		AccessTTL:        time.Hour,
		Location:         time.UTC,
		ReminderInterval: time.Minute,
	}
	svc := New(cfg, ds, opts...)
	t.Cleanup(func() {
		svc.Close()
		_ = ds.Close()
	})
	return svc
}

// member creates an approved user with role and returns a session for it.
func member(t *testing.T, svc *Service, uid string, role rbac.Role) Session {
	t.Helper()
	ctx := context.Background()
	users := svc.Repositories().Users
	if _, _, err := users.EnsureUser(ctx, uid, uid+"@example.com", uid); err != nil {
		t.Fatalf("ensure user %s: %v", uid, err)
	}
	if _, err := users.Approve(ctx, uid); err != nil {
		t.Fatalf("approve %s: %v", uid, err)
	}
	if _, err := users.SetRole(ctx, uid, string(role)); err != nil {
		t.Fatalf("set role %s: %v", uid, err)
	}
	return Session{
		UserID:   uid,
		UserName: uid,
		Email:    uid + "@example.com",
		Viewer:   rbac.Viewer{UID: uid, Role: role, Approved: true},
	}
}

func statusOf(err error) int {
	status, _, _, _ := mapError(err)
	return status
}

func TestPendingUserIsToldToWaitForApproval(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	session, err := svc.Login(ctx, "newbie", "newbie@example.com", "New Person")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if session.Viewer.Approved {
		t.Fatalf("expected first sign-in to be unapproved")
	}

	if _, err := svc.GetProjects(ctx, session); !errors.Is(err, errPendingApproval) {
		t.Fatalf("expected pending approval, got %v", err)
	}
	if _, err := svc.GetNotifications(ctx, session, 10); !errors.Is(err, errPendingApproval) {
		t.Fatalf("expected pending approval for notifications, got %v", err)
	}
	if _, err := svc.CreateTask(ctx, session, store.Task{Title: "x"}); !errors.Is(err, errPendingApproval) {
		t.Fatalf("expected pending approval for writes, got %v", err)
	}
}

func TestDeveloperSeesOnlyAssignedProjects(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	admin := member(t, svc, "admin1", rbac.RoleAdmin)
	dev := member(t, svc, "dev1", rbac.RoleDeveloper)

	mine, err := svc.CreateProject(ctx, admin, store.Project{Name: "Apollo", AssignedTo: []string{"dev1"}})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	other, err := svc.CreateProject(ctx, admin, store.Project{Name: "Gemini"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	projects, err := svc.GetProjects(ctx, dev)
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(projects) != 1 || projects[0].ID != mine.ID {
		t.Fatalf("expected only Apollo, got %+v", projects)
	}

	if _, err := svc.GetProject(ctx, dev, other.ID); statusOf(err) != http.StatusNotFound {
		t.Fatalf("expected hidden project to be 404, got %v", err)
	}

	all, err := svc.GetProjects(ctx, admin)
	if err != nil {
		t.Fatalf("admin list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected admin to see 2 projects, got %d", len(all))
	}
}

func TestDeveloperCannotManageProjects(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	admin := member(t, svc, "admin1", rbac.RoleAdmin)
	dev := member(t, svc, "dev1", rbac.RoleDeveloper)

	if _, err := svc.CreateProject(ctx, dev, store.Project{Name: "Side project"}); !errors.Is(err, errForbidden) {
		t.Fatalf("expected forbidden create, got %v", err)
	}

	p, err := svc.CreateProject(ctx, admin, store.Project{Name: "Apollo", AssignedTo: []string{"dev1"}})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	name := "Renamed"
	if _, err := svc.UpdateProject(ctx, dev, p.ID, store.ProjectPatch{Name: &name}); !errors.Is(err, errForbidden) {
		t.Fatalf("expected forbidden rename, got %v", err)
	}

	status, progress := "On Hold", 40
	updated, err := svc.UpdateProject(ctx, dev, p.ID, store.ProjectPatch{Status: &status, Progress: &progress})
	if err != nil {
		t.Fatalf("developer status update: %v", err)
	}
	if updated.Status != "On Hold" || updated.Progress != 40 {
		t.Fatalf("unexpected project after update: %+v", updated)
	}

	if err := svc.DeleteProject(ctx, dev, p.ID); !errors.Is(err, errForbidden) {
		t.Fatalf("expected forbidden delete, got %v", err)
	}
}

func TestCreateTaskNotifiesAssignees(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	admin := member(t, svc, "admin1", rbac.RoleAdmin)
	dev := member(t, svc, "dev1", rbac.RoleDeveloper)

	task, err := svc.CreateTask(ctx, admin, store.Task{Title: "Write docs", AssignedTo: []string{"dev1"}})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	notes, err := svc.GetNotifications(ctx, dev, 10)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(notes) != 1 || notes[0].Title != "New task assigned" {
		t.Fatalf("expected one assignment notification, got %+v", notes)
	}
	if notes[0].Metadata["taskId"] != task.ID {
		t.Fatalf("expected taskId %s in metadata, got %v", task.ID, notes[0].Metadata)
	}

	unread, err := svc.UnreadNotifications(ctx, dev)
	if err != nil || unread != 1 {
		t.Fatalf("expected 1 unread, got %d (%v)", unread, err)
	}

	activities, err := svc.GetActivities(ctx, dev, false, 10)
	if err != nil {
		t.Fatalf("activities: %v", err)
	}
	if len(activities) != 1 || activities[0].EntityID != task.ID {
		t.Fatalf("expected task activity, got %+v", activities)
	}

	if _, err := svc.GetActivities(ctx, dev, true, 10); !errors.Is(err, errForbidden) {
		t.Fatalf("expected team feed to be admin-only, got %v", err)
	}
}

func TestNotificationsAreScopedToOwner(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	admin := member(t, svc, "admin1", rbac.RoleAdmin)
	member(t, svc, "dev1", rbac.RoleDeveloper)
	dev2 := member(t, svc, "dev2", rbac.RoleDeveloper)

	if _, err := svc.CreateTask(ctx, admin, store.Task{Title: "Review PR", AssignedTo: []string{"dev1"}}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	notes, err := svc.Repositories().Notifications.ListForUser(ctx, "dev1", 10)
	if err != nil || len(notes) != 1 {
		t.Fatalf("expected dev1 notification, got %d (%v)", len(notes), err)
	}

	if _, err := svc.MarkNotificationRead(ctx, dev2, notes[0].ID); statusOf(err) != http.StatusNotFound {
		t.Fatalf("expected another user's notification to be 404, got %v", err)
	}
	if err := svc.DeleteNotification(ctx, dev2, notes[0].ID); statusOf(err) != http.StatusNotFound {
		t.Fatalf("expected delete of another user's notification to be 404, got %v", err)
	}
}

// failingNotifications refuses every notification write.
type failingNotifications struct {
	*docstore.Memory
}

func (f failingNotifications) Set(ctx context.Context, collection, id string, data map[string]any) error {
	if collection == string(rbac.EntityNotifications) {
		return errors.New("notifications offline")
	}
	return f.Memory.Set(ctx, collection, id, data)
}

func TestFanoutFailureDoesNotFailTheWrite(t *testing.T) {
	svc := newTestService(t, failingNotifications{docstore.NewMemory()})
	ctx := context.Background()
	admin := member(t, svc, "admin1", rbac.RoleAdmin)
	member(t, svc, "dev1", rbac.RoleDeveloper)

	task, err := svc.CreateTask(ctx, admin, store.Task{Title: "Ship it", AssignedTo: []string{"dev1"}})
	if err != nil {
		t.Fatalf("expected write to succeed despite fan-out failure, got %v", err)
	}
	stored, err := svc.Repositories().Tasks.Get(ctx, task.ID)
	if err != nil || stored == nil {
		t.Fatalf("expected task to be stored, got %v (%v)", stored, err)
	}
}

func TestCreateTaskRejectsUnknownProject(t *testing.T) {
	svc := newTestService(t, nil)
	admin := member(t, svc, "admin1", rbac.RoleAdmin)

	_, err := svc.CreateTask(context.Background(), admin, store.Task{Title: "Orphan", ProjectID: "missing"})
	var validation *store.ValidationError
	if !errors.As(err, &validation) || validation.Field != "projectId" {
		t.Fatalf("expected projectId validation error, got %v", err)
	}
}

func TestDeleteTaskIsLimitedToCreatorAndAdmin(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	admin := member(t, svc, "admin1", rbac.RoleAdmin)
	dev1 := member(t, svc, "dev1", rbac.RoleDeveloper)
	dev2 := member(t, svc, "dev2", rbac.RoleDeveloper)

	task, err := svc.CreateTask(ctx, dev1, store.Task{Title: "Mine"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := svc.DeleteTask(ctx, dev2, task.ID); !errors.Is(err, errForbidden) {
		t.Fatalf("expected forbidden for non-creator, got %v", err)
	}
	if err := svc.DeleteTask(ctx, dev1, task.ID); err != nil {
		t.Fatalf("creator delete: %v", err)
	}

	other, err := svc.CreateTask(ctx, dev2, store.Task{Title: "Theirs"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := svc.DeleteTask(ctx, admin, other.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
}

func TestAdminNotesAreAdminOnly(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	admin := member(t, svc, "admin1", rbac.RoleAdmin)
	dev := member(t, svc, "dev1", rbac.RoleDeveloper)

	m, err := svc.CreateMeeting(ctx, admin, store.Meeting{
		Title:           "Standup",
		StartTime:       "2026-03-02T09:00:00Z",
		IsAssignedToAll: true,
	})
	if err != nil {
		t.Fatalf("create meeting: %v", err)
	}
	if m.Date != "2026-03-02" {
		t.Fatalf("expected date key 2026-03-02, got %q", m.Date)
	}

	if _, err := svc.AddMeetingComment(ctx, dev, m.ID, store.CommentAdminNote, "secret"); !errors.Is(err, errForbidden) {
		t.Fatalf("expected forbidden admin note, got %v", err)
	}
	updated, err := svc.AddMeetingComment(ctx, dev, m.ID, store.CommentPreMeeting, "agenda item")
	if err != nil {
		t.Fatalf("pre-meeting comment: %v", err)
	}
	if len(updated.Comments) != 1 || updated.Comments[0].UserID != "dev1" {
		t.Fatalf("unexpected comments: %+v", updated.Comments)
	}
	if _, err := svc.AddMeetingComment(ctx, admin, m.ID, store.CommentAdminNote, "note"); err != nil {
		t.Fatalf("admin note: %v", err)
	}
}

func TestRemindOnceSendsEachTierOnce(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	svc := newTestService(t, nil, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	admin := member(t, svc, "admin1", rbac.RoleAdmin)
	member(t, svc, "dev1", rbac.RoleDeveloper)

	if _, err := svc.CreateMeeting(ctx, admin, store.Meeting{
		Title:      "Planning",
		StartTime:  now.Add(time.Hour).Format(time.RFC3339),
		AssignedTo: []string{"dev1"},
	}); err != nil {
		t.Fatalf("create meeting: %v", err)
	}

	sent, err := svc.RemindOnce(ctx, "dev1")
	if err != nil || sent != 1 {
		t.Fatalf("expected one reminder, got %d (%v)", sent, err)
	}
	sent, err = svc.RemindOnce(ctx, "dev1")
	if err != nil || sent != 0 {
		t.Fatalf("expected no repeat reminder, got %d (%v)", sent, err)
	}

	notes, err := svc.Repositories().Notifications.ListForUser(ctx, "dev1", 10)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	reminders := 0
	for _, n := range notes {
		if n.ActionType == "meeting_reminder" {
			reminders++
			if n.Metadata["tier"] != "1hour" {
				t.Fatalf("expected 1hour tier, got %v", n.Metadata["tier"])
			}
		}
	}
	if reminders != 1 {
		t.Fatalf("expected exactly one reminder notification, got %d", reminders)
	}
}

func TestUnapprovedUserGetsNoReminders(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 45, 0, 0, time.UTC)
	svc := newTestService(t, nil, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	admin := member(t, svc, "admin1", rbac.RoleAdmin)
	users := svc.Repositories().Users
	if _, _, err := users.EnsureUser(ctx, "pending", "pending@example.com", "Pending"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	if _, err := svc.CreateMeeting(ctx, admin, store.Meeting{
		Title:           "All hands",
		StartTime:       now.Add(15 * time.Minute).Format(time.RFC3339),
		IsAssignedToAll: true,
	}); err != nil {
		t.Fatalf("create meeting: %v", err)
	}

	sent, err := svc.RemindOnce(ctx, "pending")
	if err != nil || sent != 0 {
		t.Fatalf("expected no reminder for an unapproved user, got %d (%v)", sent, err)
	}
	notes, err := svc.Repositories().Notifications.ListForUser(ctx, "pending", 10)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(notes) != 0 {
		t.Fatalf("expected no notifications, got %+v", notes)
	}

	if _, err := users.Approve(ctx, "pending"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if sent, err := svc.RemindOnce(ctx, "pending"); err != nil || sent != 1 {
		t.Fatalf("expected the reminder once approved, got %d (%v)", sent, err)
	}
}

type fakeMailer struct {
	sent []email.Reminder
	to   []string
}

func (f *fakeMailer) SendMeetingReminder(to string, r email.Reminder) error {
	f.to = append(f.to, to)
	f.sent = append(f.sent, r)
	return nil
}

func TestRemindersAreMailedWhenConfigured(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	mail := &fakeMailer{}
	svc := newTestService(t, nil, WithClock(func() time.Time { return now }), WithMailer(mail))
	ctx := context.Background()
	admin := member(t, svc, "admin1", rbac.RoleAdmin)
	member(t, svc, "dev1", rbac.RoleDeveloper)

	if _, err := svc.CreateMeeting(ctx, admin, store.Meeting{
		Title:       "Demo",
		StartTime:   now.Format(time.RFC3339),
		MeetingLink: "https://meet.example.com/demo",
		AssignedTo:  []string{"dev1"},
	}); err != nil {
		t.Fatalf("create meeting: %v", err)
	}

	if sent, err := svc.RemindOnce(ctx, "dev1"); err != nil || sent != 1 {
		t.Fatalf("expected one reminder, got %d (%v)", sent, err)
	}
	if len(mail.sent) != 1 || mail.to[0] != "dev1@example.com" {
		t.Fatalf("expected one mail to dev1, got %v", mail.to)
	}
	if mail.sent[0].Headline != "Meeting is live" || mail.sent[0].MeetingLink != "https://meet.example.com/demo" {
		t.Fatalf("unexpected reminder mail %+v", mail.sent[0])
	}
}

func TestSummariesWithoutUserCoverEveryone(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	admin := member(t, svc, "admin1", rbac.RoleAdmin)
	member(t, svc, "dev1", rbac.RoleDeveloper)

	if _, err := svc.CreateTask(ctx, admin, store.Task{Title: "A", AssignedTo: []string{"dev1"}, Priority: store.PriorityHigh}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := svc.CreateTask(ctx, admin, store.Task{Title: "B"}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	all, err := svc.GetTaskSummary(ctx, "")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if all.Total != 2 {
		t.Fatalf("expected 2 tasks overall, got %d", all.Total)
	}

	mine, err := svc.GetTaskSummary(ctx, "dev1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if mine.Total != 1 || mine.ByPriority[store.PriorityHigh] != 1 {
		t.Fatalf("unexpected dev1 summary: %+v", mine)
	}
}

func TestUserAdministration(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	admin := member(t, svc, "admin1", rbac.RoleAdmin)
	dev := member(t, svc, "dev1", rbac.RoleDeveloper)

	if _, err := svc.Login(ctx, "pending1", "p@example.com", "Pending"); err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := svc.ListPendingUsers(ctx, dev); !errors.Is(err, errForbidden) {
		t.Fatalf("expected developer to be forbidden, got %v", err)
	}
	pending, err := svc.ListPendingUsers(ctx, admin)
	if err != nil || len(pending) != 1 || pending[0].UID != "pending1" {
		t.Fatalf("expected pending1, got %+v (%v)", pending, err)
	}

	approved, err := svc.ApproveUser(ctx, admin, "pending1")
	if err != nil || !approved.Approved {
		t.Fatalf("approve: %+v (%v)", approved, err)
	}
	if err := svc.RejectUser(ctx, admin, "pending1"); err == nil {
		t.Fatalf("expected reject of an approved user to fail")
	}

	if _, err := svc.SetUserRole(ctx, admin, "admin1", string(rbac.RoleDeveloper)); err == nil {
		t.Fatalf("expected admin self-demotion to fail")
	}
	promoted, err := svc.SetUserRole(ctx, admin, "dev1", string(rbac.RoleAdmin))
	if err != nil || promoted.Role != string(rbac.RoleAdmin) {
		t.Fatalf("promote: %+v (%v)", promoted, err)
	}
}

type fakeFiles struct {
	putFn func(ctx context.Context, key string, body io.Reader, size int64, contentType string) (attachments.Object, error)
}

func (f *fakeFiles) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (attachments.Object, error) {
	return f.putFn(ctx, key, body, size, contentType)
}

func TestUploadProjectFile(t *testing.T) {
	var storedKey string
	files := &fakeFiles{putFn: func(_ context.Context, key string, body io.Reader, size int64, contentType string) (attachments.Object, error) {
		storedKey = key
		data, _ := io.ReadAll(body)
		return attachments.Object{Key: key, URL: "https://files.example.com/" + key, ContentType: contentType, Size: int64(len(data))}, nil
	}}
	svc := newTestService(t, nil, WithAttachments(files))
	ctx := context.Background()
	admin := member(t, svc, "admin1", rbac.RoleAdmin)

	p, err := svc.CreateProject(ctx, admin, store.Project{Name: "Apollo"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	updated, err := svc.UploadProjectFile(ctx, admin, p.ID, Upload{
		Name:        "brief.pdf",
		ContentType: "application/pdf",
		Size:        5,
		Body:        bytes.NewBufferString("hello"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(updated.Files) != 1 || len(updated.Images) != 0 {
		t.Fatalf("expected one file and no images, got %+v", updated)
	}
	f := updated.Files[0]
	if f.ObjectKey != storedKey || f.Size != 5 || f.UploadedBy != "admin1" {
		t.Fatalf("unexpected attachment: %+v", f)
	}
}

func TestUploadWithoutStorageIsUnavailable(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	admin := member(t, svc, "admin1", rbac.RoleAdmin)
	p, err := svc.CreateProject(ctx, admin, store.Project{Name: "Apollo"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	_, err = svc.UploadProjectFile(ctx, admin, p.ID, Upload{Name: "a.txt", Body: bytes.NewBufferString("a")})
	if !errors.Is(err, errNoAttachments) {
		t.Fatalf("expected attachments unavailable, got %v", err)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"domain", errPendingApproval, http.StatusForbidden, "PENDING_APPROVAL"},
		{"not found", notFound("Task"), http.StatusNotFound, "NOT_FOUND"},
		{"validation", &store.ValidationError{Field: "title", Message: "is required"}, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"bad query", docstore.ErrInvalidQuery, http.StatusBadRequest, "INVALID_QUERY"},
		{"store down", docstore.Unavailable("query", errors.New("dial tcp")), http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _, _ := mapError(tt.err)
			if status != tt.status || code != tt.code {
				t.Fatalf("mapError(%v) = %d %s, want %d %s", tt.err, status, code, tt.status, tt.code)
			}
		})
	}
}
