package app

import (
	"context"
	"io"

	"teamsync/api/internal/attachments"
	"teamsync/api/internal/rbac"
	"teamsync/api/internal/search"
	"teamsync/api/internal/store"
	"teamsync/api/internal/views"
)

// visible loads one entity and reports it missing when it is outside the
// viewer's scope.
func visible[T any](ctx context.Context, session Session, entity rbac.Entity, name, id string, get func(context.Context, string) (*T, error)) (T, error) {
	var zero T
	if !session.Viewer.Approved {
		return zero, errPendingApproval
	}
	item, err := get(ctx, id)
	if err != nil {
		return zero, err
	}
	if item == nil || !store.Visible(rbac.ScopeFor(session.Viewer, entity), *item) {
		return zero, notFound(name)
	}
	return *item, nil
}

func (s *Service) list(session Session, entity rbac.Entity) (rbac.Scope, error) {
	if !session.Viewer.Approved {
		return rbac.Scope{}, errPendingApproval
	}
	return rbac.ScopeFor(session.Viewer, entity), nil
}

// Upload is a file sent for a project.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
	Image       bool
}

func (s *Service) GetProjects(ctx context.Context, session Session) ([]store.Project, error) {
	scope, err := s.list(session, rbac.EntityProjects)
	if err != nil {
		return nil, err
	}
	return s.repos.Projects.List(ctx, scope)
}

func (s *Service) GetProject(ctx context.Context, session Session, id string) (store.Project, error) {
	return visible(ctx, session, rbac.EntityProjects, "Project", id, s.repos.Projects.Get)
}

func (s *Service) CreateProject(ctx context.Context, session Session, p store.Project) (store.Project, error) {
	if err := s.authorize(session, rbac.ActionManageProject); err != nil {
		return store.Project{}, err
	}
	p.CreatedBy = session.UserID
	created, err := s.repos.Projects.Create(ctx, p)
	if err != nil {
		return store.Project{}, err
	}
	s.search.IndexProject(created)
	logFanout("project create", s.fanout.ProjectCreated(ctx, actor(session), created))
	return created, nil
}

// UpdateProject lets admins change anything. Assigned developers may only
// move status and progress.
func (s *Service) UpdateProject(ctx context.Context, session Session, id string, patch store.ProjectPatch) (store.Project, error) {
	if _, err := s.GetProject(ctx, session, id); err != nil {
		return store.Project{}, err
	}
	if !s.Can(session, rbac.ActionManageProject) {
		if patch.Name != nil || patch.Description != nil || patch.Priority != nil ||
			patch.StartDate != nil || patch.EndDate != nil || patch.AssignedTo != nil {
			return store.Project{}, errForbidden
		}
	}
	updated, err := s.repos.Projects.Update(ctx, id, patch)
	if err != nil {
		return store.Project{}, err
	}
	if updated == nil {
		return store.Project{}, notFound("Project")
	}
	s.search.IndexProject(*updated)
	logFanout("project update", s.fanout.ProjectUpdated(ctx, actor(session), *updated))
	return *updated, nil
}

func (s *Service) DeleteProject(ctx context.Context, session Session, id string) error {
	if err := s.authorize(session, rbac.ActionManageProject); err != nil {
		return err
	}
	if _, err := s.GetProject(ctx, session, id); err != nil {
		return err
	}
	if err := s.repos.Projects.Delete(ctx, id); err != nil {
		return err
	}
	s.search.Delete(search.ResultProject, id)
	return nil
}

func (s *Service) AddProjectComment(ctx context.Context, session Session, id, text string) (store.Project, error) {
	if err := s.authorize(session, rbac.ActionComment); err != nil {
		return store.Project{}, err
	}
	if _, err := s.GetProject(ctx, session, id); err != nil {
		return store.Project{}, err
	}
	item, err := s.repos.Projects.AddComment(ctx, id, store.Comment{
		Text:     text,
		UserID:   session.UserID,
		UserName: session.UserName,
	})
	if err != nil {
		return store.Project{}, err
	}
	return orNotFound(item, "Project")
}

func (s *Service) AddProjectSubTask(ctx context.Context, session Session, id, title string) (store.Project, error) {
	if err := s.authorize(session, rbac.ActionWriteTask); err != nil {
		return store.Project{}, err
	}
	if _, err := s.GetProject(ctx, session, id); err != nil {
		return store.Project{}, err
	}
	item, err := s.repos.Projects.AddSubTask(ctx, id, store.SubTask{Title: title, CreatedBy: session.UserID})
	if err != nil {
		return store.Project{}, err
	}
	return orNotFound(item, "Project")
}

// UploadProjectFile stores the upload in object storage and appends it to the
// project's files, or images when up.Image is set.
func (s *Service) UploadProjectFile(ctx context.Context, session Session, id string, up Upload) (store.Project, error) {
	if err := s.authorize(session, rbac.ActionWriteTask); err != nil {
		return store.Project{}, err
	}
	if s.files == nil {
		return store.Project{}, errNoAttachments
	}
	if _, err := s.GetProject(ctx, session, id); err != nil {
		return store.Project{}, err
	}
	if up.Name == "" {
		return store.Project{}, &store.ValidationError{Field: "name", Message: "is required"}
	}
	obj, err := s.files.Put(ctx, attachments.ObjectKey(id, up.Name), up.Body, up.Size, up.ContentType)
	if err != nil {
		return store.Project{}, err
	}
	att := store.Attachment{
		Name:        up.Name,
		URL:         obj.URL,
		ObjectKey:   obj.Key,
		ContentType: up.ContentType,
		Size:        obj.Size,
		UploadedBy:  session.UserID,
	}
	if up.Image {
		item, err := s.repos.Projects.AddImage(ctx, id, att)
		if err != nil {
			return store.Project{}, err
		}
		return orNotFound(item, "Project")
	}
	item, err := s.repos.Projects.AddFile(ctx, id, att)
	if err != nil {
		return store.Project{}, err
	}
	return orNotFound(item, "Project")
}

// GetTasks lists the viewer's tasks, only those of projectID when set.
func (s *Service) GetTasks(ctx context.Context, session Session, projectID string) ([]store.Task, error) {
	scope, err := s.list(session, rbac.EntityTasks)
	if err != nil {
		return nil, err
	}
	if projectID != "" {
		return s.repos.Tasks.ListByProject(ctx, scope, projectID)
	}
	return s.repos.Tasks.List(ctx, scope)
}

func (s *Service) GetTask(ctx context.Context, session Session, id string) (store.Task, error) {
	return visible(ctx, session, rbac.EntityTasks, "Task", id, s.repos.Tasks.Get)
}

func (s *Service) CreateTask(ctx context.Context, session Session, t store.Task) (store.Task, error) {
	if err := s.authorize(session, rbac.ActionWriteTask); err != nil {
		return store.Task{}, err
	}
	if err := s.checkProject(ctx, t.ProjectID); err != nil {
		return store.Task{}, err
	}
	t.CreatedBy = session.UserID
	created, err := s.repos.Tasks.Create(ctx, t)
	if err != nil {
		return store.Task{}, err
	}
	s.search.IndexTask(created)
	logFanout("task create", s.fanout.TaskCreated(ctx, actor(session), created))
	return created, nil
}

func (s *Service) UpdateTask(ctx context.Context, session Session, id string, patch store.TaskPatch) (store.Task, error) {
	if err := s.authorize(session, rbac.ActionWriteTask); err != nil {
		return store.Task{}, err
	}
	before, err := s.GetTask(ctx, session, id)
	if err != nil {
		return store.Task{}, err
	}
	if patch.ProjectID != nil {
		if err := s.checkProject(ctx, *patch.ProjectID); err != nil {
			return store.Task{}, err
		}
	}
	after, err := s.repos.Tasks.Update(ctx, id, patch)
	if err != nil {
		return store.Task{}, err
	}
	if after == nil {
		return store.Task{}, notFound("Task")
	}
	s.search.IndexTask(*after)
	logFanout("task update", s.fanout.TaskUpdated(ctx, actor(session), before, *after))
	return *after, nil
}

// DeleteTask is allowed to admins and to the task's creator.
func (s *Service) DeleteTask(ctx context.Context, session Session, id string) error {
	if err := s.authorize(session, rbac.ActionWriteTask); err != nil {
		return err
	}
	task, err := s.GetTask(ctx, session, id)
	if err != nil {
		return err
	}
	if !session.Viewer.IsAdmin() && task.CreatedBy != session.UserID {
		return errForbidden
	}
	if err := s.repos.Tasks.Delete(ctx, id); err != nil {
		return err
	}
	s.search.Delete(search.ResultTask, id)
	return nil
}

func (s *Service) checkProject(ctx context.Context, projectID string) error {
	if projectID == "" {
		return nil
	}
	p, err := s.repos.Projects.Get(ctx, projectID)
	if err != nil {
		return err
	}
	if p == nil {
		return &store.ValidationError{Field: "projectId", Message: "unknown project"}
	}
	return nil
}

// GetMeetings lists the viewer's meetings, only those on day (YYYY-MM-DD)
// when set.
func (s *Service) GetMeetings(ctx context.Context, session Session, day string) ([]store.Meeting, error) {
	scope, err := s.list(session, rbac.EntityMeetings)
	if err != nil {
		return nil, err
	}
	if day != "" {
		return s.repos.Meetings.ListByDate(ctx, scope, day)
	}
	return s.repos.Meetings.List(ctx, scope)
}

func (s *Service) GetMeeting(ctx context.Context, session Session, id string) (store.Meeting, error) {
	return visible(ctx, session, rbac.EntityMeetings, "Meeting", id, s.repos.Meetings.Get)
}

func (s *Service) CreateMeeting(ctx context.Context, session Session, m store.Meeting) (store.Meeting, error) {
	if err := s.authorize(session, rbac.ActionManageMeeting); err != nil {
		return store.Meeting{}, err
	}
	m.CreatedBy = session.UserID
	created, err := s.repos.Meetings.Create(ctx, m)
	if err != nil {
		return store.Meeting{}, err
	}
	s.search.IndexMeeting(created)
	logFanout("meeting create", s.fanout.MeetingCreated(ctx, actor(session), created))
	return created, nil
}

func (s *Service) UpdateMeeting(ctx context.Context, session Session, id string, patch store.MeetingPatch) (store.Meeting, error) {
	if err := s.authorize(session, rbac.ActionManageMeeting); err != nil {
		return store.Meeting{}, err
	}
	updated, err := s.repos.Meetings.Update(ctx, id, patch)
	if err != nil {
		return store.Meeting{}, err
	}
	if updated == nil {
		return store.Meeting{}, notFound("Meeting")
	}
	s.search.IndexMeeting(*updated)
	logFanout("meeting update", s.fanout.MeetingUpdated(ctx, actor(session), *updated))
	return *updated, nil
}

func (s *Service) DeleteMeeting(ctx context.Context, session Session, id string) error {
	if err := s.authorize(session, rbac.ActionManageMeeting); err != nil {
		return err
	}
	if _, err := s.GetMeeting(ctx, session, id); err != nil {
		return err
	}
	if err := s.repos.Meetings.Delete(ctx, id); err != nil {
		return err
	}
	s.search.Delete(search.ResultMeeting, id)
	return nil
}

// AddMeetingComment appends a typed comment. Admin notes are admin-only.
func (s *Service) AddMeetingComment(ctx context.Context, session Session, id, kind, text string) (store.Meeting, error) {
	if err := s.authorize(session, rbac.ActionComment); err != nil {
		return store.Meeting{}, err
	}
	if kind == store.CommentAdminNote && !session.Viewer.IsAdmin() {
		return store.Meeting{}, errForbidden
	}
	if _, err := s.GetMeeting(ctx, session, id); err != nil {
		return store.Meeting{}, err
	}
	item, err := s.repos.Meetings.AddComment(ctx, id, store.MeetingComment{
		Type:     kind,
		Text:     text,
		UserID:   session.UserID,
		UserName: session.UserName,
	})
	if err != nil {
		return store.Meeting{}, err
	}
	return orNotFound(item, "Meeting")
}

func (s *Service) GetMeetingCountdown(ctx context.Context, session Session, id string) (views.Countdown, error) {
	m, err := s.GetMeeting(ctx, session, id)
	if err != nil {
		return views.Countdown{}, err
	}
	return views.MeetingCountdown(m, s.now())
}

func (s *Service) GetReports(ctx context.Context, session Session) ([]store.Report, error) {
	scope, err := s.list(session, rbac.EntityReports)
	if err != nil {
		return nil, err
	}
	return s.repos.Reports.List(ctx, scope)
}

func (s *Service) GetReport(ctx context.Context, session Session, id string) (store.Report, error) {
	return visible(ctx, session, rbac.EntityReports, "Report", id, s.repos.Reports.Get)
}

func (s *Service) CreateReport(ctx context.Context, session Session, r store.Report) (store.Report, error) {
	if err := s.authorize(session, rbac.ActionManageReport); err != nil {
		return store.Report{}, err
	}
	r.CreatedBy = session.UserID
	created, err := s.repos.Reports.Create(ctx, r)
	if err != nil {
		return store.Report{}, err
	}
	logFanout("report create", s.fanout.ReportCreated(ctx, actor(session), created))
	return created, nil
}

func (s *Service) UpdateReport(ctx context.Context, session Session, id string, patch store.ReportPatch) (store.Report, error) {
	if err := s.authorize(session, rbac.ActionManageReport); err != nil {
		return store.Report{}, err
	}
	item, err := s.repos.Reports.Update(ctx, id, patch)
	if err != nil {
		return store.Report{}, err
	}
	return orNotFound(item, "Report")
}

func (s *Service) DeleteReport(ctx context.Context, session Session, id string) error {
	if err := s.authorize(session, rbac.ActionManageReport); err != nil {
		return err
	}
	if _, err := s.GetReport(ctx, session, id); err != nil {
		return err
	}
	return s.repos.Reports.Delete(ctx, id)
}

// orNotFound turns a repository's nil result into a NOT_FOUND error.
func orNotFound[T any](item *T, name string) (T, error) {
	if item == nil {
		var zero T
		return zero, notFound(name)
	}
	return *item, nil
}
