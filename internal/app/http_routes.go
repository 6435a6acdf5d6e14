package app

import (
	"net/http"
	"strings"

	"teamsync/api/internal/search"
	"teamsync/api/internal/store"
)

const maxUploadBytes = 32 << 20

// respond writes payload under key, or the mapped error.
func respond(w http.ResponseWriter, status int, key string, payload any, err error) {
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, status, map[string]any{key: payload})
}

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		items, err := s.service.GetProjects(ctx, session)
		respond(w, http.StatusOK, "projects", items, err)
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body store.Project
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.CreateProject(ctx, session, body)
		respond(w, http.StatusCreated, "project", created, err)
	case len(rest) == 1 && r.Method == http.MethodGet:
		item, err := s.service.GetProject(ctx, session, rest[0])
		respond(w, http.StatusOK, "project", item, err)
	case len(rest) == 1 && r.Method == http.MethodPut:
		var patch store.ProjectPatch
		if err := decodeBody(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		updated, err := s.service.UpdateProject(ctx, session, rest[0], patch)
		respond(w, http.StatusOK, "project", updated, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		err := s.service.DeleteProject(ctx, session, rest[0])
		respond(w, http.StatusOK, "ok", true, err)
	case len(rest) == 2 && rest[1] == "comments" && r.Method == http.MethodPost:
		var body struct {
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		updated, err := s.service.AddProjectComment(ctx, session, rest[0], body.Text)
		respond(w, http.StatusCreated, "project", updated, err)
	case len(rest) == 2 && rest[1] == "subtasks" && r.Method == http.MethodPost:
		var body struct {
			Title string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		updated, err := s.service.AddProjectSubTask(ctx, session, rest[0], body.Title)
		respond(w, http.StatusCreated, "project", updated, err)
	case len(rest) == 2 && rest[1] == "files" && r.Method == http.MethodPost:
		s.handleProjectUpload(w, r, session, rest[0])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

// handleProjectUpload takes a multipart "file" field. kind=image stores it
// with the project's images.
func (s *HTTPServer) handleProjectUpload(w http.ResponseWriter, r *http.Request, session Session, projectID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart upload", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is required", map[string]any{"field": "file"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	updated, err := s.service.UploadProjectFile(r.Context(), session, projectID, Upload{
		Name:        header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Body:        file,
		Image:       r.URL.Query().Get("kind") == "image" || strings.HasPrefix(contentType, "image/"),
	})
	respond(w, http.StatusCreated, "project", updated, err)
}

func (s *HTTPServer) handleTasks(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		items, err := s.service.GetTasks(ctx, session, strings.TrimSpace(r.URL.Query().Get("projectId")))
		respond(w, http.StatusOK, "tasks", items, err)
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body store.Task
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.CreateTask(ctx, session, body)
		respond(w, http.StatusCreated, "task", created, err)
	case len(rest) == 1 && r.Method == http.MethodGet:
		item, err := s.service.GetTask(ctx, session, rest[0])
		respond(w, http.StatusOK, "task", item, err)
	case len(rest) == 1 && r.Method == http.MethodPut:
		var patch store.TaskPatch
		if err := decodeBody(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		updated, err := s.service.UpdateTask(ctx, session, rest[0], patch)
		respond(w, http.StatusOK, "task", updated, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		err := s.service.DeleteTask(ctx, session, rest[0])
		respond(w, http.StatusOK, "ok", true, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleMeetings(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		items, err := s.service.GetMeetings(ctx, session, strings.TrimSpace(r.URL.Query().Get("date")))
		respond(w, http.StatusOK, "meetings", items, err)
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body store.Meeting
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.CreateMeeting(ctx, session, body)
		respond(w, http.StatusCreated, "meeting", created, err)
	case len(rest) == 1 && rest[0] == "upcoming" && r.Method == http.MethodGet:
		userID, err := s.targetUser(r, session)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		limit, err := queryInt(r, "limit", 0)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items, err := s.service.GetUpcomingMeetings(ctx, userID, limit)
		respond(w, http.StatusOK, "meetings", items, err)
	case len(rest) == 1 && rest[0] == "today" && r.Method == http.MethodGet:
		userID, err := s.targetUser(r, session)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items, err := s.service.GetTodaysMeetings(ctx, userID)
		respond(w, http.StatusOK, "meetings", items, err)
	case len(rest) == 1 && r.Method == http.MethodGet:
		item, err := s.service.GetMeeting(ctx, session, rest[0])
		respond(w, http.StatusOK, "meeting", item, err)
	case len(rest) == 1 && r.Method == http.MethodPut:
		var patch store.MeetingPatch
		if err := decodeBody(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		updated, err := s.service.UpdateMeeting(ctx, session, rest[0], patch)
		respond(w, http.StatusOK, "meeting", updated, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		err := s.service.DeleteMeeting(ctx, session, rest[0])
		respond(w, http.StatusOK, "ok", true, err)
	case len(rest) == 2 && rest[1] == "comments" && r.Method == http.MethodPost:
		var body struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		updated, err := s.service.AddMeetingComment(ctx, session, rest[0], body.Type, body.Text)
		respond(w, http.StatusCreated, "meeting", updated, err)
	case len(rest) == 2 && rest[1] == "countdown" && r.Method == http.MethodGet:
		countdown, err := s.service.GetMeetingCountdown(ctx, session, rest[0])
		respond(w, http.StatusOK, "countdown", countdown, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

// targetUser is the session user unless an admin names another with userId.
func (s *HTTPServer) targetUser(r *http.Request, session Session) (string, error) {
	if !session.Viewer.Approved {
		return "", errPendingApproval
	}
	requested := strings.TrimSpace(r.URL.Query().Get("userId"))
	if requested == "" || requested == session.UserID {
		return session.UserID, nil
	}
	if !session.Viewer.IsAdmin() {
		return "", errForbidden
	}
	return requested, nil
}

func (s *HTTPServer) handleReports(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		items, err := s.service.GetReports(ctx, session)
		respond(w, http.StatusOK, "reports", items, err)
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body store.Report
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.CreateReport(ctx, session, body)
		respond(w, http.StatusCreated, "report", created, err)
	case len(rest) == 1 && r.Method == http.MethodGet:
		item, err := s.service.GetReport(ctx, session, rest[0])
		respond(w, http.StatusOK, "report", item, err)
	case len(rest) == 1 && r.Method == http.MethodPut:
		var patch store.ReportPatch
		if err := decodeBody(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		updated, err := s.service.UpdateReport(ctx, session, rest[0], patch)
		respond(w, http.StatusOK, "report", updated, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		err := s.service.DeleteReport(ctx, session, rest[0])
		respond(w, http.StatusOK, "ok", true, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		limit, err := queryInt(r, "limit", DefaultInboxLimit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items, err := s.service.GetNotifications(ctx, session, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		unread, err := s.service.UnreadNotifications(ctx, session)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"notifications": items, "unread": unread})
	case len(rest) == 1 && rest[0] == "read-all" && r.Method == http.MethodPost:
		marked, err := s.service.MarkAllNotificationsRead(ctx, session)
		respond(w, http.StatusOK, "marked", marked, err)
	case len(rest) == 2 && rest[1] == "read" && r.Method == http.MethodPost:
		item, err := s.service.MarkNotificationRead(ctx, session, rest[0])
		respond(w, http.StatusOK, "notification", item, err)
	case len(rest) == 1 && r.Method == http.MethodDelete:
		err := s.service.DeleteNotification(ctx, session, rest[0])
		respond(w, http.StatusOK, "ok", true, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleActivities(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		limit, err := queryInt(r, "limit", DefaultInboxLimit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		all := r.URL.Query().Get("all") == "true"
		items, err := s.service.GetActivities(ctx, session, all, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		unread, err := s.service.UnreadActivities(ctx, session)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"activities": items, "unread": unread})
	case len(rest) == 2 && rest[1] == "read" && r.Method == http.MethodPost:
		item, err := s.service.MarkActivityRead(ctx, session, rest[0])
		respond(w, http.StatusOK, "activity", item, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	ctx := r.Context()
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListUsers(ctx, session)
		respond(w, http.StatusOK, "users", items, err)
	case len(rest) == 1 && rest[0] == "pending" && r.Method == http.MethodGet:
		items, err := s.service.ListPendingUsers(ctx, session)
		respond(w, http.StatusOK, "users", items, err)
	case len(rest) == 1 && rest[0] == "presence":
		switch r.Method {
		case http.MethodPost:
			err := s.service.Heartbeat(ctx, session)
			respond(w, http.StatusOK, "ok", true, err)
		case http.MethodDelete:
			err := s.service.Leave(ctx, session)
			respond(w, http.StatusOK, "ok", true, err)
		default:
			methodNotAllowed(w)
		}
	case len(rest) == 2 && rest[1] == "approve" && r.Method == http.MethodPost:
		user, err := s.service.ApproveUser(ctx, session, rest[0])
		respond(w, http.StatusOK, "user", user, err)
	case len(rest) == 2 && rest[1] == "reject" && r.Method == http.MethodPost:
		err := s.service.RejectUser(ctx, session, rest[0])
		respond(w, http.StatusOK, "ok", true, err)
	case len(rest) == 2 && rest[1] == "role" && r.Method == http.MethodPut:
		var body struct {
			Role string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		user, err := s.service.SetUserRole(ctx, session, rest[0], body.Role)
		respond(w, http.StatusOK, "user", user, err)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleSummary(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if len(rest) != 0 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	summary, err := s.service.GetDashboard(r.Context(), session)
	respond(w, http.StatusOK, "summary", summary, err)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if len(rest) != 0 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	filterType := search.ResultType(strings.TrimSpace(r.URL.Query().Get("type")))
	switch filterType {
	case "", search.ResultProject, search.ResultTask, search.ResultMeeting:
	default:
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be project, task or meeting", map[string]any{"field": "type"})
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	payload, err := s.service.Search(r.Context(), session, q, filterType, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
