package search

import (
	"context"
	"strings"

	"teamsync/api/internal/rbac"
	"teamsync/api/internal/store"
)

// Scan searches by listing the viewer's visible entities from the store and
// matching the query words against title and description. It serves when
// Meilisearch is not configured or unhealthy.
type Scan struct {
	repos *store.Repositories
}

func NewScan(repos *store.Repositories) *Scan {
	return &Scan{repos: repos}
}

func (s *Scan) Search(ctx context.Context, q Query) ([]Result, int, error) {
	words := strings.Fields(strings.ToLower(q.Text))
	if len(words) == 0 {
		return nil, 0, nil
	}
	records, err := s.visible(ctx, q)
	if err != nil {
		return nil, 0, err
	}

	var matched []Result
	for _, rec := range records {
		if matchesAll(words, rec.Title+" "+rec.Description) {
			matched = append(matched, rec.result())
		}
	}
	total := len(matched)

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []Result{}, total, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

type typedRecord struct {
	Record
	kind ResultType
}

func (r typedRecord) result() Result {
	return Result{
		Type:      r.kind,
		ID:        r.ID,
		Title:     r.Title,
		Snippet:   snippet(r.Description),
		Status:    r.Status,
		ProjectID: r.ProjectID,
		StartTime: r.StartTime,
	}
}

func (s *Scan) visible(ctx context.Context, q Query) ([]typedRecord, error) {
	var out []typedRecord
	if wants(q, ResultProject) {
		projects, err := s.repos.Projects.List(ctx, rbac.ScopeFor(q.Viewer, rbac.EntityProjects))
		if err != nil {
			return nil, err
		}
		for _, p := range projects {
			out = append(out, typedRecord{ProjectRecord(p), ResultProject})
		}
	}
	if wants(q, ResultTask) {
		tasks, err := s.repos.Tasks.List(ctx, rbac.ScopeFor(q.Viewer, rbac.EntityTasks))
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			out = append(out, typedRecord{TaskRecord(t), ResultTask})
		}
	}
	if wants(q, ResultMeeting) {
		meetings, err := s.repos.Meetings.List(ctx, rbac.ScopeFor(q.Viewer, rbac.EntityMeetings))
		if err != nil {
			return nil, err
		}
		for _, m := range meetings {
			out = append(out, typedRecord{MeetingRecord(m), ResultMeeting})
		}
	}
	return out, nil
}

func matchesAll(words []string, text string) bool {
	text = strings.ToLower(text)
	for _, w := range words {
		if !strings.Contains(text, w) {
			return false
		}
	}
	return true
}

func snippet(s string) string {
	const max = 160
	s = strings.TrimSpace(s)
	if len([]rune(s)) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "…"
}

func ProjectRecord(p store.Project) Record {
	return Record{ID: p.ID, Title: p.Name, Description: p.Description, Status: p.Status, AssignedTo: p.AssignedTo}
}

func TaskRecord(t store.Task) Record {
	return Record{ID: t.ID, Title: t.Title, Description: t.Description, Status: t.Status, ProjectID: t.ProjectID, AssignedTo: t.AssignedTo}
}

func MeetingRecord(m store.Meeting) Record {
	return Record{
		ID:              m.ID,
		Title:           m.Title,
		Description:     m.Description,
		Status:          m.Status,
		StartTime:       m.StartTime,
		AssignedTo:      m.AssignedTo,
		IsAssignedToAll: m.IsAssignedToAll,
	}
}
