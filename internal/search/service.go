package search

import (
	"context"
	"log"

	"teamsync/api/internal/rbac"
	"teamsync/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to a
// store scan.
type Service struct {
	meili *Meili
	scan  *Scan
	repos *store.Repositories
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, repos *store.Repositories) *Service {
	return &Service{meili: meili, scan: NewScan(repos), repos: repos}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to store scan: %v", err)
	}

	results, total, err := s.scan.Search(ctx, q)
	if err != nil {
		log.Printf("search: store scan error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) enabled() bool {
	return s.meili != nil && s.meili.Healthy()
}

// IndexProject indexes a project (fire-and-forget to Meilisearch).
func (s *Service) IndexProject(p store.Project) {
	s.index(ResultProject, ProjectRecord(p))
}

func (s *Service) IndexTask(t store.Task) {
	s.index(ResultTask, TaskRecord(t))
}

func (s *Service) IndexMeeting(m store.Meeting) {
	s.index(ResultMeeting, MeetingRecord(m))
}

func (s *Service) index(t ResultType, rec Record) {
	if !s.enabled() {
		return
	}
	go func() {
		if err := s.meili.Index(t, []Record{rec}); err != nil {
			log.Printf("search: index %s %s: %v", t, rec.ID, err)
		}
	}()
}

// Delete removes an entity from the search index (fire-and-forget).
func (s *Service) Delete(t ResultType, id string) {
	if !s.enabled() {
		return
	}
	go func() {
		if err := s.meili.Delete(t, id); err != nil {
			log.Printf("search: delete %s %s: %v", t, id, err)
		}
	}()
}

// ReindexAll pushes every project, task and meeting from the store into
// Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.enabled() {
		return
	}
	everyone := rbac.Viewer{UID: "reindex", Role: rbac.RoleAdmin, Approved: true}

	projects, err := s.repos.Projects.List(ctx, rbac.ScopeFor(everyone, rbac.EntityProjects))
	if err != nil {
		log.Printf("search: reindex load projects: %v", err)
		return
	}
	tasks, err := s.repos.Tasks.List(ctx, rbac.ScopeFor(everyone, rbac.EntityTasks))
	if err != nil {
		log.Printf("search: reindex load tasks: %v", err)
		return
	}
	meetings, err := s.repos.Meetings.List(ctx, rbac.ScopeFor(everyone, rbac.EntityMeetings))
	if err != nil {
		log.Printf("search: reindex load meetings: %v", err)
		return
	}

	batches := map[ResultType][]Record{}
	for _, p := range projects {
		batches[ResultProject] = append(batches[ResultProject], ProjectRecord(p))
	}
	for _, t := range tasks {
		batches[ResultTask] = append(batches[ResultTask], TaskRecord(t))
	}
	for _, m := range meetings {
		batches[ResultMeeting] = append(batches[ResultMeeting], MeetingRecord(m))
	}
	for t, records := range batches {
		if err := s.meili.Index(t, records); err != nil {
			log.Printf("search: reindex %s: %v", t, err)
		}
	}
}

// Close stops the Meilisearch health loop.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
