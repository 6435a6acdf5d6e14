package search

import "teamsync/api/internal/rbac"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProject ResultType = "project"
	ResultTask    ResultType = "task"
	ResultMeeting ResultType = "meeting"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	Status    string     `json:"status,omitempty"`
	ProjectID string     `json:"projectId,omitempty"`
	StartTime string     `json:"startTime,omitempty"`
}

// Query describes a search request. Results are limited to what Viewer may see.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
	Viewer     rbac.Viewer
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Record is the data indexed for a project, task or meeting. AssignedTo and
// IsAssignedToAll are kept so visibility can be filtered in the index.
type Record struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Status          string   `json:"status"`
	ProjectID       string   `json:"projectId,omitempty"`
	StartTime       string   `json:"startTime,omitempty"`
	AssignedTo      []string `json:"assignedTo"`
	IsAssignedToAll bool     `json:"isAssignedToAll"`
}

func entityFor(t ResultType) rbac.Entity {
	switch t {
	case ResultProject:
		return rbac.EntityProjects
	case ResultTask:
		return rbac.EntityTasks
	default:
		return rbac.EntityMeetings
	}
}

var allTypes = []ResultType{ResultProject, ResultTask, ResultMeeting}

func wants(q Query, t ResultType) bool {
	return q.FilterType == "" || q.FilterType == t
}
