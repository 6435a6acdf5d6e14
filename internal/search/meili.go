package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"teamsync/api/internal/docstore"
	"teamsync/api/internal/rbac"
)

const (
	idxProjects = "teamsync_projects"
	idxTasks    = "teamsync_tasks"
	idxMeetings = "teamsync_meetings"
)

// Meili searches projects, tasks and meetings through Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. An
// unreachable server is logged and retried by the health loop.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func indexFor(t ResultType) string {
	switch t {
	case ResultProject:
		return idxProjects
	case ResultTask:
		return idxTasks
	default:
		return idxMeetings
	}
}

func (m *Meili) configureIndexes() {
	filterable := []interface{}{"status", "projectId", "assignedTo", "isAssignedToAll"}
	searchable := []string{"title", "description"}
	for _, t := range allTypes {
		uid := indexFor(t)
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: uid, PrimaryKey: "id"}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", uid, err)
		}
		index := m.client.Index(uid)
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the visible indexes in one multi-search and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	for _, t := range allTypes {
		if !wants(q, t) {
			continue
		}
		scope := rbac.ScopeFor(q.Viewer, entityFor(t))
		if scope.Deny {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              indexFor(t),
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"title", "description"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if filter := meiliFilter(scope.Filters); filter != "" {
			sr.Filter = filter
		}
		queries = append(queries, sr)
	}
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

// meiliFilter renders visibility filters in Meilisearch syntax. Equality on
// an array attribute matches any element, so array-contains maps to "=".
func meiliFilter(filters []docstore.Filter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		if part := meiliClause(f); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, " AND ")
}

func meiliClause(f docstore.Filter) string {
	switch f.Op {
	case docstore.OpEq, docstore.OpArrayContains:
		switch v := f.Value.(type) {
		case bool:
			return fmt.Sprintf("%s = %t", f.Field, v)
		default:
			return fmt.Sprintf("%s = %q", f.Field, fmt.Sprint(v))
		}
	case docstore.OpOr:
		alts := make([]string, 0, len(f.Any))
		for _, alt := range f.Any {
			if clause := meiliClause(alt); clause != "" {
				alts = append(alts, clause)
			}
		}
		if len(alts) == 0 {
			return ""
		}
		return "(" + strings.Join(alts, " OR ") + ")"
	default:
		return ""
	}
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxProjects:
		return ResultProject
	case idxTasks:
		return ResultTask
	case idxMeetings:
		return ResultMeeting
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	return Result{
		Type:      rtyp,
		ID:        decodeString(hit, "id"),
		Title:     firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet:   firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description")),
		Status:    decodeString(hit, "status"),
		ProjectID: decodeString(hit, "projectId"),
		StartTime: decodeString(hit, "startTime"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// Index adds or replaces records of one type.
func (m *Meili) Index(t ResultType, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(indexFor(t)).AddDocuments(records, nil)
	return err
}

func (m *Meili) Delete(t ResultType, id string) error {
	_, err := m.client.Index(indexFor(t)).DeleteDocument(id, nil)
	return err
}
