package store

import (
	"context"

	"teamsync/api/internal/docstore"
	"teamsync/api/internal/rbac"
)

type Tasks struct {
	c collection[Task]
}

type TaskPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Status      *string   `json:"status,omitempty"`
	Priority    *string   `json:"priority,omitempty"`
	ProjectID   *string   `json:"projectId,omitempty"`
	DueDate     *string   `json:"dueDate,omitempty"`
	AssignedTo  *[]string `json:"assignedTo,omitempty"`
}

var taskOrder = []docstore.Order{docstore.Desc("createdAt")}

func validateTask(t *Task) error {
	if err := required("title", t.Title); err != nil {
		return err
	}
	if err := oneOf("status", t.Status, TaskStatuses); err != nil {
		return err
	}
	if err := oneOf("priority", t.Priority, Priorities); err != nil {
		return err
	}
	return timestamp("dueDate", &t.DueDate)
}

func (r *Tasks) Get(ctx context.Context, id string) (*Task, error) {
	return r.c.get(ctx, id)
}

func (r *Tasks) List(ctx context.Context, scope rbac.Scope) ([]Task, error) {
	return r.c.list(ctx, scope, nil, taskOrder, 0)
}

func (r *Tasks) ListByProject(ctx context.Context, scope rbac.Scope, projectID string) ([]Task, error) {
	return r.c.list(ctx, scope, []docstore.Filter{docstore.Eq("projectId", projectID)}, taskOrder, 0)
}

// ListAssigned returns the user's tasks, newest first. Only the assignee
// predicate reaches the store; status refinement, ordering and limit are
// applied in memory.
func (r *Tasks) ListAssigned(ctx context.Context, uid string, statuses []string, limit int) ([]Task, error) {
	var refine []docstore.Filter
	if len(statuses) > 0 {
		values := make([]any, len(statuses))
		for i, s := range statuses {
			values[i] = s
		}
		refine = append(refine, docstore.In("status", values...))
	}
	return r.c.listWhere(ctx, []docstore.Filter{docstore.ArrayContains("assignedTo", uid)}, refine, taskOrder, limit)
}

func (r *Tasks) Create(ctx context.Context, t Task) (Task, error) {
	if err := required("createdBy", t.CreatedBy); err != nil {
		return Task{}, err
	}
	if t.Status == "" {
		t.Status = TaskToDo
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if err := validateTask(&t); err != nil {
		return Task{}, err
	}
	t.AssignedTo = uniqueIDs(t.AssignedTo)
	return r.c.create(ctx, "", t)
}

func (r *Tasks) Update(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	current, err := r.c.get(ctx, id)
	if err != nil || current == nil {
		return nil, err
	}
	next, err := merged(*current, patch)
	if err != nil {
		return nil, err
	}
	if err := validateTask(&next); err != nil {
		return nil, err
	}
	if patch.DueDate != nil {
		patch.DueDate = &next.DueDate
	}
	if patch.AssignedTo != nil {
		assigned := uniqueIDs(*patch.AssignedTo)
		patch.AssignedTo = &assigned
	}
	return r.c.update(ctx, id, patch)
}

func (r *Tasks) Delete(ctx context.Context, id string) error {
	return r.c.delete(ctx, id)
}

func (r *Tasks) Subscribe(ctx context.Context, scope rbac.Scope, fn func(Snapshot[Task])) (docstore.Unsubscribe, error) {
	return r.c.subscribe(ctx, scope, taskOrder, fn)
}
