package store

import (
	"context"

	"teamsync/api/internal/docstore"
	"teamsync/api/internal/rbac"
	"teamsync/api/internal/util"
)

type Projects struct {
	c collection[Project]
}

type ProjectPatch struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Status      *string   `json:"status,omitempty"`
	Priority    *string   `json:"priority,omitempty"`
	StartDate   *string   `json:"startDate,omitempty"`
	EndDate     *string   `json:"endDate,omitempty"`
	AssignedTo  *[]string `json:"assignedTo,omitempty"`
	Progress    *int      `json:"progress,omitempty"`
}

var projectOrder = []docstore.Order{docstore.Desc("createdAt")}

func validateProject(p *Project) error {
	if err := required("name", p.Name); err != nil {
		return err
	}
	if p.Priority != "" {
		if err := oneOf("priority", p.Priority, Priorities); err != nil {
			return err
		}
	}
	if p.Progress < 0 || p.Progress > 100 {
		return invalid("progress", "must be between 0 and 100")
	}
	if err := timestamp("startDate", &p.StartDate); err != nil {
		return err
	}
	if err := timestamp("endDate", &p.EndDate); err != nil {
		return err
	}
	return window("startDate", p.StartDate, "endDate", p.EndDate)
}

func (r *Projects) Get(ctx context.Context, id string) (*Project, error) {
	return r.c.get(ctx, id)
}

func (r *Projects) List(ctx context.Context, scope rbac.Scope) ([]Project, error) {
	return r.c.list(ctx, scope, nil, projectOrder, 0)
}

func (r *Projects) Create(ctx context.Context, p Project) (Project, error) {
	if err := required("createdBy", p.CreatedBy); err != nil {
		return Project{}, err
	}
	if p.Status == "" {
		p.Status = "Active"
	}
	if err := validateProject(&p); err != nil {
		return Project{}, err
	}
	p.AssignedTo = uniqueIDs(p.AssignedTo)
	if p.Comments == nil {
		p.Comments = []Comment{}
	}
	if p.SubTasks == nil {
		p.SubTasks = []SubTask{}
	}
	if p.Files == nil {
		p.Files = []Attachment{}
	}
	if p.Images == nil {
		p.Images = []Attachment{}
	}
	return r.c.create(ctx, "", p)
}

func (r *Projects) Update(ctx context.Context, id string, patch ProjectPatch) (*Project, error) {
	current, err := r.c.get(ctx, id)
	if err != nil || current == nil {
		return nil, err
	}
	next, err := merged(*current, patch)
	if err != nil {
		return nil, err
	}
	if err := validateProject(&next); err != nil {
		return nil, err
	}
	if patch.StartDate != nil {
		patch.StartDate = &next.StartDate
	}
	if patch.EndDate != nil {
		patch.EndDate = &next.EndDate
	}
	if patch.AssignedTo != nil {
		assigned := uniqueIDs(*patch.AssignedTo)
		patch.AssignedTo = &assigned
	}
	return r.c.update(ctx, id, patch)
}

func (r *Projects) Delete(ctx context.Context, id string) error {
	return r.c.delete(ctx, id)
}

func (r *Projects) AddComment(ctx context.Context, id string, comment Comment) (*Project, error) {
	if err := required("text", comment.Text); err != nil {
		return nil, err
	}
	if err := required("userId", comment.UserID); err != nil {
		return nil, err
	}
	comment.ID = util.NewID("cmt")
	comment.CreatedAt = r.c.stamp()
	return r.appendItem(ctx, id, "comments", comment)
}

func (r *Projects) AddSubTask(ctx context.Context, id string, sub SubTask) (*Project, error) {
	if err := required("title", sub.Title); err != nil {
		return nil, err
	}
	sub.ID = util.NewID("sub")
	sub.CreatedAt = r.c.stamp()
	return r.appendItem(ctx, id, "subTasks", sub)
}

func (r *Projects) AddFile(ctx context.Context, id string, file Attachment) (*Project, error) {
	return r.addAttachment(ctx, id, "files", file)
}

func (r *Projects) AddImage(ctx context.Context, id string, image Attachment) (*Project, error) {
	return r.addAttachment(ctx, id, "images", image)
}

func (r *Projects) addAttachment(ctx context.Context, id, field string, a Attachment) (*Project, error) {
	if err := required("url", a.URL); err != nil {
		return nil, err
	}
	if err := required("name", a.Name); err != nil {
		return nil, err
	}
	if a.ID == "" {
		a.ID = util.NewID("att")
	}
	a.UploadedAt = r.c.stamp()
	return r.appendItem(ctx, id, field, a)
}

func (r *Projects) appendItem(ctx context.Context, id, field string, item any) (*Project, error) {
	value, err := toFields(item)
	if err != nil {
		return nil, err
	}
	return r.c.appendTo(ctx, id, field, value)
}

func (r *Projects) Subscribe(ctx context.Context, scope rbac.Scope, fn func(Snapshot[Project])) (docstore.Unsubscribe, error) {
	return r.c.subscribe(ctx, scope, projectOrder, fn)
}
