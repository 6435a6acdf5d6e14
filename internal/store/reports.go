package store

import (
	"context"

	"teamsync/api/internal/docstore"
	"teamsync/api/internal/rbac"
)

type Reports struct {
	c collection[Report]
}

type ReportPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Status      *string   `json:"status,omitempty"`
	ProjectID   *string   `json:"projectId,omitempty"`
	StartDate   *string   `json:"startDate,omitempty"`
	EndDate     *string   `json:"endDate,omitempty"`
	AssignedTo  *[]string `json:"assignedTo,omitempty"`
}

var reportOrder = []docstore.Order{docstore.Desc("createdAt")}

func validateReport(r *Report) error {
	if err := required("title", r.Title); err != nil {
		return err
	}
	if err := timestamp("startDate", &r.StartDate); err != nil {
		return err
	}
	if err := timestamp("endDate", &r.EndDate); err != nil {
		return err
	}
	return window("startDate", r.StartDate, "endDate", r.EndDate)
}

func (r *Reports) Get(ctx context.Context, id string) (*Report, error) {
	return r.c.get(ctx, id)
}

func (r *Reports) List(ctx context.Context, scope rbac.Scope) ([]Report, error) {
	return r.c.list(ctx, scope, nil, reportOrder, 0)
}

func (r *Reports) Create(ctx context.Context, rep Report) (Report, error) {
	if err := required("createdBy", rep.CreatedBy); err != nil {
		return Report{}, err
	}
	if rep.Status == "" {
		rep.Status = "Pending"
	}
	if err := validateReport(&rep); err != nil {
		return Report{}, err
	}
	rep.AssignedTo = uniqueIDs(rep.AssignedTo)
	return r.c.create(ctx, "", rep)
}

func (r *Reports) Update(ctx context.Context, id string, patch ReportPatch) (*Report, error) {
	current, err := r.c.get(ctx, id)
	if err != nil || current == nil {
		return nil, err
	}
	next, err := merged(*current, patch)
	if err != nil {
		return nil, err
	}
	if err := validateReport(&next); err != nil {
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

func (r *Reports) Delete(ctx context.Context, id string) error {
	return r.c.delete(ctx, id)
}

func (r *Reports) Subscribe(ctx context.Context, scope rbac.Scope, fn func(Snapshot[Report])) (docstore.Unsubscribe, error) {
	return r.c.subscribe(ctx, scope, reportOrder, fn)
}
