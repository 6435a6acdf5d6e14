package store

import (
	"context"
	"time"

	"teamsync/api/internal/docstore"
	"teamsync/api/internal/rbac"
	"teamsync/api/internal/util"
)

type Meetings struct {
	c   collection[Meeting]
	loc *time.Location
}

type MeetingPatch struct {
	Title           *string   `json:"title,omitempty"`
	Description     *string   `json:"description,omitempty"`
	StartTime       *string   `json:"startTime,omitempty"`
	EndTime         *string   `json:"endTime,omitempty"`
	Location        *string   `json:"location,omitempty"`
	MeetingLink     *string   `json:"meetingLink,omitempty"`
	Status          *string   `json:"status,omitempty"`
	AssignedTo      *[]string `json:"assignedTo,omitempty"`
	IsAssignedToAll *bool     `json:"isAssignedToAll,omitempty"`
	Date            *string   `json:"date,omitempty"`
}

var meetingOrder = []docstore.Order{docstore.Asc("startTime")}

var commentTypes = []string{CommentPreMeeting, CommentPostMeeting, CommentAdminNote}

func (r *Meetings) validate(m *Meeting) error {
	if err := required("title", m.Title); err != nil {
		return err
	}
	if err := required("startTime", m.StartTime); err != nil {
		return err
	}
	if err := oneOf("status", m.Status, MeetingStatuses); err != nil {
		return err
	}
	if err := timestamp("startTime", &m.StartTime); err != nil {
		return err
	}
	if err := timestamp("endTime", &m.EndTime); err != nil {
		return err
	}
	if err := window("startTime", m.StartTime, "endTime", m.EndTime); err != nil {
		return err
	}
	start, _ := util.ParseTime(m.StartTime)
	m.Date = util.DayKey(start, r.loc)
	return nil
}

func (r *Meetings) Get(ctx context.Context, id string) (*Meeting, error) {
	return r.c.get(ctx, id)
}

func (r *Meetings) List(ctx context.Context, scope rbac.Scope) ([]Meeting, error) {
	return r.c.list(ctx, scope, nil, meetingOrder, 0)
}

// ListForUser returns the meetings uid takes part in regardless of role:
// assigned directly or assigned to everyone.
func (r *Meetings) ListForUser(ctx context.Context, uid string) ([]Meeting, error) {
	base := []docstore.Filter{docstore.Or(
		docstore.Eq("isAssignedToAll", true),
		docstore.ArrayContains("assignedTo", uid),
	)}
	return r.c.listWhere(ctx, base, nil, meetingOrder, 0)
}

func (r *Meetings) ListByDate(ctx context.Context, scope rbac.Scope, day string) ([]Meeting, error) {
	return r.c.list(ctx, scope, []docstore.Filter{docstore.Eq("date", day)}, meetingOrder, 0)
}

func (r *Meetings) Create(ctx context.Context, m Meeting) (Meeting, error) {
	if err := required("createdBy", m.CreatedBy); err != nil {
		return Meeting{}, err
	}
	if m.Status == "" {
		m.Status = MeetingScheduled
	}
	if err := r.validate(&m); err != nil {
		return Meeting{}, err
	}
	m.AssignedTo = uniqueIDs(m.AssignedTo)
	if m.Comments == nil {
		m.Comments = []MeetingComment{}
	}
	return r.c.create(ctx, "", m)
}

func (r *Meetings) Update(ctx context.Context, id string, patch MeetingPatch) (*Meeting, error) {
	current, err := r.c.get(ctx, id)
	if err != nil || current == nil {
		return nil, err
	}
	patch.Date = nil
	next, err := merged(*current, patch)
	if err != nil {
		return nil, err
	}
	if err := r.validate(&next); err != nil {
		return nil, err
	}
	if patch.StartTime != nil {
		patch.StartTime = &next.StartTime
		patch.Date = &next.Date
	}
	if patch.EndTime != nil {
		patch.EndTime = &next.EndTime
	}
	if patch.AssignedTo != nil {
		assigned := uniqueIDs(*patch.AssignedTo)
		patch.AssignedTo = &assigned
	}
	return r.c.update(ctx, id, patch)
}

func (r *Meetings) Delete(ctx context.Context, id string) error {
	return r.c.delete(ctx, id)
}

func (r *Meetings) AddComment(ctx context.Context, id string, comment MeetingComment) (*Meeting, error) {
	if comment.Type == "" {
		comment.Type = CommentPreMeeting
	}
	if err := oneOf("type", comment.Type, commentTypes); err != nil {
		return nil, err
	}
	if err := required("text", comment.Text); err != nil {
		return nil, err
	}
	if err := required("userId", comment.UserID); err != nil {
		return nil, err
	}
	comment.ID = util.NewID("cmt")
	comment.CreatedAt = r.c.stamp()
	value, err := toFields(comment)
	if err != nil {
		return nil, err
	}
	return r.c.appendTo(ctx, id, "comments", value)
}

func (r *Meetings) Subscribe(ctx context.Context, scope rbac.Scope, fn func(Snapshot[Meeting])) (docstore.Unsubscribe, error) {
	return r.c.subscribe(ctx, scope, meetingOrder, fn)
}
