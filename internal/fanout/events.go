package fanout

import (
	"context"
	"fmt"

	"teamsync/api/internal/store"
)

func (f *Fanout) ProjectCreated(ctx context.Context, actor Actor, p store.Project) error {
	return f.publish(ctx, event{
		entityType:  "project",
		entityID:    p.ID,
		title:       p.Name,
		action:      "created",
		description: fmt.Sprintf("%s created project %q", actorName(actor), p.Name),
		actor:       actor,
		assignees:   p.AssignedTo,
		notifyActor: true,
		message: message{
			title:      "New project assigned",
			body:       fmt.Sprintf("You have been added to project %q", p.Name),
			kind:       store.NotificationInfo,
			actionType: "project_created",
		},
		metadata: map[string]any{"projectId": p.ID},
	})
}

func (f *Fanout) ProjectUpdated(ctx context.Context, actor Actor, p store.Project) error {
	return f.publish(ctx, event{
		entityType:  "project",
		entityID:    p.ID,
		title:       p.Name,
		action:      "updated",
		description: fmt.Sprintf("%s updated project %q", actorName(actor), p.Name),
		actor:       actor,
		assignees:   p.AssignedTo,
		message: message{
			title:      "Project updated",
			body:       fmt.Sprintf("Project %q was updated by %s", p.Name, actorName(actor)),
			kind:       store.NotificationInfo,
			actionType: "project_updated",
		},
		metadata: map[string]any{"projectId": p.ID, "status": p.Status, "progress": p.Progress},
	})
}

func (f *Fanout) TaskCreated(ctx context.Context, actor Actor, t store.Task) error {
	return f.publish(ctx, event{
		entityType:  "task",
		entityID:    t.ID,
		title:       t.Title,
		action:      "created",
		description: fmt.Sprintf("%s created task %q", actorName(actor), t.Title),
		actor:       actor,
		assignees:   t.AssignedTo,
		notifyActor: true,
		message: message{
			title:      "New task assigned",
			body:       fmt.Sprintf("You have been assigned %q (%s priority)", t.Title, t.Priority),
			kind:       store.NotificationInfo,
			actionType: "task_assigned",
		},
		metadata: map[string]any{"taskId": t.ID, "projectId": t.ProjectID, "priority": t.Priority},
	})
}

// TaskUpdated picks its template from the new status when the status changed.
func (f *Fanout) TaskUpdated(ctx context.Context, actor Actor, before, after store.Task) error {
	msg := message{
		title:      "Task updated",
		body:       fmt.Sprintf("%s updated %q", actorName(actor), after.Title),
		kind:       store.NotificationInfo,
		actionType: "task_updated",
	}
	action := "updated"
	if before.Status != after.Status {
		msg = taskStatusMessage(actor, after)
		action = "status_changed"
	}
	return f.publish(ctx, event{
		entityType:  "task",
		entityID:    after.ID,
		title:       after.Title,
		action:      action,
		description: msg.body,
		actor:       actor,
		assignees:   after.AssignedTo,
		message:     msg,
		metadata:    map[string]any{"taskId": after.ID, "status": after.Status, "previousStatus": before.Status},
	})
}

func taskStatusMessage(actor Actor, t store.Task) message {
	name := actorName(actor)
	msg := message{actionType: "task_status_changed"}
	switch t.Status {
	case store.TaskToDo:
		msg.title, msg.kind = "Task moved to To Do", store.NotificationInfo
		msg.body = fmt.Sprintf("%s moved %q back to To Do", name, t.Title)
	case store.TaskInProgress:
		msg.title, msg.kind = "Task in progress", store.NotificationInfo
		msg.body = fmt.Sprintf("%s started working on %q", name, t.Title)
	case store.TaskReview:
		msg.title, msg.kind = "Task ready for review", store.NotificationWarning
		msg.body = fmt.Sprintf("%q is waiting for review", t.Title)
	case store.TaskTesting:
		msg.title, msg.kind = "Task in testing", store.NotificationWarning
		msg.body = fmt.Sprintf("%q moved to testing", t.Title)
	case store.TaskCompleted:
		msg.title, msg.kind = "Task completed", store.NotificationSuccess
		msg.body = fmt.Sprintf("%s completed %q", name, t.Title)
	default:
		msg.title, msg.kind = "Task updated", store.NotificationInfo
		msg.body = fmt.Sprintf("%s set %q to %s", name, t.Title, t.Status)
		msg.actionType = "task_updated"
	}
	return msg
}

func (f *Fanout) MeetingCreated(ctx context.Context, actor Actor, m store.Meeting) error {
	return f.publish(ctx, event{
		entityType:  "meeting",
		entityID:    m.ID,
		title:       m.Title,
		action:      "created",
		description: fmt.Sprintf("%s scheduled %q", actorName(actor), m.Title),
		actor:       actor,
		assignees:   m.AssignedTo,
		everyone:    m.IsAssignedToAll,
		notifyActor: true,
		message: message{
			title:      "New meeting scheduled",
			body:       fmt.Sprintf("%q is scheduled for %s", m.Title, m.StartTime),
			kind:       store.NotificationInfo,
			actionType: "meeting_scheduled",
		},
		metadata: map[string]any{"meetingId": m.ID, "startTime": m.StartTime},
	})
}

func (f *Fanout) MeetingUpdated(ctx context.Context, actor Actor, m store.Meeting) error {
	msg := message{
		title:      "Meeting updated",
		body:       fmt.Sprintf("%q was updated by %s", m.Title, actorName(actor)),
		kind:       store.NotificationInfo,
		actionType: "meeting_updated",
	}
	if m.Status == store.MeetingCancelled {
		msg = message{
			title:      "Meeting cancelled",
			body:       fmt.Sprintf("%q has been cancelled", m.Title),
			kind:       store.NotificationWarning,
			actionType: "meeting_cancelled",
		}
	}
	return f.publish(ctx, event{
		entityType:  "meeting",
		entityID:    m.ID,
		title:       m.Title,
		action:      "updated",
		description: msg.body,
		actor:       actor,
		assignees:   m.AssignedTo,
		everyone:    m.IsAssignedToAll,
		message:     msg,
		metadata:    map[string]any{"meetingId": m.ID, "startTime": m.StartTime, "status": m.Status},
	})
}

func (f *Fanout) ReportCreated(ctx context.Context, actor Actor, r store.Report) error {
	return f.publish(ctx, event{
		entityType:  "report",
		entityID:    r.ID,
		title:       r.Title,
		action:      "created",
		description: fmt.Sprintf("%s requested report %q", actorName(actor), r.Title),
		actor:       actor,
		assignees:   r.AssignedTo,
		notifyActor: true,
		message: message{
			title:      "New report assigned",
			body:       fmt.Sprintf("You have been asked to prepare %q", r.Title),
			kind:       store.NotificationInfo,
			actionType: "report_assigned",
		},
		metadata: map[string]any{"reportId": r.ID, "projectId": r.ProjectID},
	})
}

func actorName(a Actor) string {
	if a.Name != "" {
		return a.Name
	}
	return a.UID
}
