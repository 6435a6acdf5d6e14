package reminder

import (
	"context"
	"log"

	"teamsync/api/internal/store"
)

// UserSource lists the users that receive reminders.
type UserSource interface {
	ListApproved(ctx context.Context) ([]store.User, error)
}

// Runner drives one Scheduler over every approved user, so a single server
// process covers the whole team.
type Runner struct {
	users     UserSource
	scheduler *Scheduler
}

func NewRunner(users UserSource, scheduler *Scheduler) *Runner {
	return &Runner{users: users, scheduler: scheduler}
}

// RunOnce ticks every approved user and returns the number of reminders sent.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	users, err := r.users.ListApproved(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, u := range users {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		sent, err := r.scheduler.Tick(ctx, u.UID)
		total += sent
		if err != nil {
			log.Printf("reminder: tick user %s: %v", u.UID, err)
		}
	}
	return total, nil
}

func (r *Runner) Start(ctx context.Context) (stop func()) {
	return runLoop(ctx, r.scheduler.interval, func(ctx context.Context) {
		sent, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			log.Printf("reminder: list users: %v", err)
			return
		}
		if sent > 0 {
			log.Printf("reminder: sent %d reminders", sent)
		}
	})
}
