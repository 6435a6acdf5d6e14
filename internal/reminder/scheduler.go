// Package reminder sends meeting reminders at fixed offsets before a meeting
// starts. Each (meeting, user, tier) is notified at most once per ledger.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"teamsync/api/internal/store"
	"teamsync/api/internal/util"
	"teamsync/api/internal/views"
)

type Tier string

const (
	TierOneDay  Tier = "1day"
	TierOneHour Tier = "1hour"
	Tier15Min   Tier = "15min"
	TierLive    Tier = "live"
)

type tierRule struct {
	tier      Tier
	threshold time.Duration
}

// tiers are checked in this order; the first open, unsent one fires.
var tiers = []tierRule{
	{TierOneDay, 24 * time.Hour},
	{TierOneHour, time.Hour},
	{Tier15Min, 15 * time.Minute},
	{TierLive, 0},
}

const DefaultInterval = 5 * time.Minute

// Notifier delivers one reminder for a meeting to a user.
type Notifier interface {
	NotifyMeetingReminder(ctx context.Context, userID string, meeting store.Meeting, tier Tier) error
}

// MeetingSource lists the meetings a user is entitled to see.
type MeetingSource interface {
	ListForUser(ctx context.Context, uid string) ([]store.Meeting, error)
}

type Scheduler struct {
	meetings  MeetingSource
	notifier  Notifier
	ledger    Ledger
	now       func() time.Time
	interval  time.Duration
	tolerance time.Duration
}

type Option func(*Scheduler)

func WithLedger(l Ledger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.ledger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithTolerance(d time.Duration) Option {
	return func(s *Scheduler) {
		if d >= 0 {
			s.tolerance = d
		}
	}
}

func NewScheduler(meetings MeetingSource, notifier Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		meetings:  meetings,
		notifier:  notifier,
		ledger:    NewMemoryLedger(),
		now:       time.Now,
		interval:  DefaultInterval,
		tolerance: views.FireTolerance,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Interval() time.Duration { return s.interval }

func skipped(status string) bool {
	return status == store.MeetingCancelled || status == store.MeetingCompleted
}

// Tick checks every meeting visible to userID once and returns how many
// reminders were sent. A tier is claimed in the ledger before it is sent and
// released again when the send fails, so the next tick can retry it while the
// window is still open.
func (s *Scheduler) Tick(ctx context.Context, userID string) (int, error) {
	meetings, err := s.meetings.ListForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list meetings for %s: %w", userID, err)
	}
	now := s.now()
	sent := 0
	var errs []error
	for _, m := range meetings {
		if skipped(m.Status) {
			continue
		}
		start, err := util.ParseTime(m.StartTime)
		if err != nil {
			log.Printf("reminder: meeting %s: bad start time %q", m.ID, m.StartTime)
			continue
		}
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		fired, err := s.fire(ctx, userID, m, start.Sub(now))
		if err != nil {
			errs = append(errs, err)
		}
		if fired {
			sent++
		}
	}
	return sent, errors.Join(errs...)
}

func (s *Scheduler) fire(ctx context.Context, userID string, m store.Meeting, remaining time.Duration) (bool, error) {
	for _, rule := range tiers {
		if !views.WithinWindow(remaining, rule.threshold, s.tolerance) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		claimed, err := s.ledger.Claim(ctx, m.ID, userID, rule.tier)
		if err != nil {
			return false, err
		}
		if !claimed {
			continue
		}
		if err := s.notifier.NotifyMeetingReminder(ctx, userID, m, rule.tier); err != nil {
			if rerr := s.ledger.Release(context.WithoutCancel(ctx), m.ID, userID, rule.tier); rerr != nil {
				log.Printf("reminder: release %s of %s (%s): %v", userID, m.ID, rule.tier, rerr)
			}
			return false, fmt.Errorf("notify %s of %s (%s): %w", userID, m.ID, rule.tier, err)
		}
		return true, nil
	}
	return false, nil
}

// Start ticks for userID now and then on every interval until ctx ends or
// stop is called. stop returns only after the loop has exited, so no
// reminder is written after it returns.
func (s *Scheduler) Start(ctx context.Context, userID string) (stop func()) {
	return runLoop(ctx, s.interval, func(ctx context.Context) {
		if _, err := s.Tick(ctx, userID); err != nil && ctx.Err() == nil {
			log.Printf("reminder: tick user %s: %v", userID, err)
		}
	})
}

func runLoop(parent context.Context, interval time.Duration, tick func(context.Context)) func() {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			tick(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
