// Package presence tracks which users are online. A heartbeat keeps a Redis
// key alive for one TTL; the user record's isOnline flag follows the key.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"teamsync/api/internal/store"
)

// Users is the part of the user repository presence writes to.
type Users interface {
	List(ctx context.Context) ([]store.User, error)
	SetPresence(ctx context.Context, uid string, online bool) (*store.User, error)
}

// RedisTracker implements presence tracking using Redis key expiry.
type RedisTracker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	users  Users
}

// NewRedisTracker creates a new Redis-backed presence tracker
func NewRedisTracker(redisURL string, users Users, ttl time.Duration) (*RedisTracker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisTrackerWithClient(client, users, ttl), nil
}

// NewRedisTrackerWithClient creates a tracker from an existing Redis client
func NewRedisTrackerWithClient(client *redis.Client, users Users, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisTracker{
		client: client,
		prefix: "presence:",
		ttl:    ttl,
		users:  users,
	}
}

func (t *RedisTracker) key(uid string) string {
	return t.prefix + uid
}

// Heartbeat marks uid online for one TTL. The user record is only written
// when the user was not already online.
func (t *RedisTracker) Heartbeat(ctx context.Context, uid string) error {
	fresh, err := t.client.SetNX(ctx, t.key(uid), time.Now().UTC().Format(time.RFC3339), t.ttl).Result()
	if err != nil {
		return fmt.Errorf("presence heartbeat: %w", err)
	}
	if !fresh {
		if err := t.client.Expire(ctx, t.key(uid), t.ttl).Err(); err != nil {
			return fmt.Errorf("presence heartbeat: %w", err)
		}
		return nil
	}
	if _, err := t.users.SetPresence(ctx, uid, true); err != nil {
		return fmt.Errorf("mark %s online: %w", uid, err)
	}
	return nil
}

// Leave marks uid offline at once.
func (t *RedisTracker) Leave(ctx context.Context, uid string) error {
	if err := t.client.Del(ctx, t.key(uid)).Err(); err != nil {
		return fmt.Errorf("presence leave: %w", err)
	}
	if _, err := t.users.SetPresence(ctx, uid, false); err != nil {
		return fmt.Errorf("mark %s offline: %w", uid, err)
	}
	return nil
}

// Online reports whether uid has a live heartbeat.
func (t *RedisTracker) Online(ctx context.Context, uid string) (bool, error) {
	n, err := t.client.Exists(ctx, t.key(uid)).Result()
	if err != nil {
		return false, fmt.Errorf("presence lookup: %w", err)
	}
	return n > 0, nil
}

// Sweep marks offline every user flagged online whose heartbeat expired and
// returns how many were changed.
func (t *RedisTracker) Sweep(ctx context.Context) (int, error) {
	users, err := t.users.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	changed := 0
	var errs []error
	for _, u := range users {
		if !u.IsOnline {
			continue
		}
		online, err := t.Online(ctx, u.UID)
		if err != nil {
			return changed, err
		}
		if online {
			continue
		}
		if _, err := t.users.SetPresence(ctx, u.UID, false); err != nil {
			errs = append(errs, fmt.Errorf("mark %s offline: %w", u.UID, err))
			continue
		}
		changed++
	}
	return changed, errors.Join(errs...)
}

// StartSweeper sweeps every interval until ctx ends or stop is called.
func (t *RedisTracker) StartSweeper(ctx context.Context, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := t.Sweep(ctx); err != nil && ctx.Err() == nil {
					log.Printf("presence: sweep: %v", err)
				}
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

// Close closes the Redis connection
func (t *RedisTracker) Close() error {
	return t.client.Close()
}

// Ping checks if Redis is reachable
func (t *RedisTracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}
