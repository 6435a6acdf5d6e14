package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"teamsync/api/internal/docstore"
	"teamsync/api/internal/util"
)

// Ledger claims reminder tiers per (meeting, user). Claim succeeds for
// exactly one caller per tier, even across processes sharing the ledger.
// Release gives a claim back after a failed send.
type Ledger interface {
	Claim(ctx context.Context, meetingID, userID string, tier Tier) (bool, error)
	Release(ctx context.Context, meetingID, userID string, tier Tier) error
}

// MemoryLedger lives for the process. After a restart a reminder whose window
// is still open is sent again.
type MemoryLedger struct {
	mu   sync.Mutex
	sent map[string]map[Tier]bool
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{sent: map[string]map[Tier]bool{}}
}

func ledgerKey(meetingID, userID string) string {
	return meetingID + ":" + userID
}

func (l *MemoryLedger) Claim(_ context.Context, meetingID, userID string, tier Tier) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ledgerKey(meetingID, userID)
	if l.sent[key][tier] {
		return false, nil
	}
	if l.sent[key] == nil {
		l.sent[key] = map[Tier]bool{}
	}
	l.sent[key][tier] = true
	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, meetingID, userID string, tier Tier) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sent[ledgerKey(meetingID, userID)], tier)
	return nil
}

// RedisLedger keeps one set of claimed tiers per (meeting, user). SADD
// reports whether the tier was new, which makes the claim atomic. Sets expire
// after ttl, long enough to outlive every reminder window.
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

const defaultLedgerTTL = 72 * time.Hour

func NewRedisLedger(redisURL string) (*RedisLedger, error) {
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
	return NewRedisLedgerWithClient(client), nil
}

func NewRedisLedgerWithClient(client *redis.Client) *RedisLedger {
	return &RedisLedger{client: client, prefix: "reminder:sent:", ttl: defaultLedgerTTL}
}

func (l *RedisLedger) key(meetingID, userID string) string {
	return l.prefix + ledgerKey(meetingID, userID)
}

func (l *RedisLedger) Claim(ctx context.Context, meetingID, userID string, tier Tier) (bool, error) {
	key := l.key(meetingID, userID)
	pipe := l.client.TxPipeline()
	added := pipe.SAdd(ctx, key, string(tier))
	pipe.Expire(ctx, key, l.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	return added.Val() == 1, nil
}

func (l *RedisLedger) Release(ctx context.Context, meetingID, userID string, tier Tier) error {
	if err := l.client.SRem(ctx, l.key(meetingID, userID), string(tier)).Err(); err != nil {
		return fmt.Errorf("release reminder: %w", err)
	}
	return nil
}

func (l *RedisLedger) Close() error {
	return l.client.Close()
}

// StoreLedger persists claimed reminders as documents in the sent_reminders
// collection of the main document store. The document id is the claim.
type StoreLedger struct {
	store docstore.Store
	now   func() time.Time
}

const sentRemindersCollection = "sent_reminders"

func NewStoreLedger(store docstore.Store) *StoreLedger {
	return &StoreLedger{store: store, now: time.Now}
}

func sentReminderID(meetingID, userID string, tier Tier) string {
	return meetingID + "_" + userID + "_" + string(tier)
}

func (l *StoreLedger) Claim(ctx context.Context, meetingID, userID string, tier Tier) (bool, error) {
	err := l.store.Create(ctx, sentRemindersCollection, sentReminderID(meetingID, userID, tier), map[string]any{
		"meetingId": meetingID,
		"userId":    userID,
		"tier":      string(tier),
		"sentAt":    util.FormatTime(l.now()),
	})
	if errors.Is(err, docstore.ErrExists) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	return true, nil
}

func (l *StoreLedger) Release(ctx context.Context, meetingID, userID string, tier Tier) error {
	if err := l.store.Delete(ctx, sentRemindersCollection, sentReminderID(meetingID, userID, tier)); err != nil {
		return fmt.Errorf("release reminder: %w", err)
	}
	return nil
}
