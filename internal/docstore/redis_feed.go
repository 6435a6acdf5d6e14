package docstore

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisFeed fans change signals out through Redis pub/sub so that several
// API processes sharing one backend see each other's writes.
type RedisFeed struct {
	client *redis.Client
	prefix string
	local  *LocalFeed

	mu      sync.Mutex
	pumps   map[string]context.CancelFunc
	closed  bool
	closeWG sync.WaitGroup
}

// NewRedisFeed connects to redisURL and verifies the connection.
func NewRedisFeed(redisURL string) (*RedisFeed, error) {
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
	return NewRedisFeedWithClient(client), nil
}

func NewRedisFeedWithClient(client *redis.Client) *RedisFeed {
	return &RedisFeed{
		client: client,
		prefix: "docstore:changed:",
		local:  NewLocalFeed(),
		pumps:  map[string]context.CancelFunc{},
	}
}

func (f *RedisFeed) channel(collection string) string {
	return f.prefix + collection
}

func (f *RedisFeed) Publish(ctx context.Context, collection string) error {
	if err := f.client.Publish(ctx, f.channel(collection), "1").Err(); err != nil {
		return Unavailable("publish change", err)
	}
	return nil
}

// Listen subscribes to the collection channel. One Redis subscription per
// collection is shared by every local listener.
func (f *RedisFeed) Listen(ctx context.Context, collection string) (<-chan struct{}, func(), error) {
	if err := f.ensurePump(ctx, collection); err != nil {
		return nil, nil, err
	}
	return f.local.Listen(ctx, collection)
}

func (f *RedisFeed) ensurePump(ctx context.Context, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return Unavailable("listen", fmt.Errorf("feed closed"))
	}
	if _, ok := f.pumps[collection]; ok {
		return nil
	}
	pubsub := f.client.Subscribe(context.Background(), f.channel(collection))
	// Receive blocks until the subscription is confirmed, so no publish issued
	// after Listen returns can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return Unavailable("subscribe change feed", err)
	}
	pumpCtx, cancel := context.WithCancel(context.Background())
	f.pumps[collection] = cancel
	f.closeWG.Add(1)
	go func() {
		defer f.closeWG.Done()
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-pumpCtx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					log.Printf("docstore: redis feed %s closed", collection)
					return
				}
				_ = f.local.Publish(pumpCtx, collection)
			}
		}
	}()
	return nil
}

func (f *RedisFeed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

func (f *RedisFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	for _, cancel := range f.pumps {
		cancel()
	}
	f.mu.Unlock()
	f.closeWG.Wait()
	return f.client.Close()
}
