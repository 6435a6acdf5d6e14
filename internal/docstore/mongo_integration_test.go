package docstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

func TestMongoConformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	uri := strings.TrimSpace(os.Getenv("TEAMSYNC_TEST_MONGO_URI"))
	if uri == "" {
		t.Skip("TEAMSYNC_TEST_MONGO_URI is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	database := fmt.Sprintf("teamsync_test_%d", time.Now().UnixNano())
	store, err := ConnectMongo(ctx, uri, database)
	if err != nil {
		t.Fatalf("connect mongo: %v", err)
	}
	defer func() {
		_ = store.db.Drop(context.Background())
		store.Close()
	}()
	runConformance(t, store, "")
}
