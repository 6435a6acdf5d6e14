package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLite stores documents as JSON text in a single-file database. Filtering
// and ordering run in Go with the shared matcher.
type SQLite struct {
	db   *sql.DB
	feed Feed
}

type SQLiteOption func(*SQLite)

func WithSQLiteFeed(feed Feed) SQLiteOption {
	return func(s *SQLite) { s.feed = feed }
}

func OpenSQLite(ctx context.Context, path string, opts ...SQLiteOption) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	// modernc.org/sqlite registers itself as "sqlite".
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers; readers wait on it briefly.
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	s := &SQLite{db: db, feed: NewLocalFeed()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SQLite) Get(ctx context.Context, collection, id string) (*Document, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Unavailable("get document", err)
	}
	data, err := decodeData(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return &Document{ID: id, Data: data}, nil
}

func (s *SQLite) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, data FROM documents WHERE collection = ?`, q.Collection)
	if err != nil {
		return nil, Unavailable("query documents", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, Unavailable("scan document", err)
		}
		data, err := decodeData(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", q.Collection, id, err)
		}
		docs = append(docs, Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("query documents", err)
	}
	return Apply(docs, q), nil
}

func (s *SQLite) Subscribe(ctx context.Context, q Query, fn SnapshotFunc) (Unsubscribe, error) {
	return watchFeed(ctx, s.feed, q, s.Query, fn)
}

func (s *SQLite) Set(ctx context.Context, collection, id string, data map[string]any) error {
	normalized, err := Normalize(data)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	delete(normalized, "id")
	raw, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data`, collection, id, string(raw)); err != nil {
		return Unavailable("set document", err)
	}
	return s.feed.Publish(ctx, collection)
}

func (s *SQLite) Create(ctx context.Context, collection, id string, data map[string]any) error {
	normalized, err := Normalize(data)
	if err != nil {
		return fmt.Errorf("create %s/%s: %w", collection, id, err)
	}
	delete(normalized, "id")
	raw, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("create %s/%s: %w", collection, id, err)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)
		ON CONFLICT (collection, id) DO NOTHING`, collection, id, string(raw))
	if err != nil {
		return Unavailable("create document", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("create %s/%s: %w", collection, id, ErrExists)
	}
	return s.feed.Publish(ctx, collection)
}

func (s *SQLite) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	normalized, err := Normalize(fields)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	delete(normalized, "id")
	err = s.mutate(ctx, collection, id, func(current map[string]any) {
		for k, v := range normalized {
			current[k] = v
		}
	})
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return s.feed.Publish(ctx, collection)
}

func (s *SQLite) ArrayUnion(ctx context.Context, collection, id, field string, values ...any) error {
	if !validField(field) {
		return fmt.Errorf("array union %s/%s: %w: bad field %q", collection, id, ErrInvalidQuery, field)
	}
	err := s.mutate(ctx, collection, id, func(current map[string]any) {
		existing, _ := current[field].([]any)
		current[field] = unionValues(existing, values)
	})
	if err != nil {
		return fmt.Errorf("array union %s/%s: %w", collection, id, err)
	}
	return s.feed.Publish(ctx, collection)
}

// mutate applies change to the stored document inside one transaction.
func (s *SQLite) mutate(ctx context.Context, collection, id string, change func(map[string]any)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return Unavailable("read document", err)
	}
	current, err := decodeData(raw)
	if err != nil {
		return err
	}
	change(current)
	next, err := json.Marshal(current)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET data = ? WHERE collection = ? AND id = ?`, string(next), collection, id); err != nil {
		return Unavailable("write document", err)
	}
	if err := tx.Commit(); err != nil {
		return Unavailable("commit", err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return Unavailable("delete document", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	return s.feed.Publish(ctx, collection)
}

func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return Unavailable("ping", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	_ = s.feed.Close()
	return s.db.Close()
}

func decodeData(raw string) (map[string]any, error) {
	data := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, err
	}
	return data, nil
}
