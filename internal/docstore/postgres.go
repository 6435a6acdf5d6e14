package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const pgChannel = "docstore_changes"

// Postgres keeps documents in a JSONB table. Equality-style predicates are
// pushed into SQL; ranges, ordering and limits are evaluated by Apply on the
// narrowed rows so results match every other backend exactly.
type Postgres struct {
	db   *sql.DB
	feed Feed
}

// OpenPostgres connects with the pgx database/sql driver. The schema comes
// from ApplyMigrations.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// NewPostgres wraps db. A nil feed only signals writes made by this process.
func NewPostgres(db *sql.DB, feed Feed) *Postgres {
	if feed == nil {
		feed = NewLocalFeed()
	}
	return &Postgres{db: db, feed: feed}
}

func (p *Postgres) Get(ctx context.Context, collection, id string) (*Document, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE collection = $1 AND id = $2`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, Unavailable("get document", err)
	}
	data, err := decodeData(string(raw))
	if err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return &Document{ID: id, Data: data}, nil
}

func (p *Postgres) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	where, args, err := pgWhere(q)
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, data FROM documents WHERE `+where, args...)
	if err != nil {
		return nil, Unavailable("query documents", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, Unavailable("scan document", err)
		}
		data, err := decodeData(string(raw))
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

// pgWhere builds the pushed-down part of q. Filters it cannot express exactly
// are left to Apply.
func pgWhere(q Query) (string, []any, error) {
	args := []any{q.Collection}
	clauses := []string{"collection = $1"}
	for _, f := range q.Filters {
		clause, ok, err := pgClause(f, &args)
		if err != nil {
			return "", nil, err
		}
		if ok {
			clauses = append(clauses, clause)
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

func pgClause(f Filter, args *[]any) (string, bool, error) {
	bind := func(v any) string {
		*args = append(*args, v)
		return fmt.Sprintf("$%d", len(*args))
	}
	bindJSON := func(v any) (string, error) {
		raw, err := json.Marshal(normalizeValue(v))
		if err != nil {
			return "", fmt.Errorf("%w: encode %q value: %v", ErrInvalidQuery, f.Field, err)
		}
		return bind(string(raw)) + "::jsonb", nil
	}

	switch f.Op {
	case OpEq:
		val, err := bindJSON(f.Value)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("data -> %s::text = %s", bind(f.Field), val), true, nil
	case OpIn:
		values, _ := f.Value.([]any)
		if len(values) == 0 {
			return "FALSE", true, nil
		}
		field := bind(f.Field)
		parts := make([]string, 0, len(values))
		for _, v := range values {
			val, err := bindJSON(v)
			if err != nil {
				return "", false, err
			}
			parts = append(parts, val)
		}
		return fmt.Sprintf("data -> %s::text IN (%s)", field, strings.Join(parts, ", ")), true, nil
	case OpArrayContains:
		field := bind(f.Field)
		val, err := bindJSON(f.Value)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf(`jsonb_typeof(data -> %[1]s::text) = 'array' AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(data -> %[1]s::text) AS elem WHERE elem = %[2]s)`, field, val), true, nil
	case OpOr:
		parts := make([]string, 0, len(f.Any))
		mark := len(*args)
		for _, alt := range f.Any {
			clause, ok, err := pgClause(alt, args)
			if err != nil {
				return "", false, err
			}
			if !ok {
				*args = (*args)[:mark]
				return "", false, nil
			}
			parts = append(parts, "("+clause+")")
		}
		return "(" + strings.Join(parts, " OR ") + ")", true, nil
	default:
		if !validField(f.Field) {
			return "", false, nil
		}
		return fmt.Sprintf("data ? %s::text", bind(f.Field)), true, nil
	}
}

func (p *Postgres) Subscribe(ctx context.Context, q Query, fn SnapshotFunc) (Unsubscribe, error) {
	return watchFeed(ctx, p.feed, q, p.Query, fn)
}

func (p *Postgres) Set(ctx context.Context, collection, id string, data map[string]any) error {
	normalized, err := Normalize(data)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	delete(normalized, "id")
	raw, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, updated_at) VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`, collection, id, string(raw))
	if err != nil {
		return Unavailable("set document", err)
	}
	return p.feed.Publish(ctx, collection)
}

func (p *Postgres) Create(ctx context.Context, collection, id string, data map[string]any) error {
	normalized, err := Normalize(data)
	if err != nil {
		return fmt.Errorf("create %s/%s: %w", collection, id, err)
	}
	delete(normalized, "id")
	raw, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("create %s/%s: %w", collection, id, err)
	}
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, updated_at) VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (collection, id) DO NOTHING
	`, collection, id, string(raw))
	if err != nil {
		return Unavailable("create document", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("create %s/%s: %w", collection, id, ErrExists)
	}
	return p.feed.Publish(ctx, collection)
}

func (p *Postgres) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	normalized, err := Normalize(fields)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	delete(normalized, "id")
	raw, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE documents SET data = data || $3::jsonb, updated_at = NOW()
		WHERE collection = $1 AND id = $2
	`, collection, id, string(raw))
	if err != nil {
		return Unavailable("update document", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update %s/%s: %w", collection, id, ErrNotFound)
	}
	return p.feed.Publish(ctx, collection)
}

// ArrayUnion locks the row so concurrent appends to the same field never lose
// an element.
func (p *Postgres) ArrayUnion(ctx context.Context, collection, id, field string, values ...any) error {
	if !validField(field) {
		return fmt.Errorf("array union %s/%s: %w: bad field %q", collection, id, ErrInvalidQuery, field)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Unavailable("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw []byte
	err = tx.QueryRowContext(ctx, `SELECT data FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("array union %s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return Unavailable("read document", err)
	}
	current, err := decodeData(string(raw))
	if err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	existing, _ := current[field].([]any)
	merged, err := json.Marshal(unionValues(existing, values))
	if err != nil {
		return fmt.Errorf("array union %s/%s: %w", collection, id, err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET data = jsonb_set(data, ARRAY[$3::text], $4::jsonb, true), updated_at = NOW()
		WHERE collection = $1 AND id = $2
	`, collection, id, field, string(merged)); err != nil {
		return Unavailable("write document", err)
	}
	if err := tx.Commit(); err != nil {
		return Unavailable("commit", err)
	}
	return p.feed.Publish(ctx, collection)
}

func (p *Postgres) Delete(ctx context.Context, collection, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return Unavailable("delete document", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	return p.feed.Publish(ctx, collection)
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return Unavailable("ping", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	_ = p.feed.Close()
	return p.db.Close()
}

// PGFeed carries change signals over LISTEN/NOTIFY. Publishing goes through
// the pooled database; listening holds one dedicated pgx connection and
// reconnects with backoff.
type PGFeed struct {
	db          *sql.DB
	databaseURL string
	local       *LocalFeed

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewPGFeed(db *sql.DB, databaseURL string) *PGFeed {
	ctx, cancel := context.WithCancel(context.Background())
	f := &PGFeed{
		db:          db,
		databaseURL: databaseURL,
		local:       NewLocalFeed(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	go f.listenLoop(ctx)
	return f
}

func (f *PGFeed) Publish(ctx context.Context, collection string) error {
	if _, err := f.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, pgChannel, collection); err != nil {
		return Unavailable("notify change", err)
	}
	return nil
}

func (f *PGFeed) Listen(ctx context.Context, collection string) (<-chan struct{}, func(), error) {
	return f.local.Listen(ctx, collection)
}

func (f *PGFeed) Close() error {
	f.once.Do(func() {
		f.cancel()
		<-f.done
	})
	return nil
}

func (f *PGFeed) listenLoop(ctx context.Context) {
	defer close(f.done)
	backoff := 500 * time.Millisecond
	for {
		err := f.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Printf("docstore: postgres listen: %v (retry in %s)", err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (f *PGFeed) listenOnce(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, f.databaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	// Anything written while disconnected was not signalled.
	f.local.publishAll()
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		_ = f.local.Publish(ctx, n.Payload)
	}
}
