package cli

import (
	"context"
	"fmt"
	"log"
	"strings"

	"teamsync/api/internal/app"
	"teamsync/api/internal/attachments"
	"teamsync/api/internal/config"
	"teamsync/api/internal/docstore"
	"teamsync/api/internal/email"
	"teamsync/api/internal/presence"
	"teamsync/api/internal/reminder"
	"teamsync/api/internal/search"
	"teamsync/api/internal/store"
)

// openDocstore opens the configured backend. Postgres migrations are applied
// before the store is returned.
func openDocstore(ctx context.Context, cfg config.Config) (docstore.Store, error) {
	switch cfg.DocstoreBackend {
	case "", "memory":
		feed, err := openFeed(cfg)
		if err != nil {
			return nil, err
		}
		log.Printf("docstore: in-memory backend, %s change feed", feedName(cfg))
		return docstore.NewMemory(docstore.WithFeed(feed)), nil
	case "sqlite":
		feed, err := openFeed(cfg)
		if err != nil {
			return nil, err
		}
		log.Printf("docstore: sqlite backend at %s, %s change feed", cfg.SQLitePath, feedName(cfg))
		return docstore.OpenSQLite(ctx, cfg.SQLitePath, docstore.WithSQLiteFeed(feed))
	case "postgres":
		db, err := docstore.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := docstore.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		log.Printf("docstore: postgres backend with LISTEN/NOTIFY change feed")
		return docstore.NewPostgres(db, docstore.NewPGFeed(db, cfg.DatabaseURL)), nil
	case "mongo":
		log.Printf("docstore: mongo backend, database %s", cfg.MongoDB)
		return docstore.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDB)
	default:
		return nil, fmt.Errorf("unknown DOCSTORE_BACKEND %q (memory, sqlite, postgres or mongo)", cfg.DocstoreBackend)
	}
}

func feedName(cfg config.Config) string {
	if cfg.ChangeFeed == "redis" {
		return "redis"
	}
	return "local"
}

// openFeed picks the change feed for the memory and sqlite backends. Redis
// lets several processes share one store's change signals.
func openFeed(cfg config.Config) (docstore.Feed, error) {
	switch cfg.ChangeFeed {
	case "", "local":
		return docstore.NewLocalFeed(), nil
	case "redis":
		if strings.TrimSpace(cfg.RedisURL) == "" {
			return nil, fmt.Errorf("CHANGE_FEED=redis needs REDIS_URL")
		}
		return docstore.NewRedisFeed(cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unknown CHANGE_FEED %q (local or redis)", cfg.ChangeFeed)
	}
}

// openLedger returns the reminder dedup ledger. A nil ledger keeps the
// service's in-memory default; closer releases the ledger's connection.
func openLedger(cfg config.Config, ds docstore.Store) (ledger reminder.Ledger, closer func(), err error) {
	switch cfg.ReminderLedger {
	case "", "memory":
		return nil, func() {}, nil
	case "redis":
		if strings.TrimSpace(cfg.RedisURL) == "" {
			return nil, nil, fmt.Errorf("REMINDER_LEDGER=redis needs REDIS_URL")
		}
		l, err := reminder.NewRedisLedger(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return l, func() { _ = l.Close() }, nil
	case "store":
		return reminder.NewStoreLedger(ds), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown REMINDER_LEDGER %q (memory, redis or store)", cfg.ReminderLedger)
	}
}

// services holds the optional integrations built from config.
type services struct {
	options  []app.Option
	tracker  *presence.RedisTracker
	closers  []func()
	hasMeili bool
}

func (s *services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openServices wires the reminder ledger, search index, attachment storage,
// reminder mail and presence tracker. All but the ledger are optional and
// only log when they cannot start.
func openServices(ctx context.Context, cfg config.Config, ds docstore.Store) (*services, error) {
	out := &services{}

	ledger, closeLedger, err := openLedger(cfg, ds)
	if err != nil {
		return nil, err
	}
	out.closers = append(out.closers, closeLedger)
	out.options = append(out.options, app.WithLedger(ledger))

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		out.options = append(out.options, app.WithMeili(search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)))
		out.hasMeili = true
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		files, err := attachments.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Printf("attachments: disabled: %v", err)
		} else if err := files.EnsureBucket(ctx); err != nil {
			log.Printf("attachments: disabled: %v", err)
		} else {
			out.options = append(out.options, app.WithAttachments(files))
		}
	}

	if mail := reminderMailer(cfg); mail != nil {
		out.options = append(out.options, app.WithMailer(mail))
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		users := store.New(ds, store.WithLocation(cfg.Location)).Users
		tracker, err := presence.NewRedisTracker(cfg.RedisURL, users, cfg.PresenceTTL)
		if err != nil {
			log.Printf("presence: falling back to user records: %v", err)
		} else {
			out.tracker = tracker
			out.closers = append(out.closers, func() { _ = tracker.Close() })
			out.options = append(out.options, app.WithPresence(tracker))
		}
	}

	return out, nil
}

// reminderMailer returns the SMTP sender for reminder mail, or nil when SMTP
// is not configured.
func reminderMailer(cfg config.Config) *email.Service {
	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mail.IsConfigured() {
		return nil
	}
	log.Printf("email: reminder mail via %s:%s", cfg.SMTPHost, cfg.SMTPPort)
	return mail
}
