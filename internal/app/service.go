package app

import (
	"context"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"teamsync/api/internal/attachments"
	"teamsync/api/internal/auth"
	"teamsync/api/internal/config"
	"teamsync/api/internal/docstore"
	"teamsync/api/internal/fanout"
	"teamsync/api/internal/live"
	"teamsync/api/internal/rbac"
	"teamsync/api/internal/reminder"
	"teamsync/api/internal/search"
	"teamsync/api/internal/store"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Email     string
	Viewer    rbac.Viewer
	JTI       string
	ExpiresAt time.Time
}

// fileStore receives project uploads.
type fileStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (attachments.Object, error)
}

// presenceTracker keeps users online while they send heartbeats.
type presenceTracker interface {
	Heartbeat(ctx context.Context, uid string) error
	Leave(ctx context.Context, uid string) error
}

// liveRefresh republishes synced view sets so countdowns keep moving between
// store changes.
const liveRefresh = 30 * time.Second

type Service struct {
	cfg      config.Config
	docs     docstore.Store
	repos    *store.Repositories
	fanout   *fanout.Fanout
	search   *search.Service
	meili    *search.Meili
	files    fileStore
	presence presenceTracker
	ledger   reminder.Ledger
	mail     mailer
	now      func() time.Time

	liveMu   sync.Mutex
	managers map[string]*live.Manager
	closed   bool
}

type Option func(*Service)

// WithMeili indexes writes in Meilisearch and searches it first.
func WithMeili(m *search.Meili) Option {
	return func(s *Service) { s.meili = m }
}

func WithAttachments(files fileStore) Option {
	return func(s *Service) { s.files = files }
}

func WithPresence(p presenceTracker) Option {
	return func(s *Service) { s.presence = p }
}

// WithLedger replaces the in-memory reminder dedup ledger.
func WithLedger(l reminder.Ledger) Option {
	return func(s *Service) {
		if l != nil {
			s.ledger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(cfg config.Config, docs docstore.Store, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		docs:     docs,
		ledger:   reminder.NewMemoryLedger(),
		now:      time.Now,
		managers: map[string]*live.Manager{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.Location == nil {
		s.cfg.Location = time.UTC
	}
	s.repos = store.New(docs, store.WithClock(s.now), store.WithLocation(s.cfg.Location))
	s.fanout = fanout.New(s.repos)
	s.search = search.NewService(s.meili, s.repos)
	return s
}

func (s *Service) Repositories() *store.Repositories {
	return s.repos
}

func (s *Service) Ping(ctx context.Context) error {
	return s.docs.Ping(ctx)
}

// Close stops every live listener and the search health loop. The document
// store is owned by the caller.
func (s *Service) Close() {
	s.liveMu.Lock()
	managers := s.managers
	s.managers = map[string]*live.Manager{}
	s.closed = true
	s.liveMu.Unlock()
	for _, m := range managers {
		m.Close()
	}
	s.search.Close()
}

// Login signs in a user whose identity was verified by the identity
// provider. First sign-in creates the user unapproved.
func (s *Service) Login(ctx context.Context, uid, email, name string) (Session, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return Session{}, &store.ValidationError{Field: "uid", Message: "is required"}
	}
	user, created, err := s.repos.Users.EnsureUser(ctx, uid, strings.TrimSpace(email), strings.TrimSpace(name))
	if err != nil {
		return Session{}, err
	}
	if created {
		log.Printf("app: created user %s awaiting approval", user.UID)
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	claims := auth.NewClaims(user.UID, user.Email, user.DisplayName, s.now(), s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.UID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Viewer:    rbac.Viewer{UID: user.UID, Role: rbac.Normalize(user.Role), Approved: user.Approved},
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// SessionFromToken verifies token and reads the user's current role and
// approval. A token for a deleted user is invalid.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.repos.Users.Get(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	if user == nil {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		UserID:    user.UID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Viewer:    rbac.Viewer{UID: user.UID, Role: rbac.Normalize(user.Role), Approved: user.Approved},
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Can(session Session, action rbac.Action) bool {
	return session.Viewer.Approved && rbac.Can(session.Viewer.Role, action)
}

// authorize fails with PENDING_APPROVAL for unapproved users and FORBIDDEN
// when the role lacks action.
func (s *Service) authorize(session Session, action rbac.Action) error {
	if !session.Viewer.Approved {
		return errPendingApproval
	}
	if !rbac.Can(session.Viewer.Role, action) {
		return errForbidden
	}
	return nil
}

func actor(session Session) fanout.Actor {
	return fanout.Actor{UID: session.UserID, Name: session.UserName}
}

// logFanout records a fan-out failure. The primary write has already
// succeeded and is not rolled back.
func logFanout(op string, err error) {
	if err != nil {
		log.Printf("app: %s fan-out: %v", op, err)
	}
}
