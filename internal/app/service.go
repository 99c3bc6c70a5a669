package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"percolator/api/internal/authpw"
	"percolator/api/internal/config"
	"percolator/api/internal/export"
	"percolator/api/internal/gitrepo"
	"percolator/api/internal/metrics"
	"percolator/api/internal/rbac"
	"percolator/api/internal/search"
	"percolator/api/internal/session"
	"percolator/api/internal/store"
)

// Identity is the caller of a lifecycle operation. The zero value is anonymous.
type Identity struct {
	UserID   int64
	Username string
}

func (i Identity) Anonymous() bool {
	return i.UserID == 0
}

type Session struct {
	Token        string
	RefreshToken string
	UserID       int64
	Username     string
	JTI          string
	ExpiresAt    time.Time
}

func (s Session) Identity() Identity {
	return Identity{UserID: s.UserID, Username: s.Username}
}

type dataStore interface {
	store.IdeaTx
	InTx(ctx context.Context, fn func(store.IdeaTx) error) error
	ListPublishedIdeas(ctx context.Context) ([]store.Idea, error)
	ListPublishedIdeasByOwner(ctx context.Context, ownerID int64) ([]store.Idea, error)
	ListPublicFeed(ctx context.Context) ([]store.PublicIdea, error)
	CreateUser(ctx context.Context, username, passwordHash string) (store.User, error)
	GetUserByID(ctx context.Context, userID int64) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	Ping(ctx context.Context) error
}

// refreshStore is backed by Redis when configured and by Postgres otherwise.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexIdea(rec search.IdeaRecord)
	DeleteIdea(id int64)
}

type historyMirror interface {
	EnsureIdeaRepo(ideaID int64, initial gitrepo.Content, author string) error
	CommitVersion(ideaID int64, content gitrepo.Content, author, message string) (gitrepo.CommitInfo, error)
	TagHead(ideaID int64, name string) error
	RemoveIdeaRepo(ideaID int64) error
}

type exporter interface {
	Export(ctx context.Context, doc export.Document, format export.Format) (*export.Result, error)
	Store(ctx context.Context, ideaID int64, res *export.Result) (string, error)
	StorageEnabled() bool
}

// Service is the idea lifecycle core. It owns every multi-step mutation and
// every ownership decision; HTTP handlers only translate requests into calls.
type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  refreshStore
	passwords *authpw.Service
	search    searchIndex
	history   historyMirror
	exports   exporter
	log       zerolog.Logger
}

func New(cfg config.Config, dataStore *store.PostgresStore, logger zerolog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  dataStore,
		passwords: authpw.NewService(dataStore),
		log:       logger.With().Str("component", "lifecycle").Logger(),
	}
}

// WithSessions moves refresh sessions and access token revocation to Redis.
func (s *Service) WithSessions(sessions *session.RedisStore) *Service {
	s.sessions = sessions
	return s
}

func (s *Service) WithSearch(index *search.Service) *Service {
	s.search = index
	return s
}

// WithHistory enables the per-idea git mirror.
func (s *Service) WithHistory(mirror *gitrepo.Service) *Service {
	s.history = mirror
	return s
}

func (s *Service) WithExporter(exports *export.Service) *Service {
	s.exports = exports
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// translate maps store errors onto the domain taxonomy. Anything the core
// does not recognise becomes an opaque storage error.
func (s *Service) translate(err error, subject string) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(subject + " not found")
	}
	var verr *store.ValidationError
	if errors.As(err, &verr) {
		return validationError("Invalid input", verr.Fields)
	}
	if errors.Is(err, store.ErrInvalid) {
		return validationError(err.Error(), nil)
	}
	s.log.Error().Err(err).Str("subject", subject).Msg("storage failure")
	return storageError(err)
}

// authorize applies the ownership policy. Denied public actions look like a
// missing idea so drafts stay invisible; everything else is Forbidden, or
// Unauthorized when no identity was supplied.
func (s *Service) authorize(identity Identity, idea store.Idea, action rbac.Action) error {
	relation := rbac.RelationTo(identity.UserID, idea.OwnerID)
	if rbac.Can(relation, action, idea.Published) {
		return nil
	}
	if rbac.Public(action) {
		return notFound("Idea not found")
	}
	if relation == rbac.RelationAnonymous {
		return unauthenticated()
	}
	return forbidden("You can only " + string(action) + " your own ideas")
}

func (s *Service) record(operation string, err error) {
	metrics.ObserveOperation(operation, outcome(err))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
