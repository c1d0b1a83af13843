package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"colladoc/api/internal/auth"
	"colladoc/api/internal/authpw"
	"colladoc/api/internal/collab"
	"colladoc/api/internal/config"
	"colladoc/api/internal/email"
	"colladoc/api/internal/export"
	"colladoc/api/internal/presence"
	"colladoc/api/internal/rbac"
	"colladoc/api/internal/search"
	"colladoc/api/internal/store"
	"colladoc/api/internal/util"
)

type Session struct {
	Token     string
	UserID    string
	Email     string
	Name      string
	JTI       string
	ExpiresAt time.Time
}

// DataStore is the persistence the REST API needs.
type DataStore interface {
	authpw.UserStore
	rbac.AccessSource
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserPublicProfile(ctx context.Context, userID string) (store.Profile, error)
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	CreateDocument(ctx context.Context, ownerID, title, content string) (store.Document, error)
	SaveDocument(ctx context.Context, documentID, title, content, userID string) (store.Document, error)
	ListDocumentsForUser(ctx context.Context, userID string) ([]store.DocumentSummary, error)
	UpsertPermission(ctx context.Context, documentID, userID, role string) (store.Permission, error)
	ListCollaborators(ctx context.Context, documentID string) ([]store.Collaborator, error)
	ListComments(ctx context.Context, documentID string) ([]store.Comment, error)
	CreateVersion(ctx context.Context, documentID, userID string) (store.Version, error)
	ListVersions(ctx context.Context, documentID string) ([]store.Version, error)
}

// TokenRevoker records logged-out token ids until they expire.
type TokenRevoker interface {
	RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
}

type PresenceSource interface {
	ActiveUsers(documentID string, window time.Duration) []presence.Active
}

type SearchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	DocumentContentChanged(documentID string)
}

type Exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type Mailer interface {
	IsConfigured() bool
	SendShareNotification(to string, data email.ShareData) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the service to its collaborators. Store and Revoker are
// required; the rest may be nil.
type Deps struct {
	Store    DataStore
	Revoker  TokenRevoker
	Presence PresenceSource
	Search   SearchIndex
	Export   Exporter
	Mailer   Mailer
	// Checks are pinged by the readiness probe, keyed by name.
	Checks map[string]Pinger
	Clock  util.Clock
	IDs    util.IDGenerator
	Logger *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     DataStore
	resolver  *rbac.Resolver
	passwords *authpw.Service
	revoker   TokenRevoker
	presence  PresenceSource
	search    SearchIndex
	export    Exporter
	mailer    Mailer
	checks    map[string]Pinger
	clock     util.Clock
	ids       util.IDGenerator
	log       *zap.Logger
}

func New(cfg config.Config, deps Deps) *Service {
	if deps.Clock == nil {
		deps.Clock = util.RealClock{}
	}
	if deps.IDs == nil {
		deps.IDs = util.UUIDGenerator{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		resolver:  rbac.NewResolver(deps.Store),
		passwords: authpw.NewService(deps.Store),
		revoker:   deps.Revoker,
		presence:  deps.Presence,
		search:    deps.Search,
		export:    deps.Export,
		mailer:    deps.Mailer,
		checks:    deps.Checks,
		clock:     deps.Clock,
		ids:       deps.IDs,
		log:       deps.Logger,
	}
}

// WithPasswordService swaps the password service, for tests that need a
// cheaper bcrypt cost.
func (s *Service) WithPasswordService(p *authpw.Service) *Service {
	s.passwords = p
	return s
}

func (s *Service) issueSession(user store.User) (Session, error) {
	now := s.clock.Now()
	jti := s.ids.New()
	claims := auth.NewClaims(user.ID, user.Email, user.Name, jti, now, s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		JTI:       jti,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *Service) Register(ctx context.Context, emailAddr, password, name string) (map[string]any, error) {
	user, err := s.passwords.Register(ctx, authpw.RegisterRequest{Email: emailAddr, Password: password, Name: name})
	if err != nil {
		return nil, mapPasswordError(err)
	}
	session, err := s.issueSession(user)
	if err != nil {
		return nil, err
	}
	s.log.Info("user registered", zap.String("userId", user.ID))
	return map[string]any{
		"token": session.Token,
		"user": map[string]any{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.Name,
		},
	}, nil
}

func (s *Service) Login(ctx context.Context, emailAddr, password string) (map[string]any, error) {
	user, err := s.passwords.Login(ctx, authpw.LoginRequest{Email: emailAddr, Password: password})
	if err != nil {
		return nil, mapPasswordError(err)
	}
	session, err := s.issueSession(user)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"token": session.Token,
		"user":  userPayload(user),
	}, nil
}

func mapPasswordError(err error) error {
	var vErr *authpw.ValidationError
	switch {
	case errors.Is(err, authpw.ErrEmailTaken):
		return domainError(http.StatusBadRequest, "EMAIL_EXISTS", "Email already exists", nil)
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials", nil)
	case errors.As(err, &vErr):
		return validationError(vErr.Message)
	default:
		return err
	}
}

// SessionFromToken validates a bearer token, rejecting revoked tokens and
// tokens whose user no longer exists.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	if claims.ID != "" && s.revoker != nil {
		revoked, err := s.revoker.IsTokenRevoked(ctx, claims.ID)
		if err != nil {
			return Session{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return Session{}, auth.ErrInvalidToken
		}
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Authenticate lets the websocket transport share REST session rules.
func (s *Service) Authenticate(ctx context.Context, token string) (collab.Identity, error) {
	session, err := s.SessionFromToken(ctx, token)
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return collab.Identity{}, fmt.Errorf("%w: %v", collab.ErrUnauthenticated, err)
	}
	if err != nil {
		return collab.Identity{}, err
	}
	return collab.Identity{UserID: session.UserID, Email: session.Email, Name: session.Name}, nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	if session.JTI == "" || s.revoker == nil {
		return nil
	}
	return s.revoker.RevokeToken(ctx, session.JTI, session.ExpiresAt)
}

func (s *Service) Me(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":     user.ID,
		"email":  user.Email,
		"name":   user.Name,
		"avatar": user.Avatar,
	}
}

// Ready pings every registered dependency.
func (s *Service) Ready(ctx context.Context) (bool, map[string]any) {
	ok := true
	checks := make(map[string]any, len(s.checks))
	for name, dep := range s.checks {
		if dep == nil {
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			ok = false
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	return ok, checks
}
