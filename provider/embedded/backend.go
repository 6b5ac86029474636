package embedded

import (
	"context"
	"net/http"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-member-auth"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// Backend implements auth.Backend over a RepositoryManager
type Backend struct {
	repo   auth.RepositoryManager
	tokens *auth.TokenService
	config Config
	now    func() time.Time

	mu        sync.Mutex
	current   *auth.Session
	listeners map[int]auth.AuthStateListener
	nextID    int

	logger   auth.Logger
	provider auth.LoggerProvider
}

var _ auth.ClientBackend = (*Backend)(nil)

// New returns an embedded backend. The schema must exist, see
// auth.CreateSchema. The signing key must pass auth.ValidateSigningKey.
func New(repo auth.RepositoryManager, cfg Config) (*Backend, error) {
	if err := auth.ValidateSigningKey(cfg.SigningKey); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()
	provider, logger := auth.ResolveLogger("auth.embedded", nil, nil)

	return &Backend{
		repo:      repo,
		tokens:    auth.NewTokenService([]byte(cfg.SigningKey), cfg.TokenExpiration, cfg.Issuer, logger),
		config:    cfg,
		now:       time.Now,
		listeners: map[int]auth.AuthStateListener{},
		logger:    logger,
		provider:  provider,
	}, nil
}

func (b *Backend) WithLogger(l auth.Logger) *Backend {
	b.provider, b.logger = auth.ResolveLogger("auth.embedded", b.provider, l)
	return b
}

// WithClock overrides the time source, used by lockout and token expiry
func (b *Backend) WithClock(now func() time.Time) *Backend {
	if now != nil {
		b.now = now
		b.tokens.WithClock(now)
	}
	return b
}

// OnAuthStateChange registers listener and immediately reports the current
// session as INITIAL_SESSION.
func (b *Backend) OnAuthStateChange(listener auth.AuthStateListener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = listener
	current := cloneSession(b.current)
	b.mu.Unlock()

	listener(auth.EventInitialSession, current)

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// GetSession returns the current session, dropping it once expired
func (b *Backend) GetSession(ctx context.Context) (*auth.Session, error) {
	b.mu.Lock()
	current := b.current
	b.mu.Unlock()

	if current == nil {
		return nil, nil
	}

	claims, err := b.tokens.Validate(current.AccessToken)
	if err == nil {
		err = b.checkRevoked(ctx, claims)
	}
	if err != nil {
		b.logger.Debug("dropping invalid session", "error", err)
		b.setSession(auth.EventSignedOut, nil)
		return nil, nil
	}

	return cloneSession(current), nil
}

// RestoreSession adopts a previously issued access token. Signed out
// tokens are rejected with auth.ErrNoSession.
func (b *Backend) RestoreSession(ctx context.Context, accessToken string) (*auth.Session, error) {
	claims, err := b.tokens.Validate(accessToken)
	if err != nil {
		return nil, err
	}

	if err := b.checkRevoked(ctx, claims); err != nil {
		return nil, err
	}

	expiresAt := claims.ExpiresAt.Time
	session := &auth.Session{
		AccessToken: accessToken,
		ExpiresAt:   &expiresAt,
		User:        auth.UserFromClaims(claims),
	}

	b.setSession(auth.EventSignedIn, session)
	return cloneSession(session), nil
}

func (b *Backend) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	member, err := b.repo.Members().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, auth.NewCredentialError(auth.ErrInvalidCredentials.Message, http.StatusBadRequest)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve member during sign in")
	}

	if member.IsLocked(b.now()) {
		return nil, auth.ErrAccountLocked
	}

	if member.PasswordHash == "" {
		return nil, auth.NewCredentialError(auth.ErrInvalidCredentials.Message, http.StatusBadRequest)
	}

	if err := auth.ComparePasswordAndHash(password, member.PasswordHash); err != nil {
		return nil, auth.NewCredentialError(auth.ErrInvalidCredentials.Message, http.StatusBadRequest)
	}

	session, err := b.tokens.Mint(member.ToUser())
	if err != nil {
		return nil, err
	}

	b.setSession(auth.EventSignedIn, session)
	return cloneSession(session), nil
}

// SignOut revokes the current access token, so it can no longer be
// restored, and drops the session
func (b *Backend) SignOut(ctx context.Context) error {
	b.mu.Lock()
	current := cloneSession(b.current)
	b.mu.Unlock()

	var err error
	if current != nil {
		err = b.revoke(ctx, current.AccessToken)
	}

	b.setSession(auth.EventSignedOut, nil)
	return err
}

func (b *Backend) revoke(ctx context.Context, accessToken string) error {
	claims, err := b.tokens.Validate(accessToken)
	if err != nil || claims.ID == "" {
		return nil
	}

	record := &auth.RevokedSession{ID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}
	_, err = b.repo.DB().NewInsert().
		Model(record).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke session")
	}

	// expired revocations can no longer match a valid token
	if _, err := b.repo.DB().NewDelete().
		Model((*auth.RevokedSession)(nil)).
		Where("expires_at < ?", b.now()).
		Exec(ctx); err != nil {
		b.logger.Warn("failed to prune revoked sessions", "error", err)
	}

	return nil
}

func (b *Backend) checkRevoked(ctx context.Context, claims *auth.SessionClaims) error {
	if claims.ID == "" {
		return nil
	}

	exists, err := b.repo.DB().NewSelect().
		Model((*auth.RevokedSession)(nil)).
		Where("id = ?", claims.ID).
		Exists(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check session revocation")
	}
	if exists {
		return auth.ErrNoSession
	}
	return nil
}

func (b *Backend) UpdateUser(ctx context.Context, data map[string]any) (*auth.User, error) {
	b.mu.Lock()
	current := cloneSession(b.current)
	b.mu.Unlock()

	if !current.HasUser() {
		return nil, auth.ErrNoSession
	}

	id, err := uuid.Parse(current.User.ID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "invalid user id in session")
	}

	member, err := b.repo.Members().MergeMetadata(ctx, id, data)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user metadata")
	}

	session, err := b.tokens.Mint(member.ToUser())
	if err != nil {
		return nil, err
	}

	b.setSession(auth.EventUserUpdated, session)
	return session.User.Clone(), nil
}

// FindEmailByMemberNumber implements auth.MemberDirectory
func (b *Backend) FindEmailByMemberNumber(ctx context.Context, memberNumber string) (string, error) {
	member, err := b.repo.Members().GetByMemberNumber(ctx, memberNumber)
	if err != nil {
		return "", err
	}
	return member.Email, nil
}

// InsertEmailLog implements auth.EmailLogWriter
func (b *Backend) InsertEmailLog(ctx context.Context, entry *auth.EmailLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	created, err := b.repo.EmailLogs().Create(ctx, entry)
	if err != nil {
		return err
	}
	*entry = *created
	return nil
}

func (b *Backend) setSession(event auth.AuthEvent, session *auth.Session) {
	b.mu.Lock()
	b.current = cloneSession(session)
	listeners := make([]auth.AuthStateListener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l(event, cloneSession(session))
	}
}

func cloneSession(s *auth.Session) *auth.Session {
	if s == nil {
		return nil
	}
	c := *s
	c.User = s.User.Clone()
	return &c
}
