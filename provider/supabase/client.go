package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-member-auth"
)

// Client talks to a Supabase project and implements auth.Backend
type Client struct {
	config Config
	now    func() time.Time

	mu        sync.Mutex
	current   *auth.Session
	listeners map[int]auth.AuthStateListener
	nextID    int

	logger   auth.Logger
	provider auth.LoggerProvider
}

var _ auth.ClientBackend = (*Client)(nil)

// New creates a client for cfg
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.URL == "" {
		return nil, goerrors.New("supabase: project url is required", goerrors.CategoryBadInput)
	}
	if cfg.AnonKey == "" {
		return nil, goerrors.New("supabase: anon key is required", goerrors.CategoryBadInput)
	}

	provider, logger := auth.ResolveLogger("auth.supabase", nil, nil)
	return &Client{
		config:    cfg,
		now:       time.Now,
		listeners: map[int]auth.AuthStateListener{},
		logger:    logger,
		provider:  provider,
	}, nil
}

func (c *Client) WithLogger(l auth.Logger) *Client {
	c.provider, c.logger = auth.ResolveLogger("auth.supabase", c.provider, l)
	return c
}

// tokenResponse is the GoTrue token grant payload
type tokenResponse struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresIn    int64      `json:"expires_in"`
	ExpiresAt    int64      `json:"expires_at"`
	User         *auth.User `json:"user"`
}

func (t tokenResponse) session(now time.Time) *auth.Session {
	s := &auth.Session{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		User:         t.User,
	}

	switch {
	case t.ExpiresAt > 0:
		exp := time.Unix(t.ExpiresAt, 0)
		s.ExpiresAt = &exp
	case t.ExpiresIn > 0:
		exp := now.Add(time.Duration(t.ExpiresIn) * time.Second)
		s.ExpiresAt = &exp
	}

	return s
}

// OnAuthStateChange registers listener and reports the current session as
// INITIAL_SESSION.
func (c *Client) OnAuthStateChange(listener auth.AuthStateListener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener
	current := cloneSession(c.current)
	c.mu.Unlock()

	listener(auth.EventInitialSession, current)

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// SetSession adopts a session restored from elsewhere
func (c *Client) SetSession(session *auth.Session) {
	event := auth.EventSignedIn
	if session == nil {
		event = auth.EventSignedOut
	}
	c.setSession(event, session)
}

// RestoreSession adopts accessToken once the project confirms it through
// GET /auth/v1/user. The session carries no refresh token, it ends when
// the access token expires.
func (c *Client) RestoreSession(ctx context.Context, accessToken string) (*auth.Session, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/auth/v1/user",
		bearer: accessToken,
	})
	if err != nil {
		return nil, err
	}

	if !resp.ok() {
		_, msg := resp.apiErr()
		return nil, auth.NewCredentialError(msg, resp.status)
	}

	user := &auth.User{}
	if err := resp.decode(user); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, auth.ErrUnableToParseData.Error())
	}

	session := &auth.Session{AccessToken: accessToken, User: user}

	// the project already verified the token, only its expiry is read here
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err == nil && claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		session.ExpiresAt = &exp
	}

	c.setSession(auth.EventSignedIn, session)
	return cloneSession(session), nil
}

// GetSession returns the current session, refreshing it when it is about
// to expire. A failed refresh signs the client out.
func (c *Client) GetSession(ctx context.Context) (*auth.Session, error) {
	c.mu.Lock()
	current := cloneSession(c.current)
	c.mu.Unlock()

	if current == nil {
		return nil, nil
	}

	if current.ExpiresAt == nil || c.now().Add(c.config.RefreshMargin).Before(*current.ExpiresAt) {
		return current, nil
	}

	if current.RefreshToken == "" {
		c.setSession(auth.EventSignedOut, nil)
		return nil, nil
	}

	refreshed, err := c.refresh(ctx, current.RefreshToken)
	if err != nil {
		c.logger.Warn("session refresh failed", "error", err)
		c.setSession(auth.EventSignedOut, nil)
		return nil, err
	}

	c.setSession(auth.EventTokenRefreshed, refreshed)
	return cloneSession(refreshed), nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*auth.Session, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  "grant_type=refresh_token",
		body:   map[string]string{"refresh_token": refreshToken},
	})
	if err != nil {
		return nil, err
	}

	if !resp.ok() {
		_, msg := resp.apiErr()
		return nil, auth.NewCredentialError(msg, resp.status)
	}

	token := tokenResponse{}
	if err := resp.decode(&token); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, auth.ErrUnableToParseData.Error())
	}

	return token.session(c.now()), nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  "grant_type=password",
		body: map[string]string{
			"email":    email,
			"password": password,
		},
	})
	if err != nil {
		return nil, err
	}

	if !resp.ok() {
		_, msg := resp.apiErr()
		return nil, auth.NewCredentialError(msg, resp.status)
	}

	token := tokenResponse{}
	if err := resp.decode(&token); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, auth.ErrUnableToParseData.Error())
	}

	session := token.session(c.now())
	c.setSession(auth.EventSignedIn, session)
	return cloneSession(session), nil
}

// SignOut revokes the session remotely. The local session is dropped even
// when the request fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	current := cloneSession(c.current)
	c.mu.Unlock()

	defer c.setSession(auth.EventSignedOut, nil)

	if current == nil {
		return nil
	}

	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/logout",
		bearer: current.AccessToken,
	})
	if err != nil {
		return err
	}

	if !resp.ok() {
		_, msg := resp.apiErr()
		return goerrors.New(msg, goerrors.CategoryOperation).
			WithMetadata(map[string]any{"status": resp.status})
	}

	return nil
}

func (c *Client) UpdateUser(ctx context.Context, data map[string]any) (*auth.User, error) {
	c.mu.Lock()
	current := cloneSession(c.current)
	c.mu.Unlock()

	if !current.HasUser() {
		return nil, auth.ErrNoSession
	}

	resp, err := c.do(ctx, request{
		method: http.MethodPut,
		path:   "/auth/v1/user",
		bearer: current.AccessToken,
		body:   map[string]any{"data": data},
	})
	if err != nil {
		return nil, err
	}

	if !resp.ok() {
		_, msg := resp.apiErr()
		return nil, goerrors.New(msg, goerrors.CategoryOperation).
			WithMetadata(map[string]any{"status": resp.status})
	}

	user := &auth.User{}
	if err := resp.decode(user); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, auth.ErrUnableToParseData.Error())
	}

	current.User = user
	c.setSession(auth.EventUserUpdated, current)
	return user.Clone(), nil
}

// FindEmailByMemberNumber queries the members table for an exact match
func (c *Client) FindEmailByMemberNumber(ctx context.Context, memberNumber string) (string, error) {
	query := url.Values{}
	query.Set("select", "email")
	query.Set("member_number", "eq."+memberNumber)
	query.Set("limit", "2")

	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/rest/v1/members",
		query:  query.Encode(),
		bearer: c.accessToken(),
	})
	if err != nil {
		return "", err
	}

	if !resp.ok() {
		_, msg := resp.apiErr()
		return "", goerrors.New(msg, goerrors.CategoryOperation)
	}

	rows := []struct {
		Email string `json:"email"`
	}{}
	if err := resp.decode(&rows); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, auth.ErrUnableToParseData.Error())
	}

	if len(rows) != 1 {
		return "", goerrors.New("member not found", goerrors.CategoryNotFound).
			WithMetadata(map[string]any{"matches": len(rows)})
	}

	return rows[0].Email, nil
}

// InsertEmailLog inserts into the email_logs table
func (c *Client) InsertEmailLog(ctx context.Context, entry *auth.EmailLog) error {
	resp, err := c.do(ctx, request{
		method:  http.MethodPost,
		path:    "/rest/v1/email_logs",
		bearer:  c.accessToken(),
		headers: map[string]string{"Prefer": "return=minimal"},
		body: map[string]any{
			"recipient_email": entry.RecipientEmail,
			"subject":         entry.Subject,
			"email_type":      entry.EmailType,
			"member_number":   entry.MemberNumber,
			"status":          entry.Status,
			"metadata":        entry.Metadata,
		},
	})
	if err != nil {
		return err
	}

	if !resp.ok() {
		_, msg := resp.apiErr()
		return goerrors.New(msg, goerrors.CategoryOperation).
			WithMetadata(map[string]any{"status": resp.status})
	}

	return nil
}

// Call invokes a Postgres function through /rest/v1/rpc
func (c *Client) Call(ctx context.Context, name string, params map[string]any) (json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}

	resp, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/rest/v1/rpc/" + url.PathEscape(name),
		bearer: c.accessToken(),
		body:   params,
	})
	if err != nil {
		return nil, auth.NewRemoteProcedureError(name, err)
	}

	if !resp.ok() {
		_, msg := resp.apiErr()
		return nil, auth.NewRemoteProcedureError(name, goerrors.New(msg, goerrors.CategoryOperation))
	}

	return json.RawMessage(resp.body), nil
}

func (c *Client) accessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.AccessToken
}

func (c *Client) setSession(event auth.AuthEvent, session *auth.Session) {
	c.mu.Lock()
	c.current = cloneSession(session)
	listeners := make([]auth.AuthStateListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(event, cloneSession(session))
	}
}

func cloneSession(s *auth.Session) *auth.Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.User = s.User.Clone()
	return &cp
}
