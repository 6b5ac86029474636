package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// PortalState is what the dashboard UI reads
type PortalState struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	User            *User  `json:"user"`
	MemberNumber    string `json:"memberNumber,omitempty"`
	Loading         bool   `json:"loading"`
}

type stateSource int

const (
	sourceBootstrap stateSource = iota
	sourceSubscription
)

// Bridge mirrors the backend session into the Store and exposes the
// login, logout and password reset operations to the UI.
type Bridge struct {
	backend      Backend
	store        *Store
	resolver     *CredentialResolver
	accounting   *FailedLoginAccounting
	resets       *RequestPasswordResetHandler
	navigator    Navigator
	landingRoute string
	timeout      time.Duration
	activitySink ActivitySink
	logger       Logger
	provider     LoggerProvider

	mu          sync.Mutex
	loading     bool
	ready       chan struct{}
	unsubscribe func()
}

// NewBridge wires a bridge over backend writing into store
func NewBridge(backend Backend, store *Store, cfg Config) *Bridge {
	provider, logger := ResolveLogger("auth.bridge", nil, nil)
	resolver := NewCredentialResolver(backend)

	return &Bridge{
		backend:      backend,
		store:        store,
		resolver:     resolver,
		accounting:   NewFailedLoginAccounting(backend).WithTimeout(cfg.GetRPCTimeout()),
		resets:       NewRequestPasswordResetHandler(resolver, backend, backend, cfg.GetOrigin()).WithTimeout(cfg.GetRPCTimeout()),
		navigator:    noopNavigator{},
		landingRoute: cfg.GetLandingRoute(),
		timeout:      cfg.GetRPCTimeout(),
		activitySink: noopActivitySink{},
		logger:       logger,
		provider:     provider,
		loading:      true,
		ready:        make(chan struct{}),
	}
}

func (b *Bridge) WithLogger(logger Logger) *Bridge {
	b.provider, b.logger = ResolveLogger("auth.bridge", b.provider, logger)
	return b
}

// WithLoggerProvider resolves scoped loggers for the bridge and its collaborators
func (b *Bridge) WithLoggerProvider(provider LoggerProvider) *Bridge {
	b.provider, b.logger = ResolveLogger("auth.bridge", provider, nil)
	b.resolver.WithLoggerProvider(provider)
	b.accounting.WithLoggerProvider(provider)
	b.resets.WithLoggerProvider(provider)
	return b
}

// WithNavigator sets where logout sends the UI
func (b *Bridge) WithNavigator(n Navigator) *Bridge {
	if n == nil {
		n = noopNavigator{}
	}
	b.navigator = n
	return b
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (b *Bridge) WithActivitySink(sink ActivitySink) *Bridge {
	b.activitySink = normalizeActivitySink(sink)
	b.resets.WithActivitySink(sink)
	return b
}

// Store returns the backing session store
func (b *Bridge) Store() *Store {
	return b.store
}

// Accounting returns the failed login accounting
func (b *Bridge) Accounting() *FailedLoginAccounting {
	return b.accounting
}

// Start subscribes to the backend auth stream and reads the current
// session concurrently. Both feed the same reducer so arrival order does
// not matter. A bootstrap error is returned but the subscription stays
// active.
func (b *Bridge) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		unsubscribe := b.backend.OnAuthStateChange(func(event AuthEvent, session *Session) {
			b.apply(context.Background(), sourceSubscription, event, session)
		})
		b.mu.Lock()
		b.unsubscribe = unsubscribe
		b.mu.Unlock()
		return nil
	})

	g.Go(func() error {
		defer b.markLoaded()

		ctx, cancel := context.WithTimeout(gctx, b.timeout)
		defer cancel()

		session, err := b.backend.GetSession(ctx)
		if err != nil {
			b.logger.Warn("initial session check failed", "error", err)
			return err
		}

		b.apply(ctx, sourceBootstrap, EventInitialSession, session)
		return nil
	})

	return g.Wait()
}

// Close removes the subscription and waits for background calls
func (b *Bridge) Close() {
	b.mu.Lock()
	unsubscribe := b.unsubscribe
	b.unsubscribe = nil
	b.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	b.accounting.Wait()
}

// Loading is true until the first session result arrived
func (b *Bridge) Loading() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loading
}

// Ready is closed once Loading turns false
func (b *Bridge) Ready() <-chan struct{} {
	return b.ready
}

// Snapshot returns the UI facing state
func (b *Bridge) Snapshot() PortalState {
	state := b.store.Get()
	return PortalState{
		IsAuthenticated: state.IsAuthenticated,
		User:            state.User,
		MemberNumber:    state.MemberNumber,
		Loading:         b.Loading(),
	}
}

// apply is the single reducer for both producers. A session with a user
// authenticates; an empty session only clears when it comes from the
// subscription, an empty bootstrap read leaves the state untouched.
func (b *Bridge) apply(ctx context.Context, source stateSource, event AuthEvent, session *Session) {
	defer b.markLoaded()

	if session.HasUser() {
		b.store.Set(true, session.User, session.User.MemberNumber())
		b.emit(ctx, ActivityEventSessionChanged, session.User, session.User.MemberNumber(), map[string]any{
			"event": string(event),
		})
		return
	}

	if source == sourceSubscription {
		b.store.Clear()
		b.emit(ctx, ActivityEventSessionChanged, nil, "", map[string]any{
			"event": string(event),
		})
	}
}

func (b *Bridge) markLoaded() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loading {
		return
	}
	b.loading = false
	close(b.ready)
}

// Login resolves memberNumber and signs in. The store is updated through
// the auth event stream, not by this call.
func (b *Bridge) Login(ctx context.Context, memberNumber, password string) (res Result) {
	defer recoverResult(&res, b.logger, "login")

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	email, err := b.resolver.Resolve(ctx, memberNumber)
	if err != nil {
		b.emit(ctx, ActivityEventLoginFailure, nil, memberNumber, map[string]any{
			"error": err.Error(),
		})
		return failed(err)
	}

	session, err := b.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		b.logger.Info("sign in rejected", "member_number", memberNumber)
		b.accounting.HandleFailedLogin(ctx, memberNumber)
		b.emit(ctx, ActivityEventLoginFailure, nil, memberNumber, map[string]any{
			"error": err.Error(),
		})
		return failed(err)
	}

	if session.HasUser() && session.User.MemberNumber() == "" {
		if _, err := b.backend.UpdateUser(ctx, map[string]any{MetadataMemberNumber: memberNumber}); err != nil {
			b.logger.Warn("failed to store member number on user", "error", err)
		}
	}

	b.accounting.ResetFailedLogin(ctx, memberNumber)

	var user *User
	if session != nil {
		user = session.User
	}
	b.emit(ctx, ActivityEventLoginSuccess, user, memberNumber, nil)

	return Result{}
}

// Logout signs out remotely and always clears the local state, even when
// the remote call fails.
func (b *Bridge) Logout(ctx context.Context) {
	previous := b.store.Get()

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("recovered panic during logout: %v", r)
		}
		b.store.Clear()
		b.emit(ctx, ActivityEventLogout, previous.User, previous.MemberNumber, nil)
		b.navigator.Navigate(b.landingRoute)
	}()

	sctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.backend.SignOut(sctx); err != nil {
		b.logger.Warn("remote sign out failed", "error", err)
	}
}

// RequestPasswordReset records a password reset email for memberNumber
func (b *Bridge) RequestPasswordReset(ctx context.Context, memberNumber string) (res Result) {
	defer recoverResult(&res, b.logger, "password reset")
	return b.resets.Request(ctx, memberNumber)
}

func (b *Bridge) emit(ctx context.Context, eventType ActivityEventType, user *User, memberNumber string, metadata map[string]any) {
	event := ActivityEvent{
		EventType:    eventType,
		Actor:        ActorRef{Type: "member"},
		MemberNumber: memberNumber,
		Metadata:     metadata,
		OccurredAt:   time.Now(),
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if user != nil {
		event.UserID = user.ID
		event.Actor.ID = user.ID
	}

	if err := normalizeActivitySink(b.activitySink).Record(ctx, event); err != nil {
		b.logger.Warn("activity sink record error: %v", err)
	}
}
