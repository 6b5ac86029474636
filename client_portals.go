package auth

import (
	"context"
	"sync"
)

// SessionRestorer adopts an access token issued earlier. Implementations
// verify the token with the backend before accepting it.
type SessionRestorer interface {
	RestoreSession(ctx context.Context, accessToken string) (*Session, error)
}

// ClientBackend is a Backend that can be rebuilt around a client's access token
type ClientBackend interface {
	Backend
	SessionRestorer
}

// BackendFactory builds a fresh backend for a single client
type BackendFactory func() (ClientBackend, error)

// ClientPortal is the Portal of a single HTTP client
type ClientPortal interface {
	Portal
	// CurrentSession returns the backend session, nil when signed out
	CurrentSession(ctx context.Context) *Session
	// Close releases the portal, background calls finish asynchronously
	Close()
}

// PortalSource opens the Portal of the client presenting accessToken. An
// empty token opens an anonymous portal.
type PortalSource interface {
	Open(ctx context.Context, accessToken string) (ClientPortal, error)
}

// PortalSourceFunc adapts a function to PortalSource
type PortalSourceFunc func(ctx context.Context, accessToken string) (ClientPortal, error)

func (f PortalSourceFunc) Open(ctx context.Context, accessToken string) (ClientPortal, error) {
	return f(ctx, accessToken)
}

// ClientPortals opens one isolated Bridge per request. Every Open builds a
// new backend and an in-memory Store, so no state is shared between
// clients and a portal is only authenticated by a verified access token.
type ClientPortals struct {
	factory  BackendFactory
	settings Config
	sink     ActivitySink
	logger   Logger
	provider LoggerProvider
	closing  sync.WaitGroup
}

var _ PortalSource = (*ClientPortals)(nil)

// NewClientPortals returns a PortalSource building backends with factory
func NewClientPortals(factory BackendFactory, cfg Config) *ClientPortals {
	provider, logger := ResolveLogger("auth.clients", nil, nil)
	return &ClientPortals{
		factory:  factory,
		settings: cfg,
		logger:   logger,
		provider: provider,
	}
}

func (p *ClientPortals) WithLogger(logger Logger) *ClientPortals {
	p.provider, p.logger = ResolveLogger("auth.clients", p.provider, logger)
	return p
}

func (p *ClientPortals) WithLoggerProvider(provider LoggerProvider) *ClientPortals {
	p.provider, p.logger = ResolveLogger("auth.clients", provider, nil)
	return p
}

// WithActivitySink forwards the activity of every client portal to sink
func (p *ClientPortals) WithActivitySink(sink ActivitySink) *ClientPortals {
	p.sink = sink
	return p
}

// Open implements PortalSource. A token the backend rejects returns
// ErrNoSession.
func (p *ClientPortals) Open(ctx context.Context, accessToken string) (ClientPortal, error) {
	backend, err := p.factory()
	if err != nil {
		return nil, err
	}

	if accessToken != "" {
		if _, err := backend.RestoreSession(ctx, accessToken); err != nil {
			p.logger.Debug("rejected client session", "error", err)
			return nil, ErrNoSession
		}
	}

	store := NewStore(ctx, nil, WithStoreLoggerProvider(p.provider))
	bridge := NewBridge(backend, store, p.settings).WithLoggerProvider(p.provider)
	if p.sink != nil {
		bridge.WithActivitySink(p.sink)
	}

	if err := bridge.Start(ctx); err != nil {
		p.release(bridge)
		return nil, err
	}

	return &clientPortal{Bridge: bridge, backend: backend, owner: p}, nil
}

// Wait blocks until released portals finished their background calls
func (p *ClientPortals) Wait() {
	p.closing.Wait()
}

func (p *ClientPortals) release(bridge *Bridge) {
	p.closing.Add(1)
	go func() {
		defer p.closing.Done()
		bridge.Close()
	}()
}

type clientPortal struct {
	*Bridge
	backend ClientBackend
	owner   *ClientPortals
}

func (c *clientPortal) CurrentSession(ctx context.Context) *Session {
	session, err := c.backend.GetSession(ctx)
	if err != nil {
		c.owner.logger.Warn("failed to read client session", "error", err)
		return nil
	}
	return session
}

func (c *clientPortal) Close() {
	c.owner.release(c.Bridge)
}
