package auth

import (
	"context"
	"sync"
)

// StorageKey is the fixed namespace the auth state is persisted under
const StorageKey = "auth-storage"

// AuthState is the locally mirrored view of the backend session
type AuthState struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	User            *User  `json:"user"`
	MemberNumber    string `json:"memberNumber,omitempty"`
}

func (s AuthState) clone() AuthState {
	s.User = s.User.Clone()
	return s
}

// SessionPersistence loads and saves the auth state durably
type SessionPersistence interface {
	// Load returns the zero state when nothing was saved yet
	Load(ctx context.Context) (AuthState, error)
	Save(ctx context.Context, state AuthState) error
}

// StoreListener is notified synchronously after every write
type StoreListener func(state AuthState)

// Store holds the auth state for one application instance
type Store struct {
	writeMu     sync.Mutex
	mu          sync.RWMutex
	state       AuthState
	persistence SessionPersistence
	listeners   map[int]StoreListener
	nextID      int
	logger      Logger
	provider    LoggerProvider
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithStoreLogger sets the store logger
func WithStoreLogger(logger Logger) StoreOption {
	return func(s *Store) {
		s.provider, s.logger = ResolveLogger("auth.store", s.provider, logger)
	}
}

// WithStoreLoggerProvider sets the logger provider
func WithStoreLoggerProvider(provider LoggerProvider) StoreOption {
	return func(s *Store) {
		s.provider, s.logger = ResolveLogger("auth.store", provider, nil)
	}
}

// NewStore creates a store and hydrates it from persistence. A load error
// is logged and the store starts unauthenticated.
func NewStore(ctx context.Context, persistence SessionPersistence, opts ...StoreOption) *Store {
	provider, logger := ResolveLogger("auth.store", nil, nil)
	if persistence == nil {
		persistence = NewMemoryPersistence()
	}

	s := &Store{
		persistence: persistence,
		listeners:   map[int]StoreListener{},
		logger:      logger,
		provider:    provider,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	state, err := persistence.Load(ctx)
	if err != nil {
		s.logger.Warn("failed to hydrate auth state", "error", err)
		return s
	}

	s.state = normalizeState(state)
	return s
}

// Get returns a snapshot of the current state
func (s *Store) Get() AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Set replaces the state. IsAuthenticated always follows user presence.
func (s *Store) Set(isAuthenticated bool, user *User, memberNumber string) {
	s.write(normalizeState(AuthState{
		IsAuthenticated: isAuthenticated,
		User:            user.Clone(),
		MemberNumber:    memberNumber,
	}))
}

// Clear resets the state to unauthenticated
func (s *Store) Clear() {
	s.write(AuthState{})
}

// Subscribe registers fn and returns the unsubscribe handle
func (s *Store) Subscribe(fn StoreListener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// listeners must not write back into the store
func (s *Store) write(state AuthState) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.state = state
	listeners := make([]StoreListener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	if err := s.persistence.Save(context.Background(), state.clone()); err != nil {
		s.logger.Error("failed to persist auth state", "error", err)
	}

	for _, fn := range listeners {
		fn(state.clone())
	}
}

func normalizeState(state AuthState) AuthState {
	if state.User == nil {
		return AuthState{}
	}
	state.IsAuthenticated = true
	return state
}

// MemoryPersistence keeps the state in memory
type MemoryPersistence struct {
	mu    sync.Mutex
	state AuthState
	saves int
}

// NewMemoryPersistence returns an empty in memory persistence
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{}
}

func (m *MemoryPersistence) Load(context.Context) (AuthState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone(), nil
}

func (m *MemoryPersistence) Save(_ context.Context, state AuthState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state.clone()
	m.saves++
	return nil
}

// Saves returns how many writes were persisted
func (m *MemoryPersistence) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
