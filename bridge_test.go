package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	auth "github.com/goliatone/go-member-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T, backend *testBackend) (*auth.Bridge, *auth.MemoryPersistence) {
	t.Helper()
	persistence := auth.NewMemoryPersistence()
	store := auth.NewStore(context.Background(), persistence)
	bridge := auth.NewBridge(backend, store, testConfig{})
	t.Cleanup(bridge.Close)
	return bridge, persistence
}

func waitReady(t *testing.T, bridge *auth.Bridge) {
	t.Helper()
	select {
	case <-bridge.Ready():
	case <-time.After(time.Second):
		t.Fatal("bridge never finished loading")
	}
}

func TestBridge_StartWithoutSession(t *testing.T) {
	backend := newTestBackend()
	bridge, _ := newTestBridge(t, backend)

	assert.True(t, bridge.Loading())
	require.NoError(t, bridge.Start(context.Background()))
	waitReady(t, bridge)

	state := bridge.Snapshot()
	assert.False(t, state.Loading)
	assert.False(t, state.IsAuthenticated)
	assert.Nil(t, state.User)
}

func TestBridge_StartOrderingConverges(t *testing.T) {
	session := memberSession("u1", "alice@example.org", map[string]any{auth.MetadataMemberNumber: "TM10003"})

	t.Run("subscription first", func(t *testing.T) {
		backend := newTestBackend()
		backend.current = session
		backend.getSessionGate = make(chan struct{})
		bridge, _ := newTestBridge(t, backend)

		done := make(chan error, 1)
		go func() { done <- bridge.Start(context.Background()) }()

		<-backend.subscribed
		assert.True(t, bridge.Store().Get().IsAuthenticated)
		close(backend.getSessionGate)
		require.NoError(t, <-done)

		state := bridge.Snapshot()
		assert.True(t, state.IsAuthenticated)
		assert.Equal(t, "TM10003", state.MemberNumber)
	})

	t.Run("bootstrap first", func(t *testing.T) {
		backend := newTestBackend()
		backend.current = session
		backend.silentSubscribe = true
		bridge, _ := newTestBridge(t, backend)

		require.NoError(t, bridge.Start(context.Background()))
		waitReady(t, bridge)
		assert.True(t, bridge.Store().Get().IsAuthenticated)

		backend.emit(auth.EventInitialSession, session)

		state := bridge.Snapshot()
		assert.True(t, state.IsAuthenticated)
		assert.Equal(t, "TM10003", state.MemberNumber)
	})

	t.Run("empty bootstrap does not clear a subscription session", func(t *testing.T) {
		backend := newTestBackend()
		backend.silentSubscribe = true
		backend.getSessionGate = make(chan struct{})
		bridge, _ := newTestBridge(t, backend)

		done := make(chan error, 1)
		go func() { done <- bridge.Start(context.Background()) }()

		<-backend.subscribed
		backend.emit(auth.EventSignedIn, session)

		// the bootstrap read resolves after the sign in with no session
		backend.mu.Lock()
		backend.current = nil
		backend.mu.Unlock()
		close(backend.getSessionGate)
		require.NoError(t, <-done)

		assert.True(t, bridge.Snapshot().IsAuthenticated)
	})
}

func TestBridge_BootstrapError(t *testing.T) {
	backend := newTestBackend()
	backend.getSessionErr = errors.New("network down")
	bridge, _ := newTestBridge(t, backend)

	err := bridge.Start(context.Background())

	require.Error(t, err)
	waitReady(t, bridge)
	assert.False(t, bridge.Loading())
	assert.False(t, bridge.Snapshot().IsAuthenticated)
}

func TestBridge_SignedOutEventClearsState(t *testing.T) {
	backend := newTestBackend()
	backend.current = memberSession("u1", "alice@example.org", nil)
	bridge, _ := newTestBridge(t, backend)

	require.NoError(t, bridge.Start(context.Background()))
	require.True(t, bridge.Snapshot().IsAuthenticated)

	backend.emit(auth.EventSignedOut, nil)

	assert.Equal(t, auth.AuthState{}, bridge.Store().Get())
}

func TestBridge_HydratedStateVisibleBeforeStart(t *testing.T) {
	ctx := context.Background()
	persistence := auth.NewMemoryPersistence()
	require.NoError(t, persistence.Save(ctx, auth.AuthState{
		IsAuthenticated: true,
		User:            &auth.User{ID: "u1"},
		MemberNumber:    "TM10003",
	}))

	bridge := auth.NewBridge(newTestBackend(), auth.NewStore(ctx, persistence), testConfig{})
	defer bridge.Close()

	state := bridge.Snapshot()
	assert.True(t, state.Loading)
	assert.True(t, state.IsAuthenticated)
	assert.Equal(t, "TM10003", state.MemberNumber)
}

func TestBridge_LoginSuccess(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend()
	sink := &capturingSink{}
	bridge, persistence := newTestBridge(t, backend)
	bridge.WithActivitySink(sink)

	backend.directory.On("FindEmailByMemberNumber", mock.Anything, "TM10003").Return("alice@example.org", nil).Once()
	backend.rpc.On("Call", mock.Anything, auth.ProcResetFailedLogin, map[string]any{"member_number": "TM10003"}).
		Return(json.RawMessage(`null`), nil).Once()
	backend.signIn = func(email, password string) (*auth.Session, error) {
		if email != "alice@example.org" || password != "correct-horse" {
			return nil, auth.NewCredentialError("Invalid login credentials", 400)
		}
		return memberSession("u1", email, nil), nil
	}

	require.NoError(t, bridge.Start(ctx))
	res := bridge.Login(ctx, "TM10003", "correct-horse")
	bridge.Accounting().Wait()

	require.True(t, res.OK())
	assert.Empty(t, res.Message())

	updates := backend.Updates()
	require.Len(t, updates, 1)
	assert.Equal(t, map[string]any{auth.MetadataMemberNumber: "TM10003"}, updates[0])

	state := bridge.Snapshot()
	assert.True(t, state.IsAuthenticated)
	assert.Equal(t, "alice@example.org", state.User.Email)
	assert.Equal(t, "TM10003", state.MemberNumber)

	saved, err := persistence.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "TM10003", saved.MemberNumber)

	assert.Contains(t, sink.Types(), auth.ActivityEventLoginSuccess)
	backend.rpc.AssertNumberOfCalls(t, "Call", 1)
	backend.rpc.AssertExpectations(t)
}

func TestBridge_LoginKeepsExistingMemberNumber(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend()
	bridge, _ := newTestBridge(t, backend)

	backend.directory.On("FindEmailByMemberNumber", mock.Anything, "TM10003").Return("alice@example.org", nil).Once()
	backend.rpc.On("Call", mock.Anything, auth.ProcResetFailedLogin, mock.Anything).Return(nil, nil).Once()
	backend.signIn = func(email, password string) (*auth.Session, error) {
		return memberSession("u1", email, map[string]any{auth.MetadataMemberNumber: "TM10003"}), nil
	}

	require.NoError(t, bridge.Start(ctx))
	res := bridge.Login(ctx, "TM10003", "correct-horse")
	bridge.Accounting().Wait()

	require.True(t, res.OK())
	assert.Empty(t, backend.Updates())
	backend.rpc.AssertExpectations(t)
}

func TestBridge_LoginMetadataUpdateFailureStillSucceeds(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend()
	backend.updateErr = errors.New("update failed")
	bridge, _ := newTestBridge(t, backend)

	backend.directory.On("FindEmailByMemberNumber", mock.Anything, "TM10003").Return("alice@example.org", nil).Once()
	backend.rpc.On("Call", mock.Anything, auth.ProcResetFailedLogin, mock.Anything).Return(nil, nil).Once()
	backend.signIn = func(email, password string) (*auth.Session, error) {
		return memberSession("u1", email, nil), nil
	}

	require.NoError(t, bridge.Start(ctx))
	res := bridge.Login(ctx, "TM10003", "correct-horse")
	bridge.Accounting().Wait()

	assert.True(t, res.OK())
	assert.True(t, bridge.Snapshot().IsAuthenticated)
	backend.rpc.AssertExpectations(t)
}

func TestBridge_LoginWrongPassword(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend()
	sink := &capturingSink{}
	bridge, _ := newTestBridge(t, backend)
	bridge.WithActivitySink(sink)

	signInErr := auth.NewCredentialError("Invalid login credentials", 400)
	backend.directory.On("FindEmailByMemberNumber", mock.Anything, "TM10003").Return("alice@example.org", nil).Once()
	backend.rpc.On("Call", mock.Anything, auth.ProcHandleFailedLogin, map[string]any{"member_number": "TM10003"}).
		Return(json.RawMessage(`{"locked":false}`), nil).Once()
	backend.signIn = func(email, password string) (*auth.Session, error) {
		return nil, signInErr
	}

	require.NoError(t, bridge.Start(ctx))
	res := bridge.Login(ctx, "TM10003", "wrong")
	bridge.Accounting().Wait()

	require.False(t, res.OK())
	assert.Same(t, signInErr, res.Err)
	assert.Equal(t, "Invalid login credentials", res.Message())
	assert.False(t, bridge.Snapshot().IsAuthenticated)
	assert.Empty(t, backend.Updates())
	assert.Contains(t, sink.Types(), auth.ActivityEventLoginFailure)

	backend.rpc.AssertNumberOfCalls(t, "Call", 1)
	backend.rpc.AssertExpectations(t)
}

func TestBridge_LoginUnknownMember(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend()
	bridge, _ := newTestBridge(t, backend)

	signInCalled := false
	backend.directory.On("FindEmailByMemberNumber", mock.Anything, "UNKNOWN").Return("", errors.New("no rows")).Once()
	backend.signIn = func(email, password string) (*auth.Session, error) {
		signInCalled = true
		return nil, nil
	}

	require.NoError(t, bridge.Start(ctx))
	res := bridge.Login(ctx, "UNKNOWN", "whatever")
	bridge.Accounting().Wait()

	require.False(t, res.OK())
	assert.Equal(t, "Invalid member number", res.Message())
	assert.False(t, signInCalled)
	backend.rpc.AssertNotCalled(t, "Call", mock.Anything, mock.Anything, mock.Anything)
}

func TestBridge_UnknownMemberErrorsMatch(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend()
	bridge, _ := newTestBridge(t, backend)

	backend.directory.On("FindEmailByMemberNumber", mock.Anything, "UNKNOWN").Return("", errors.New("no rows")).Twice()

	login := bridge.Login(ctx, "UNKNOWN", "whatever")
	reset := bridge.RequestPasswordReset(ctx, "UNKNOWN")

	assert.Equal(t, login.Message(), reset.Message())
	assert.Equal(t, auth.InvalidMemberNumberMessage, reset.Message())
	backend.emails.AssertNotCalled(t, "InsertEmailLog", mock.Anything, mock.Anything)
}

func TestBridge_LogoutClearsState(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend()
	backend.current = memberSession("u1", "alice@example.org", map[string]any{auth.MetadataMemberNumber: "TM10003"})
	sink := &capturingSink{}

	var routes []string
	bridge, persistence := newTestBridge(t, backend)
	bridge.WithActivitySink(sink).
		WithNavigator(auth.NavigatorFunc(func(route string) {
			routes = append(routes, route)
		}))

	require.NoError(t, bridge.Start(ctx))
	require.True(t, bridge.Snapshot().IsAuthenticated)

	bridge.Logout(ctx)

	assert.Equal(t, auth.AuthState{}, bridge.Store().Get())
	saved, err := persistence.Load(ctx)
	require.NoError(t, err)
	assert.False(t, saved.IsAuthenticated)
	assert.Equal(t, []string{"/"}, routes)
	assert.Contains(t, sink.Types(), auth.ActivityEventLogout)
}

func TestBridge_LogoutWhenSignOutFails(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend()
	backend.current = memberSession("u1", "alice@example.org", nil)
	backend.signOutErr = errors.New("network down")

	var routes []string
	bridge, _ := newTestBridge(t, backend)
	bridge.WithNavigator(auth.NavigatorFunc(func(route string) {
		routes = append(routes, route)
	}))

	require.NoError(t, bridge.Start(ctx))
	require.True(t, bridge.Snapshot().IsAuthenticated)

	bridge.Logout(ctx)

	assert.False(t, bridge.Snapshot().IsAuthenticated)
	assert.Nil(t, bridge.Snapshot().User)
	assert.Equal(t, []string{"/"}, routes)
	assert.Equal(t, 1, backend.signOuts)
}

func TestBridge_RequestPasswordReset(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend()
	bridge, _ := newTestBridge(t, backend)

	backend.directory.On("FindEmailByMemberNumber", mock.Anything, "TM10003").Return("alice@example.org", nil).Once()
	backend.rpc.On("Call", mock.Anything, auth.ProcGeneratePasswordResetToken, mock.Anything).
		Return(json.RawMessage(`"tok-1"`), nil).Once()
	backend.emails.On("InsertEmailLog", mock.Anything, mock.MatchedBy(func(entry *auth.EmailLog) bool {
		return entry.RecipientEmail == "alice@example.org" &&
			entry.Metadata["reset_url"] == "https://portal.example.org/reset-password?token=tok-1"
	})).Return(nil).Once()

	res := bridge.RequestPasswordReset(ctx, "TM10003")

	assert.True(t, res.OK())
	backend.emails.AssertExpectations(t)
}

func TestBridge_RecoversBackendPanics(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend()
	bridge, _ := newTestBridge(t, backend)

	backend.directory.On("FindEmailByMemberNumber", mock.Anything, "TM10003").Return("alice@example.org", nil).Once()
	backend.signIn = func(email, password string) (*auth.Session, error) {
		panic("backend exploded")
	}

	var res auth.Result
	assert.NotPanics(t, func() {
		res = bridge.Login(ctx, "TM10003", "pw")
	})
	assert.False(t, res.OK())
	assert.Equal(t, "backend exploded", res.Message())
}
