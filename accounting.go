package auth

import (
	"context"
	"sync"
	"time"
)

const (
	// ProcHandleFailedLogin records a failed sign in for lockout policy
	ProcHandleFailedLogin = "handle_failed_login"
	// ProcResetFailedLogin clears the failure counter after a sign in
	ProcResetFailedLogin = "reset_failed_login"
	// ProcGeneratePasswordResetToken issues a one time reset token
	ProcGeneratePasswordResetToken = "generate_password_reset_token"
)

// DefaultRPCTimeout bounds every remote call issued by this package
var DefaultRPCTimeout = 10 * time.Second

// FailedLoginAccounting notifies the backend about sign in outcomes. Calls
// run in the background and never report errors to the caller.
type FailedLoginAccounting struct {
	rpc      RPCClient
	timeout  time.Duration
	wg       sync.WaitGroup
	logger   Logger
	provider LoggerProvider
}

// NewFailedLoginAccounting returns an accounting over rpc
func NewFailedLoginAccounting(rpc RPCClient) *FailedLoginAccounting {
	provider, logger := ResolveLogger("auth.accounting", nil, nil)
	return &FailedLoginAccounting{
		rpc:      rpc,
		timeout:  DefaultRPCTimeout,
		logger:   logger,
		provider: provider,
	}
}

func (a *FailedLoginAccounting) WithLogger(l Logger) *FailedLoginAccounting {
	a.provider, a.logger = ResolveLogger("auth.accounting", a.provider, l)
	return a
}

// WithLoggerProvider overrides the logger provider used by the accounting.
func (a *FailedLoginAccounting) WithLoggerProvider(provider LoggerProvider) *FailedLoginAccounting {
	a.provider, a.logger = ResolveLogger("auth.accounting", provider, nil)
	return a
}

// WithTimeout sets the per call timeout
func (a *FailedLoginAccounting) WithTimeout(d time.Duration) *FailedLoginAccounting {
	if d > 0 {
		a.timeout = d
	}
	return a
}

// HandleFailedLogin schedules handle_failed_login(memberNumber)
func (a *FailedLoginAccounting) HandleFailedLogin(ctx context.Context, memberNumber string) {
	a.dispatch(ctx, ProcHandleFailedLogin, memberNumber)
}

// ResetFailedLogin schedules reset_failed_login(memberNumber)
func (a *FailedLoginAccounting) ResetFailedLogin(ctx context.Context, memberNumber string) {
	a.dispatch(ctx, ProcResetFailedLogin, memberNumber)
}

// Wait blocks until every scheduled call returned
func (a *FailedLoginAccounting) Wait() {
	a.wg.Wait()
}

func (a *FailedLoginAccounting) dispatch(ctx context.Context, procedure, memberNumber string) {
	// the caller may return before the call completes
	ctx = context.WithoutCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("accounting call %s panicked: %v", procedure, r)
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		_, err := a.rpc.Call(ctx, procedure, map[string]any{
			"member_number": memberNumber,
		})
		if err != nil {
			a.logger.Warn("accounting call failed", "procedure", procedure, "error", err)
		}
	}()
}
