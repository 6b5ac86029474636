package auth

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// InvalidMemberNumberMessage is shown for every resolver miss
const InvalidMemberNumberMessage = "Invalid member number"

// ErrInvalidMemberNumber is returned whenever a member number cannot be
// resolved, regardless of the reason.
var ErrInvalidMemberNumber = goerrors.New(InvalidMemberNumberMessage, goerrors.CategoryBadInput).
	WithTextCode("INVALID_MEMBER_NUMBER")

// ErrInvalidCredentials is the credential verifier rejection
var ErrInvalidCredentials = goerrors.New("Invalid login credentials", goerrors.CategoryAuth).
	WithTextCode("INVALID_CREDENTIALS")

// ErrAccountLocked is returned while a member is locked out after too many failures
var ErrAccountLocked = goerrors.New("Account temporarily locked", goerrors.CategoryAuth).
	WithTextCode("ACCOUNT_LOCKED")

// ErrNoSession is returned by operations that need a signed in user
var ErrNoSession = goerrors.New("no active session", goerrors.CategoryAuth).
	WithTextCode("NO_SESSION")

// ErrMismatchedHashAndPassword password does not match the stored hash
var ErrMismatchedHashAndPassword = errors.New("mismatched hash and password")

// ErrNoEmptyString refuses to hash empty passwords
var ErrNoEmptyString = errors.New("password can not be an empty string")

// ErrUnableToParseData parse error
var ErrUnableToParseData = errors.New("unable to parse data")

// NewCredentialError wraps a sign in rejection keeping the backend message
func NewCredentialError(message string, status int) *goerrors.Error {
	if message == "" {
		message = ErrInvalidCredentials.Message
	}
	return goerrors.New(message, goerrors.CategoryAuth).
		WithTextCode("CREDENTIAL_ERROR").
		WithMetadata(map[string]any{"status": status})
}

// NewRemoteProcedureError wraps a failed remote procedure call
func NewRemoteProcedureError(procedure string, err error) *goerrors.Error {
	if err == nil {
		err = fmt.Errorf("remote procedure %s failed", procedure)
	}
	return goerrors.Wrap(err, goerrors.CategoryOperation, err.Error()).
		WithTextCode("RPC_ERROR").
		WithMetadata(map[string]any{"procedure": procedure})
}

// IsInvalidMemberNumber reports if err is the generic resolver miss
func IsInvalidMemberNumber(err error) bool {
	return errors.Is(err, ErrInvalidMemberNumber)
}

// Result is the uniform outcome of every bridge operation. A nil Err
// means success.
type Result struct {
	Err error `json:"-"`
}

// OK reports a successful outcome
func (r Result) OK() bool {
	return r.Err == nil
}

// Message returns the user facing error message or an empty string
func (r Result) Message() string {
	if r.Err == nil {
		return ""
	}

	var richErr *goerrors.Error
	if goerrors.As(r.Err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}

	return r.Err.Error()
}

func failed(err error) Result {
	return Result{Err: err}
}

// recoverResult turns a panic raised by a backend call into a Result
func recoverResult(res *Result, logger Logger, op string) {
	if r := recover(); r != nil {
		err, ok := r.(error)
		if !ok {
			err = fmt.Errorf("%v", r)
		}
		logger.Error("recovered panic during %s: %v", op, err)
		*res = failed(goerrors.Wrap(err, goerrors.CategoryInternal, err.Error()))
	}
}
