package auth_test

import (
	"errors"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-member-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsInvalidMemberNumber(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "Resolver miss",
			err:      auth.ErrInvalidMemberNumber,
			expected: true,
		},
		{
			name:     "Credential error",
			err:      auth.NewCredentialError("Invalid login credentials", 400),
			expected: false,
		},
		{
			name:     "Plain error",
			err:      errors.New("Invalid member number"),
			expected: false,
		},
		{
			name:     "Nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, auth.IsInvalidMemberNumber(tt.err))
		})
	}
}

func TestResult(t *testing.T) {
	assert.True(t, auth.Result{}.OK())
	assert.Empty(t, auth.Result{}.Message())

	res := auth.Result{Err: auth.ErrInvalidMemberNumber}
	assert.False(t, res.OK())
	assert.Equal(t, "Invalid member number", res.Message())

	res = auth.Result{Err: errors.New("plain failure")}
	assert.Equal(t, "plain failure", res.Message())
}

func TestNewCredentialError(t *testing.T) {
	err := auth.NewCredentialError("", 400)

	assert.Equal(t, "Invalid login credentials", err.Message)
	assert.Equal(t, goerrors.CategoryAuth, err.Category)
	assert.Equal(t, 400, err.Metadata["status"])
}

func TestNewRemoteProcedureError(t *testing.T) {
	cause := errors.New("function handle_failed_login does not exist")
	err := auth.NewRemoteProcedureError(auth.ProcHandleFailedLogin, cause)

	assert.Equal(t, cause.Error(), err.Message)
	assert.Equal(t, goerrors.CategoryOperation, err.Category)
	assert.Equal(t, "RPC_ERROR", err.TextCode)
	assert.Equal(t, auth.ProcHandleFailedLogin, err.Metadata["procedure"])
	require.ErrorIs(t, err, cause)
}
