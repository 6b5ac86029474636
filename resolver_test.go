package auth_test

import (
	"context"
	"errors"
	"testing"

	auth "github.com/goliatone/go-member-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		email     string
		lookupErr error
		wantEmail string
		wantErr   bool
	}{
		{
			name:      "exact match",
			email:     "alice@example.org",
			wantEmail: "alice@example.org",
		},
		{
			name:      "no match",
			lookupErr: errors.New("member not found"),
			wantErr:   true,
		},
		{
			name:      "lookup failure",
			lookupErr: errors.New("connection refused"),
			wantErr:   true,
		},
		{
			name:    "empty email",
			email:   "  ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			directory := new(MockDirectory)
			directory.On("FindEmailByMemberNumber", ctx, "TM10003").Return(tt.email, tt.lookupErr).Once()

			resolver := auth.NewCredentialResolver(directory)
			email, err := resolver.Resolve(ctx, "TM10003")

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, auth.IsInvalidMemberNumber(err))
				assert.Equal(t, auth.InvalidMemberNumberMessage, auth.Result{Err: err}.Message())
				assert.Empty(t, email)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantEmail, email)
			}

			directory.AssertExpectations(t)
		})
	}
}

func TestCredentialResolver_MissesAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	directory := new(MockDirectory)
	directory.On("FindEmailByMemberNumber", ctx, "UNKNOWN").Return("", errors.New("no rows")).Once()
	directory.On("FindEmailByMemberNumber", ctx, "DOWN").Return("", errors.New("timeout")).Once()

	resolver := auth.NewCredentialResolver(directory)

	_, missErr := resolver.Resolve(ctx, "UNKNOWN")
	_, outageErr := resolver.Resolve(ctx, "DOWN")

	assert.Equal(t, missErr.Error(), outageErr.Error())
}
