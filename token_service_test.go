package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-member-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenService_MintAndValidate(t *testing.T) {
	ts := auth.NewTokenService([]byte("test-signing-key"), 2, "test-issuer", nil)

	user := &auth.User{ID: "7a1c3c1e-3b7a-4c55-9a57-4a1f2c0e7d11", Email: "alice@example.org"}
	user.AddMetadata(auth.MetadataMemberNumber, "TM10003")

	session, err := ts.Mint(user)
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	require.NotNil(t, session.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), *session.ExpiresAt, time.Minute)

	claims, err := ts.Validate(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
	assert.Equal(t, "test-issuer", claims.Issuer)
	assert.Equal(t, "alice@example.org", claims.Email)

	restored := auth.UserFromClaims(claims)
	assert.Equal(t, "TM10003", restored.MemberNumber())
}

func TestTokenService_Expired(t *testing.T) {
	now := time.Now()
	ts := auth.NewTokenService([]byte("test-signing-key"), 1, "test-issuer", nil).
		WithClock(func() time.Time { return now })

	session, err := ts.Mint(&auth.User{ID: "u1"})
	require.NoError(t, err)

	ts.WithClock(func() time.Time { return now.Add(2 * time.Hour) })
	_, err = ts.Validate(session.AccessToken)

	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestTokenService_Rejects(t *testing.T) {
	ts := auth.NewTokenService([]byte("test-signing-key"), 1, "test-issuer", nil)

	t.Run("garbage", func(t *testing.T) {
		_, err := ts.Validate("not-a-token")
		assert.Error(t, err)
	})

	t.Run("wrong key", func(t *testing.T) {
		other := auth.NewTokenService([]byte("other-key"), 1, "test-issuer", nil)
		session, err := other.Mint(&auth.User{ID: "u1"})
		require.NoError(t, err)

		_, err = ts.Validate(session.AccessToken)
		assert.Error(t, err)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := auth.NewTokenService([]byte("test-signing-key"), 1, "someone-else", nil)
		session, err := other.Mint(&auth.User{ID: "u1"})
		require.NoError(t, err)

		_, err = ts.Validate(session.AccessToken)
		assert.Error(t, err)
	})

	t.Run("unsigned", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1", Issuer: "test-issuer"})
		raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = ts.Validate(raw)
		assert.Error(t, err)
	})

	t.Run("nil user", func(t *testing.T) {
		_, err := ts.Mint(nil)
		assert.Error(t, err)
	})
}
