package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenService_RequiresSecret(t *testing.T) {
	_, err := NewTokenService("", "")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestTokenService_RoundTrip(t *testing.T) {
	svc, err := NewTokenService("test-secret", "")
	require.NoError(t, err)

	token, err := svc.Generate("oncall@example.com", time.Hour, ScopeRead, ScopeExecute)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "oncall@example.com", claims.Subject)
	assert.Equal(t, "continuity", claims.Issuer)
	assert.True(t, claims.HasScope(ScopeExecute))
	assert.False(t, claims.HasScope("admin"))
}

func TestTokenService_Rejects(t *testing.T) {
	svc, err := NewTokenService("test-secret", "continuity")
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewTokenService("other-secret", "continuity")
		require.NoError(t, err)
		token, err := other.Generate("x", time.Hour)
		require.NoError(t, err)
		_, err = svc.Validate(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		past, err := NewTokenService("test-secret", "continuity")
		require.NoError(t, err)
		past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, err := past.Generate("x", time.Hour)
		require.NoError(t, err)
		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, err := NewTokenService("test-secret", "someone-else")
		require.NoError(t, err)
		token, err := other.Generate("x", time.Hour)
		require.NoError(t, err)
		_, err = svc.Validate(token)
		assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.Validate("not-a-token")
		assert.Error(t, err)
	})
}
