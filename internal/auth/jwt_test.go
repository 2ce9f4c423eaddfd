package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dongle-server/dongle-server/internal/config"
	"github.com/dongle-server/dongle-server/internal/models"
)

func newManager(t *testing.T) *JWTManager {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("pass"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := &config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour}
	return NewJWTManager(cfg, []models.User{
		{Email: "Admin@Example.com", PasswordHash: string(hash), IsAdmin: true},
	})
}

func TestAuthenticate(t *testing.T) {
	m := newManager(t)

	user, err := m.Authenticate("admin@example.com", "pass")
	require.NoError(t, err)
	assert.True(t, user.IsAdmin)

	_, err = m.Authenticate("admin@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = m.Authenticate("nobody@example.com", "pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTokenRoundTrip(t *testing.T) {
	m := newManager(t)
	user, err := m.Authenticate("admin@example.com", "pass")
	require.NoError(t, err)

	access, refresh, err := m.GenerateTokenPair(user)
	require.NoError(t, err)

	claims, err := m.ValidateToken(access)
	require.NoError(t, err)
	assert.Equal(t, "Admin@Example.com", claims.Email)
	assert.True(t, claims.IsAdmin)

	// a refresh token is not an access token
	_, err = m.ValidateToken(refresh)
	assert.Error(t, err)

	newAccess, _, err := m.RefreshToken(refresh)
	require.NoError(t, err)
	_, err = m.ValidateToken(newAccess)
	assert.NoError(t, err)

	_, _, err = m.RefreshToken(access)
	assert.Error(t, err)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	m := newManager(t)
	user, err := m.Authenticate("admin@example.com", "pass")
	require.NoError(t, err)
	access, _, err := m.GenerateTokenPair(user)
	require.NoError(t, err)

	other := NewJWTManager(&config.JWTConfig{Secret: "other"}, nil)
	_, err = other.ValidateToken(access)
	assert.Error(t, err)
}

func TestClaimsContext(t *testing.T) {
	_, ok := ClaimsFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithClaims(context.Background(), &Claims{Email: "a@b.c"})
	c, ok := ClaimsFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "a@b.c", c.Email)
}
