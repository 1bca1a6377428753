package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RoundTrip(t *testing.T) {
	auth := NewAuthService("test-secret", "meetkit", time.Hour)

	token, err := auth.GenerateToken("ops-1", ScopeTileControl)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops-1", claims.Operator)
	assert.Equal(t, "meetkit", claims.Issuer)
	assert.NoError(t, auth.Authorize(claims, ScopeTileControl))
	assert.NoError(t, auth.Authorize(claims, ScopeRead))
}

func TestAuthService_DefaultScopeIsRead(t *testing.T) {
	auth := NewAuthService("test-secret", "meetkit", time.Hour)

	token, err := auth.GenerateToken("viewer")
	require.NoError(t, err)
	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)

	assert.NoError(t, auth.Authorize(claims, ScopeRead))
	assert.ErrorIs(t, auth.Authorize(claims, ScopeTileControl), ErrUnauthorized)
	assert.ErrorIs(t, auth.Authorize(nil, ScopeRead), ErrUnauthorized)
}

func TestAuthService_RejectsBadTokens(t *testing.T) {
	auth := NewAuthService("test-secret", "meetkit", time.Hour)
	other := NewAuthService("other-secret", "meetkit", time.Hour)
	foreignIssuer := NewAuthService("test-secret", "someone-else", time.Hour)

	_, err := auth.GenerateToken("")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = auth.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	token, err := other.GenerateToken("ops-1", ScopeTileControl)
	require.NoError(t, err)
	_, err = auth.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	token, err = foreignIssuer.GenerateToken("ops-1", ScopeTileControl)
	require.NoError(t, err)
	_, err = auth.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Operator: "ops-1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_ExpiredToken(t *testing.T) {
	svc := NewAuthService("test-secret", "meetkit", time.Minute).(*authService)
	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, err := svc.GenerateToken("ops-1", ScopeTileControl)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
