package crypto

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/encodefarm.net/internal/config"
	"gitlab.com/encodefarm.net/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := NewJWTService(&config.JwtConfig{Secret: "s3cret"})
	assert.Equal(t, time.Hour, svc.TokenTTL)

	claims := map[string]interface{}{"username": "root", "permission": []string{domain.PermissionAdmin}}
	token, err := svc.GenerateTokenHMAC(ctx, jwt.SigningMethodHS256.Name, claims)
	require.NoError(t, err)
	assert.Contains(t, claims, "exp")

	ok, err := svc.VerifyTokenHMAC(ctx, token, jwt.SigningMethodHS256.Name)
	require.NoError(t, err)
	assert.True(t, ok)

	payload, err := svc.DecodeTokenPayload(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "root", payload.Username)
	assert.True(t, payload.Can(domain.PermissionAdmin))
}

func TestVerifyRejects(t *testing.T) {
	ctx := context.Background()
	svc := NewJWTService(&config.JwtConfig{Secret: "s3cret", TokenTTL: time.Minute})
	other := NewJWTService(&config.JwtConfig{Secret: "other"})

	foreign, err := other.GenerateTokenHMAC(ctx, "HS256", map[string]interface{}{"username": "x"})
	require.NoError(t, err)
	ok, err := svc.VerifyTokenHMAC(ctx, foreign, "HS256")
	assert.Error(t, err)
	assert.False(t, ok)

	expired, err := svc.GenerateTokenHMAC(ctx, "HS256", map[string]interface{}{"exp": time.Now().Add(-time.Minute).Unix()})
	require.NoError(t, err)
	_, err = svc.VerifyTokenHMAC(ctx, expired, "HS256")
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	wrongAlg, err := svc.GenerateTokenHMAC(ctx, "HS512", map[string]interface{}{})
	require.NoError(t, err)
	_, err = svc.VerifyTokenHMAC(ctx, wrongAlg, "HS256")
	assert.Error(t, err)

	_, err = svc.GenerateTokenHMAC(ctx, "none-such", map[string]interface{}{})
	assert.Error(t, err)

	_, err = svc.DecodeTokenPayload(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHash(t *testing.T) {
	ctx := context.Background()
	svc := NewJWTService(&config.JwtConfig{})

	hash, err := svc.EncryptPassword(ctx, "hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)

	ok, err := svc.VerifyPassword(ctx, hash, "hunter2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.VerifyPassword(ctx, hash, "hunter3")
	assert.Error(t, err)
	assert.False(t, ok)
}
