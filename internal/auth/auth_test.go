package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"im-chat/internal/config"
)

type memoryBlacklist map[string]time.Time

func (m memoryBlacklist) Add(_ context.Context, jti string, exp time.Time) error {
	m[jti] = exp
	return nil
}

func (m memoryBlacklist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	_, ok := m[jti]
	return ok, nil
}

func TestGenerateAndValidateToken(t *testing.T) {
	cfg := config.AuthConfig{JWTSecretKey: "secret", JWTExpiry: time.Hour}
	token, err := GenerateToken(42, "a@example.com", cfg)
	require.NoError(t, err)

	claims, err := ValidateToken(context.Background(), token, "secret", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 42, claims.UserID)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.NotEmpty(t, claims.ID)

	_, err = ValidateToken(context.Background(), token, "other", nil)
	assert.Error(t, err)
}

func TestRevokedTokenIsRejected(t *testing.T) {
	cfg := config.AuthConfig{JWTSecretKey: "secret", JWTExpiry: time.Hour}
	token, err := GenerateToken(1, "a@example.com", cfg)
	require.NoError(t, err)

	bl := memoryBlacklist{}
	claims, err := ValidateToken(context.Background(), token, "secret", bl)
	require.NoError(t, err)
	require.NoError(t, Revoke(context.Background(), bl, claims))
	assert.Equal(t, claims.ExpiresAt.Time, bl[claims.ID])

	_, err = ValidateToken(context.Background(), token, "secret", bl)
	assert.ErrorIs(t, err, ErrTokenRevoked)

	claims.ID = ""
	assert.ErrorIs(t, Revoke(context.Background(), bl, claims), ErrNotRevocable)
}

func TestClaimsIssuedBefore(t *testing.T) {
	cfg := config.AuthConfig{JWTSecretKey: "secret", JWTExpiry: time.Hour}
	token, err := GenerateToken(1, "a@example.com", cfg)
	require.NoError(t, err)
	claims, err := ValidateToken(context.Background(), token, "secret", nil)
	require.NoError(t, err)

	now := time.Now()
	assert.True(t, claims.IssuedBefore(now.Add(2*time.Second)))
	assert.False(t, claims.IssuedBefore(now.Add(-2*time.Second)))
	// iat 只有秒精度，同一秒内的改密不使令牌失效
	assert.False(t, claims.IssuedBefore(claims.IssuedAt.Time.Add(500*time.Millisecond)))

	claims.IssuedAt = nil
	assert.True(t, claims.IssuedBefore(now))
}

func TestExpiredTokenIsRejected(t *testing.T) {
	cfg := config.AuthConfig{JWTSecretKey: "secret", JWTExpiry: -time.Minute}
	token, err := GenerateToken(1, "a@example.com", cfg)
	require.NoError(t, err)

	_, err = ValidateToken(context.Background(), token, "secret", nil)
	assert.Error(t, err)
}

func TestOTPRoundTrip(t *testing.T) {
	otp, err := GenerateOTP()
	require.NoError(t, err)
	assert.Len(t, otp, OTPLength)

	hash, err := HashOTP(otp)
	require.NoError(t, err)
	assert.True(t, CheckOTP(otp, hash))
	assert.False(t, CheckOTP("not-it", hash))
	assert.False(t, CheckOTP(otp, ""))
}

func TestResetTokenHash(t *testing.T) {
	token, hash, err := GenerateResetToken()
	require.NoError(t, err)
	assert.Len(t, token, 64)
	assert.Equal(t, hash, HashResetToken(token))
	assert.NotEqual(t, token, hash)
}
