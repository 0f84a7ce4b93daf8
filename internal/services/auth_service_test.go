package services

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"im-chat/internal/apperr"
	"im-chat/internal/auth"
	"im-chat/internal/config"
	"im-chat/internal/mailer"
	"im-chat/internal/storage"
	"im-chat/internal/storage/storagetest"
)

type captureMailer struct {
	mu   sync.Mutex
	sent []mailer.Email
}

func (c *captureMailer) Send(_ context.Context, email mailer.Email) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, email)
	return nil
}

func (c *captureMailer) last() mailer.Email {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[len(c.sent)-1]
}

var otpPattern = regexp.MustCompile(`\b\d{6}\b`)

func newTestAuthService(t *testing.T) (*authService, *captureMailer, *time.Time) {
	t.Helper()
	db := storagetest.NewDB(t)
	m := &captureMailer{}
	cfg := config.AuthConfig{
		JWTSecretKey:  "test-secret",
		JWTExpiry:     time.Hour,
		OTPTTL:        10 * time.Minute,
		ResetTokenTTL: 10 * time.Minute,
		ResetURLBase:  "https://chat.example.com/reset",
	}
	svc := NewAuthService(storage.NewGormUserRepository(db), m, cfg).(*authService)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, m, &now
}

func TestRegisterVerifyLogin(t *testing.T) {
	svc, m, _ := newTestAuthService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{FirstName: "Alice", LastName: "A", Email: "Alice@Example.com", Password: "pw123456"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, "pw123456", user.PasswordHash)

	otp := otpPattern.FindString(m.last().Text)
	require.NotEmpty(t, otp)

	_, _, err = svc.VerifyOTP(ctx, user.Email, "000000x")
	assert.ErrorIs(t, err, ErrOTPInvalid)

	token, verified, err := svc.VerifyOTP(ctx, user.Email, otp)
	require.NoError(t, err)
	assert.True(t, verified.Verified)
	claims, err := auth.ValidateToken(ctx, token, "test-secret", nil)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	_, err = svc.Register(ctx, RegisterInput{FirstName: "Alice", LastName: "A", Email: "alice@example.com", Password: "x"})
	assert.ErrorIs(t, err, ErrEmailInUse)

	_, _, err = svc.Login(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody@example.com", "pw123456")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	token, _, err = svc.Login(ctx, "alice@example.com", "pw123456")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestRegisterRejectsMalformedEmail(t *testing.T) {
	svc, m, _ := newTestAuthService(t)
	ctx := context.Background()

	for _, email := range []string{"not-an-email", "a@", "@example.com", "two words@example.com"} {
		user, err := svc.Register(ctx, RegisterInput{FirstName: "Dan", LastName: "D", Email: email, Password: "pw"})
		assert.Nil(t, user, email)
		assert.ErrorIs(t, err, ErrInvalidEmail, email)
		assert.True(t, apperr.Is(err, apperr.CodeInvalidRequest), email)
	}
	assert.Empty(t, m.sent)
}

func TestOTPExpiresLazily(t *testing.T) {
	svc, m, now := newTestAuthService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{FirstName: "Bob", LastName: "B", Email: "bob@example.com", Password: "pw"})
	require.NoError(t, err)
	otp := otpPattern.FindString(m.last().Text)

	*now = now.Add(10*time.Minute + time.Second)
	_, _, err = svc.VerifyOTP(ctx, user.Email, otp)
	assert.True(t, apperr.Is(err, apperr.CodeExpired))

	// 重新发送后可以验证
	require.NoError(t, svc.SendOTP(ctx, user.ID))
	otp = otpPattern.FindString(m.last().Text)
	_, _, err = svc.VerifyOTP(ctx, user.Email, otp)
	assert.NoError(t, err)
}

func TestForgotAndResetPassword(t *testing.T) {
	svc, _, now := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{FirstName: "Carol", LastName: "C", Email: "carol@example.com", Password: "old"})
	require.NoError(t, err)

	_, err = svc.ForgotPassword(ctx, "missing@example.com")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	token, err := svc.ForgotPassword(ctx, "carol@example.com")
	require.NoError(t, err)

	_, _, err = svc.ResetPassword(ctx, "bogus", "new")
	assert.ErrorIs(t, err, ErrResetTokenInvalid)

	jwtToken, _, err := svc.ResetPassword(ctx, token, "new")
	require.NoError(t, err)
	assert.NotEmpty(t, jwtToken)

	_, _, err = svc.Login(ctx, "carol@example.com", "new")
	assert.NoError(t, err)

	// 令牌只能使用一次
	_, _, err = svc.ResetPassword(ctx, token, "again")
	assert.ErrorIs(t, err, ErrResetTokenInvalid)

	token, err = svc.ForgotPassword(ctx, "carol@example.com")
	require.NoError(t, err)
	*now = now.Add(11 * time.Minute)
	_, _, err = svc.ResetPassword(ctx, token, "later")
	assert.ErrorIs(t, err, ErrResetTokenExpired)
}
