package services

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"im-chat/internal/apperr"
	"im-chat/internal/auth"
	"im-chat/internal/config"
	"im-chat/internal/mailer"
	"im-chat/internal/models"
	"im-chat/internal/storage"
)

var (
	ErrEmailInUse         = apperr.Conflict("Email is already in use, Please Login")
	ErrInvalidCredentials = apperr.Unauthenticated("Email or password is incorrect")
	ErrOTPInvalid         = apperr.InvalidRequest("OTP is incorrect")
	ErrOTPExpired         = apperr.Expired("OTP expired")
	ErrResetTokenInvalid  = apperr.InvalidRequest("Token is invalid")
	ErrResetTokenExpired  = apperr.Expired("Token expired")
)

// RegisterInput 是注册时允许写入的字段。
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// AuthService 定义了用户认证服务的接口。
type AuthService interface {
	// Register 创建或刷新未验证的用户并发送 OTP
	Register(ctx context.Context, in RegisterInput) (*models.User, error)
	SendOTP(ctx context.Context, userID uint) error
	VerifyOTP(ctx context.Context, email, otp string) (token string, user *models.User, err error)
	Login(ctx context.Context, email, password string) (token string, user *models.User, err error)
	// ForgotPassword 生成重置令牌并通过邮件发送，返回明文令牌
	ForgotPassword(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, token, password string) (string, *models.User, error)
}

// authService 是 AuthService 的实现。
type authService struct {
	userRepo storage.UserRepository
	mailer   mailer.Mailer
	cfg      config.AuthConfig
	now      func() time.Time
}

// NewAuthService 创建一个新的 AuthService 实例。
func NewAuthService(userRepo storage.UserRepository, m mailer.Mailer, cfg config.AuthConfig) AuthService {
	if m == nil {
		m = mailer.LogMailer{}
	}
	return &authService{
		userRepo: userRepo,
		mailer:   m,
		cfg:      cfg,
		now:      time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *authService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Email = normalizeEmail(in.Email)
	if in.FirstName == "" || in.LastName == "" || in.Email == "" || in.Password == "" {
		return nil, apperr.InvalidRequest("firstName, lastName, email and password are required")
	}
	if err := checkEmail(in.Email); err != nil {
		return nil, err
	}

	hashedPassword, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Internal("密码哈希失败", err)
	}

	existing, err := s.userRepo.GetByEmail(ctx, in.Email)
	if err != nil && !isNotFound(err) {
		return nil, storeError("检查邮箱时出错", err, nil)
	}

	var user *models.User
	switch {
	case existing != nil && existing.Verified:
		return nil, ErrEmailInUse
	case existing != nil:
		// 未验证的账号允许用新资料重新注册
		existing.FirstName = in.FirstName
		existing.LastName = in.LastName
		existing.PasswordHash = hashedPassword
		if err := s.userRepo.Update(ctx, existing); err != nil {
			return nil, storeError("更新用户失败", err, nil)
		}
		user = existing
	default:
		user = &models.User{
			FirstName:    in.FirstName,
			LastName:     in.LastName,
			Email:        in.Email,
			PasswordHash: hashedPassword,
			Status:       models.UserStatusOffline,
		}
		if err := s.userRepo.Create(ctx, user); err != nil {
			return nil, storeError("创建用户失败", err, nil)
		}
	}

	if err := s.SendOTP(ctx, user.ID); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *authService) SendOTP(ctx context.Context, userID uint) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return storeError("读取用户失败", err, ErrUserNotFound)
	}

	otp, err := auth.GenerateOTP()
	if err != nil {
		return apperr.Internal("生成 OTP 失败", err)
	}
	otpHash, err := auth.HashOTP(otp)
	if err != nil {
		return apperr.Internal("OTP 哈希失败", err)
	}
	expiresAt := s.now().Add(s.cfg.OTPTTL)

	if err := s.userRepo.UpdateFields(ctx, user.ID, map[string]interface{}{
		"otp_hash":       otpHash,
		"otp_expires_at": expiresAt,
	}); err != nil {
		return storeError("保存 OTP 失败", err, ErrUserNotFound)
	}

	if err := s.mailer.Send(ctx, mailer.OTPEmail(user.Email, user.FirstName, otp, s.cfg.OTPTTL)); err != nil {
		log.Printf("错误: 向 %s 发送 OTP 邮件失败: %v", user.Email, err)
		return apperr.Internal("发送 OTP 邮件失败", err)
	}
	return nil
}

func (s *authService) VerifyOTP(ctx context.Context, email, otp string) (string, *models.User, error) {
	user, err := s.userRepo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return "", nil, storeError("读取用户失败", err, apperr.InvalidRequest("Email is invalid or OTP expired"))
	}
	if user.OTPHash == "" || user.OTPExpiresAt == nil {
		return "", nil, apperr.InvalidRequest("Email is invalid or OTP expired")
	}
	// 过期在查询时惰性判断
	if !s.now().Before(*user.OTPExpiresAt) {
		return "", nil, ErrOTPExpired
	}
	if !auth.CheckOTP(otp, user.OTPHash) {
		return "", nil, ErrOTPInvalid
	}

	if err := s.userRepo.UpdateFields(ctx, user.ID, map[string]interface{}{
		"verified":       true,
		"otp_hash":       "",
		"otp_expires_at": nil,
	}); err != nil {
		return "", nil, storeError("更新用户失败", err, ErrUserNotFound)
	}
	user.Verified = true
	user.OTPHash = ""
	user.OTPExpiresAt = nil

	token, err := auth.GenerateToken(user.ID, user.Email, s.cfg)
	if err != nil {
		return "", nil, apperr.Internal("生成令牌失败", err)
	}
	return token, user, nil
}

func (s *authService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	if email == "" || password == "" {
		return "", nil, apperr.InvalidRequest("Both email and password are required")
	}
	user, err := s.userRepo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return "", nil, storeError("读取用户失败", err, ErrInvalidCredentials)
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	token, err := auth.GenerateToken(user.ID, user.Email, s.cfg)
	if err != nil {
		return "", nil, apperr.Internal("生成令牌失败", err)
	}
	return token, user, nil
}

func (s *authService) ForgotPassword(ctx context.Context, email string) (string, error) {
	user, err := s.userRepo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return "", storeError("读取用户失败", err, apperr.NotFound("There is no user with email address"))
	}

	token, hash, err := auth.GenerateResetToken()
	if err != nil {
		return "", apperr.Internal("生成重置令牌失败", err)
	}
	if err := s.userRepo.UpdateFields(ctx, user.ID, map[string]interface{}{
		"password_reset_hash":    hash,
		"password_reset_expires": s.now().Add(s.cfg.ResetTokenTTL),
	}); err != nil {
		return "", storeError("保存重置令牌失败", err, ErrUserNotFound)
	}

	resetURL := fmt.Sprintf("%s?token=%s", s.cfg.ResetURLBase, url.QueryEscape(token))
	if err := s.mailer.Send(ctx, mailer.ResetPasswordEmail(user.Email, user.FirstName, resetURL, s.cfg.ResetTokenTTL)); err != nil {
		log.Printf("错误: 向 %s 发送重置邮件失败: %v", user.Email, err)
		// 发送失败时作废令牌
		_ = s.userRepo.UpdateFields(ctx, user.ID, map[string]interface{}{
			"password_reset_hash":    "",
			"password_reset_expires": nil,
		})
		return "", apperr.Internal("发送重置邮件失败", err)
	}
	return token, nil
}

func (s *authService) ResetPassword(ctx context.Context, token, password string) (string, *models.User, error) {
	if token == "" || password == "" {
		return "", nil, apperr.InvalidRequest("token and password are required")
	}
	user, err := s.userRepo.GetByResetHash(ctx, auth.HashResetToken(token))
	if err != nil {
		return "", nil, storeError("读取用户失败", err, ErrResetTokenInvalid)
	}
	if user.PasswordResetExpires == nil || !s.now().Before(*user.PasswordResetExpires) {
		return "", nil, ErrResetTokenExpired
	}

	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return "", nil, apperr.Internal("密码哈希失败", err)
	}
	changedAt := s.now()
	if err := s.userRepo.UpdateFields(ctx, user.ID, map[string]interface{}{
		"password_hash":          hashedPassword,
		"password_changed_at":    changedAt,
		"password_reset_hash":    "",
		"password_reset_expires": nil,
	}); err != nil {
		return "", nil, storeError("更新密码失败", err, ErrUserNotFound)
	}
	user.PasswordHash = hashedPassword
	user.PasswordChangedAt = &changedAt

	jwtToken, err := auth.GenerateToken(user.ID, user.Email, s.cfg)
	if err != nil {
		return "", nil, apperr.Internal("生成令牌失败", err)
	}
	return jwtToken, user, nil
}
