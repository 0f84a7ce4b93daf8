package apiserver

import (
	"errors"
	"log"
	"net/http"

	"im-chat/internal/apperr"
	"im-chat/internal/auth"
	"im-chat/internal/imtypes"
	"im-chat/internal/middleware"
	"im-chat/internal/services"
)

// AuthHandler 封装了认证相关的 HTTP 处理器方法。
type AuthHandler struct {
	AuthService    services.AuthService
	TokenBlacklist auth.TokenBlacklist
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。tokenBlacklist 可以为 nil，此时登出不可用。
func NewAuthHandler(authService services.AuthService, tokenBlacklist auth.TokenBlacklist) *AuthHandler {
	return &AuthHandler{
		AuthService:    authService,
		TokenBlacklist: tokenBlacklist,
	}
}

// RegisterRequest 是用户注册请求的结构体。
type RegisterRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// SendOTPRequest 指定需要重新发送 OTP 的用户。
type SendOTPRequest struct {
	UserID imtypes.ID `json:"userId"`
}

// VerifyOTPRequest 是验证 OTP 的请求体。
type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// LoginRequest 是用户登录请求的结构体。
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ForgotPasswordRequest 是忘记密码请求体。
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest 是重置密码请求体。
type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// Register 处理用户注册请求，成功后 OTP 已发送到邮箱。
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSONError(w, err)
		return
	}

	user, err := h.AuthService.Register(r.Context(), services.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "OTP sent successfully!", map[string]imtypes.ID{"userId": imtypes.ID(user.ID)})
}

// SendOTP 重新发送 OTP。
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req SendOTPRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSONError(w, err)
		return
	}
	if req.UserID == 0 {
		writeJSONError(w, apperr.InvalidRequest("userId is required"))
		return
	}
	if err := h.AuthService.SendOTP(r.Context(), req.UserID.Uint()); err != nil {
		writeJSONError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "OTP sent successfully!", nil)
}

// VerifyOTP 校验 OTP，成功后账号被标记为已验证并返回 JWT。
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req VerifyOTPRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSONError(w, err)
		return
	}
	token, user, err := h.AuthService.VerifyOTP(r.Context(), req.Email, req.OTP)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, Response{
		Status:  "success",
		Message: "OTP verified successfully!",
		Token:   token,
		Data:    user,
	})
}

// Login 处理用户登录请求。
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSONError(w, err)
		return
	}
	token, user, err := h.AuthService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, Response{
		Status:  "success",
		Message: "Logged in successfully",
		Token:   token,
		Data:    user,
	})
}

// ForgotPassword 发送重置密码邮件。令牌只通过邮件下发。
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSONError(w, err)
		return
	}
	if _, err := h.AuthService.ForgotPassword(r.Context(), req.Email); err != nil {
		writeJSONError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Token sent to email!", nil)
}

// ResetPassword 使用重置令牌设置新密码并返回新的 JWT。
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSONError(w, err)
		return
	}
	token, _, err := h.AuthService.ResetPassword(r.Context(), req.Token, req.Password)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, Response{
		Status:  "success",
		Message: "Password Reseted Successfully",
		Token:   token,
	})
}

// Logout 将当前 Token 加入黑名单。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaimsFromContext(r.Context())
	if !ok {
		writeJSONError(w, errNoUserInContext)
		return
	}
	if h.TokenBlacklist == nil {
		writeJSONError(w, apperr.Internal("登出不可用", nil))
		return
	}

	if err := auth.Revoke(r.Context(), h.TokenBlacklist, claims); err != nil {
		if errors.Is(err, auth.ErrNotRevocable) {
			writeJSONError(w, apperr.InvalidRequest("Token 缺少 JTI 或过期时间，无法执行登出"))
			return
		}
		log.Printf("将 Token 加入黑名单失败: %v", err)
		writeJSONError(w, apperr.Internal("登出过程中发生内部错误", err))
		return
	}
	writeSuccess(w, http.StatusOK, "登出成功", nil)
}
