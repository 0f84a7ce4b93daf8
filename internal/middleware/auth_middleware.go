package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"im-chat/internal/auth"
	"im-chat/internal/config"
	"im-chat/internal/models"
	"im-chat/internal/storage"
)

// contextKey 是用于在 context.Context 中存储值的自定义类型，以避免键冲突。
type contextKey string

// UserIDKey 是用于在上下文中存储用户ID的键。
const UserIDKey contextKey = "userID"

// ClaimsKey 保存完整的 JWT 声明，登出时需要 JTI 和过期时间。
const ClaimsKey contextKey = "claims"

// UserFinder 查询令牌所属的用户。
type UserFinder interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
}

// AuthMiddleware 验证 Bearer JWT（包括黑名单），并把用户信息放入上下文。
// blacklist 为 nil 时不检查吊销；users 不为 nil 时拒绝用户已删除或改密前签发的令牌。
func AuthMiddleware(authCfg config.AuthConfig, blacklist auth.TokenBlacklist, users UserFinder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeUnauthorized(w, "You are not logged in! Please log in to get access.")
				return
			}

			headerParts := strings.SplitN(authHeader, " ", 2)
			if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" || headerParts[1] == "" {
				writeUnauthorized(w, "授权头部格式无效，应为 Bearer {token}")
				return
			}

			claims, err := auth.ValidateToken(r.Context(), headerParts[1], authCfg.JWTSecretKey, blacklist)
			if err != nil {
				if errors.Is(err, auth.ErrTokenRevoked) {
					writeUnauthorized(w, "令牌已失效，请重新登录")
					return
				}
				log.Printf("令牌验证失败: %v", err)
				writeUnauthorized(w, "令牌无效")
				return
			}

			if users != nil {
				user, err := users.GetByID(r.Context(), claims.UserID)
				if err != nil {
					if storage.IsNotFound(err) {
						writeUnauthorized(w, "The user belonging to this token no longer exists.")
						return
					}
					log.Printf("错误: 查询令牌用户 %d 失败: %v", claims.UserID, err)
					writeStatus(w, http.StatusInternalServerError, "服务器内部错误")
					return
				}
				if user.PasswordChangedAt != nil && claims.IssuedBefore(*user.PasswordChangedAt) {
					writeUnauthorized(w, "User recently changed password! Please log in again.")
					return
				}
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserIDFromContext 从上下文中获取用户ID。
// 如果用户ID不存在或类型不正确，返回0和false。
func GetUserIDFromContext(ctx context.Context) (uint, bool) {
	userID, ok := ctx.Value(UserIDKey).(uint)
	return userID, ok
}

// GetClaimsFromContext 从上下文中获取 JWT 声明。
func GetClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeStatus(w, http.StatusUnauthorized, message)
}

func writeStatus(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": message})
}
