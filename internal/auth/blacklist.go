package auth

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTokenRevoked 表示令牌已通过登出被吊销
	ErrTokenRevoked = errors.New("JWT 已被吊销")
	// ErrNotRevocable 表示令牌缺少 jti 或 exp，无法放入黑名单
	ErrNotRevocable = errors.New("JWT 缺少 JTI 或过期时间")
)

// TokenBlacklist stores revoked token ids until the token would have expired anyway.
type TokenBlacklist interface {
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}

// Revoke 把 claims 对应的令牌加入黑名单，直到它原本的过期时间。
func Revoke(ctx context.Context, blacklist TokenBlacklist, claims *Claims) error {
	if claims.ID == "" || claims.ExpiresAt == nil {
		return ErrNotRevocable
	}
	return blacklist.Add(ctx, claims.ID, claims.ExpiresAt.Time)
}

func checkRevoked(ctx context.Context, blacklist TokenBlacklist, claims *Claims) error {
	if claims.ID == "" {
		return fmt.Errorf("JWT 缺少 JTI (ID) 声明，无法检查黑名单")
	}
	revoked, err := blacklist.IsBlacklisted(ctx, claims.ID)
	if err != nil {
		return fmt.Errorf("检查 Token 黑名单失败: %w", err)
	}
	if revoked {
		return ErrTokenRevoked
	}
	return nil
}
