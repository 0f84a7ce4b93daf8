package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"im-chat/internal/models"
)

const presenceKeyPrefix = "presence:"

// 只删除本实例写入的键，避免覆盖用户在其他实例上的新连接
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// PresenceMirror 把在线状态镜像到 Redis：presence:<userId> -> 实例 ID。
// 键带 TTL，实例崩溃后会自然过期；Refresh 在连接存活期间续期。
// 这份数据只供外部工具读取，投递永远以本进程的注册表为准。
type PresenceMirror struct {
	client     *redis.Client
	instanceID string
	ttl        time.Duration
}

// NewPresenceMirror creates a mirror writing under instanceID.
func NewPresenceMirror(client *redis.Client, instanceID string, ttl time.Duration) *PresenceMirror {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &PresenceMirror{client: client, instanceID: instanceID, ttl: ttl}
}

func presenceKey(userID uint) string {
	return fmt.Sprintf("%s%d", presenceKeyPrefix, userID)
}

// PresenceChanged implements presence.Observer.
func (m *PresenceMirror) PresenceChanged(ctx context.Context, userID uint, status models.UserStatus) error {
	key := presenceKey(userID)
	if status == models.UserStatusOnline {
		return m.client.Set(ctx, key, m.instanceID, m.ttl).Err()
	}

	return releaseScript.Run(ctx, m.client, []string{key}, m.instanceID).Err()
}

// Lookup returns the instance holding userID, or "" when the user is offline.
func (m *PresenceMirror) Lookup(ctx context.Context, userID uint) (string, error) {
	owner, err := m.client.Get(ctx, presenceKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return owner, err
}

// Refresh extends the TTL of every given user's key.
func (m *PresenceMirror) Refresh(ctx context.Context, userIDs []uint) error {
	if len(userIDs) == 0 {
		return nil
	}
	pipe := m.client.Pipeline()
	for _, id := range userIDs {
		pipe.Set(ctx, presenceKey(id), m.instanceID, m.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Run refreshes the keys of online() every ttl/2 until ctx is done.
func (m *PresenceMirror) Run(ctx context.Context, online func() []uint) {
	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Refresh(ctx, online()); err != nil {
				log.Printf("警告: 刷新 Redis 在线状态失败: %v", err)
			}
		}
	}
}
