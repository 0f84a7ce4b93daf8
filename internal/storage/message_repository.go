package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"im-chat/internal/models"
)

// MessageRepository 定义了消息数据操作的接口。
type MessageRepository interface {
	// Append 在单个事务内为消息分配 seq 并写入，同时刷新会话的活跃时间。
	// 会话不存在时返回 gorm.ErrRecordNotFound。
	Append(ctx context.Context, message *models.Message) error
	// ListByConversation 按 seq 升序返回会话中的全部消息
	ListByConversation(ctx context.Context, conversationID uint) ([]models.Message, error)
}

// gormMessageRepository 使用 GORM 实现 MessageRepository。
type gormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建一个新的基于 GORM 的 MessageRepository。
func NewGormMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

// Append runs: lock the conversation row (SELECT ... FOR UPDATE, a no-op on
// sqlite which serializes writers anyway), bump its timestamps, read max(seq),
// insert with seq+1. The unique (conversation_id, seq) index backs the lock,
// so two writers can never share a position.
func (r *gormMessageRepository) Append(ctx context.Context, message *models.Message) error {
	return withRetry(ctx, r.db, func() error {
		// 重试时从干净状态开始
		message.ID = 0
		message.Seq = 0

		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var conversation models.Conversation
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Select("id").
				First(&conversation, message.ConversationID).Error; err != nil {
				return fmt.Errorf("锁定会话 %d 失败: %w", message.ConversationID, err)
			}

			// 同一毫秒内的两次追加写入相同的值，MySQL 会报告 0 行变更，所以这里不看 RowsAffected
			now := time.Now().UTC()
			if err := tx.Model(&models.Conversation{}).
				Where("id = ?", message.ConversationID).
				Updates(map[string]interface{}{"updated_at": now, "last_message_at": now}).Error; err != nil {
				return fmt.Errorf("刷新会话 %d 失败: %w", message.ConversationID, err)
			}

			var maxSeq uint64
			if err := tx.Model(&models.Message{}).
				Where("conversation_id = ?", message.ConversationID).
				Select("COALESCE(MAX(seq), 0)").
				Scan(&maxSeq).Error; err != nil {
				return fmt.Errorf("读取会话 %d 的序号失败: %w", message.ConversationID, err)
			}

			message.Seq = maxSeq + 1
			message.CreatedAt = now
			return tx.Create(message).Error
		})
	})
}

// ListByConversation 获取会话中的消息，按 seq 排序。
func (r *gormMessageRepository) ListByConversation(ctx context.Context, conversationID uint) ([]models.Message, error) {
	var messages []models.Message
	err := withRetry(ctx, r.db, func() error {
		messages = nil
		return r.db.WithContext(ctx).
			Where("conversation_id = ?", conversationID).
			Order("seq ASC").
			Find(&messages).Error
	})
	return messages, err
}
