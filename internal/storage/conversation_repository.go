package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"im-chat/internal/models"
)

// ErrSelfConversation is returned when both participants are the same user.
var ErrSelfConversation = errors.New("conversation requires two distinct users")

// ConversationRepository 定义了会话数据操作的接口。
type ConversationRepository interface {
	// FindOrCreateByPair 原子地查找或创建两个用户之间的会话，返回会话与是否新建
	FindOrCreateByPair(ctx context.Context, userA, userB uint) (*models.Conversation, bool, error)
	GetByID(ctx context.Context, id uint) (*models.Conversation, error)
	GetByPair(ctx context.Context, userA, userB uint) (*models.Conversation, error)
	// ListForUser 返回用户参与的所有会话，最近活跃的在前
	ListForUser(ctx context.Context, userID uint) ([]models.Conversation, error)
	GetDB() *gorm.DB
}

// gormConversationRepository 使用 GORM 实现 ConversationRepository。
type gormConversationRepository struct {
	db *gorm.DB
}

// NewGormConversationRepository 创建一个新的基于 GORM 的 ConversationRepository。
func NewGormConversationRepository(db *gorm.DB) ConversationRepository {
	return &gormConversationRepository{db: db}
}

// FindOrCreateByPair inserts the normalised pair with ON CONFLICT DO NOTHING
// and then reads it back, so concurrent callers all end up with the same row.
func (r *gormConversationRepository) FindOrCreateByPair(ctx context.Context, userA, userB uint) (*models.Conversation, bool, error) {
	if userA == userB {
		return nil, false, ErrSelfConversation
	}
	low, high := models.OrderedPair(userA, userB)

	var conversation models.Conversation
	var created bool
	err := withRetry(ctx, r.db, func() error {
		candidate := models.Conversation{UserLowID: low, UserHighID: high}
		res := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_low_id"}, {Name: "user_high_id"}},
				DoNothing: true,
			}).
			Create(&candidate)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected > 0

		conversation = models.Conversation{}
		return r.db.WithContext(ctx).
			Where("user_low_id = ? AND user_high_id = ?", low, high).
			First(&conversation).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &conversation, created, nil
}

// GetByID 通过ID检索会话。
func (r *gormConversationRepository) GetByID(ctx context.Context, id uint) (*models.Conversation, error) {
	var conversation models.Conversation
	err := withRetry(ctx, r.db, func() error {
		return r.db.WithContext(ctx).First(&conversation, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

// GetByPair 查找两个用户之间已存在的会话。
func (r *gormConversationRepository) GetByPair(ctx context.Context, userA, userB uint) (*models.Conversation, error) {
	low, high := models.OrderedPair(userA, userB)
	var conversation models.Conversation
	err := withRetry(ctx, r.db, func() error {
		return r.db.WithContext(ctx).
			Where("user_low_id = ? AND user_high_id = ?", low, high).
			First(&conversation).Error
	})
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

// ListForUser 获取用户参与的所有会话列表。
func (r *gormConversationRepository) ListForUser(ctx context.Context, userID uint) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := withRetry(ctx, r.db, func() error {
		conversations = nil
		return r.db.WithContext(ctx).
			Where("user_low_id = ? OR user_high_id = ?", userID, userID).
			Order("updated_at DESC, id DESC").
			Find(&conversations).Error
	})
	return conversations, err
}

// GetDB 返回底层数据库连接，用于事务操作
func (r *gormConversationRepository) GetDB() *gorm.DB {
	return r.db
}
