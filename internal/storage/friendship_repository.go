package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"im-chat/internal/models"
)

// ErrSelfFriendship is returned when both ends of a friendship are the same user.
var ErrSelfFriendship = errors.New("cannot befriend oneself")

// FriendshipRepository defines the interface for friendship data operations.
type FriendshipRepository interface {
	// CreateIfAbsent 插入规范顺序的好友关系，已存在时不报错，返回是否新建
	CreateIfAbsent(ctx context.Context, userA, userB uint) (bool, error)
	AreFriends(ctx context.Context, userA, userB uint) (bool, error)
	GetFriendIDs(ctx context.Context, userID uint) ([]uint, error)
}

type gormFriendshipRepository struct {
	db *gorm.DB
}

// NewGormFriendshipRepository creates a new GormFriendshipRepository.
func NewGormFriendshipRepository(db *gorm.DB) FriendshipRepository {
	return &gormFriendshipRepository{db: db}
}

// CreateIfAbsent inserts the pair row with ON CONFLICT DO NOTHING.
func (r *gormFriendshipRepository) CreateIfAbsent(ctx context.Context, userA, userB uint) (bool, error) {
	if userA == userB {
		return false, ErrSelfFriendship
	}
	var created bool
	err := withRetry(ctx, r.db, func() error {
		res := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(models.NewFriendship(userA, userB))
		created = res.RowsAffected > 0
		return res.Error
	})
	return created, err
}

// AreFriends checks if two users are already friends.
func (r *gormFriendshipRepository) AreFriends(ctx context.Context, userA, userB uint) (bool, error) {
	low, high := models.OrderedPair(userA, userB)
	var count int64
	err := withRetry(ctx, r.db, func() error {
		return r.db.WithContext(ctx).Model(&models.Friendship{}).
			Where("user_low_id = ? AND user_high_id = ?", low, high).
			Count(&count).Error
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetFriendIDs retrieves a list of user IDs who are friends with the given userID.
func (r *gormFriendshipRepository) GetFriendIDs(ctx context.Context, userID uint) ([]uint, error) {
	var friendIDs []uint
	err := withRetry(ctx, r.db, func() error {
		// 用户可能在 low 或 high 一侧，分两次取出另一侧的 ID
		var lowSide, highSide []uint
		if err := r.db.WithContext(ctx).Model(&models.Friendship{}).
			Where("user_low_id = ?", userID).
			Pluck("user_high_id", &lowSide).Error; err != nil {
			return err
		}
		if err := r.db.WithContext(ctx).Model(&models.Friendship{}).
			Where("user_high_id = ?", userID).
			Pluck("user_low_id", &highSide).Error; err != nil {
			return err
		}
		friendIDs = append(lowSide, highSide...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return friendIDs, nil
}
