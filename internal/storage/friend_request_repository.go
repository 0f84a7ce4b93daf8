package storage

import (
	"context"

	"gorm.io/gorm"

	"im-chat/internal/models"
)

// FriendRequestRepository defines the interface for friend request data operations.
type FriendRequestRepository interface {
	Create(ctx context.Context, request *models.FriendRequest) error
	GetByID(ctx context.Context, id uint) (*models.FriendRequest, error)
	// Delete 删除请求并返回受影响的行数，调用方据此判断并发接受
	Delete(ctx context.Context, id uint) (int64, error)
	ListForRecipient(ctx context.Context, recipientID uint) ([]models.FriendRequest, error)
}

type gormFriendRequestRepository struct {
	db *gorm.DB
}

// NewGormFriendRequestRepository creates a new GormFriendRequestRepository.
func NewGormFriendRequestRepository(db *gorm.DB) FriendRequestRepository {
	return &gormFriendRequestRepository{db: db}
}

// Create creates a new friend request in the database.
func (r *gormFriendRequestRepository) Create(ctx context.Context, request *models.FriendRequest) error {
	return withRetry(ctx, r.db, func() error {
		return r.db.WithContext(ctx).Create(request).Error
	})
}

// GetByID retrieves a friend request by its ID.
func (r *gormFriendRequestRepository) GetByID(ctx context.Context, id uint) (*models.FriendRequest, error) {
	var request models.FriendRequest
	err := withRetry(ctx, r.db, func() error {
		return r.db.WithContext(ctx).First(&request, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// Delete hard-deletes the request. Accepted requests do not linger.
func (r *gormFriendRequestRepository) Delete(ctx context.Context, id uint) (int64, error) {
	var affected int64
	err := withRetry(ctx, r.db, func() error {
		res := r.db.WithContext(ctx).Delete(&models.FriendRequest{}, id)
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

// ListForRecipient lists requests addressed to recipientID, oldest first.
func (r *gormFriendRequestRepository) ListForRecipient(ctx context.Context, recipientID uint) ([]models.FriendRequest, error) {
	var requests []models.FriendRequest
	err := withRetry(ctx, r.db, func() error {
		requests = nil
		return r.db.WithContext(ctx).
			Where("recipient_id = ?", recipientID).
			Order("created_at ASC, id ASC").
			Find(&requests).Error
	})
	return requests, err
}
