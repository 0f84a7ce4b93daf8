package storage

import (
	"context"

	"gorm.io/gorm"

	"im-chat/internal/models"
)

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByResetHash(ctx context.Context, hash string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error
	UpdateStatus(ctx context.Context, id uint, status models.UserStatus) error
	CountExisting(ctx context.Context, ids ...uint) (int64, error)
	GetMultipleBasicInfoByIDs(ctx context.Context, userIDs []uint) ([]models.UserBasicInfo, error)
	// ListVerifiedExcept 返回已验证且不在 excludeIDs 中的用户（get-users 使用）
	ListVerifiedExcept(ctx context.Context, excludeIDs []uint) ([]models.UserBasicInfo, error)
	GetDB() *gorm.DB
}

// gormUserRepository implements UserRepository using GORM.
type gormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GORM-based UserRepository.
func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

var basicInfoColumns = []string{"id", "first_name", "last_name", "email", "status"}

// Create creates a new user record in the database.
func (r *gormUserRepository) Create(ctx context.Context, user *models.User) error {
	return withRetry(ctx, r.db, func() error {
		return r.db.WithContext(ctx).Create(user).Error
	})
}

// GetByID retrieves a user by their ID.
func (r *gormUserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := withRetry(ctx, r.db, func() error {
		return r.db.WithContext(ctx).First(&user, id).Error
	})
	if err != nil {
		return nil, err // Handles gorm.ErrRecordNotFound as well
	}
	return &user, nil
}

// GetByEmail retrieves a user by their email.
func (r *gormUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := withRetry(ctx, r.db, func() error {
		return r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByResetHash finds the user holding a password reset token hash.
func (r *gormUserRepository) GetByResetHash(ctx context.Context, hash string) (*models.User, error) {
	var user models.User
	err := withRetry(ctx, r.db, func() error {
		return r.db.WithContext(ctx).Where("password_reset_hash = ?", hash).First(&user).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Update saves every column of user.
func (r *gormUserRepository) Update(ctx context.Context, user *models.User) error {
	if user.ID == 0 {
		return gorm.ErrMissingWhereClause
	}
	return withRetry(ctx, r.db, func() error {
		return r.db.WithContext(ctx).Save(user).Error
	})
}

// UpdateFields updates only the given columns, zero values included.
func (r *gormUserRepository) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return withRetry(ctx, r.db, func() error {
		res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// UpdateStatus 写入展示用的在线状态，不更新 updated_at。
func (r *gormUserRepository) UpdateStatus(ctx context.Context, id uint, status models.UserStatus) error {
	return withRetry(ctx, r.db, func() error {
		return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).UpdateColumn("status", status).Error
	})
}

// CountExisting returns how many of ids belong to existing users.
func (r *gormUserRepository) CountExisting(ctx context.Context, ids ...uint) (int64, error) {
	var count int64
	err := withRetry(ctx, r.db, func() error {
		return r.db.WithContext(ctx).Model(&models.User{}).Where("id IN ?", ids).Count(&count).Error
	})
	return count, err
}

// GetMultipleBasicInfoByIDs retrieves minimal public user info for multiple user IDs.
func (r *gormUserRepository) GetMultipleBasicInfoByIDs(ctx context.Context, userIDs []uint) ([]models.UserBasicInfo, error) {
	if len(userIDs) == 0 {
		return []models.UserBasicInfo{}, nil
	}
	var infos []models.UserBasicInfo
	err := withRetry(ctx, r.db, func() error {
		infos = nil
		return r.db.WithContext(ctx).
			Model(&models.User{}).
			Select(basicInfoColumns).
			Where("id IN ?", userIDs).
			Order("id ASC").
			Find(&infos).Error
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// ListVerifiedExcept returns verified users whose id is not in excludeIDs.
func (r *gormUserRepository) ListVerifiedExcept(ctx context.Context, excludeIDs []uint) ([]models.UserBasicInfo, error) {
	var infos []models.UserBasicInfo
	err := withRetry(ctx, r.db, func() error {
		infos = nil
		q := r.db.WithContext(ctx).
			Model(&models.User{}).
			Select(basicInfoColumns).
			Where("verified = ?", true)
		if len(excludeIDs) > 0 {
			q = q.Where("id NOT IN ?", excludeIDs)
		}
		return q.Order("id ASC").Find(&infos).Error
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// GetDB returns the underlying gorm.DB instance.
func (r *gormUserRepository) GetDB() *gorm.DB {
	return r.db
}
