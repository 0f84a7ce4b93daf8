package services

import (
	"context"

	"im-chat/internal/apperr"
	"im-chat/internal/models"
	"im-chat/internal/storage"
)

// ProfileUpdate 列出 update-me 允许修改的字段，nil 表示不修改。
type ProfileUpdate struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	About     *string `json:"about"`
	Avatar    *string `json:"avatar"`
}

// UserService 定义了用户相关服务的接口。
type UserService interface {
	GetMe(ctx context.Context, userID uint) (*models.User, error)
	UpdateMe(ctx context.Context, userID uint, update ProfileUpdate) (*models.User, error)
	// GetUsers 返回可以添加为好友的用户：已验证、不是好友、不是自己
	GetUsers(ctx context.Context, userID uint) ([]models.UserBasicInfo, error)
}

// userService 是 UserService 的实现。
type userService struct {
	userRepo       storage.UserRepository
	friendshipRepo storage.FriendshipRepository
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo storage.UserRepository, friendshipRepo storage.FriendshipRepository) UserService {
	return &userService{userRepo: userRepo, friendshipRepo: friendshipRepo}
}

// GetMe 获取当前用户的资料。
func (s *userService) GetMe(ctx context.Context, userID uint) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, storeError("获取用户失败", err, ErrUserNotFound)
	}
	return user, nil
}

// UpdateMe 只更新白名单字段。
func (s *userService) UpdateMe(ctx context.Context, userID uint, update ProfileUpdate) (*models.User, error) {
	fields := map[string]interface{}{}
	if update.FirstName != nil {
		if *update.FirstName == "" {
			return nil, apperr.InvalidRequest("firstName cannot be empty")
		}
		fields["first_name"] = *update.FirstName
	}
	if update.LastName != nil {
		if *update.LastName == "" {
			return nil, apperr.InvalidRequest("lastName cannot be empty")
		}
		fields["last_name"] = *update.LastName
	}
	if update.About != nil {
		fields["about"] = *update.About
	}
	if update.Avatar != nil {
		fields["avatar"] = *update.Avatar
	}

	if err := s.userRepo.UpdateFields(ctx, userID, fields); err != nil {
		return nil, storeError("更新用户资料失败", err, ErrUserNotFound)
	}
	return s.GetMe(ctx, userID)
}

func (s *userService) GetUsers(ctx context.Context, userID uint) ([]models.UserBasicInfo, error) {
	friendIDs, err := s.friendshipRepo.GetFriendIDs(ctx, userID)
	if err != nil {
		return nil, storeError("查询好友列表失败", err, nil)
	}
	exclude := append(friendIDs, userID)

	users, err := s.userRepo.ListVerifiedExcept(ctx, exclude)
	if err != nil {
		return nil, storeError("查询用户失败", err, nil)
	}
	if users == nil {
		users = []models.UserBasicInfo{}
	}
	return users, nil
}
