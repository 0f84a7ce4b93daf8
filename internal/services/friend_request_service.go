package services

import (
	"context"
	"log"

	"gorm.io/gorm"

	"im-chat/internal/apperr"
	"im-chat/internal/models"
	"im-chat/internal/storage"
)

var (
	ErrFriendRequestSelf     = apperr.InvalidRequest("不能添加自己为好友")
	ErrUserNotFound          = apperr.NotFound("用户不存在")
	ErrFriendRequestNotFound = apperr.NotFound("好友请求不存在")
	ErrNotRecipientOfRequest = apperr.Forbidden("您不是此好友请求的接收者")
)

// FriendRequestService drives None -> Pending -> Friends.
type FriendRequestService interface {
	// SendRequest 创建一条待处理请求。不检查重复请求。
	SendRequest(ctx context.Context, from, to uint) (*models.FriendRequest, error)
	// AcceptRequest 在一个事务中建立好友关系并删除请求。
	// actorID 为 0 时不校验接受者身份。
	AcceptRequest(ctx context.Context, requestID, actorID uint) (*models.FriendRequest, error)
	ListPending(ctx context.Context, userID uint) ([]models.FriendRequestWithSender, error)
	ListFriends(ctx context.Context, userID uint) ([]models.UserBasicInfo, error)
	FriendIDs(ctx context.Context, userID uint) ([]uint, error)
	AreFriends(ctx context.Context, userA, userB uint) (bool, error)
}

type friendRequestService struct {
	db             *gorm.DB
	userRepo       storage.UserRepository
	requestRepo    storage.FriendRequestRepository
	friendshipRepo storage.FriendshipRepository
}

// NewFriendRequestService creates a new FriendRequestService instance.
func NewFriendRequestService(
	db *gorm.DB,
	userRepo storage.UserRepository,
	requestRepo storage.FriendRequestRepository,
	friendshipRepo storage.FriendshipRepository,
) FriendRequestService {
	return &friendRequestService{
		db:             db,
		userRepo:       userRepo,
		requestRepo:    requestRepo,
		friendshipRepo: friendshipRepo,
	}
}

func (s *friendRequestService) SendRequest(ctx context.Context, from, to uint) (*models.FriendRequest, error) {
	if from == 0 || to == 0 {
		return nil, apperr.InvalidRequest("缺少 from 或 to")
	}
	if from == to {
		return nil, ErrFriendRequestSelf
	}

	n, err := s.userRepo.CountExisting(ctx, from, to)
	if err != nil {
		return nil, storeError("检查用户时出错", err, nil)
	}
	if n != 2 {
		return nil, ErrUserNotFound
	}

	request := &models.FriendRequest{SenderID: from, RecipientID: to}
	if err := s.requestRepo.Create(ctx, request); err != nil {
		log.Printf("错误: 保存好友请求 (%d -> %d) 失败: %v", from, to, err)
		return nil, storeError("保存好友请求失败", err, nil)
	}
	log.Printf("好友请求 %d 已创建: %d -> %d", request.ID, from, to)
	return request, nil
}

func (s *friendRequestService) AcceptRequest(ctx context.Context, requestID, actorID uint) (*models.FriendRequest, error) {
	if requestID == 0 {
		return nil, apperr.InvalidRequest("缺少 request_id")
	}

	var accepted *models.FriendRequest
	err := storage.Retry(ctx, func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			txRequestRepo := storage.NewGormFriendRequestRepository(tx)
			txFriendshipRepo := storage.NewGormFriendshipRepository(tx)

			request, err := txRequestRepo.GetByID(ctx, requestID)
			if err != nil {
				return storeError("读取好友请求失败", err, ErrFriendRequestNotFound)
			}
			if actorID != 0 && request.RecipientID != actorID {
				return ErrNotRecipientOfRequest
			}

			if _, err := txFriendshipRepo.CreateIfAbsent(ctx, request.SenderID, request.RecipientID); err != nil {
				return err
			}

			// 并发接受同一请求时只有一个事务能删除到行
			deleted, err := txRequestRepo.Delete(ctx, request.ID)
			if err != nil {
				return err
			}
			if deleted == 0 {
				return ErrFriendRequestNotFound
			}

			accepted = request
			return nil
		})
	})
	if err != nil {
		return nil, storeError("接受好友请求失败", err, ErrFriendRequestNotFound)
	}

	log.Printf("好友请求 %d 已接受: 用户 %d 与 %d 成为好友", accepted.ID, accepted.SenderID, accepted.RecipientID)
	return accepted, nil
}

func (s *friendRequestService) ListPending(ctx context.Context, userID uint) ([]models.FriendRequestWithSender, error) {
	requests, err := s.requestRepo.ListForRecipient(ctx, userID)
	if err != nil {
		return nil, storeError("查询好友请求失败", err, nil)
	}
	if len(requests) == 0 {
		return []models.FriendRequestWithSender{}, nil
	}

	senderIDs := make([]uint, 0, len(requests))
	for _, r := range requests {
		senderIDs = append(senderIDs, r.SenderID)
	}
	infos, err := s.userRepo.GetMultipleBasicInfoByIDs(ctx, senderIDs)
	if err != nil {
		return nil, storeError("查询请求发送者失败", err, nil)
	}
	byID := make(map[uint]models.UserBasicInfo, len(infos))
	for _, info := range infos {
		byID[info.ID] = info
	}

	result := make([]models.FriendRequestWithSender, 0, len(requests))
	for _, r := range requests {
		item := models.FriendRequestWithSender{FriendRequest: r}
		if info, ok := byID[r.SenderID]; ok {
			info := info
			item.Sender = &info
		}
		result = append(result, item)
	}
	return result, nil
}

func (s *friendRequestService) ListFriends(ctx context.Context, userID uint) ([]models.UserBasicInfo, error) {
	ids, err := s.FriendIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	infos, err := s.userRepo.GetMultipleBasicInfoByIDs(ctx, ids)
	if err != nil {
		return nil, storeError("查询好友资料失败", err, nil)
	}
	return infos, nil
}

func (s *friendRequestService) FriendIDs(ctx context.Context, userID uint) ([]uint, error) {
	ids, err := s.friendshipRepo.GetFriendIDs(ctx, userID)
	if err != nil {
		return nil, storeError("查询好友列表失败", err, nil)
	}
	return ids, nil
}

func (s *friendRequestService) AreFriends(ctx context.Context, userA, userB uint) (bool, error) {
	ok, err := s.friendshipRepo.AreFriends(ctx, userA, userB)
	if err != nil {
		return false, storeError("检查好友关系时出错", err, nil)
	}
	return ok, nil
}
