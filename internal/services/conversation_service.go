package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"golang.org/x/sync/singleflight"

	"im-chat/internal/apperr"
	"im-chat/internal/models"
	"im-chat/internal/storage"
)

var (
	ErrConversationNotFound = apperr.NotFound("会话不存在")
	ErrConversationSelf     = apperr.InvalidRequest("不能与自己创建会话")
	ErrNotParticipant       = apperr.InvalidRequest("发送者或接收者不是该会话的参与者")
	ErrInvalidMessageType   = apperr.InvalidRequest("无效的消息类型")
)

// ConversationService 管理一对一会话及其只追加的消息序列。
type ConversationService interface {
	// GetOrCreate 返回两个用户之间唯一的会话，以及它是否由本次调用创建
	GetOrCreate(ctx context.Context, userA, userB uint) (*models.Conversation, bool, error)
	Get(ctx context.Context, conversationID uint) (*models.Conversation, error)
	AppendMessage(ctx context.Context, conversationID uint, message *models.Message) (*models.Message, error)
	FetchMessages(ctx context.Context, conversationID uint) ([]models.Message, error)
	FetchConversationsForUser(ctx context.Context, userID uint) ([]models.ConversationView, error)
	// View joins a conversation with its participants' profiles.
	View(ctx context.Context, conversation *models.Conversation) (*models.ConversationView, error)
}

type conversationService struct {
	userRepo         storage.UserRepository
	conversationRepo storage.ConversationRepository
	messageRepo      storage.MessageRepository
	creating         singleflight.Group
}

// NewConversationService creates a new ConversationService.
func NewConversationService(
	userRepo storage.UserRepository,
	conversationRepo storage.ConversationRepository,
	messageRepo storage.MessageRepository,
) ConversationService {
	return &conversationService{
		userRepo:         userRepo,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
	}
}

type getOrCreateResult struct {
	conversation *models.Conversation
	created      bool
}

func (s *conversationService) GetOrCreate(ctx context.Context, userA, userB uint) (*models.Conversation, bool, error) {
	if userA == 0 || userB == 0 {
		return nil, false, apperr.InvalidRequest("缺少会话参与者")
	}
	if userA == userB {
		return nil, false, ErrConversationSelf
	}

	low, high := models.OrderedPair(userA, userB)
	key := fmt.Sprintf("%d:%d", low, high)

	// 同进程内的并发调用合并为一次；跨进程由唯一索引 + ON CONFLICT 保证
	v, err, _ := s.creating.Do(key, func() (interface{}, error) {
		n, err := s.userRepo.CountExisting(ctx, low, high)
		if err != nil {
			return nil, storeError("检查会话参与者失败", err, nil)
		}
		if n != 2 {
			return nil, ErrUserNotFound
		}

		conversation, created, err := s.conversationRepo.FindOrCreateByPair(ctx, low, high)
		if err != nil {
			return nil, storeError("查找或创建会话失败", err, nil)
		}
		if created {
			log.Printf("为用户 %d 和 %d 创建了会话 %d", low, high, conversation.ID)
		}
		return getOrCreateResult{conversation: conversation, created: created}, nil
	})
	if err != nil {
		return nil, false, err
	}

	res := v.(getOrCreateResult)
	conversation := *res.conversation // 共享结果，返回副本
	return &conversation, res.created, nil
}

func (s *conversationService) Get(ctx context.Context, conversationID uint) (*models.Conversation, error) {
	if conversationID == 0 {
		return nil, apperr.InvalidRequest("缺少 conversation_id")
	}
	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, storeError("读取会话失败", err, ErrConversationNotFound)
	}
	return conversation, nil
}

func (s *conversationService) AppendMessage(ctx context.Context, conversationID uint, message *models.Message) (*models.Message, error) {
	if message == nil {
		return nil, apperr.InvalidRequest("消息为空")
	}
	if message.Type == "" {
		message.Type = models.TextMessage
	}
	if !message.Type.Valid() {
		return nil, ErrInvalidMessageType
	}
	if message.File != nil && strings.TrimSpace(*message.File) == "" {
		message.File = nil
	}

	conversation, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if message.FromUserID == message.ToUserID ||
		!conversation.HasParticipant(message.FromUserID) ||
		!conversation.HasParticipant(message.ToUserID) {
		return nil, ErrNotParticipant
	}

	message.ConversationID = conversation.ID
	if err := s.messageRepo.Append(ctx, message); err != nil {
		log.Printf("错误: 追加消息到会话 %d 失败: %v", conversation.ID, err)
		return nil, storeError("保存消息失败", err, ErrConversationNotFound)
	}
	return message, nil
}

func (s *conversationService) FetchMessages(ctx context.Context, conversationID uint) ([]models.Message, error) {
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}
	messages, err := s.messageRepo.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, storeError("读取消息失败", err, nil)
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return messages, nil
}

func (s *conversationService) FetchConversationsForUser(ctx context.Context, userID uint) ([]models.ConversationView, error) {
	if userID == 0 {
		return nil, apperr.InvalidRequest("缺少 user_id")
	}
	conversations, err := s.conversationRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, storeError("读取会话列表失败", err, nil)
	}

	idSet := make(map[uint]struct{})
	var ids []uint
	for _, c := range conversations {
		for _, id := range c.Participants() {
			if _, ok := idSet[id]; !ok {
				idSet[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	profiles, err := s.profiles(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]models.ConversationView, 0, len(conversations))
	for i := range conversations {
		views = append(views, buildView(&conversations[i], profiles))
	}
	return views, nil
}

func (s *conversationService) View(ctx context.Context, conversation *models.Conversation) (*models.ConversationView, error) {
	profiles, err := s.profiles(ctx, conversation.Participants())
	if err != nil {
		return nil, err
	}
	view := buildView(conversation, profiles)
	return &view, nil
}

func (s *conversationService) profiles(ctx context.Context, ids []uint) (map[uint]models.UserBasicInfo, error) {
	infos, err := s.userRepo.GetMultipleBasicInfoByIDs(ctx, ids)
	if err != nil {
		return nil, storeError("读取参与者资料失败", err, nil)
	}
	byID := make(map[uint]models.UserBasicInfo, len(infos))
	for _, info := range infos {
		byID[info.ID] = info
	}
	return byID, nil
}

func buildView(c *models.Conversation, profiles map[uint]models.UserBasicInfo) models.ConversationView {
	view := models.ConversationView{
		ID:            c.ID,
		CreatedAt:     c.CreatedAt,
		LastMessageAt: c.LastMessageAt,
		Participants:  make([]models.UserBasicInfo, 0, 2),
	}
	for _, id := range c.Participants() {
		info, ok := profiles[id]
		if !ok {
			info = models.UserBasicInfo{ID: id} // 用户已被删除
		}
		view.Participants = append(view.Participants, info)
	}
	return view
}
