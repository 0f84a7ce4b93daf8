// Package dispatch turns inbound workflow events into store operations and
// delivers the results to whoever is connected right now.
package dispatch

import (
	"context"
	"encoding/json"
	"log"

	"im-chat/internal/apperr"
	"im-chat/internal/imtypes"
	"im-chat/internal/models"
	"im-chat/internal/presence"
	"im-chat/internal/services"
)

var (
	ErrAnonymous         = apperr.Unauthenticated("连接未认证，不能执行该操作")
	ErrActorMismatch     = apperr.Forbidden("不能以其他用户的身份操作")
	ErrMissingPeer       = apperr.InvalidRequest("缺少 to")
	ErrNotInConversation = apperr.Forbidden("不是该会话的参与者")
)

// Relay forwards a frame for a user who is not registered on this instance.
type Relay interface {
	Publish(ctx context.Context, userID uint, frame []byte) error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRelay enables cross-instance delivery.
func WithRelay(r Relay) Option {
	return func(d *Dispatcher) { d.relay = r }
}

// Dispatcher orchestrates the friend request workflow and the conversation
// store, and fans their results out through the registry.
type Dispatcher struct {
	registry      *presence.Registry
	requests      services.FriendRequestService
	conversations services.ConversationService
	relay         Relay
	convLocks     *keyedMutex
}

// New creates a Dispatcher.
func New(
	registry *presence.Registry,
	requests services.FriendRequestService,
	conversations services.ConversationService,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		registry:      registry,
		requests:      requests,
		conversations: conversations,
		convLocks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry exposes the registry the dispatcher delivers through.
func (d *Dispatcher) Registry() *presence.Registry {
	return d.registry
}

// resolveActor 检查 payload 中声明的用户与连接身份一致；未声明时使用连接身份。
func resolveActor(actor, claimed uint) (uint, error) {
	if actor == 0 {
		return 0, ErrAnonymous
	}
	if claimed != 0 && claimed != actor {
		return 0, ErrActorMismatch
	}
	return actor, nil
}

// FriendRequest creates a pending request from -> to and notifies both sides.
func (d *Dispatcher) FriendRequest(ctx context.Context, actor uint, in imtypes.FriendRequestPayload) (*models.FriendRequest, error) {
	from, err := resolveActor(actor, in.From.Uint())
	if err != nil {
		return nil, err
	}
	if in.To == 0 {
		return nil, ErrMissingPeer
	}

	request, err := d.requests.SendRequest(ctx, from, in.To.Uint())
	if err != nil {
		return nil, err
	}

	d.Emit(ctx, request.RecipientID, imtypes.EventNewFriendRequest, imtypes.FriendRequestNotice{
		Message: "New friend request received",
		Request: request,
	})
	d.Emit(ctx, request.SenderID, imtypes.EventRequestSent, imtypes.FriendRequestNotice{
		Message: "Request sent successfully!",
		Request: request,
	})
	return request, nil
}

// AcceptRequest runs the accept transition and notifies both parties.
func (d *Dispatcher) AcceptRequest(ctx context.Context, actor uint, in imtypes.AcceptRequestPayload) (*models.FriendRequest, error) {
	if actor == 0 {
		return nil, ErrAnonymous
	}
	request, err := d.requests.AcceptRequest(ctx, in.RequestID.Uint(), actor)
	if err != nil {
		return nil, err
	}

	notice := imtypes.FriendRequestNotice{Message: "Friend request accepted", Request: request}
	d.Emit(ctx, request.SenderID, imtypes.EventRequestAccepted, notice)
	d.Emit(ctx, request.RecipientID, imtypes.EventRequestAccepted, notice)
	return request, nil
}

// SendMessage appends a message and delivers new_message to the recipient
// and an echo to the sender. Append and delivery happen under the
// conversation's lock, so every live recipient observes append order.
func (d *Dispatcher) SendMessage(ctx context.Context, actor uint, in imtypes.TextMessagePayload) (*models.Message, error) {
	from, err := resolveActor(actor, in.From.Uint())
	if err != nil {
		return nil, err
	}
	to := in.To.Uint()
	if to == 0 {
		return nil, ErrMissingPeer
	}

	var conversation *models.Conversation
	if in.ConversationID == 0 {
		conversation, _, err = d.conversations.GetOrCreate(ctx, from, to)
	} else {
		conversation, err = d.conversations.Get(ctx, in.ConversationID.Uint())
	}
	if err != nil {
		return nil, err
	}

	unlock := d.convLocks.Lock(conversation.ID)
	defer unlock()

	message, err := d.conversations.AppendMessage(ctx, conversation.ID, &models.Message{
		FromUserID: from,
		ToUserID:   to,
		Type:       models.MessageType(in.Type),
		Text:       in.Message,
		File:       in.File,
	})
	if err != nil {
		return nil, err
	}

	data := imtypes.NewMessageData{ConversationID: imtypes.ID(conversation.ID), Message: message}
	d.Emit(ctx, to, imtypes.EventNewMessage, data)
	d.Emit(ctx, from, imtypes.EventNewMessage, data)
	return message, nil
}

// StartConversation gets or creates the pair's conversation and sends
// start_chat to origin, or to the caller's registered handle when origin is nil.
func (d *Dispatcher) StartConversation(ctx context.Context, actor uint, in imtypes.StartConversationPayload, origin presence.Handle) (*models.ConversationView, error) {
	from, err := resolveActor(actor, in.From.Uint())
	if err != nil {
		return nil, err
	}
	if in.To == 0 {
		return nil, ErrMissingPeer
	}

	conversation, _, err := d.conversations.GetOrCreate(ctx, from, in.To.Uint())
	if err != nil {
		return nil, err
	}
	view, err := d.conversations.View(ctx, conversation)
	if err != nil {
		return nil, err
	}

	data := imtypes.StartChatData{Conversation: view}
	if origin != nil {
		d.sendTo(origin, imtypes.EventStartChat, data)
	} else {
		d.Emit(ctx, from, imtypes.EventStartChat, data)
	}
	return view, nil
}

// GetMessages returns a conversation's messages in append order. Only a
// participant may read them.
func (d *Dispatcher) GetMessages(ctx context.Context, actor uint, in imtypes.GetMessagesPayload) ([]models.Message, error) {
	if actor == 0 {
		return nil, ErrAnonymous
	}
	conversation, err := d.conversations.Get(ctx, in.ConversationID.Uint())
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(actor) {
		return nil, ErrNotInConversation
	}
	return d.conversations.FetchMessages(ctx, conversation.ID)
}

// GetDirectConversations lists the caller's conversations. user_id, when
// given, must name the caller.
func (d *Dispatcher) GetDirectConversations(ctx context.Context, actor uint, in imtypes.GetDirectConversationPayload) ([]models.ConversationView, error) {
	if actor == 0 {
		return nil, ErrAnonymous
	}
	userID := in.UserID.Uint()
	if userID == 0 {
		userID = actor
	}
	if userID != actor {
		return nil, ErrActorMismatch
	}
	return d.conversations.FetchConversationsForUser(ctx, userID)
}

// End unregisters the caller and closes the connection. With an origin
// handle only that exact binding is removed.
func (d *Dispatcher) End(ctx context.Context, actor uint, in imtypes.EndPayload, origin presence.Handle) error {
	userID := in.UserID.Uint()
	if userID == 0 {
		userID = actor
	}
	if actor != 0 && userID != actor {
		return ErrActorMismatch
	}

	if origin != nil {
		if userID != 0 {
			d.registry.UnregisterHandle(userID, origin)
		}
		origin.Close()
		return nil
	}
	if userID == 0 {
		return nil
	}
	if h := d.registry.Unregister(userID); h != nil {
		h.Close()
	}
	return nil
}

// Emit delivers an event to userID's live handle. Users not registered here
// are handed to the relay when one is configured; otherwise nothing happens.
// Returns true when a local handle accepted the frame.
func (d *Dispatcher) Emit(ctx context.Context, userID uint, event string, data interface{}) bool {
	frame, err := EncodeEvent(event, data)
	if err != nil {
		log.Printf("错误: 编码事件 %s 失败: %v", event, err)
		return false
	}
	if d.DeliverLocal(userID, frame) {
		return true
	}
	if d.relay != nil {
		if err := d.relay.Publish(ctx, userID, frame); err != nil {
			log.Printf("警告: 转发事件 %s 给用户 %d 失败: %v", event, userID, err)
		}
	}
	return false
}

// DeliverLocal writes frame to userID's handle on this instance. A handle
// that has gone away is skipped silently.
func (d *Dispatcher) DeliverLocal(userID uint, frame []byte) bool {
	h, ok := d.registry.Lookup(userID)
	if !ok {
		return false
	}
	if err := h.Send(frame); err != nil {
		log.Printf("跳过用户 %d 的失效连接 %s: %v", userID, h.ID(), err)
		return false
	}
	return true
}

func (d *Dispatcher) sendTo(h presence.Handle, event string, data interface{}) {
	frame, err := EncodeEvent(event, data)
	if err != nil {
		log.Printf("错误: 编码事件 %s 失败: %v", event, err)
		return
	}
	if err := h.Send(frame); err != nil {
		log.Printf("跳过失效连接 %s: %v", h.ID(), err)
	}
}

// EncodeEvent renders an outbound event frame.
func EncodeEvent(event string, data interface{}) ([]byte, error) {
	return json.Marshal(imtypes.OutboundFrame{Event: event, Data: data})
}
