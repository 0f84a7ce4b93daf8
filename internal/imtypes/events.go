package imtypes

import (
	"encoding/json"

	"im-chat/internal/models"
)

// 客户端发送的事件
const (
	EventFriendRequest         = "friend_request"
	EventAcceptRequest         = "accept_request"
	EventGetMessages           = "get_messages"
	EventTextMessage           = "text_message"
	EventGetDirectConversation = "get_direct_conversation"
	EventStartConversation     = "start_conversation"
	EventEnd                   = "end"
)

// 服务端推送的事件
const (
	EventNewFriendRequest = "new_friend_request"
	EventRequestSent      = "request_sent"
	EventRequestAccepted  = "request_accepted"
	EventNewMessage       = "new_message"
	EventStartChat        = "start_chat"
	EventAck              = "ack"
	EventError            = "error"
	// EventSessionReplaced 在旧连接被同一用户的新连接替换时发送
	EventSessionReplaced = "session_replaced"
)

// InboundFrame is one client-to-server websocket frame.
type InboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	// Ack 不为空时服务端用 ack 帧回复，原样回显
	Ack json.RawMessage `json:"ack,omitempty"`
}

// HasAck reports whether the client asked for an acknowledgement.
func (f *InboundFrame) HasAck() bool {
	return len(f.Ack) > 0 && string(f.Ack) != "null"
}

// OutboundFrame is a server-pushed event.
type OutboundFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// ErrorBody describes a failed operation.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AckFrame answers an inbound frame that carried an ack id.
type AckFrame struct {
	Event string          `json:"event"`
	Ack   json.RawMessage `json:"ack"`
	Data  interface{}     `json:"data,omitempty"`
	Error *ErrorBody      `json:"error,omitempty"`
}

// ErrorEventData is the payload of an "error" event, used when the failed
// frame had no ack id.
type ErrorEventData struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Inbound payloads.

type FriendRequestPayload struct {
	To   ID `json:"to"`
	From ID `json:"from"`
}

type AcceptRequestPayload struct {
	RequestID ID `json:"request_id"`
}

type GetMessagesPayload struct {
	ConversationID ID `json:"conversation_id"`
}

type TextMessagePayload struct {
	To             ID      `json:"to"`
	From           ID      `json:"from"`
	Message        string  `json:"message"`
	ConversationID ID      `json:"conversation_id"`
	Type           string  `json:"type"`
	File           *string `json:"file,omitempty"`
}

type GetDirectConversationPayload struct {
	UserID ID `json:"user_id"`
}

type StartConversationPayload struct {
	To   ID `json:"to"`
	From ID `json:"from"`
}

type EndPayload struct {
	UserID ID `json:"user_id"`
}

// Outbound payloads.

// FriendRequestNotice is carried by new_friend_request, request_sent and
// request_accepted.
type FriendRequestNotice struct {
	Message string                `json:"message"`
	Request *models.FriendRequest `json:"request"`
}

// NewMessageData is the payload of new_message.
type NewMessageData struct {
	ConversationID ID              `json:"conversation_id"`
	Message        *models.Message `json:"message"`
}

// StartChatData is the payload of start_chat.
type StartChatData struct {
	Conversation *models.ConversationView `json:"conversation"`
}
