package apiserver

import (
	"net/http"

	"im-chat/internal/apperr"
	"im-chat/internal/services"
)

var errNotParticipant = apperr.Forbidden("不是该会话的参与者")

// ConversationHandler 提供会话的只读 HTTP 接口。
type ConversationHandler struct {
	convoService services.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler 实例。
func NewConversationHandler(convoService services.ConversationService) *ConversationHandler {
	return &ConversationHandler{convoService: convoService}
}

// GetUserConversations 获取当前用户的所有会话，按最近活动排序。
func (h *ConversationHandler) GetUserConversations(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	views, err := h.convoService.FetchConversationsForUser(r.Context(), userID)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", views)
}

// GetConversationMessages 按追加顺序返回会话的全部消息。
func (h *ConversationHandler) GetConversationMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	conversationID, err := pathID(r, "conversationID")
	if err != nil {
		writeJSONError(w, err)
		return
	}

	conversation, err := h.convoService.Get(r.Context(), conversationID)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	if !conversation.HasParticipant(userID) {
		writeJSONError(w, errNotParticipant)
		return
	}

	messages, err := h.convoService.FetchMessages(r.Context(), conversationID)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", messages)
}
