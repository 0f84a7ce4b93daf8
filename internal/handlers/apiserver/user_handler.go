package apiserver

import (
	"net/http"

	"im-chat/internal/services"
)

// UserHandler 封装了用户相关的 HTTP 处理器方法。
type UserHandler struct {
	userService services.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService services.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// GetMe 返回当前登录用户的资料。
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	user, err := h.userService.GetMe(r.Context(), userID)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "", user)
}

// UpdateMe 更新 firstName、lastName、about、avatar，其他字段被忽略。
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeJSONError(w, err)
		return
	}

	var req services.ProfileUpdate
	if err := decodeJSONBody(r, &req); err != nil {
		writeJSONError(w, err)
		return
	}

	user, err := h.userService.UpdateMe(r.Context(), userID, req)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Profile updated successfully", user)
}

// GetUsers 返回可以添加为好友的已验证用户。
func (h *UserHandler) GetUsers(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	users, err := h.userService.GetUsers(r.Context(), userID)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Users found successfully", users)
}
