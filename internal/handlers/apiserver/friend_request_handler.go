package apiserver

import (
	"net/http"

	"im-chat/internal/services"
)

// FriendRequestHandler serves the read side of the friend workflow; writes
// go through the chat server so both parties get notified.
type FriendRequestHandler struct {
	friendService services.FriendRequestService
}

// NewFriendRequestHandler creates a new FriendRequestHandler.
func NewFriendRequestHandler(fs services.FriendRequestService) *FriendRequestHandler {
	return &FriendRequestHandler{friendService: fs}
}

// GetFriends handles GET /user/get-friends
func (h *FriendRequestHandler) GetFriends(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	friends, err := h.friendService.ListFriends(r.Context(), userID)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "friends found successfully", friends)
}

// GetRequests handles GET /user/get-requests
func (h *FriendRequestHandler) GetRequests(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	requests, err := h.friendService.ListPending(r.Context(), userID)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Requests found successfully!", requests)
}
