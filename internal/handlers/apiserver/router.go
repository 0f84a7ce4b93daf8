package apiserver

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Handlers groups the handlers mounted by NewRouter.
type Handlers struct {
	Auth          *AuthHandler
	User          *UserHandler
	FriendRequest *FriendRequestHandler
	Conversation  *ConversationHandler
}

// NewRouter 挂载 /auth 与 /user 路由；authMW 保护需要登录的路由。
func NewRouter(h Handlers, authMW mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/auth/logout", authMW(http.HandlerFunc(h.Auth.Logout))).Methods(http.MethodPost)

	// 公开路由
	authRouter := r.PathPrefix("/auth").Subrouter()
	authRouter.HandleFunc("/register", h.Auth.Register).Methods(http.MethodPost)
	authRouter.HandleFunc("/send-otp", h.Auth.SendOTP).Methods(http.MethodPost)
	authRouter.HandleFunc("/verify-otp", h.Auth.VerifyOTP).Methods(http.MethodPost)
	authRouter.HandleFunc("/login", h.Auth.Login).Methods(http.MethodPost)
	authRouter.HandleFunc("/forgot-password", h.Auth.ForgotPassword).Methods(http.MethodPost)
	authRouter.HandleFunc("/reset-password", h.Auth.ResetPassword).Methods(http.MethodPost)

	// 需要认证的路由
	userRouter := r.PathPrefix("/user").Subrouter()
	userRouter.Use(authMW)
	userRouter.HandleFunc("/get-me", h.User.GetMe).Methods(http.MethodGet)
	userRouter.HandleFunc("/update-me", h.User.UpdateMe).Methods(http.MethodPatch)
	userRouter.HandleFunc("/get-users", h.User.GetUsers).Methods(http.MethodGet)
	userRouter.HandleFunc("/get-friends", h.FriendRequest.GetFriends).Methods(http.MethodGet)
	userRouter.HandleFunc("/get-requests", h.FriendRequest.GetRequests).Methods(http.MethodGet)

	convoRouter := r.PathPrefix("/conversations").Subrouter()
	convoRouter.Use(authMW)
	convoRouter.HandleFunc("", h.Conversation.GetUserConversations).Methods(http.MethodGet)
	convoRouter.HandleFunc("/{conversationID:[0-9]+}/messages", h.Conversation.GetConversationMessages).Methods(http.MethodGet)

	return r
}
