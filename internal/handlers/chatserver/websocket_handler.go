package chatserver

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"im-chat/internal/apperr"
	"im-chat/internal/auth"
	"im-chat/internal/config"
	"im-chat/internal/dispatch"
	"im-chat/internal/imtypes"
	"im-chat/internal/storage"
	ws "im-chat/internal/websocket"

	"github.com/gorilla/websocket"
)

const frameTimeout = 15 * time.Second

var (
	errInvalidFrame = apperr.InvalidRequest("无法解析的消息帧")
	errUnknownEvent = apperr.InvalidRequest("未知事件")
	errBadUserID    = apperr.InvalidRequest("无效的 user_id")
	errUnknownUser  = apperr.Unauthenticated("用户不存在")
	errStaleToken   = apperr.Unauthenticated("密码已修改，请重新登录")
)

// WebSocketHandler 负责处理 WebSocket 连接请求。
type WebSocketHandler struct {
	dispatcher *dispatch.Dispatcher
	users      storage.UserRepository
	blacklist  auth.TokenBlacklist
	cfg        config.Config
	upgrader   websocket.Upgrader
	// baseCtx 在服务关闭时取消，所有连接的事件处理都派生自它
	baseCtx context.Context
}

// NewWebSocketHandler 创建一个新的 WebSocketHandler 实例。blacklist 可以为 nil。
func NewWebSocketHandler(ctx context.Context, dispatcher *dispatch.Dispatcher, users storage.UserRepository, blacklist auth.TokenBlacklist, cfg config.Config) *WebSocketHandler {
	return &WebSocketHandler{
		dispatcher: dispatcher,
		users:      users,
		blacklist:  blacklist,
		cfg:        cfg,
		upgrader:   ws.NewUpgrader(),
		baseCtx:    ctx,
	}
}

// ServeWS 处理传入的 WebSocket 请求。
// 握手时先确定身份，再升级连接；有身份的连接登记到 registry。
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, err := h.identify(r)
	if err != nil {
		log.Printf("WebSocket 握手失败: %v", err)
		http.Error(w, apperr.PublicMessage(err), apperr.HTTPStatus(apperr.CodeOf(err)))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("ServeWS - Upgrade失败:", err)
		return
	}
	client := ws.NewClient(conn, userID, h.cfg.WebSocket)

	registry := h.dispatcher.Registry()
	if userID != 0 {
		if replaced := registry.Register(userID, client); replaced != nil {
			log.Printf("用户 %d 重新连接，替换旧连接 %s", userID, replaced.ID())
			if frame, err := dispatch.EncodeEvent(imtypes.EventSessionReplaced, map[string]string{"connection_id": client.ID()}); err == nil {
				_ = replaced.Send(frame)
			}
			replaced.Close()
		}
		log.Printf("客户端已连接: UserID %d, 连接 %s", userID, client.ID())
	} else {
		log.Printf("匿名客户端已连接: 连接 %s", client.ID())
	}

	client.Run(h.baseCtx, h.handleFrame, func(c *ws.Client) {
		if c.UserID() != 0 && registry.UnregisterHandle(c.UserID(), c) {
			log.Printf("客户端已断开: UserID %d, 连接 %s", c.UserID(), c.ID())
		}
	})
}

// identify 解析握手身份：优先 token，其次 user_id（需配置允许），都没有则匿名。
func (h *WebSocketHandler) identify(r *http.Request) (uint, error) {
	ctx := r.Context()
	var userID uint
	var claims *auth.Claims

	if token := r.URL.Query().Get("token"); token != "" {
		var err error
		claims, err = auth.ValidateToken(ctx, token, h.cfg.Auth.JWTSecretKey, h.blacklist)
		if err != nil {
			return 0, apperr.Wrap(apperr.CodeUnauthenticated, "令牌无效", err)
		}
		userID = claims.UserID
	} else if raw := r.URL.Query().Get("user_id"); raw != "" && h.cfg.Auth.AllowUserIDParam {
		id, err := storage.StrToUint(raw)
		if err != nil || id == 0 {
			return 0, errBadUserID
		}
		userID = id
	}

	if userID == 0 || h.users == nil {
		return userID, nil
	}
	user, err := h.users.GetByID(ctx, userID)
	if err != nil {
		if storage.IsNotFound(err) {
			return 0, errUnknownUser
		}
		return 0, apperr.Internal("查询用户失败", err)
	}
	if claims != nil && user.PasswordChangedAt != nil && claims.IssuedBefore(*user.PasswordChangedAt) {
		return 0, errStaleToken
	}
	return userID, nil
}

// handleFrame 在连接的读 goroutine 上同步处理一帧，保证同一连接的事件按序执行。
func (h *WebSocketHandler) handleFrame(ctx context.Context, c *ws.Client, raw []byte) {
	ctx, cancel := context.WithTimeout(ctx, frameTimeout)
	defer cancel()

	var frame imtypes.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		log.Printf("错误: 无法解析来自连接 %s 的消息帧: %s", c.ID(), string(raw))
		h.replyError(c, &frame, errInvalidFrame)
		return
	}

	if frame.Event == imtypes.EventEnd {
		h.handleEnd(ctx, c, &frame)
		return
	}

	result, err := h.route(ctx, c, &frame)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeInternal || apperr.CodeOf(err) == apperr.CodeTransientFailure {
			log.Printf("错误: 处理事件 %s 失败 (用户 %d): %v", frame.Event, c.UserID(), err)
		}
		h.replyError(c, &frame, err)
		return
	}

	switch {
	case frame.HasAck():
		h.reply(c, imtypes.AckFrame{Event: imtypes.EventAck, Ack: frame.Ack, Data: result})
	case frame.Event == imtypes.EventGetMessages || frame.Event == imtypes.EventGetDirectConversation:
		// 没有 ack 的读请求，以同名事件返回结果
		h.reply(c, imtypes.OutboundFrame{Event: frame.Event, Data: result})
	}
}

func (h *WebSocketHandler) route(ctx context.Context, c *ws.Client, frame *imtypes.InboundFrame) (interface{}, error) {
	actor := c.UserID()
	d := h.dispatcher

	switch frame.Event {
	case imtypes.EventFriendRequest:
		var in imtypes.FriendRequestPayload
		if err := decodeData(frame, &in); err != nil {
			return nil, err
		}
		return d.FriendRequest(ctx, actor, in)

	case imtypes.EventAcceptRequest:
		var in imtypes.AcceptRequestPayload
		if err := decodeData(frame, &in); err != nil {
			return nil, err
		}
		return d.AcceptRequest(ctx, actor, in)

	case imtypes.EventTextMessage:
		var in imtypes.TextMessagePayload
		if err := decodeData(frame, &in); err != nil {
			return nil, err
		}
		return d.SendMessage(ctx, actor, in)

	case imtypes.EventStartConversation:
		var in imtypes.StartConversationPayload
		if err := decodeData(frame, &in); err != nil {
			return nil, err
		}
		return d.StartConversation(ctx, actor, in, c)

	case imtypes.EventGetMessages:
		var in imtypes.GetMessagesPayload
		if err := decodeData(frame, &in); err != nil {
			return nil, err
		}
		return d.GetMessages(ctx, actor, in)

	case imtypes.EventGetDirectConversation:
		var in imtypes.GetDirectConversationPayload
		if err := decodeData(frame, &in); err != nil {
			return nil, err
		}
		return d.GetDirectConversations(ctx, actor, in)
	}
	return nil, errUnknownEvent
}

// handleEnd 先回复 ack，再注销并关闭连接。
func (h *WebSocketHandler) handleEnd(ctx context.Context, c *ws.Client, frame *imtypes.InboundFrame) {
	var in imtypes.EndPayload
	if err := decodeData(frame, &in); err != nil {
		h.replyError(c, frame, err)
		return
	}
	if actor := c.UserID(); actor != 0 && in.UserID != 0 && in.UserID.Uint() != actor {
		h.replyError(c, frame, dispatch.ErrActorMismatch)
		return
	}
	if frame.HasAck() {
		h.reply(c, imtypes.AckFrame{Event: imtypes.EventAck, Ack: frame.Ack})
	}
	if err := h.dispatcher.End(ctx, c.UserID(), in, c); err != nil {
		log.Printf("警告: 结束连接 %s 失败: %v", c.ID(), err)
	}
}

func decodeData(frame *imtypes.InboundFrame, out interface{}) error {
	if len(frame.Data) == 0 || string(frame.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(frame.Data, out); err != nil {
		return apperr.Wrap(apperr.CodeInvalidRequest, "无效的事件数据", err)
	}
	return nil
}

// replyError 有 ack 时回复 ack 错误，否则发送 error 事件。
func (h *WebSocketHandler) replyError(c *ws.Client, frame *imtypes.InboundFrame, err error) {
	code := string(apperr.CodeOf(err))
	message := apperr.PublicMessage(err)
	if frame.HasAck() {
		h.reply(c, imtypes.AckFrame{
			Event: imtypes.EventAck,
			Ack:   frame.Ack,
			Error: &imtypes.ErrorBody{Code: code, Message: message},
		})
		return
	}
	h.reply(c, imtypes.OutboundFrame{
		Event: imtypes.EventError,
		Data:  imtypes.ErrorEventData{Event: frame.Event, Code: code, Message: message},
	})
}

func (h *WebSocketHandler) reply(c *ws.Client, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("错误: 序列化回复失败: %v", err)
		return
	}
	if err := c.Send(payload); err != nil {
		log.Printf("跳过失效连接 %s: %v", c.ID(), err)
	}
}
