package websocket

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"im-chat/internal/config"
	"im-chat/internal/presence"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// FrameHandler 处理客户端发来的一帧文本消息。
type FrameHandler func(ctx context.Context, c *Client, frame []byte)

// Client is a middleman between the websocket connection and the registry.
// It implements presence.Handle.
type Client struct {
	id  string
	cfg config.WebSocketConfig

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	userID uint
}

var _ presence.Handle = (*Client)(nil)

// NewUpgrader returns the upgrader used for chat connections.
func NewUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewClient wraps an upgraded connection. userID 为 0 表示匿名连接。
func NewClient(conn *websocket.Conn, userID uint, wsCfg config.WebSocketConfig) *Client {
	size := wsCfg.SendBufferSize
	if size <= 0 {
		size = 256
	}
	return &Client{
		id:     uuid.NewString(),
		cfg:    wsCfg,
		conn:   conn,
		send:   make(chan []byte, size),
		done:   make(chan struct{}),
		userID: userID,
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// UserID returns the identity bound to the connection.
func (c *Client) UserID() uint { return c.userID }

// Send queues a frame for the write pump. It never blocks: a closed
// connection or a full buffer both fail with presence.ErrHandleClosed, and
// a full buffer also closes the connection.
func (c *Client) Send(frame []byte) error {
	select {
	case <-c.done:
		return presence.ErrHandleClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return presence.ErrHandleClosed
	default:
		log.Printf("警告: 连接 %s (用户 %d) 发送缓冲区已满，关闭连接", c.id, c.UserID())
		c.Close()
		return presence.ErrHandleClosed
	}
}

// Close stops the write pump; it sends a close frame and releases the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Run starts the pumps. handler is called for every text frame in read
// order; onClose runs once after the read loop has exited.
func (c *Client) Run(ctx context.Context, handler FrameHandler, onClose func(*Client)) {
	go c.writePump()
	go c.readPump(ctx, handler, onClose)
}

func (c *Client) duration(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// readPump pumps frames from the websocket connection to handler.
func (c *Client) readPump(ctx context.Context, handler FrameHandler, onClose func(*Client)) {
	// 连接由 writePump 关闭
	defer func() {
		c.Close()
		if onClose != nil {
			onClose(c)
		}
	}()

	pongWait := c.duration(c.cfg.PongWaitSeconds, 60*time.Second)
	if c.cfg.MaxMessageSizeBytes > 0 {
		c.conn.SetReadLimit(int64(c.cfg.MaxMessageSizeBytes))
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("WebSocket 错误 (连接: %s, 用户: %d): %v", c.id, c.UserID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			log.Printf("警告: 连接 %s 发送了非文本消息类型: %d", c.id, messageType)
			continue
		}
		handler(ctx, c, frame)

		select {
		case <-c.done:
			return
		default:
		}
	}
}

// writePump pumps frames from the send buffer to the websocket connection.
// Each frame is written as its own websocket message.
func (c *Client) writePump() {
	writeWait := c.duration(c.cfg.WriteWaitSeconds, 10*time.Second)
	ticker := time.NewTicker(c.duration(c.cfg.PingPeriodSeconds, 54*time.Second))
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			// 先把已排队的帧写完，再发送关闭帧
		drain:
			for {
				select {
				case frame := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					break drain
				}
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
