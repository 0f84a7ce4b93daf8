// Package presence tracks which users currently hold a live connection.
//
// The Registry is the only authority on liveness. The users.status column and
// the Redis mirror are opportunistic copies fed through Observers.
package presence

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"im-chat/internal/models"
)

// ErrHandleClosed is returned by Handle.Send once the connection is gone.
var ErrHandleClosed = errors.New("connection handle closed")

// Handle is a live, addressable connection.
type Handle interface {
	// ID 唯一标识一次连接，重连后会变化
	ID() string
	// Send 将一帧写入连接的发送队列，不阻塞
	Send(frame []byte) error
	Close()
}

// Observer is notified after a user's status changed.
type Observer interface {
	PresenceChanged(ctx context.Context, userID uint, status models.UserStatus) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, userID uint, status models.UserStatus) error

// PresenceChanged calls f.
func (f ObserverFunc) PresenceChanged(ctx context.Context, userID uint, status models.UserStatus) error {
	return f(ctx, userID, status)
}

const (
	observerTimeout = 5 * time.Second
	notifyStripes   = 64
)

// Registry maps user ids to their single live handle.
type Registry struct {
	mu        sync.RWMutex
	conns     map[uint]Handle
	observers []Observer
	// 同一用户的通知串行执行
	notifyMu [notifyStripes]sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry(observers ...Observer) *Registry {
	return &Registry{
		conns:     make(map[uint]Handle),
		observers: observers,
	}
}

// AddObserver registers o. Not safe to call while the registry is in use.
func (r *Registry) AddObserver(o Observer) {
	r.observers = append(r.observers, o)
}

// Register binds userID to h and marks the user Online. A previous binding is
// overwritten and returned so the caller can close it; nil when there was none
// or it was h itself.
func (r *Registry) Register(userID uint, h Handle) Handle {
	r.mu.Lock()
	prev := r.conns[userID]
	r.conns[userID] = h
	r.mu.Unlock()

	if prev == h {
		prev = nil
	}
	if prev != nil {
		log.Printf("用户 %d 重新连接，连接 %s 被 %s 替换", userID, prev.ID(), h.ID())
	}
	r.notify(userID)
	return prev
}

// Unregister clears the binding of userID and marks the user Offline.
// Returns the removed handle; unknown users are a no-op returning nil.
func (r *Registry) Unregister(userID uint) Handle {
	r.mu.Lock()
	prev, ok := r.conns[userID]
	if ok {
		delete(r.conns, userID)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	r.notify(userID)
	return prev
}

// UnregisterHandle clears the binding only while it still points at h.
// A connection that was replaced by a reconnect therefore never evicts the
// newer one when its read loop exits.
func (r *Registry) UnregisterHandle(userID uint, h Handle) bool {
	r.mu.Lock()
	cur, ok := r.conns[userID]
	removed := ok && cur == h
	if removed {
		delete(r.conns, userID)
	}
	r.mu.Unlock()

	if removed {
		r.notify(userID)
	}
	return removed
}

// Lookup returns the live handle of userID.
func (r *Registry) Lookup(userID uint) (Handle, bool) {
	r.mu.RLock()
	h, ok := r.conns[userID]
	r.mu.RUnlock()
	return h, ok
}

// Status is Online iff userID holds a binding.
func (r *Registry) Status(userID uint) models.UserStatus {
	if _, ok := r.Lookup(userID); ok {
		return models.UserStatusOnline
	}
	return models.UserStatusOffline
}

// OnlineUsers returns the ids of all registered users in ascending order.
func (r *Registry) OnlineUsers() []uint {
	r.mu.RLock()
	ids := make([]uint, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Count returns the number of registered users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll unregisters and closes every handle. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[uint]Handle)
	r.mu.Unlock()

	for userID, h := range conns {
		h.Close()
		r.notify(userID)
	}
}

// notify 在注册表锁外调用观察者，错误只记录日志。
// 状态在持有该用户的通知锁后读取，乱序到达的通知不会留下过期的状态。
func (r *Registry) notify(userID uint) {
	if len(r.observers) == 0 {
		return
	}
	stripe := &r.notifyMu[userID%notifyStripes]
	stripe.Lock()
	defer stripe.Unlock()

	status := r.Status(userID)
	ctx, cancel := context.WithTimeout(context.Background(), observerTimeout)
	defer cancel()
	for _, o := range r.observers {
		if err := o.PresenceChanged(ctx, userID, status); err != nil {
			log.Printf("警告: 同步用户 %d 的在线状态 (%s) 失败: %v", userID, status, err)
		}
	}
}
