package models

import "time"

// Conversation 代表两个用户之间的一对一会话。
// 参与者以规范顺序存储在 (user_low_id, user_high_id) 上，唯一索引保证每对用户至多一个会话。
type Conversation struct {
	ID            uint       `gorm:"primarykey"`
	UserLowID     uint       `gorm:"not null;uniqueIndex:idx_conversation_pair"`
	UserHighID    uint       `gorm:"not null;uniqueIndex:idx_conversation_pair;index"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
}

// TableName 指定 Conversation 模型的表名。
func (Conversation) TableName() string {
	return "conversations"
}

// Participants returns both participant ids in canonical order.
func (c *Conversation) Participants() []uint {
	return []uint{c.UserLowID, c.UserHighID}
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID uint) bool {
	return c.UserLowID == userID || c.UserHighID == userID
}

// Peer returns the other participant.
func (c *Conversation) Peer(userID uint) uint {
	if c.UserLowID == userID {
		return c.UserHighID
	}
	return c.UserLowID
}

// ConversationView is a conversation joined with participant profiles, the
// shape used by get_direct_conversation and start_chat.
type ConversationView struct {
	ID            uint            `json:"id,string"`
	Participants  []UserBasicInfo `json:"participants"`
	CreatedAt     time.Time       `json:"createdAt"`
	LastMessageAt *time.Time      `json:"lastMessageAt,omitempty"`
}
