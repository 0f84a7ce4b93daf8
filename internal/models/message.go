package models

import (
	"time"
)

// MessageType 定义了存储在数据库中的消息类型。
type MessageType string

const (
	TextMessage     MessageType = "Text"
	MediaMessage    MessageType = "Media"
	DocumentMessage MessageType = "Document"
	LinkMessage     MessageType = "Link"
)

// Valid reports whether t is one of the four supported kinds.
func (t MessageType) Valid() bool {
	switch t {
	case TextMessage, MediaMessage, DocumentMessage, LinkMessage:
		return true
	}
	return false
}

// Message 代表会话中的一条消息。消息只追加、不修改、不删除，因此没有 UpdatedAt/DeletedAt。
// Seq 是消息在会话内从 1 开始的位置，(conversation_id, seq) 唯一。
type Message struct {
	ID             uint        `gorm:"primarykey" json:"id,string"`
	ConversationID uint        `gorm:"not null;uniqueIndex:idx_message_conversation_seq" json:"conversationId,string"`
	Seq            uint64      `gorm:"not null;uniqueIndex:idx_message_conversation_seq" json:"seq"`
	ToUserID       uint        `gorm:"not null" json:"to,string"`
	FromUserID     uint        `gorm:"not null;index" json:"from,string"`
	Type           MessageType `gorm:"type:varchar(20);not null" json:"type"`
	Text           string      `gorm:"type:text" json:"text"`
	File           *string     `gorm:"type:varchar(512)" json:"file,omitempty"`
	CreatedAt      time.Time   `gorm:"not null" json:"createdAt"`
}

// TableName 指定 Message 模型的表名。
func (Message) TableName() string {
	return "messages"
}
