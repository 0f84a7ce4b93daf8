package models

import (
	"strconv"
	"time"

	"gorm.io/gorm"
)

// BaseModel defines the common fields for mutable models.
// It includes an auto-incrementing ID, and CreatedAt and UpdatedAt timestamps.
type BaseModel struct {
	ID        uint           `gorm:"primarykey" json:"id,string"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"` // For soft deletes
}

// IDString returns the ID as a string.
func (b *BaseModel) IDString() string {
	return FormatID(b.ID)
}

// FormatID renders an id the way it travels on the wire.
func FormatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// OrderedPair 返回规范化后的一对用户 ID（较小者在前）。
// Friendship 与 Conversation 都以该顺序存储，以便唯一索引覆盖无序对。
func OrderedPair(a, b uint) (uint, uint) {
	if a > b {
		return b, a
	}
	return a, b
}
