package models

import "time"

// Friendship represents a friendship relationship between two users.
// One row per unordered pair: UserLowID is always less than UserHighID, so
// membership in either user's friend set is the same row and stays symmetric.
type Friendship struct {
	ID         uint      `gorm:"primarykey"`
	UserLowID  uint      `gorm:"not null;uniqueIndex:idx_friendship_users"`
	UserHighID uint      `gorm:"not null;uniqueIndex:idx_friendship_users;index"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TableName 指定 Friendship 模型的表名。
func (Friendship) TableName() string {
	return "friendships"
}

// NewFriendship builds a friendship row in canonical order.
func NewFriendship(userA, userB uint) *Friendship {
	low, high := OrderedPair(userA, userB)
	return &Friendship{UserLowID: low, UserHighID: high}
}
