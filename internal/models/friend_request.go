package models

import "time"

// FriendRequest 代表一个待处理的好友请求。接受后记录被删除并转化为 Friendship。
// (sender, recipient) 上没有唯一约束，同一对用户之间可以存在多条待处理请求。
type FriendRequest struct {
	ID          uint      `gorm:"primarykey" json:"id,string"`
	SenderID    uint      `gorm:"not null;index:idx_friend_request_users" json:"sender,string"`
	RecipientID uint      `gorm:"not null;index:idx_friend_request_users;index" json:"recipient,string"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TableName 指定 FriendRequest 模型的表名。
func (FriendRequest) TableName() string {
	return "friend_requests"
}

// FriendRequestWithSender is a DTO that includes friend request details
// along with basic information about the user who sent the request.
type FriendRequestWithSender struct {
	FriendRequest
	Sender *UserBasicInfo `json:"senderInfo"`
}
