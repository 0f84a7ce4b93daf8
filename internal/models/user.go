package models

import "time"

// UserStatus 是用户的在线状态。数据库中的值仅供展示，权威来源是内存中的连接注册表。
type UserStatus string

const (
	UserStatusOnline  UserStatus = "Online"
	UserStatusOffline UserStatus = "Offline"
)

// User 代表系统中的用户。
type User struct {
	BaseModel
	FirstName string     `gorm:"type:varchar(100);not null" json:"firstName"`
	LastName  string     `gorm:"type:varchar(100);not null" json:"lastName"`
	Email     string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Avatar    string     `gorm:"type:varchar(255)" json:"avatar,omitempty"`
	About     string     `gorm:"type:text" json:"about,omitempty"`
	Verified  bool       `gorm:"default:false" json:"verified"`
	Status    UserStatus `gorm:"type:varchar(20);default:'Offline'" json:"status"`

	// 凭证字段由认证服务维护，哈希在写入前显式计算。
	PasswordHash         string     `gorm:"type:varchar(255)" json:"-"`
	PasswordChangedAt    *time.Time `json:"-"`
	OTPHash              string     `gorm:"column:otp_hash;type:varchar(255)" json:"-"`
	OTPExpiresAt         *time.Time `gorm:"column:otp_expires_at" json:"-"`
	PasswordResetHash    string     `gorm:"type:varchar(255);index" json:"-"`
	PasswordResetExpires *time.Time `json:"-"`
}

// TableName 指定 User 模型的表名。
func (User) TableName() string {
	return "users"
}

// UserBasicInfo holds minimal public information about a user.
// Used for participant profiles in conversations and request listings.
type UserBasicInfo struct {
	ID        uint       `json:"id,string"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Email     string     `json:"email,omitempty"`
	Status    UserStatus `json:"status,omitempty"`
}

// BasicInfo projects a User onto its public fields.
func (u *User) BasicInfo() UserBasicInfo {
	return UserBasicInfo{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Email:     u.Email,
		Status:    u.Status,
	}
}
