package model

import "time"

// UserPreference 用户隐私偏好
// 回执可见性在每次查询时按当前偏好过滤，写入回执时不做判断
type UserPreference struct {
	UserID           uint64    `gorm:"primaryKey" json:"userId"`
	SendReadReceipts int8      `gorm:"not null;default:1" json:"sendReadReceipts"`
	ShowReadReceipts int8      `gorm:"not null;default:1" json:"showReadReceipts"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (UserPreference) TableName() string { return "user_preferences" }
