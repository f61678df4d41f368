package model

import "time"

const (
	ReceiptKindDelivered = "delivered"
	ReceiptKindRead      = "read"
)

// DeliveryReceipt 投递回执，按 (message_id, user_id, kind) 唯一、只增不改
type DeliveryReceipt struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageID  string    `gorm:"type:char(24);uniqueIndex:idx_msg_user_kind" json:"messageId"`
	UserID     uint64    `gorm:"uniqueIndex:idx_msg_user_kind;index" json:"userId"`
	Kind       string    `gorm:"type:varchar(16);uniqueIndex:idx_msg_user_kind" json:"kind"`
	RecordedAt time.Time `json:"recordedAt"`
}

func (DeliveryReceipt) TableName() string { return "delivery_receipts" }
