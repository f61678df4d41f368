package dto

import "time"

// 投递状态推进关系固定为 sent < delivered < read，
// 由既有回执推导，与回执写入顺序无关
const (
	DeliveryStateSent      = "sent"
	DeliveryStateDelivered = "delivered"
	DeliveryStateRead      = "read"
)

// SendMessageReq 发送消息请求体
type SendMessageReq struct {
	ConversationID uint64 `json:"conversation_id" validate:"required"`
	ClientMsgID    string `json:"client_msg_id" validate:"required,max=64"`
	MsgType        int    `json:"msg_type" validate:"required"`
	Content        string `json:"content" validate:"required"`
	ReplyTo        string `json:"reply_to,omitempty" validate:"omitempty,len=24,hexadecimal"`
}

// MessageDTO 消息明细
type MessageDTO struct {
	ID             string    `json:"id"`
	ConversationID uint64    `json:"conversation_id"`
	SenderID       uint64    `json:"sender_id"`
	MsgType        int       `json:"msg_type"`
	Content        string    `json:"content"`
	ReplyTo        string    `json:"reply_to,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// DeliveryStateDTO 发送方视角的投递状态快照
type DeliveryStateDTO struct {
	MessageID   string   `json:"message_id"`
	State       string   `json:"state"`
	DeliveredTo []uint64 `json:"delivered_to"`
	ReadBy      []uint64 `json:"read_by"`
}

// MessageWithStateDTO 消息连同当前投递状态，用于推送与 backfill 标注
type MessageWithStateDTO struct {
	Message       *MessageDTO       `json:"message"`
	DeliveryState *DeliveryStateDTO `json:"delivery_state"`
}

// AckDTO 发送确认：客户端生成 ID 与规范 ID 的对应关系
type AckDTO struct {
	ClientMsgID string `json:"client_msg_id"`
	MessageID   string `json:"message_id"`
	State       string `json:"state"`
}

// ReceiptDTO 回执事件
type ReceiptDTO struct {
	MessageID      string    `json:"message_id"`
	ConversationID uint64    `json:"conversation_id"`
	UserID         uint64    `json:"user_id"`
	Kind           string    `json:"kind"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// PresenceDTO 在线状态事件
type PresenceDTO struct {
	UserID     uint64    `json:"user_id"`
	Status     string    `json:"status"`
	LastSeenAt time.Time `json:"last_seen_at,omitempty"`
}

// TypingDTO 正在输入事件
type TypingDTO struct {
	UserID         uint64 `json:"user_id"`
	ConversationID uint64 `json:"conversation_id"`
	Typing         bool   `json:"typing"`
}

// MarkReadReq 标记已读请求体
type MarkReadReq struct {
	ConversationID uint64 `json:"conversation_id" validate:"required"`
	MessageID      string `json:"message_id" validate:"required,len=24,hexadecimal"`
}

// CreateConversationReq 创建会话请求体，发起人自动成为成员
type CreateConversationReq struct {
	Type      int8     `json:"type" validate:"oneof=1 2"`
	Title     string   `json:"title" validate:"max=128"`
	MemberIDs []uint64 `json:"member_ids" validate:"required,min=1,dive,required"`
}

// ConversationDTO 会话明细
type ConversationDTO struct {
	ID        uint64   `json:"id"`
	Type      int8     `json:"type"`
	Title     string   `json:"title"`
	MemberIDs []uint64 `json:"member_ids"`
}

// UpdatePreferencesReq 回执隐私开关
type UpdatePreferencesReq struct {
	SendReadReceipts *bool `json:"send_read_receipts" validate:"required"`
	ShowReadReceipts *bool `json:"show_read_receipts" validate:"required"`
}

// BackfillResultDTO 补发查询结果，消息按 ID 升序
type BackfillResultDTO struct {
	ConversationID uint64                 `json:"conversation_id"`
	Messages       []*MessageWithStateDTO `json:"messages"`
	NextCursor     string                 `json:"next_cursor,omitempty"`
}
