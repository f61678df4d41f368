package gateway

import (
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// 入站事件类型，网关在边界处校验后才进入组件逻辑
const (
	EvtAuthenticate    = "authenticate"
	EvtJoin            = "join"
	EvtLeave           = "leave"
	EvtSend            = "send"
	EvtTypingStart     = "typing-start"
	EvtTypingStop      = "typing-stop"
	EvtPresenceUpdate  = "presence-update"
	EvtHeartbeat       = "heartbeat"
	EvtMarkRead        = "mark-read"
	EvtRequestBackfill = "request-backfill"
)

// 出站事件类型
const (
	EvtAuthResult     = "auth-result"
	EvtJoined         = "joined"
	EvtLeft           = "left"
	EvtMessageNew     = "message-new"
	EvtMessageAck     = "message-ack"
	EvtTyping         = "typing"
	EvtTypingStopped  = "typing-stop"
	EvtPresence       = "presence"
	EvtReceipt        = "receipt"
	EvtBackfillResult = "backfill-result"
	EvtError          = "error"
)

// InboundEvent 入站信封
type InboundEvent struct {
	Type string          `json:"type" validate:"required"`
	Data json.RawMessage `json:"data"`
}

// OutboundEvent 出站信封
type OutboundEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// AuthenticatePayload 认证凭据
type AuthenticatePayload struct {
	Token string `json:"token" validate:"required"`
}

// RoomPayload 房间操作
type RoomPayload struct {
	ConversationID uint64 `json:"conversation_id" validate:"required"`
}

// PresenceUpdatePayload 显式状态切换
type PresenceUpdatePayload struct {
	Status string `json:"status" validate:"required,oneof=online away"`
}

// MarkReadPayload 标记已读
type MarkReadPayload struct {
	ConversationID uint64 `json:"conversation_id" validate:"required"`
	MessageID      string `json:"message_id" validate:"required,len=24,hexadecimal"`
}

// BackfillPayload 补发请求，cursor 为空表示使用服务端已读游标
type BackfillPayload struct {
	ConversationID uint64 `json:"conversation_id" validate:"required"`
	Cursor         string `json:"cursor" validate:"omitempty,len=24,hexadecimal"`
	Limit          int    `json:"limit" validate:"omitempty,min=1,max=100"`
}

// AuthResultData 认证成功响应
type AuthResultData struct {
	ConnID      string `json:"conn_id"`
	UserID      uint64 `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// RoomResultData 加入/离开结果
type RoomResultData struct {
	ConversationID uint64 `json:"conversation_id"`
}

// ErrorData 错误事件
type ErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

var validate = validator.New()

// decodePayload 反序列化并按结构体标签校验
func decodePayload(data json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return err
	}
	return validate.Struct(v)
}
