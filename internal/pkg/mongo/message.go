package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message MongoDB 消息明细模型
// _id 使用 ObjectID，其前四字节为秒级时间戳，天然按创建时间可排序，
// 作为投递层的游标与规范消息 ID 使用
type Message struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ConversationID uint64             `bson:"conversation_id" json:"conversation_id"`
	SenderID       uint64             `bson:"sender_id" json:"sender_id"`
	MsgType        int                `bson:"msg_type" json:"msg_type"` // 1-文本, 2-图片...
	Content        string             `bson:"content" json:"content"`
	ReplyTo        string             `bson:"reply_to,omitempty" json:"reply_to,omitempty"` // 被回复消息的 ID
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
}
