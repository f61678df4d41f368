package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrMessageNotExist = errors.New("message not exist")

type MessageRepo interface {
	CreateMessage(ctx context.Context, msg *Message) (string, error)
	GetMessage(ctx context.Context, msgID string) (*Message, error)
	MessagesAfter(ctx context.Context, convID uint64, cursor string, limit int) ([]*Message, error)
	CountAfter(ctx context.Context, convID uint64, cursor string) (int64, error)
	DeleteMessage(ctx context.Context, msgID string) error
}

type messageRepoImpl struct {
	col *mongo.Collection
}

func NewMessageRepo(db *mongo.Database) MessageRepo {
	return &messageRepoImpl{
		col: db.Collection("message"),
	}
}

// CreateMessage 写入消息并返回时间有序的规范 ID
func (s *messageRepoImpl) CreateMessage(ctx context.Context, msg *Message) (string, error) {
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if _, err := s.col.InsertOne(ctx, msg); err != nil {
		return "", errors.Wrap(err, "insert message")
	}
	return msg.ID.Hex(), nil
}

// GetMessage 按规范 ID 精确查询
func (s *messageRepoImpl) GetMessage(ctx context.Context, msgID string) (*Message, error) {
	oid, err := primitive.ObjectIDFromHex(msgID)
	if err != nil {
		return nil, ErrMessageNotExist
	}

	var msg Message
	if err := s.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&msg); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMessageNotExist
		}
		return nil, errors.Wrap(err, "find message")
	}
	return &msg, nil
}

// MessagesAfter 返回会话内 ID 严格大于 cursor 的消息，升序排列
// cursor 为空表示从会话起点开始
func (s *messageRepoImpl) MessagesAfter(ctx context.Context, convID uint64, cursor string, limit int) ([]*Message, error) {
	filter := bson.M{"conversation_id": convID}

	if cursor != "" {
		oid, err := primitive.ObjectIDFromHex(cursor)
		if err != nil {
			return nil, errors.Wrap(err, "parse cursor")
		}
		filter["_id"] = bson.M{"$gt": oid}
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	curs, err := s.col.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, errors.Wrap(err, "find messages after cursor")
	}
	defer func() {
		_ = curs.Close(ctx)
	}()

	var messages []*Message
	if err := curs.All(ctx, &messages); err != nil {
		return nil, errors.Wrap(err, "decode messages")
	}
	return messages, nil
}

// CountAfter 统计会话内 ID 严格大于 cursor 的消息数
func (s *messageRepoImpl) CountAfter(ctx context.Context, convID uint64, cursor string) (int64, error) {
	filter := bson.M{"conversation_id": convID}

	if cursor != "" {
		oid, err := primitive.ObjectIDFromHex(cursor)
		if err != nil {
			return 0, errors.Wrap(err, "parse cursor")
		}
		filter["_id"] = bson.M{"$gt": oid}
	}

	count, err := s.col.CountDocuments(ctx, filter)
	if err != nil {
		return 0, errors.Wrap(err, "count messages after cursor")
	}
	return count, nil
}

// DeleteMessage 删除消息，仅用于去重竞争失败后回收孤儿记录
func (s *messageRepoImpl) DeleteMessage(ctx context.Context, msgID string) error {
	oid, err := primitive.ObjectIDFromHex(msgID)
	if err != nil {
		return ErrMessageNotExist
	}
	_, err = s.col.DeleteOne(ctx, bson.M{"_id": oid})
	return errors.Wrap(err, "delete message")
}
