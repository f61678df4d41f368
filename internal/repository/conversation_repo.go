package repository

import (
	"Courier/internal/model"
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type ConversationRepo interface {
	CreateConversation(ctx context.Context, conv *model.Conversation, memberIDs []uint64) error
	GetConversation(ctx context.Context, convID uint64) (*model.Conversation, error)
	IsMember(ctx context.Context, convID uint64, userID uint64) (bool, error)
	ActiveMemberIDs(ctx context.Context, convID uint64) ([]uint64, error)
	ConversationIDsOf(ctx context.Context, userID uint64) ([]uint64, error)

	LastReadPointer(ctx context.Context, convID, userID uint64) (string, error)
	AdvanceReadPointer(ctx context.Context, convID, userID uint64, msgID string) error
}

type conversationRepoImpl struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepoImpl{db: db}
}

// CreateConversation 开启事务创建会话及初始成员
func (s *conversationRepoImpl) CreateConversation(ctx context.Context, conv *model.Conversation, memberIDs []uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		for _, uid := range memberIDs {
			m := &model.ConversationMember{
				ConversationID: conv.ID,
				UserID:         uid,
				IsActive:       1,
				JoinedAt:       time.Now(),
			}
			if err := tx.Create(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetConversation 根据会话 ID 获取会话
func (s *conversationRepoImpl) GetConversation(ctx context.Context, convID uint64) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).First(&conv, convID).Error
	return &conv, errors.Wrap(err, "get conversation")
}

// IsMember 检查用户是否是会话活跃成员
func (s *conversationRepoImpl) IsMember(ctx context.Context, convID uint64, userID uint64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ? AND is_active = 1", convID, userID).
		Count(&count).Error
	return count > 0, errors.Wrap(err, "check membership")
}

// ActiveMemberIDs 获取会话全部活跃成员，供投递扇出解析接收者
func (s *conversationRepoImpl) ActiveMemberIDs(ctx context.Context, convID uint64) ([]uint64, error) {
	var ids []uint64
	err := s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND is_active = 1", convID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, errors.Wrap(err, "list active members")
}

// ConversationIDsOf 获取用户参与的所有会话，用于连接期的频道订阅与状态扩散
func (s *conversationRepoImpl) ConversationIDsOf(ctx context.Context, userID uint64) ([]uint64, error) {
	var ids []uint64
	err := s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("user_id = ? AND is_active = 1", userID).
		Pluck("conversation_id", &ids).Error
	return ids, errors.Wrap(err, "list conversations of user")
}

// LastReadPointer 读取成员的已读游标
func (s *conversationRepoImpl) LastReadPointer(ctx context.Context, convID, userID uint64) (string, error) {
	var pointer string
	err := s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Pluck("last_read_msg_id", &pointer).Error
	return pointer, errors.Wrap(err, "get read pointer")
}

// AdvanceReadPointer 单调推进已读游标
// ObjectID 的十六进制串等长且按时间有序，字符串比较即时间比较，
// 条件更新保证并发情况下游标只会前进
func (s *conversationRepoImpl) AdvanceReadPointer(ctx context.Context, convID, userID uint64, msgID string) error {
	err := s.db.WithContext(ctx).Model(&model.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ? AND last_read_msg_id < ?", convID, userID, msgID).
		Update("last_read_msg_id", msgID).Error
	return errors.Wrap(err, "advance read pointer")
}
