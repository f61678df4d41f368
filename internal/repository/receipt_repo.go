package repository

import (
	"Courier/internal/model"
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReceiptRepo interface {
	RecordReceipt(ctx context.Context, msgID string, userID uint64, kind string) error
	ReceiptsOf(ctx context.Context, msgID string) ([]*model.DeliveryReceipt, error)
	ReceiptsOfMany(ctx context.Context, msgIDs []string) (map[string][]*model.DeliveryReceipt, error)
}

type receiptRepoImpl struct {
	db *gorm.DB
}

func NewReceiptRepo(db *gorm.DB) ReceiptRepo {
	return &receiptRepoImpl{db: db}
}

// RecordReceipt 写入回执
// 唯一索引 + DoNothing 让重复投递(离线补发、并发 drain)天然幂等
func (s *receiptRepoImpl) RecordReceipt(ctx context.Context, msgID string, userID uint64, kind string) error {
	receipt := &model.DeliveryReceipt{
		MessageID:  msgID,
		UserID:     userID,
		Kind:       kind,
		RecordedAt: time.Now(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(receipt).Error
	return errors.Wrap(err, "record receipt")
}

// ReceiptsOf 获取单条消息的全部回执
func (s *receiptRepoImpl) ReceiptsOf(ctx context.Context, msgID string) ([]*model.DeliveryReceipt, error) {
	var receipts []*model.DeliveryReceipt
	err := s.db.WithContext(ctx).
		Where("message_id = ?", msgID).
		Order("recorded_at").
		Find(&receipts).Error
	return receipts, errors.Wrap(err, "list receipts")
}

// ReceiptsOfMany 批量获取回执，按消息 ID 分组，供 backfill 标注投递状态
func (s *receiptRepoImpl) ReceiptsOfMany(ctx context.Context, msgIDs []string) (map[string][]*model.DeliveryReceipt, error) {
	res := make(map[string][]*model.DeliveryReceipt, len(msgIDs))
	if len(msgIDs) == 0 {
		return res, nil
	}

	var receipts []*model.DeliveryReceipt
	err := s.db.WithContext(ctx).
		Where("message_id IN ?", msgIDs).
		Order("recorded_at").
		Find(&receipts).Error
	if err != nil {
		return nil, errors.Wrap(err, "batch list receipts")
	}
	for _, r := range receipts {
		res[r.MessageID] = append(res[r.MessageID], r)
	}
	return res, nil
}
