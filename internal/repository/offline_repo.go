package repository

import (
	"Courier/internal/pkg/consts"
	"Courier/internal/pkg/redis"
	"context"
	log "log/slog"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// OfflineEntry 离线队列条目，按入队顺序补投
type OfflineEntry struct {
	MessageID      string          `json:"message_id"`
	ConversationID uint64          `json:"conversation_id"`
	Payload        json.RawMessage `json:"payload"`
	QueuedAt       time.Time       `json:"queued_at"`
}

// OfflineQueueRepo 每个接收者一条有界、带 TTL 的积压列表
type OfflineQueueRepo interface {
	Enqueue(ctx context.Context, recipientID uint64, entry *OfflineEntry) error
	// Drain 原子取出并清空积压，保持最旧在前的顺序
	Drain(ctx context.Context, recipientID uint64) ([]*OfflineEntry, error)
}

type offlineQueueRepoImpl struct{}

func NewOfflineQueueRepo() OfflineQueueRepo {
	return &offlineQueueRepoImpl{}
}

func offlineKey(recipientID uint64) string {
	return consts.OfflineQueueKey + strconv.FormatUint(recipientID, 10)
}

func (s *offlineQueueRepoImpl) Enqueue(ctx context.Context, recipientID uint64, entry *OfflineEntry) error {
	if entry.QueuedAt.IsZero() {
		entry.QueuedAt = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, "marshal offline entry")
	}
	err = redis.RPushCapped(ctx, offlineKey(recipientID), string(data), consts.OfflineQueueMaxLen, consts.OfflineQueueTTL)
	return errors.Wrap(err, "enqueue offline entry")
}

func (s *offlineQueueRepoImpl) Drain(ctx context.Context, recipientID uint64) ([]*OfflineEntry, error) {
	raw, err := redis.ListDrain(ctx, offlineKey(recipientID))
	if err != nil {
		return nil, errors.Wrap(err, "drain offline queue")
	}

	entries := make([]*OfflineEntry, 0, len(raw))
	for _, item := range raw {
		var entry OfflineEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			log.Warn("离线条目解析失败，已丢弃", "recipient", recipientID, "err", err)
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}
