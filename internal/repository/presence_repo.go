package repository

import (
	"Courier/internal/pkg/consts"
	"Courier/internal/pkg/redis"
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// PresenceRecord 用户状态记录，缺失视为 offline
type PresenceRecord struct {
	Status   string
	LastSeen time.Time
}

// PresenceRepo 状态记录存储，带 TTL 的 Redis 哈希
type PresenceRepo interface {
	SetStatus(ctx context.Context, userID uint64, status string, lastSeen time.Time, ttl time.Duration) error
	Get(ctx context.Context, userID uint64) (*PresenceRecord, error)
	RefreshTTL(ctx context.Context, userID uint64) error
}

type presenceRepoImpl struct{}

func NewPresenceRepo() PresenceRepo {
	return &presenceRepoImpl{}
}

func presenceKey(userID uint64) string {
	return consts.PresenceKey + strconv.FormatUint(userID, 10)
}

func (s *presenceRepoImpl) SetStatus(ctx context.Context, userID uint64, status string, lastSeen time.Time, ttl time.Duration) error {
	err := redis.HSetWithExpiration(ctx, presenceKey(userID), map[string]interface{}{
		"status":    status,
		"last_seen": lastSeen.Unix(),
	}, ttl)
	return errors.Wrap(err, "set presence status")
}

func (s *presenceRepoImpl) Get(ctx context.Context, userID uint64) (*PresenceRecord, error) {
	fields, err := redis.HGetAll(ctx, presenceKey(userID))
	if err != nil {
		return nil, errors.Wrap(err, "get presence")
	}

	rec := &PresenceRecord{}
	rec.Status = fields["status"]
	if raw, ok := fields["last_seen"]; ok {
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
			rec.LastSeen = time.Unix(ts, 0)
		}
	}
	return rec, nil
}

func (s *presenceRepoImpl) RefreshTTL(ctx context.Context, userID uint64) error {
	err := redis.Expire(ctx, presenceKey(userID), consts.PresenceOnlineTTL)
	return errors.Wrap(err, "refresh presence ttl")
}
