package repository

import (
	"Courier/internal/pkg/consts"
	"Courier/internal/pkg/redis"
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// TypingRepo 正在输入记录
// 有序集合成员为用户 ID、分数为过期时刻，读取时先剔除过期成员，
// 进程内定时器丢失时记录也会随 TTL 自愈
type TypingRepo interface {
	Arm(ctx context.Context, convID, userID uint64, expireAt time.Time) error
	Disarm(ctx context.Context, convID, userID uint64) error
	ActiveUsers(ctx context.Context, convID uint64, now time.Time) ([]uint64, error)
}

type typingRepoImpl struct{}

func NewTypingRepo() TypingRepo {
	return &typingRepoImpl{}
}

func typingKey(convID uint64) string {
	return consts.TypingKey + strconv.FormatUint(convID, 10)
}

func (s *typingRepoImpl) Arm(ctx context.Context, convID, userID uint64, expireAt time.Time) error {
	err := redis.ZAddWithExpiration(ctx, typingKey(convID),
		float64(expireAt.UnixMilli()),
		strconv.FormatUint(userID, 10),
		consts.TypingRecordTTL)
	return errors.Wrap(err, "arm typing record")
}

func (s *typingRepoImpl) Disarm(ctx context.Context, convID, userID uint64) error {
	err := redis.ZRem(ctx, typingKey(convID), strconv.FormatUint(userID, 10))
	return errors.Wrap(err, "disarm typing record")
}

func (s *typingRepoImpl) ActiveUsers(ctx context.Context, convID uint64, now time.Time) ([]uint64, error) {
	members, err := redis.ZRangeAlive(ctx, typingKey(convID), float64(now.UnixMilli()))
	if err != nil {
		return nil, errors.Wrap(err, "list typing users")
	}

	ids := make([]uint64, 0, len(members))
	for _, m := range members {
		if uid, err := strconv.ParseUint(m, 10, 64); err == nil {
			ids = append(ids, uid)
		}
	}
	return ids, nil
}
