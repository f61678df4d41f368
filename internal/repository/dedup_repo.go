package repository

import (
	"Courier/internal/pkg/consts"
	"Courier/internal/pkg/redis"
	"context"
	"strconv"

	"github.com/pkg/errors"
)

// DedupRepo 发送端幂等表：(senderId, clientGeneratedId) -> 规范消息 ID
// TTL 覆盖客户端重试与断线重连的时间窗口
type DedupRepo interface {
	// Lookup 查询既有映射，未命中返回空串
	Lookup(ctx context.Context, senderID uint64, clientMsgID string) (string, error)
	// Reserve 预留映射，返回是否抢占成功；失败说明并发的另一次发送已占先
	Reserve(ctx context.Context, senderID uint64, clientMsgID string, canonicalID string) (bool, error)
}

type dedupRepoImpl struct{}

func NewDedupRepo() DedupRepo {
	return &dedupRepoImpl{}
}

func dedupKey(senderID uint64, clientMsgID string) string {
	return consts.DedupKey + strconv.FormatUint(senderID, 10) + ":" + clientMsgID
}

func (s *dedupRepoImpl) Lookup(ctx context.Context, senderID uint64, clientMsgID string) (string, error) {
	id, err := redis.GetValue(ctx, dedupKey(senderID, clientMsgID))
	return id, errors.Wrap(err, "lookup dedup mapping")
}

func (s *dedupRepoImpl) Reserve(ctx context.Context, senderID uint64, clientMsgID string, canonicalID string) (bool, error) {
	ok, err := redis.SetNXWithExpiration(ctx, dedupKey(senderID, clientMsgID), canonicalID, consts.DedupTTL)
	return ok, errors.Wrap(err, "reserve dedup mapping")
}
