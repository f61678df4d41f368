package repository

import (
	"Courier/internal/pkg/consts"
	"Courier/internal/pkg/redis"
	"context"
	"strconv"

	"github.com/pkg/errors"
)

// SessionRepo 会话注册表：用户 -> 活跃连接集合
// 底层是跨进程共享的 Redis 集合，所有变更使用原子集合操作，
// 多进程同时操作同一用户不会互相覆盖
type SessionRepo interface {
	AddConnection(ctx context.Context, userID uint64, connID string) error
	// RemoveConnection 返回移除后该用户剩余的连接数
	RemoveConnection(ctx context.Context, userID uint64, connID string) (int64, error)
	ConnectionsOf(ctx context.Context, userID uint64) ([]string, error)
	IsOnline(ctx context.Context, userID uint64) (bool, error)
	RefreshTTL(ctx context.Context, userID uint64) error
}

type sessionRepoImpl struct{}

func NewSessionRepo() SessionRepo {
	return &sessionRepoImpl{}
}

func sessionKey(userID uint64) string {
	return consts.SessionConnsKey + strconv.FormatUint(userID, 10)
}

func (s *sessionRepoImpl) AddConnection(ctx context.Context, userID uint64, connID string) error {
	err := redis.SAdd(ctx, sessionKey(userID), connID, consts.PresenceOnlineTTL)
	return errors.Wrap(err, "add connection")
}

func (s *sessionRepoImpl) RemoveConnection(ctx context.Context, userID uint64, connID string) (int64, error) {
	remaining, err := redis.SRem(ctx, sessionKey(userID), connID)
	return remaining, errors.Wrap(err, "remove connection")
}

func (s *sessionRepoImpl) ConnectionsOf(ctx context.Context, userID uint64) ([]string, error) {
	conns, err := redis.SMembers(ctx, sessionKey(userID))
	return conns, errors.Wrap(err, "list connections")
}

func (s *sessionRepoImpl) IsOnline(ctx context.Context, userID uint64) (bool, error) {
	count, err := redis.SCard(ctx, sessionKey(userID))
	return count > 0, errors.Wrap(err, "count connections")
}

// RefreshTTL 心跳续期，不改变连接集合本身
func (s *sessionRepoImpl) RefreshTTL(ctx context.Context, userID uint64) error {
	err := redis.Expire(ctx, sessionKey(userID), consts.PresenceOnlineTTL)
	return errors.Wrap(err, "refresh session ttl")
}
