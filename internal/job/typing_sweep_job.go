package job

import (
	"Courier/internal/pkg/consts"
	"Courier/internal/pkg/redis"
	"context"
	log "log/slog"
	"time"
)

// TypingSweepJob 清理输入状态有序集合里已过期的成员，
// 连接异常断开时残留的记录由这里兜底回收
type TypingSweepJob struct{}

func NewTypingSweepJob() *TypingSweepJob {
	return &TypingSweepJob{}
}

func (s *TypingSweepJob) Run() {
	ctx := context.Background()

	keys, err := redis.ScanKeys(ctx, consts.TypingKey+"*", 100)
	if err != nil {
		log.Error("扫描输入状态键失败", "err", err)
		return
	}

	now := float64(time.Now().UnixMilli())
	cleaned := 0

	// ZRangeAlive 会顺带删除过期成员
	for _, key := range keys {
		alive, err := redis.ZRangeAlive(ctx, key, now)
		if err != nil {
			log.Warn("清理输入状态失败", "key", key, "err", err)
			continue
		}
		if len(alive) == 0 {
			if err = redis.DeleteKey(ctx, key); err == nil {
				cleaned++
			}
		}
	}

	if cleaned > 0 {
		log.Info("输入状态清理完成", "scanned", len(keys), "removed", cleaned)
	}
}
