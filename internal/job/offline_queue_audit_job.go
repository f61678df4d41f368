package job

import (
	"Courier/internal/pkg/consts"
	"Courier/internal/pkg/redis"
	"context"
	log "log/slog"
)

// OfflineQueueAuditJob 巡检离线队列深度，接近容量上限时告警，
// 队列被截断意味着长期离线用户会丢最早的消息
type OfflineQueueAuditJob struct{}

func NewOfflineQueueAuditJob() *OfflineQueueAuditJob {
	return &OfflineQueueAuditJob{}
}

func (s *OfflineQueueAuditJob) Run() {
	ctx := context.Background()

	keys, err := redis.ScanKeys(ctx, consts.OfflineQueueKey+"*", 100)
	if err != nil {
		log.Error("扫描离线队列键失败", "err", err)
		return
	}

	warnThreshold := int64(consts.OfflineQueueMaxLen * 8 / 10)
	nearCap := 0

	for _, key := range keys {
		depth, err := redis.ListLen(ctx, key)
		if err != nil {
			continue
		}
		if depth >= warnThreshold {
			nearCap++
			log.Warn("离线队列接近容量上限", "key", key, "depth", depth, "cap", consts.OfflineQueueMaxLen)
		}
	}

	log.Info("离线队列巡检完成", "queues", len(keys), "nearCap", nearCap)
}
