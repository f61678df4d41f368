package consts

import "time"

// 各类临时记录的存活窗口
const (
	AuthTimeout       = 10 * time.Second
	TypingAutoStop    = 5 * time.Second
	TypingRecordTTL   = 10 * time.Second
	PresenceOnlineTTL = time.Hour
	PresenceGraceTTL  = 5 * time.Minute
	DedupTTL          = time.Hour
	OfflineQueueTTL   = 7 * 24 * time.Hour
)

const (
	OfflineQueueMaxLen  = 1000
	BackfillMaxPageSize = 100
)
