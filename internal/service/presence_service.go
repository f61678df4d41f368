package service

import (
	"Courier/internal/api/dto"
	"Courier/internal/pkg/consts"
	"Courier/internal/repository"
	"context"
	log "log/slog"
	"time"
)

const (
	PresenceOnline  = "online"
	PresenceAway    = "away"
	PresenceOffline = "offline"
)

// FactPublisher 对外事实发布口，投递结果不影响调用方
type FactPublisher interface {
	Publish(factType string, payload interface{})
}

// PresenceService 在线状态机
// 不变式：status=offline 当且仅当连接集合为空
// 后端存储不可用时所有操作退化为记录日志，绝不阻塞连接生命周期
type PresenceService interface {
	HandleConnect(ctx context.Context, userID uint64, connID string)
	HandleDisconnect(ctx context.Context, userID uint64, connID string)
	UpdateStatus(ctx context.Context, userID uint64, status string)
	Heartbeat(ctx context.Context, userID uint64)
	PresenceOf(ctx context.Context, userID uint64) *dto.PresenceDTO
}

type presenceServiceImpl struct {
	sessionRepo  repository.SessionRepo
	presenceRepo repository.PresenceRepo
	convRepo     repository.ConversationRepo
	broadcaster  Broadcaster
	facts        FactPublisher
}

func NewPresenceService(
	sessionRepo repository.SessionRepo,
	presenceRepo repository.PresenceRepo,
	convRepo repository.ConversationRepo,
	broadcaster Broadcaster,
	facts FactPublisher,
) PresenceService {
	return &presenceServiceImpl{
		sessionRepo:  sessionRepo,
		presenceRepo: presenceRepo,
		convRepo:     convRepo,
		broadcaster:  broadcaster,
		facts:        facts,
	}
}

// HandleConnect 新连接并入连接集合，用户进入 online
func (s *presenceServiceImpl) HandleConnect(ctx context.Context, userID uint64, connID string) {
	prev := s.currentStatus(ctx, userID)

	if err := s.sessionRepo.AddConnection(ctx, userID, connID); err != nil {
		log.Warn("连接注册失败，跳过本次状态更新", "user", userID, "conn", connID, "err", err)
		return
	}

	if err := s.presenceRepo.SetStatus(ctx, userID, PresenceOnline, time.Now(), consts.PresenceOnlineTTL); err != nil {
		log.Warn("在线状态写入失败", "user", userID, "err", err)
	}

	if prev != PresenceOnline {
		s.emit(ctx, userID, PresenceOnline, time.Time{})
	}
}

// HandleDisconnect 移除连接；最后一条连接断开时落为 offline 并保留短暂墓碑
func (s *presenceServiceImpl) HandleDisconnect(ctx context.Context, userID uint64, connID string) {
	remaining, err := s.sessionRepo.RemoveConnection(ctx, userID, connID)
	if err != nil {
		log.Warn("连接注销失败", "user", userID, "conn", connID, "err", err)
		return
	}
	if remaining > 0 {
		return
	}

	lastSeen := time.Now()
	if err := s.presenceRepo.SetStatus(ctx, userID, PresenceOffline, lastSeen, consts.PresenceGraceTTL); err != nil {
		log.Warn("离线墓碑写入失败", "user", userID, "err", err)
	}

	s.emit(ctx, userID, PresenceOffline, lastSeen)
}

// UpdateStatus 显式状态切换，仅在仍有连接时生效
func (s *presenceServiceImpl) UpdateStatus(ctx context.Context, userID uint64, status string) {
	if status != PresenceOnline && status != PresenceAway {
		log.Warn("忽略非法状态切换", "user", userID, "status", status)
		return
	}

	online, err := s.sessionRepo.IsOnline(ctx, userID)
	if err != nil {
		log.Warn("状态切换前在线检查失败", "user", userID, "err", err)
		return
	}
	if !online {
		return
	}

	if err := s.presenceRepo.SetStatus(ctx, userID, status, time.Now(), consts.PresenceOnlineTTL); err != nil {
		log.Warn("状态写入失败", "user", userID, "status", status, "err", err)
		return
	}

	s.emit(ctx, userID, status, time.Time{})
}

// Heartbeat 心跳只续期，不改动连接集合与状态
func (s *presenceServiceImpl) Heartbeat(ctx context.Context, userID uint64) {
	if err := s.presenceRepo.RefreshTTL(ctx, userID); err != nil {
		log.Warn("心跳续期失败", "user", userID, "err", err)
	}
	if err := s.sessionRepo.RefreshTTL(ctx, userID); err != nil {
		log.Warn("连接集合续期失败", "user", userID, "err", err)
	}
}

// PresenceOf 查询当前状态，记录缺失视为 offline
func (s *presenceServiceImpl) PresenceOf(ctx context.Context, userID uint64) *dto.PresenceDTO {
	res := &dto.PresenceDTO{UserID: userID, Status: PresenceOffline}

	rec, err := s.presenceRepo.Get(ctx, userID)
	if err != nil {
		log.Warn("状态查询失败", "user", userID, "err", err)
		return res
	}
	if rec.Status != "" {
		res.Status = rec.Status
		res.LastSeenAt = rec.LastSeen
	}
	return res
}

func (s *presenceServiceImpl) currentStatus(ctx context.Context, userID uint64) string {
	rec, err := s.presenceRepo.Get(ctx, userID)
	if err != nil || rec.Status == "" {
		return PresenceOffline
	}
	return rec.Status
}

// emit 每次状态迁移都对用户所在的全部会话广播，并发布对外事实
func (s *presenceServiceImpl) emit(ctx context.Context, userID uint64, status string, lastSeen time.Time) {
	event := &dto.PresenceDTO{UserID: userID, Status: status, LastSeenAt: lastSeen}

	convIDs, err := s.convRepo.ConversationIDsOf(ctx, userID)
	if err != nil {
		log.Warn("状态扩散时会话解析失败", "user", userID, "err", err)
	}
	for _, convID := range convIDs {
		if err := s.broadcaster.PublishToConversation(ctx, convID, "presence", event); err != nil {
			log.Warn("状态广播失败", "user", userID, "conv", convID, "err", err)
		}
	}

	if s.facts != nil {
		s.facts.Publish("presence-changed", event)
	}
}
