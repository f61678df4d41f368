package service

import (
	"Courier/internal/api/dto"
	"Courier/internal/pkg/consts"
	"Courier/internal/repository"
	"context"
	log "log/slog"
	"sync"
	"time"
)

// TypingService 正在输入信号
// 进程内定时器负责 ~5s 自动停止；存储记录带稍长的 TTL，
// 定时器随进程丢失时记录也会自行过期
type TypingService interface {
	StartTyping(ctx context.Context, userID, convID uint64)
	StopTyping(ctx context.Context, userID, convID uint64)
	TypingUsersIn(ctx context.Context, convID uint64) []uint64
	// ClearUser 断连清理：撤销该用户全部输入记录并广播停止事件
	ClearUser(ctx context.Context, userID uint64)
	Close()
}

type typingServiceImpl struct {
	typingRepo  repository.TypingRepo
	broadcaster Broadcaster
	facts       FactPublisher

	autoStop time.Duration

	mu     sync.Mutex
	timers map[uint64]map[uint64]*time.Timer // userID -> convID -> 自动停止定时器
}

func NewTypingService(typingRepo repository.TypingRepo, broadcaster Broadcaster, facts FactPublisher) TypingService {
	return &typingServiceImpl{
		typingRepo:  typingRepo,
		broadcaster: broadcaster,
		facts:       facts,
		autoStop:    consts.TypingAutoStop,
		timers:      make(map[uint64]map[uint64]*time.Timer),
	}
}

// StartTyping 幂等(重)装定时器并刷新存储记录
func (s *typingServiceImpl) StartTyping(ctx context.Context, userID, convID uint64) {
	if err := s.typingRepo.Arm(ctx, convID, userID, time.Now().Add(s.autoStop)); err != nil {
		log.Warn("输入记录写入失败", "user", userID, "conv", convID, "err", err)
	}

	s.mu.Lock()
	byConv, ok := s.timers[userID]
	if !ok {
		byConv = make(map[uint64]*time.Timer)
		s.timers[userID] = byConv
	}
	timer, rearmed := byConv[convID]
	if rearmed {
		timer.Reset(s.autoStop)
	} else {
		byConv[convID] = time.AfterFunc(s.autoStop, func() {
			s.StopTyping(context.Background(), userID, convID)
		})
	}
	s.mu.Unlock()

	// 同一次持续输入只广播一次开始
	if !rearmed {
		s.emit(ctx, userID, convID, true)
	}
}

// StopTyping 取消定时器并立即删除记录
func (s *typingServiceImpl) StopTyping(ctx context.Context, userID, convID uint64) {
	s.mu.Lock()
	byConv := s.timers[userID]
	timer, active := byConv[convID]
	if active {
		timer.Stop()
		delete(byConv, convID)
		if len(byConv) == 0 {
			delete(s.timers, userID)
		}
	}
	s.mu.Unlock()

	if !active {
		return
	}

	if err := s.typingRepo.Disarm(ctx, convID, userID); err != nil {
		log.Warn("输入记录删除失败", "user", userID, "conv", convID, "err", err)
	}
	s.emit(ctx, userID, convID, false)
}

// TypingUsersIn 列出会话内未过期的输入者
func (s *typingServiceImpl) TypingUsersIn(ctx context.Context, convID uint64) []uint64 {
	users, err := s.typingRepo.ActiveUsers(ctx, convID, time.Now())
	if err != nil {
		log.Warn("输入者查询失败", "conv", convID, "err", err)
		return nil
	}
	return users
}

func (s *typingServiceImpl) ClearUser(ctx context.Context, userID uint64) {
	s.mu.Lock()
	convIDs := make([]uint64, 0, len(s.timers[userID]))
	for convID, timer := range s.timers[userID] {
		timer.Stop()
		convIDs = append(convIDs, convID)
	}
	delete(s.timers, userID)
	s.mu.Unlock()

	for _, convID := range convIDs {
		if err := s.typingRepo.Disarm(ctx, convID, userID); err != nil {
			log.Warn("输入记录删除失败", "user", userID, "conv", convID, "err", err)
		}
		s.emit(ctx, userID, convID, false)
	}
}

func (s *typingServiceImpl) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, byConv := range s.timers {
		for _, timer := range byConv {
			timer.Stop()
		}
	}
	s.timers = make(map[uint64]map[uint64]*time.Timer)
}

func (s *typingServiceImpl) emit(ctx context.Context, userID, convID uint64, typing bool) {
	event := &dto.TypingDTO{UserID: userID, ConversationID: convID, Typing: typing}

	eventType := "typing"
	if !typing {
		eventType = "typing-stop"
	}
	if err := s.broadcaster.PublishToConversation(ctx, convID, eventType, event); err != nil {
		log.Warn("输入事件广播失败", "user", userID, "conv", convID, "err", err)
	}

	if s.facts != nil {
		s.facts.Publish("typing-changed", event)
	}
}
