package service

import (
	"Courier/internal/api/dto"
	"Courier/internal/model"
	"Courier/internal/repository"
	"context"
	log "log/slog"
	"time"
)

// ConversationService 会话管理
type ConversationService interface {
	CreateConversation(ctx context.Context, creatorID uint64, req *dto.CreateConversationReq) (*dto.ConversationDTO, error)
	MemberIDs(ctx context.Context, userID, convID uint64) ([]uint64, error)
}

type conversationServiceImpl struct {
	convRepo repository.ConversationRepo
}

func NewConversationService(convRepo repository.ConversationRepo) ConversationService {
	return &conversationServiceImpl{convRepo: convRepo}
}

// CreateConversation 创建会话，发起人自动加入成员列表
func (s *conversationServiceImpl) CreateConversation(ctx context.Context, creatorID uint64, req *dto.CreateConversationReq) (*dto.ConversationDTO, error) {
	memberIDs := dedupeIDs(append(req.MemberIDs, creatorID))
	if req.Type == 1 && len(memberIDs) != 2 {
		return nil, ErrParamInvalid
	}

	conv := &model.Conversation{
		Type:          req.Type,
		Title:         req.Title,
		LastMessageAt: time.Now(),
	}
	if err := s.convRepo.CreateConversation(ctx, conv, memberIDs); err != nil {
		log.Error("创建会话失败", "creatorID", creatorID, "err", err)
		return nil, UnExpectedError
	}

	return &dto.ConversationDTO{
		ID:        conv.ID,
		Type:      conv.Type,
		Title:     conv.Title,
		MemberIDs: memberIDs,
	}, nil
}

// MemberIDs 查询活跃成员列表，仅成员可见
func (s *conversationServiceImpl) MemberIDs(ctx context.Context, userID, convID uint64) ([]uint64, error) {
	isMember, err := s.convRepo.IsMember(ctx, convID, userID)
	if err != nil {
		return nil, UnExpectedError
	}
	if !isMember {
		return nil, ErrNotMember
	}
	return s.convRepo.ActiveMemberIDs(ctx, convID)
}

func dedupeIDs(ids []uint64) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
