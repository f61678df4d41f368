package handler

import (
	"Courier/internal/api/dto"
	"Courier/internal/pkg/response"
	"Courier/internal/pkg/util"
	"Courier/internal/service"
	"strconv"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	deliveryService service.DeliveryService
	convService     service.ConversationService
	presenceService service.PresenceService
	typingService   service.TypingService
}

func NewChatHandler(
	deliveryService service.DeliveryService,
	convService service.ConversationService,
	presenceService service.PresenceService,
	typingService service.TypingService,
) *ChatHandler {
	return &ChatHandler{
		deliveryService: deliveryService,
		convService:     convService,
		presenceService: presenceService,
		typingService:   typingService,
	}
}

// SendMessage 发送消息接口，WebSocket 之外的兜底通道
func (s *ChatHandler) SendMessage(c *gin.Context) {
	var req dto.SendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	if err := util.ValidateDTO(&req); err != nil {
		response.Error(c, err)
		return
	}

	senderID := c.GetUint64("userID")

	res, err := s.deliveryService.SendMessage(c, senderID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// MarkAsRead 标记已读接口
func (s *ChatHandler) MarkAsRead(c *gin.Context) {
	var req dto.MarkReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	if err := util.ValidateDTO(&req); err != nil {
		response.Error(c, err)
		return
	}

	userID := c.GetUint64("userID")

	if err := s.deliveryService.MarkMessageAsRead(c, userID, req.ConversationID, req.MessageID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// GetDeliveryState 查询消息当前投递状态
func (s *ChatHandler) GetDeliveryState(c *gin.Context) {
	msgID := c.Param("message_id")
	if len(msgID) != 24 {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	res, err := s.deliveryService.DeliveryStateOf(c, msgID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// Backfill 拉取游标之后的消息
func (s *ChatHandler) Backfill(c *gin.Context) {
	convID, _ := strconv.ParseUint(c.Query("conversation_id"), 10, 64)
	if convID == 0 {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	cursor := c.Query("cursor")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	userID := c.GetUint64("userID")

	res, err := s.deliveryService.BackfillMessages(c, userID, convID, cursor, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// CreateConversation 创建会话
func (s *ChatHandler) CreateConversation(c *gin.Context) {
	var req dto.CreateConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	if err := util.ValidateDTO(&req); err != nil {
		response.Error(c, err)
		return
	}

	userID := c.GetUint64("userID")

	res, err := s.convService.CreateConversation(c, userID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetMembers 查询会话活跃成员
func (s *ChatHandler) GetMembers(c *gin.Context) {
	convID, _ := strconv.ParseUint(c.Param("conversation_id"), 10, 64)
	if convID == 0 {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("userID")

	res, err := s.convService.MemberIDs(c, userID, convID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// GetUnreadCount 查询成员在某会话的未读消息数
func (s *ChatHandler) GetUnreadCount(c *gin.Context) {
	convID, _ := strconv.ParseUint(c.Param("conversation_id"), 10, 64)
	if convID == 0 {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("userID")

	count, err := s.deliveryService.UnreadCount(c, userID, convID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"unread": count})
}

// GetPresence 查询用户在线状态
func (s *ChatHandler) GetPresence(c *gin.Context) {
	targetID, _ := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if targetID == 0 {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	response.Success(c, s.presenceService.PresenceOf(c, targetID))
}

// GetTypingUsers 查询会话里正在输入的用户
func (s *ChatHandler) GetTypingUsers(c *gin.Context) {
	convID, _ := strconv.ParseUint(c.Param("conversation_id"), 10, 64)
	if convID == 0 {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	response.Success(c, s.typingService.TypingUsersIn(c, convID))
}

// UpdatePreferences 调整回执隐私开关
func (s *ChatHandler) UpdatePreferences(c *gin.Context) {
	var req dto.UpdatePreferencesReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}
	if err := util.ValidateDTO(&req); err != nil {
		response.Error(c, err)
		return
	}

	userID := c.GetUint64("userID")

	if err := s.deliveryService.UpdateReceiptPreferences(c, userID, *req.SendReadReceipts, *req.ShowReadReceipts); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}
