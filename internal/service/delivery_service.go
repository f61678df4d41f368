package service

import (
	"Courier/internal/api/dto"
	"Courier/internal/model"
	"Courier/internal/pkg/consts"
	"Courier/internal/pkg/mongo"
	"Courier/internal/repository"
	"context"
	"errors"
	log "log/slog"
	"sort"
	"time"

	"github.com/goccy/go-json"
)

// DeliveryService 投递编排
// 一条新消息对除发送者外的每个活跃成员恰好走一条路径：
// 在线推送或离线入队；幂等层保证客户端重试不会二次建档、二次扇出
type DeliveryService interface {
	SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.DeliveryStateDTO, error)
	// ProcessOfflineMessages 重连补投，返回补投条数
	ProcessOfflineMessages(ctx context.Context, userID uint64) (int, error)
	MarkMessageAsRead(ctx context.Context, userID uint64, convID uint64, msgID string) error
	DeliveryStateOf(ctx context.Context, msgID string) (*dto.DeliveryStateDTO, error)
	BackfillMessages(ctx context.Context, userID, convID uint64, cursor string, limit int) (*dto.BackfillResultDTO, error)
	// UnreadCount 统计成员已读游标之后的消息数
	UnreadCount(ctx context.Context, userID, convID uint64) (int64, error)
	// UpdateReceiptPreferences 调整回执隐私开关，立即对后续查询生效
	UpdateReceiptPreferences(ctx context.Context, userID uint64, sendRead, showRead bool) error
}

type deliveryServiceImpl struct {
	convRepo    repository.ConversationRepo
	prefRepo    repository.PreferenceRepo
	receiptRepo repository.ReceiptRepo
	dedupRepo   repository.DedupRepo
	offlineRepo repository.OfflineQueueRepo
	sessionRepo repository.SessionRepo
	messageRepo mongo.MessageRepo
	broadcaster Broadcaster
	facts       FactPublisher
}

func NewDeliveryService(
	convRepo repository.ConversationRepo,
	prefRepo repository.PreferenceRepo,
	receiptRepo repository.ReceiptRepo,
	dedupRepo repository.DedupRepo,
	offlineRepo repository.OfflineQueueRepo,
	sessionRepo repository.SessionRepo,
	messageRepo mongo.MessageRepo,
	broadcaster Broadcaster,
	facts FactPublisher,
) DeliveryService {
	return &deliveryServiceImpl{
		convRepo:    convRepo,
		prefRepo:    prefRepo,
		receiptRepo: receiptRepo,
		dedupRepo:   dedupRepo,
		offlineRepo: offlineRepo,
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		broadcaster: broadcaster,
		facts:       facts,
	}
}

// SendMessage 发送主流程
// 发送方保证收到 message-ack 或显式错误，绝不静默丢弃
func (s *deliveryServiceImpl) SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.DeliveryStateDTO, error) {
	isMember, err := s.convRepo.IsMember(ctx, req.ConversationID, senderID)
	if err != nil {
		log.Error("成员校验失败", "sender", senderID, "conv", req.ConversationID, "err", err)
		return nil, ErrSendRetryable
	}
	if !isMember {
		return nil, ErrNotMember
	}

	// 重试短路：同一 (sender, clientMsgID) 返回先前的规范消息状态
	existing, err := s.dedupRepo.Lookup(ctx, senderID, req.ClientMsgID)
	if err != nil {
		log.Error("幂等映射查询失败", "sender", senderID, "client_msg_id", req.ClientMsgID, "err", err)
		return nil, ErrSendRetryable
	}
	if existing != "" {
		return s.stateOrSentOnly(ctx, existing)
	}

	msg := &mongo.Message{
		ConversationID: req.ConversationID,
		SenderID:       senderID,
		MsgType:        req.MsgType,
		Content:        req.Content,
		ReplyTo:        req.ReplyTo,
		CreatedAt:      time.Now(),
	}
	msgID, err := s.messageRepo.CreateMessage(ctx, msg)
	if err != nil {
		log.Error("消息落库失败", "sender", senderID, "conv", req.ConversationID, "err", err)
		return nil, ErrSendRetryable
	}

	// 扇出前预留幂等映射；并发竞争失败说明另一次发送已占先
	won, err := s.dedupRepo.Reserve(ctx, senderID, req.ClientMsgID, msgID)
	if err != nil {
		log.Error("幂等映射预留失败", "sender", senderID, "client_msg_id", req.ClientMsgID, "err", err)
		return nil, ErrSendRetryable
	}
	if !won {
		if err := s.messageRepo.DeleteMessage(ctx, msgID); err != nil {
			log.Warn("孤儿消息回收失败", "msg", msgID, "err", err)
		}
		winner, err := s.dedupRepo.Lookup(ctx, senderID, req.ClientMsgID)
		if err != nil || winner == "" {
			return nil, ErrSendRetryable
		}
		return s.stateOrSentOnly(ctx, winner)
	}

	members, err := s.convRepo.ActiveMemberIDs(ctx, req.ConversationID)
	if err != nil {
		log.Error("成员解析失败", "conv", req.ConversationID, "msg", msgID, "err", err)
		return nil, ErrSendRetryable
	}

	msgDTO := toMessageDTO(msg)
	state := &dto.DeliveryStateDTO{
		MessageID:   msgID,
		State:       dto.DeliveryStateSent,
		DeliveredTo: []uint64{},
		ReadBy:      []uint64{},
	}

	for _, member := range members {
		if member == senderID {
			continue
		}
		if s.deliverToRecipient(ctx, member, msgDTO) {
			state.DeliveredTo = append(state.DeliveredTo, member)
		}
	}
	if len(state.DeliveredTo) > 0 {
		state.State = dto.DeliveryStateDelivered
	}

	// 发送确认推到发送者的所有在线连接
	ack := &dto.AckDTO{ClientMsgID: req.ClientMsgID, MessageID: msgID, State: state.State}
	if _, err := s.broadcaster.PushToUser(ctx, senderID, "message-ack", ack); err != nil {
		log.Warn("发送确认推送失败", "sender", senderID, "msg", msgID, "err", err)
	}

	if s.facts != nil {
		s.facts.Publish("message-created", &dto.MessageWithStateDTO{Message: msgDTO, DeliveryState: state})
	}

	return state, nil
}

// deliverToRecipient 单个接收者恰好一条路径：在线推送，否则离线入队
// 推送失败降级为入队，不丢消息
func (s *deliveryServiceImpl) deliverToRecipient(ctx context.Context, recipientID uint64, msgDTO *dto.MessageDTO) bool {
	online, err := s.sessionRepo.IsOnline(ctx, recipientID)
	if err != nil {
		log.Warn("在线状态查询失败，按离线处理", "recipient", recipientID, "err", err)
		online = false
	}

	if online {
		payload := &dto.MessageWithStateDTO{
			Message: msgDTO,
			DeliveryState: &dto.DeliveryStateDTO{
				MessageID:   msgDTO.ID,
				State:       dto.DeliveryStateSent,
				DeliveredTo: []uint64{},
				ReadBy:      []uint64{},
			},
		}
		delivered, err := s.broadcaster.PushToUser(ctx, recipientID, "message-new", payload)
		if err != nil {
			log.Warn("在线推送失败，降级离线入队", "recipient", recipientID, "msg", msgDTO.ID, "err", err)
		}
		if err == nil && delivered {
			s.recordAndAnnounceReceipt(ctx, msgDTO.ConversationID, msgDTO.ID, recipientID, model.ReceiptKindDelivered)
			return true
		}
	}

	s.enqueueOffline(ctx, recipientID, msgDTO)
	return false
}

func (s *deliveryServiceImpl) enqueueOffline(ctx context.Context, recipientID uint64, msgDTO *dto.MessageDTO) {
	payload, err := json.Marshal(msgDTO)
	if err != nil {
		log.Error("离线载荷序列化失败", "recipient", recipientID, "msg", msgDTO.ID, "err", err)
		return
	}
	entry := &repository.OfflineEntry{
		MessageID:      msgDTO.ID,
		ConversationID: msgDTO.ConversationID,
		Payload:        payload,
		QueuedAt:       time.Now(),
	}
	if err := s.offlineRepo.Enqueue(ctx, recipientID, entry); err != nil {
		log.Error("离线入队失败", "recipient", recipientID, "msg", msgDTO.ID, "err", err)
	}
}

// ProcessOfflineMessages 先进先出补投积压
// 条目携带原始规范 ID，回执唯一索引使重复补投只记一次 delivered
func (s *deliveryServiceImpl) ProcessOfflineMessages(ctx context.Context, userID uint64) (int, error) {
	entries, err := s.offlineRepo.Drain(ctx, userID)
	if err != nil {
		log.Error("离线队列取出失败", "user", userID, "err", err)
		return 0, ErrSendRetryable
	}

	delivered := 0
	for _, entry := range entries {
		var msgDTO dto.MessageDTO
		if err := json.Unmarshal(entry.Payload, &msgDTO); err != nil {
			log.Warn("离线载荷解析失败，已丢弃", "user", userID, "msg", entry.MessageID, "err", err)
			continue
		}

		state, err := s.DeliveryStateOf(ctx, entry.MessageID)
		if err != nil {
			state = &dto.DeliveryStateDTO{
				MessageID:   entry.MessageID,
				State:       dto.DeliveryStateSent,
				DeliveredTo: []uint64{},
				ReadBy:      []uint64{},
			}
		}

		payload := &dto.MessageWithStateDTO{Message: &msgDTO, DeliveryState: state}
		ok, err := s.broadcaster.PushToUser(ctx, userID, "message-new", payload)
		if err != nil || !ok {
			// 用户又掉线了，条目放回队尾等待下次重连
			if err := s.offlineRepo.Enqueue(ctx, userID, entry); err != nil {
				log.Error("离线条目回插失败", "user", userID, "msg", entry.MessageID, "err", err)
			}
			continue
		}

		s.recordAndAnnounceReceipt(ctx, entry.ConversationID, entry.MessageID, userID, model.ReceiptKindDelivered)
		delivered++
	}
	return delivered, nil
}

// MarkMessageAsRead 标记已读
// 无论隐私开关如何，已读游标总会推进以维持未读数；
// 关闭 sendReadReceipts 时不落回执、不广播
func (s *deliveryServiceImpl) MarkMessageAsRead(ctx context.Context, userID uint64, convID uint64, msgID string) error {
	msg, err := s.messageRepo.GetMessage(ctx, msgID)
	if err != nil {
		if errors.Is(err, mongo.ErrMessageNotExist) {
			return ErrMessageNotFound
		}
		log.Error("消息查询失败", "msg", msgID, "err", err)
		return ErrSendRetryable
	}
	if msg.ConversationID != convID {
		return ErrMessageNotFound
	}

	isMember, err := s.convRepo.IsMember(ctx, convID, userID)
	if err != nil {
		log.Error("成员校验失败", "user", userID, "conv", convID, "err", err)
		return ErrSendRetryable
	}
	if !isMember {
		return ErrNotMember
	}

	if err := s.convRepo.AdvanceReadPointer(ctx, convID, userID, msgID); err != nil {
		log.Warn("已读游标推进失败", "user", userID, "conv", convID, "msg", msgID, "err", err)
	}

	prefs, err := s.prefRepo.PreferencesOf(ctx, userID)
	if err != nil {
		log.Warn("偏好查询失败，按默认发送回执", "user", userID, "err", err)
		prefs = repository.Preferences{SendReadReceipts: true, ShowReadReceipts: true}
	}
	if !prefs.SendReadReceipts {
		return nil
	}

	s.recordAndAnnounceReceipt(ctx, convID, msgID, userID, model.ReceiptKindRead)
	return nil
}

// DeliveryStateOf 由既有回执推导投递状态
// delivered 集合并入已读用户，排除回执写入乱序造成的"已读未投递"；
// readBy 按读取时刻的 showReadReceipts 偏好过滤，不回写存储
func (s *deliveryServiceImpl) DeliveryStateOf(ctx context.Context, msgID string) (*dto.DeliveryStateDTO, error) {
	receipts, err := s.receiptRepo.ReceiptsOf(ctx, msgID)
	if err != nil {
		log.Error("回执查询失败", "msg", msgID, "err", err)
		return nil, ErrSendRetryable
	}

	readUsers := collectReadUsers(receipts)
	showPrefs, err := s.prefRepo.PreferencesOfMany(ctx, readUsers)
	if err != nil {
		log.Error("偏好批量查询失败", "msg", msgID, "err", err)
		return nil, ErrSendRetryable
	}

	return deriveState(msgID, receipts, showPrefs), nil
}

func (s *deliveryServiceImpl) UnreadCount(ctx context.Context, userID, convID uint64) (int64, error) {
	isMember, err := s.convRepo.IsMember(ctx, convID, userID)
	if err != nil {
		log.Error("成员校验失败", "user", userID, "conv", convID, "err", err)
		return 0, ErrSendRetryable
	}
	if !isMember {
		return 0, ErrNotMember
	}

	pointer, err := s.convRepo.LastReadPointer(ctx, convID, userID)
	if err != nil {
		log.Error("已读游标查询失败", "user", userID, "conv", convID, "err", err)
		return 0, ErrSendRetryable
	}

	count, err := s.messageRepo.CountAfter(ctx, convID, pointer)
	if err != nil {
		log.Error("未读统计查询失败", "user", userID, "conv", convID, "err", err)
		return 0, ErrSendRetryable
	}
	return count, nil
}

// BackfillMessages 补发查询
// 游标缺省取调用方的已读指针；结果严格大于游标、升序、限页，逐条标注当前投递状态
func (s *deliveryServiceImpl) BackfillMessages(ctx context.Context, userID, convID uint64, cursor string, limit int) (*dto.BackfillResultDTO, error) {
	isMember, err := s.convRepo.IsMember(ctx, convID, userID)
	if err != nil {
		log.Error("成员校验失败", "user", userID, "conv", convID, "err", err)
		return nil, ErrSendRetryable
	}
	if !isMember {
		return nil, ErrNotMember
	}

	if cursor == "" {
		cursor, err = s.convRepo.LastReadPointer(ctx, convID, userID)
		if err != nil {
			log.Error("已读游标查询失败", "user", userID, "conv", convID, "err", err)
			return nil, ErrSendRetryable
		}
	}

	if limit <= 0 || limit > consts.BackfillMaxPageSize {
		limit = consts.BackfillMaxPageSize
	}

	messages, err := s.messageRepo.MessagesAfter(ctx, convID, cursor, limit)
	if err != nil {
		log.Error("补发查询失败", "conv", convID, "cursor", cursor, "err", err)
		return nil, ErrSendRetryable
	}

	msgIDs := make([]string, 0, len(messages))
	for _, m := range messages {
		msgIDs = append(msgIDs, m.ID.Hex())
	}
	receiptsByMsg, err := s.receiptRepo.ReceiptsOfMany(ctx, msgIDs)
	if err != nil {
		log.Error("回执批量查询失败", "conv", convID, "err", err)
		return nil, ErrSendRetryable
	}

	var readUsers []uint64
	for _, receipts := range receiptsByMsg {
		readUsers = append(readUsers, collectReadUsers(receipts)...)
	}
	showPrefs, err := s.prefRepo.PreferencesOfMany(ctx, readUsers)
	if err != nil {
		log.Error("偏好批量查询失败", "conv", convID, "err", err)
		return nil, ErrSendRetryable
	}

	result := &dto.BackfillResultDTO{
		ConversationID: convID,
		Messages:       make([]*dto.MessageWithStateDTO, 0, len(messages)),
	}
	for _, m := range messages {
		msgID := m.ID.Hex()
		result.Messages = append(result.Messages, &dto.MessageWithStateDTO{
			Message:       toMessageDTO(m),
			DeliveryState: deriveState(msgID, receiptsByMsg[msgID], showPrefs),
		})
		result.NextCursor = msgID
	}
	return result, nil
}

func (s *deliveryServiceImpl) UpdateReceiptPreferences(ctx context.Context, userID uint64, sendRead, showRead bool) error {
	err := s.prefRepo.UpsertPreferences(ctx, userID, repository.Preferences{
		SendReadReceipts: sendRead,
		ShowReadReceipts: showRead,
	})
	if err != nil {
		log.Error("写入回执偏好失败", "userID", userID, "err", err)
		return UnExpectedError
	}
	return nil
}

// recordAndAnnounceReceipt 回执落库并向会话广播，失败只记日志不阻塞投递
func (s *deliveryServiceImpl) recordAndAnnounceReceipt(ctx context.Context, convID uint64, msgID string, userID uint64, kind string) {
	if err := s.receiptRepo.RecordReceipt(ctx, msgID, userID, kind); err != nil {
		log.Warn("回执写入失败", "msg", msgID, "user", userID, "kind", kind, "err", err)
		return
	}

	event := &dto.ReceiptDTO{
		MessageID:      msgID,
		ConversationID: convID,
		UserID:         userID,
		Kind:           kind,
		RecordedAt:     time.Now(),
	}
	if err := s.broadcaster.PublishToConversation(ctx, convID, "receipt", event); err != nil {
		log.Warn("回执广播失败", "msg", msgID, "user", userID, "err", err)
	}
	if s.facts != nil {
		s.facts.Publish("receipt-recorded", event)
	}
}

// stateOrSentOnly 重复发送时尽力返回完整状态，查询失败则退回最小确认
func (s *deliveryServiceImpl) stateOrSentOnly(ctx context.Context, msgID string) (*dto.DeliveryStateDTO, error) {
	state, err := s.DeliveryStateOf(ctx, msgID)
	if err != nil {
		return &dto.DeliveryStateDTO{
			MessageID:   msgID,
			State:       dto.DeliveryStateSent,
			DeliveredTo: []uint64{},
			ReadBy:      []uint64{},
		}, nil
	}
	return state, nil
}

func collectReadUsers(receipts []*model.DeliveryReceipt) []uint64 {
	var users []uint64
	for _, r := range receipts {
		if r.Kind == model.ReceiptKindRead {
			users = append(users, r.UserID)
		}
	}
	return users
}

// deriveState 投递状态推导：max(sent < delivered < read)，与回执写入顺序无关
func deriveState(msgID string, receipts []*model.DeliveryReceipt, showPrefs map[uint64]repository.Preferences) *dto.DeliveryStateDTO {
	deliveredSet := make(map[uint64]struct{})
	readSet := make(map[uint64]struct{})
	for _, r := range receipts {
		switch r.Kind {
		case model.ReceiptKindDelivered:
			deliveredSet[r.UserID] = struct{}{}
		case model.ReceiptKindRead:
			readSet[r.UserID] = struct{}{}
			// 已读蕴含已投递
			deliveredSet[r.UserID] = struct{}{}
		}
	}

	state := &dto.DeliveryStateDTO{
		MessageID:   msgID,
		State:       dto.DeliveryStateSent,
		DeliveredTo: make([]uint64, 0, len(deliveredSet)),
		ReadBy:      []uint64{},
	}
	for uid := range deliveredSet {
		state.DeliveredTo = append(state.DeliveredTo, uid)
	}
	for uid := range readSet {
		if prefs, ok := showPrefs[uid]; !ok || prefs.ShowReadReceipts {
			state.ReadBy = append(state.ReadBy, uid)
		}
	}
	sort.Slice(state.DeliveredTo, func(i, j int) bool { return state.DeliveredTo[i] < state.DeliveredTo[j] })
	sort.Slice(state.ReadBy, func(i, j int) bool { return state.ReadBy[i] < state.ReadBy[j] })

	switch {
	case len(state.ReadBy) > 0:
		state.State = dto.DeliveryStateRead
	case len(state.DeliveredTo) > 0:
		state.State = dto.DeliveryStateDelivered
	}
	return state
}

func toMessageDTO(m *mongo.Message) *dto.MessageDTO {
	return &dto.MessageDTO{
		ID:             m.ID.Hex(),
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		MsgType:        m.MsgType,
		Content:        m.Content,
		ReplyTo:        m.ReplyTo,
		CreatedAt:      m.CreatedAt,
	}
}
