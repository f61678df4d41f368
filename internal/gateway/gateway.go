package gateway

import (
	"context"
	log "log/slog"
	"net/http"
	"sync"

	"Courier/internal/api/dto"
	"Courier/internal/pkg/security"
	"Courier/internal/repository"
	"Courier/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway WebSocket 连接网关，持有本节点全部在线连接，
// 同时作为广播器的本地投递端
type Gateway struct {
	delivery    service.DeliveryService
	presence    service.PresenceService
	typing      service.TypingService
	broadcaster service.Broadcaster
	convRepo    repository.ConversationRepo

	mu     sync.RWMutex
	byUser map[uint64]map[*Client]struct{}
	byConv map[uint64]map[*Client]struct{}
}

func NewGateway(
	delivery service.DeliveryService,
	presence service.PresenceService,
	typing service.TypingService,
	broadcaster service.Broadcaster,
	convRepo repository.ConversationRepo,
) *Gateway {
	gw := &Gateway{
		delivery:    delivery,
		presence:    presence,
		typing:      typing,
		broadcaster: broadcaster,
		convRepo:    convRepo,
		byUser:      make(map[uint64]map[*Client]struct{}),
		byConv:      make(map[uint64]map[*Client]struct{}),
	}
	broadcaster.AttachLocalSink(gw)
	return gw
}

// HandleConnect 将 HTTP 请求升级为 WebSocket 连接
func (g *Gateway) HandleConnect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", "err", err)
		return
	}
	client := newClient(g, conn)
	log.Info("新连接建立", "connID", client.ID, "remote", conn.RemoteAddr().String())
	client.start()
}

// DeliverToUser 向本节点该用户的全部连接投递帧，返回写入成功的连接数
func (g *Gateway) DeliverToUser(userID uint64, frame []byte) int {
	g.mu.RLock()
	clients := make([]*Client, 0, len(g.byUser[userID]))
	for c := range g.byUser[userID] {
		clients = append(clients, c)
	}
	g.mu.RUnlock()

	n := 0
	for _, c := range clients {
		if c.Send(frame) {
			n++
		}
	}
	return n
}

// DeliverToConversation 向本节点加入该会话房间的全部连接投递帧
func (g *Gateway) DeliverToConversation(convID uint64, frame []byte) int {
	g.mu.RLock()
	clients := make([]*Client, 0, len(g.byConv[convID]))
	for c := range g.byConv[convID] {
		clients = append(clients, c)
	}
	g.mu.RUnlock()

	n := 0
	for _, c := range clients {
		if c.Send(frame) {
			n++
		}
	}
	return n
}

// route 按事件类型分发，同一连接上的事件由读泵串行处理
func (g *Gateway) route(c *Client, raw []byte) {
	var evt InboundEvent
	if err := decodePayload(raw, &evt); err != nil {
		g.sendError(c, service.ErrParamInvalid)
		return
	}

	if evt.Type == EvtAuthenticate {
		g.handleAuthenticate(c, evt.Data)
		return
	}
	if c.State() != StateAuthenticated {
		g.sendError(c, service.ErrNotAuthenticated)
		return
	}

	ctx := context.Background()
	switch evt.Type {
	case EvtJoin:
		g.handleJoin(ctx, c, evt.Data)
	case EvtLeave:
		g.handleLeave(ctx, c, evt.Data)
	case EvtSend:
		g.handleSend(ctx, c, evt.Data)
	case EvtTypingStart:
		g.handleTyping(ctx, c, evt.Data, true)
	case EvtTypingStop:
		g.handleTyping(ctx, c, evt.Data, false)
	case EvtPresenceUpdate:
		g.handlePresenceUpdate(ctx, c, evt.Data)
	case EvtHeartbeat:
		g.presence.Heartbeat(ctx, c.UserID())
	case EvtMarkRead:
		g.handleMarkRead(ctx, c, evt.Data)
	case EvtRequestBackfill:
		g.handleBackfill(ctx, c, evt.Data)
	default:
		log.Warn("未知事件类型", "type", evt.Type, "connID", c.ID)
		g.sendError(c, service.ErrParamInvalid)
	}
}

// handleAuthenticate 认证成功后依次完成注册、上线、离线补投，
// 补投先于后续房间操作执行
func (g *Gateway) handleAuthenticate(c *Client, data []byte) {
	var payload AuthenticatePayload
	if err := decodePayload(data, &payload); err != nil {
		g.sendError(c, service.ErrParamInvalid)
		return
	}
	claims, err := security.ValidateToken(payload.Token)
	if err != nil {
		log.Warn("连接认证失败", "connID", c.ID, "err", err)
		g.sendError(c, service.ErrAuthFailed)
		c.close()
		return
	}
	if !c.authenticate(claims.UserID, claims.Username, claims.DisplayName) {
		g.sendError(c, service.ErrParamInvalid)
		return
	}

	g.mu.Lock()
	if g.byUser[claims.UserID] == nil {
		g.byUser[claims.UserID] = make(map[*Client]struct{})
	}
	g.byUser[claims.UserID][c] = struct{}{}
	g.mu.Unlock()
	g.broadcaster.SubscribeUser(claims.UserID)

	c.SendEvent(EvtAuthResult, AuthResultData{
		ConnID:      c.ID,
		UserID:      claims.UserID,
		Username:    claims.Username,
		DisplayName: claims.DisplayName,
	})

	ctx := context.Background()
	g.presence.HandleConnect(ctx, claims.UserID, c.ID)

	// 默认加入用户所属的全部会话房间，之后客户端可显式离开
	convIDs, err := g.convRepo.ConversationIDsOf(ctx, claims.UserID)
	if err != nil {
		log.Warn("拉取会话列表失败，跳过自动加入", "userID", claims.UserID, "err", err)
	} else {
		for _, convID := range convIDs {
			g.enterRoom(c, convID)
		}
	}

	drained, err := g.delivery.ProcessOfflineMessages(ctx, claims.UserID)
	if err != nil {
		log.Warn("离线消息补投失败", "userID", claims.UserID, "err", err)
	} else if drained > 0 {
		log.Info("离线消息补投完成", "userID", claims.UserID, "count", drained)
	}
}

func (g *Gateway) handleJoin(ctx context.Context, c *Client, data []byte) {
	var payload RoomPayload
	if err := decodePayload(data, &payload); err != nil {
		g.sendError(c, service.ErrParamInvalid)
		return
	}
	ok, err := g.convRepo.IsMember(ctx, payload.ConversationID, c.UserID())
	if err != nil {
		g.sendError(c, service.UnExpectedError)
		return
	}
	if !ok {
		g.sendError(c, service.ErrNotMember)
		return
	}
	g.enterRoom(c, payload.ConversationID)
	c.SendEvent(EvtJoined, RoomResultData{ConversationID: payload.ConversationID})
}

func (g *Gateway) handleLeave(ctx context.Context, c *Client, data []byte) {
	var payload RoomPayload
	if err := decodePayload(data, &payload); err != nil {
		g.sendError(c, service.ErrParamInvalid)
		return
	}
	g.exitRoom(c, payload.ConversationID)
	g.typing.StopTyping(ctx, c.UserID(), payload.ConversationID)
	c.SendEvent(EvtLeft, RoomResultData{ConversationID: payload.ConversationID})
}

func (g *Gateway) handleSend(ctx context.Context, c *Client, data []byte) {
	var req dto.SendMessageReq
	if err := decodePayload(data, &req); err != nil {
		g.sendError(c, service.ErrParamInvalid)
		return
	}
	if _, err := g.delivery.SendMessage(ctx, c.UserID(), &req); err != nil {
		g.sendError(c, err)
	}
}

func (g *Gateway) handleTyping(ctx context.Context, c *Client, data []byte, start bool) {
	var payload RoomPayload
	if err := decodePayload(data, &payload); err != nil {
		g.sendError(c, service.ErrParamInvalid)
		return
	}
	ok, err := g.convRepo.IsMember(ctx, payload.ConversationID, c.UserID())
	if err != nil || !ok {
		g.sendError(c, service.ErrNotMember)
		return
	}
	if start {
		g.typing.StartTyping(ctx, c.UserID(), payload.ConversationID)
	} else {
		g.typing.StopTyping(ctx, c.UserID(), payload.ConversationID)
	}
}

func (g *Gateway) handlePresenceUpdate(ctx context.Context, c *Client, data []byte) {
	var payload PresenceUpdatePayload
	if err := decodePayload(data, &payload); err != nil {
		g.sendError(c, service.ErrParamInvalid)
		return
	}
	g.presence.UpdateStatus(ctx, c.UserID(), payload.Status)
}

func (g *Gateway) handleMarkRead(ctx context.Context, c *Client, data []byte) {
	var payload MarkReadPayload
	if err := decodePayload(data, &payload); err != nil {
		g.sendError(c, service.ErrParamInvalid)
		return
	}
	if err := g.delivery.MarkMessageAsRead(ctx, c.UserID(), payload.ConversationID, payload.MessageID); err != nil {
		g.sendError(c, err)
	}
}

func (g *Gateway) handleBackfill(ctx context.Context, c *Client, data []byte) {
	var payload BackfillPayload
	if err := decodePayload(data, &payload); err != nil {
		g.sendError(c, service.ErrParamInvalid)
		return
	}
	result, err := g.delivery.BackfillMessages(ctx, c.UserID(), payload.ConversationID, payload.Cursor, payload.Limit)
	if err != nil {
		g.sendError(c, err)
		return
	}
	c.SendEvent(EvtBackfillResult, result)
}

// enterRoom 本地房间注册与跨节点会话频道订阅
func (g *Gateway) enterRoom(c *Client, convID uint64) {
	if !c.joinRoom(convID) {
		return
	}
	g.mu.Lock()
	if g.byConv[convID] == nil {
		g.byConv[convID] = make(map[*Client]struct{})
	}
	g.byConv[convID][c] = struct{}{}
	g.mu.Unlock()
	g.broadcaster.SubscribeConversation(convID)
}

func (g *Gateway) exitRoom(c *Client, convID uint64) {
	if !c.leaveRoom(convID) {
		return
	}
	g.mu.Lock()
	if set := g.byConv[convID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(g.byConv, convID)
		}
	}
	g.mu.Unlock()
	g.broadcaster.UnsubscribeConversation(convID)
}

// handleDisconnect 连接关闭后的统一清理
func (g *Gateway) handleDisconnect(c *Client, wasAuthenticated bool) {
	if !wasAuthenticated {
		log.Info("未认证连接关闭", "connID", c.ID)
		return
	}
	userID := c.UserID()
	ctx := context.Background()

	g.typing.ClearUser(ctx, userID)
	for _, convID := range c.roomList() {
		g.exitRoom(c, convID)
	}

	g.mu.Lock()
	if set := g.byUser[userID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(g.byUser, userID)
		}
	}
	g.mu.Unlock()
	g.broadcaster.UnsubscribeUser(userID)

	g.presence.HandleDisconnect(ctx, userID, c.ID)
	log.Info("连接关闭", "connID", c.ID, "userID", userID)
}

// Close 停服时断开全部连接
func (g *Gateway) Close() {
	g.mu.RLock()
	clients := make([]*Client, 0)
	for _, set := range g.byUser {
		for c := range set {
			clients = append(clients, c)
		}
	}
	g.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}

func (g *Gateway) sendError(c *Client, err error) {
	c.SendEvent(EvtError, ErrorData{Code: service.ErrorCode(err), Message: err.Error()})
}
