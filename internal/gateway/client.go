package gateway

import (
	log "log/slog"
	"sync"
	"time"

	"Courier/internal/pkg/consts"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ClientState 连接状态机
type ClientState int32

const (
	StateConnecting ClientState = iota
	StateUnauthenticated
	StateAuthenticated
	StateClosed
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	egressBuffer   = 256
)

// Client 单条 WebSocket 连接
type Client struct {
	ID string

	gw   *Gateway
	conn *websocket.Conn

	mu          sync.RWMutex
	state       ClientState
	userID      uint64
	username    string
	displayName string
	rooms       map[uint64]struct{}

	egress    chan []byte
	authTimer *time.Timer
	closeOnce sync.Once
}

func newClient(gw *Gateway, conn *websocket.Conn) *Client {
	return &Client{
		ID:     uuid.NewString(),
		gw:     gw,
		conn:   conn,
		state:  StateUnauthenticated,
		rooms:  make(map[uint64]struct{}),
		egress: make(chan []byte, egressBuffer),
	}
}

// start 启动读写泵与认证定时器，超时未认证则关闭连接
func (c *Client) start() {
	c.authTimer = time.AfterFunc(consts.AuthTimeout, func() {
		if c.State() == StateUnauthenticated {
			log.Warn("连接认证超时", "connID", c.ID)
			c.SendEvent(EvtError, ErrorData{Code: 401, Message: "认证超时"})
			c.close()
		}
	})
	go c.writePump()
	go c.readPump()
}

// State 返回当前连接状态
func (c *Client) State() ClientState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// UserID 认证前为 0
func (c *Client) UserID() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// authenticate 绑定用户身份并停止认证定时器
func (c *Client) authenticate(userID uint64, username, displayName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateUnauthenticated {
		return false
	}
	c.state = StateAuthenticated
	c.userID = userID
	c.username = username
	c.displayName = displayName
	if c.authTimer != nil {
		c.authTimer.Stop()
	}
	return true
}

// joinRoom 记录连接侧房间集合，返回是否为新加入
func (c *Client) joinRoom(convID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[convID]; ok {
		return false
	}
	c.rooms[convID] = struct{}{}
	return true
}

// leaveRoom 返回是否原本在该房间
func (c *Client) leaveRoom(convID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[convID]; !ok {
		return false
	}
	delete(c.rooms, convID)
	return true
}

func (c *Client) roomList() []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uint64, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

// Send 非阻塞投递，缓冲满说明消费端挂死，直接断开
func (c *Client) Send(frame []byte) bool {
	c.mu.RLock()
	if c.state == StateClosed {
		c.mu.RUnlock()
		return false
	}
	select {
	case c.egress <- frame:
		c.mu.RUnlock()
		return true
	default:
		c.mu.RUnlock()
		log.Warn("连接发送缓冲已满，断开", "connID", c.ID, "userID", c.UserID())
		c.close()
		return false
	}
}

// SendEvent 组装出站信封后投递
func (c *Client) SendEvent(evtType string, data interface{}) bool {
	frame, err := json.Marshal(OutboundEvent{Type: evtType, Data: data})
	if err != nil {
		log.Error("出站事件序列化失败", "type", evtType, "err", err)
		return false
	}
	return c.Send(frame)
}

func (c *Client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("连接异常断开", "connID", c.ID, "err", err)
			}
			return
		}
		c.gw.route(c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case frame, ok := <-c.egress:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close 幂等关闭，清理交由网关统一处理
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		prev := c.state
		c.state = StateClosed
		if c.authTimer != nil {
			c.authTimer.Stop()
		}
		close(c.egress)
		c.mu.Unlock()
		c.gw.handleDisconnect(c, prev == StateAuthenticated)
		_ = c.conn.Close()
	})
}
