package service

import (
	"Courier/internal/pkg/consts"
	"Courier/internal/pkg/redis"
	"context"
	log "log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
)

// LocalSink 本进程内的直接投递出口，由连接网关实现
type LocalSink interface {
	// DeliverToUser 将帧写入该用户在本进程的所有连接，返回写入的连接数
	DeliverToUser(userID uint64, frame []byte) int
	// DeliverToConversation 将帧写入本进程内已加入该会话的所有连接，返回写入的连接数
	DeliverToConversation(convID uint64, frame []byte) int
}

// Broadcaster 扇出层：本进程直接投递 + Redis Pub/Sub 跨进程扩散
// 发布时带上源节点标识，订阅端跳过自己发出的事件，避免本地重复投递
type Broadcaster interface {
	Start(ctx context.Context)
	AttachLocalSink(sink LocalSink)

	SubscribeUser(userID uint64)
	UnsubscribeUser(userID uint64)
	SubscribeConversation(convID uint64)
	UnsubscribeConversation(convID uint64)

	// PushToUser 点对点推送，返回是否有任一进程的活跃连接收到
	PushToUser(ctx context.Context, userID uint64, eventType string, payload interface{}) (bool, error)
	// PublishToConversation 房间广播，本地连接直接写入，远端进程经总线送达
	PublishToConversation(ctx context.Context, convID uint64, eventType string, payload interface{}) error

	Close()
}

// busEnvelope 总线信封，Data 内是面向客户端的事件载荷
type busEnvelope struct {
	Type   string          `json:"type"`
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// clientFrame 写给客户端的帧
type clientFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type broadcasterImpl struct {
	nodeID string
	sink   LocalSink

	mu     sync.Mutex
	pubsub *goredis.PubSub
	// 引用计数：同一用户多条连接、同一会话多名本地成员共用一个订阅
	userRefs map[uint64]int
	convRefs map[uint64]int
}

func NewBroadcaster(nodeID string) Broadcaster {
	return &broadcasterImpl{
		nodeID:   nodeID,
		userRefs: make(map[uint64]int),
		convRefs: make(map[uint64]int),
	}
}

func (s *broadcasterImpl) AttachLocalSink(sink LocalSink) {
	s.sink = sink
}

// Start 建立总线订阅并启动分发循环
func (s *broadcasterImpl) Start(ctx context.Context) {
	s.mu.Lock()
	s.pubsub = redis.Subscribe(ctx)
	ch := s.pubsub.Channel()
	s.mu.Unlock()

	go func() {
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				s.dispatch(msg)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// dispatch 处理来自其他进程的总线事件
func (s *broadcasterImpl) dispatch(msg *goredis.Message) {
	var env busEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		log.Warn("总线事件解析失败", "channel", msg.Channel, "err", err)
		return
	}
	// 本进程发布的事件已经直接投递过本地连接
	if env.Origin == s.nodeID {
		return
	}
	if s.sink == nil {
		return
	}

	frame, err := json.Marshal(clientFrame{Type: env.Type, Data: env.Data})
	if err != nil {
		log.Error("客户端帧序列化失败", "type", env.Type, "err", err)
		return
	}

	switch {
	case strings.HasPrefix(msg.Channel, consts.UserChannelKey):
		uid, err := strconv.ParseUint(strings.TrimPrefix(msg.Channel, consts.UserChannelKey), 10, 64)
		if err != nil {
			return
		}
		s.sink.DeliverToUser(uid, frame)
	case strings.HasPrefix(msg.Channel, consts.ConvChannelKey):
		convID, err := strconv.ParseUint(strings.TrimPrefix(msg.Channel, consts.ConvChannelKey), 10, 64)
		if err != nil {
			return
		}
		s.sink.DeliverToConversation(convID, frame)
	}
}

func userChannel(userID uint64) string {
	return consts.UserChannelKey + strconv.FormatUint(userID, 10)
}

func convChannel(convID uint64) string {
	return consts.ConvChannelKey + strconv.FormatUint(convID, 10)
}

func (s *broadcasterImpl) SubscribeUser(userID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userRefs[userID]++
	if s.userRefs[userID] == 1 && s.pubsub != nil {
		if err := s.pubsub.Subscribe(context.Background(), userChannel(userID)); err != nil {
			log.Warn("订阅用户频道失败", "user", userID, "err", err)
		}
	}
}

func (s *broadcasterImpl) UnsubscribeUser(userID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userRefs[userID] == 0 {
		return
	}
	s.userRefs[userID]--
	if s.userRefs[userID] == 0 {
		delete(s.userRefs, userID)
		if s.pubsub != nil {
			if err := s.pubsub.Unsubscribe(context.Background(), userChannel(userID)); err != nil {
				log.Warn("退订用户频道失败", "user", userID, "err", err)
			}
		}
	}
}

func (s *broadcasterImpl) SubscribeConversation(convID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convRefs[convID]++
	if s.convRefs[convID] == 1 && s.pubsub != nil {
		if err := s.pubsub.Subscribe(context.Background(), convChannel(convID)); err != nil {
			log.Warn("订阅会话频道失败", "conv", convID, "err", err)
		}
	}
}

func (s *broadcasterImpl) UnsubscribeConversation(convID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.convRefs[convID] == 0 {
		return
	}
	s.convRefs[convID]--
	if s.convRefs[convID] == 0 {
		delete(s.convRefs, convID)
		if s.pubsub != nil {
			if err := s.pubsub.Unsubscribe(context.Background(), convChannel(convID)); err != nil {
				log.Warn("退订会话频道失败", "conv", convID, "err", err)
			}
		}
	}
}

// PushToUser 推送点对点事件
// 判定送达：本地写入任一连接，或总线上存在除本进程以外的订阅者
func (s *broadcasterImpl) PushToUser(ctx context.Context, userID uint64, eventType string, payload interface{}) (bool, error) {
	frame, env, err := s.encode(eventType, payload)
	if err != nil {
		return false, err
	}

	local := 0
	if s.sink != nil {
		local = s.sink.DeliverToUser(userID, frame)
	}

	receivers, err := redis.Publish(ctx, userChannel(userID), env)
	if err != nil {
		return local > 0, err
	}

	selfSubscribed := int64(0)
	s.mu.Lock()
	if s.userRefs[userID] > 0 {
		selfSubscribed = 1
	}
	s.mu.Unlock()

	return local > 0 || receivers > selfSubscribed, nil
}

func (s *broadcasterImpl) PublishToConversation(ctx context.Context, convID uint64, eventType string, payload interface{}) error {
	frame, env, err := s.encode(eventType, payload)
	if err != nil {
		return err
	}

	if s.sink != nil {
		s.sink.DeliverToConversation(convID, frame)
	}

	_, err = redis.Publish(ctx, convChannel(convID), env)
	return err
}

// encode 同时生成客户端帧与总线信封
func (s *broadcasterImpl) encode(eventType string, payload interface{}) ([]byte, []byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	frame, err := json.Marshal(clientFrame{Type: eventType, Data: json.RawMessage(data)})
	if err != nil {
		return nil, nil, err
	}
	env, err := json.Marshal(busEnvelope{Type: eventType, Origin: s.nodeID, Data: data})
	if err != nil {
		return nil, nil, err
	}
	return frame, env, nil
}

func (s *broadcasterImpl) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pubsub != nil {
		_ = s.pubsub.Close()
	}
}
