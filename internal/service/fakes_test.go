package service

import (
	"Courier/internal/model"
	"Courier/internal/pkg/mongo"
	"Courier/internal/repository"
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 测试替身集合，覆盖投递编排依赖的全部外部协作者

type fakeConvRepo struct {
	members  map[uint64][]uint64 // convID -> 活跃成员
	pointers map[string]string   // convID:userID -> 已读游标
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{
		members:  make(map[uint64][]uint64),
		pointers: make(map[string]string),
	}
}

func pointerKey(convID, userID uint64) string {
	return strconv.FormatUint(convID, 10) + ":" + strconv.FormatUint(userID, 10)
}

func (f *fakeConvRepo) CreateConversation(ctx context.Context, conv *model.Conversation, memberIDs []uint64) error {
	conv.ID = uint64(len(f.members) + 1)
	f.members[conv.ID] = memberIDs
	return nil
}

func (f *fakeConvRepo) GetConversation(ctx context.Context, convID uint64) (*model.Conversation, error) {
	return &model.Conversation{ID: convID}, nil
}

func (f *fakeConvRepo) IsMember(ctx context.Context, convID uint64, userID uint64) (bool, error) {
	for _, id := range f.members[convID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeConvRepo) ActiveMemberIDs(ctx context.Context, convID uint64) ([]uint64, error) {
	return f.members[convID], nil
}

func (f *fakeConvRepo) ConversationIDsOf(ctx context.Context, userID uint64) ([]uint64, error) {
	var out []uint64
	for convID, members := range f.members {
		for _, id := range members {
			if id == userID {
				out = append(out, convID)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (f *fakeConvRepo) LastReadPointer(ctx context.Context, convID, userID uint64) (string, error) {
	return f.pointers[pointerKey(convID, userID)], nil
}

func (f *fakeConvRepo) AdvanceReadPointer(ctx context.Context, convID, userID uint64, msgID string) error {
	key := pointerKey(convID, userID)
	if msgID > f.pointers[key] {
		f.pointers[key] = msgID
	}
	return nil
}

type fakePrefRepo struct {
	prefs map[uint64]repository.Preferences
}

func newFakePrefRepo() *fakePrefRepo {
	return &fakePrefRepo{prefs: make(map[uint64]repository.Preferences)}
}

func (f *fakePrefRepo) PreferencesOf(ctx context.Context, userID uint64) (repository.Preferences, error) {
	if p, ok := f.prefs[userID]; ok {
		return p, nil
	}
	return repository.Preferences{SendReadReceipts: true, ShowReadReceipts: true}, nil
}

func (f *fakePrefRepo) PreferencesOfMany(ctx context.Context, userIDs []uint64) (map[uint64]repository.Preferences, error) {
	res := make(map[uint64]repository.Preferences, len(userIDs))
	for _, uid := range userIDs {
		p, _ := f.PreferencesOf(ctx, uid)
		res[uid] = p
	}
	return res, nil
}

func (f *fakePrefRepo) UpsertPreferences(ctx context.Context, userID uint64, prefs repository.Preferences) error {
	f.prefs[userID] = prefs
	return nil
}

type receiptKey struct {
	msgID  string
	userID uint64
	kind   string
}

type fakeReceiptRepo struct {
	mu       sync.Mutex
	receipts []*model.DeliveryReceipt
	seen     map[receiptKey]struct{}
}

func newFakeReceiptRepo() *fakeReceiptRepo {
	return &fakeReceiptRepo{seen: make(map[receiptKey]struct{})}
}

// RecordReceipt 与真实实现一致：唯一键冲突静默忽略
func (f *fakeReceiptRepo) RecordReceipt(ctx context.Context, msgID string, userID uint64, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := receiptKey{msgID, userID, kind}
	if _, ok := f.seen[key]; ok {
		return nil
	}
	f.seen[key] = struct{}{}
	f.receipts = append(f.receipts, &model.DeliveryReceipt{
		MessageID: msgID, UserID: userID, Kind: kind, RecordedAt: time.Now(),
	})
	return nil
}

func (f *fakeReceiptRepo) ReceiptsOf(ctx context.Context, msgID string) ([]*model.DeliveryReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.DeliveryReceipt
	for _, r := range f.receipts {
		if r.MessageID == msgID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReceiptRepo) ReceiptsOfMany(ctx context.Context, msgIDs []string) (map[string][]*model.DeliveryReceipt, error) {
	res := make(map[string][]*model.DeliveryReceipt)
	for _, id := range msgIDs {
		rs, _ := f.ReceiptsOf(ctx, id)
		res[id] = rs
	}
	return res, nil
}

func (f *fakeReceiptRepo) count(msgID string, userID uint64, kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.receipts {
		if r.MessageID == msgID && r.UserID == userID && r.Kind == kind {
			n++
		}
	}
	return n
}

type fakeDedupRepo struct {
	mu       sync.Mutex
	mappings map[string]string
	// missNextLookup 模拟竞争窗口：下一次 Lookup 看不到已有映射
	missNextLookup bool
}

func newFakeDedupRepo() *fakeDedupRepo {
	return &fakeDedupRepo{mappings: make(map[string]string)}
}

func dedupTestKey(senderID uint64, clientMsgID string) string {
	return strconv.FormatUint(senderID, 10) + ":" + clientMsgID
}

func (f *fakeDedupRepo) Lookup(ctx context.Context, senderID uint64, clientMsgID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missNextLookup {
		f.missNextLookup = false
		return "", nil
	}
	return f.mappings[dedupTestKey(senderID, clientMsgID)], nil
}

func (f *fakeDedupRepo) Reserve(ctx context.Context, senderID uint64, clientMsgID string, canonicalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := dedupTestKey(senderID, clientMsgID)
	if _, ok := f.mappings[key]; ok {
		return false, nil
	}
	f.mappings[key] = canonicalID
	return true, nil
}

type fakeOfflineRepo struct {
	mu     sync.Mutex
	queues map[uint64][]*repository.OfflineEntry
}

func newFakeOfflineRepo() *fakeOfflineRepo {
	return &fakeOfflineRepo{queues: make(map[uint64][]*repository.OfflineEntry)}
}

func (f *fakeOfflineRepo) Enqueue(ctx context.Context, recipientID uint64, entry *repository.OfflineEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[recipientID] = append(f.queues[recipientID], entry)
	return nil
}

func (f *fakeOfflineRepo) Drain(ctx context.Context, recipientID uint64) ([]*repository.OfflineEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.queues[recipientID]
	delete(f.queues, recipientID)
	return entries, nil
}

func (f *fakeOfflineRepo) depth(recipientID uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queues[recipientID])
}

type fakeSessionRepo struct {
	mu    sync.Mutex
	conns map[uint64]map[string]struct{}
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{conns: make(map[uint64]map[string]struct{})}
}

func (f *fakeSessionRepo) AddConnection(ctx context.Context, userID uint64, connID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conns[userID] == nil {
		f.conns[userID] = make(map[string]struct{})
	}
	f.conns[userID][connID] = struct{}{}
	return nil
}

func (f *fakeSessionRepo) RemoveConnection(ctx context.Context, userID uint64, connID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns[userID], connID)
	return int64(len(f.conns[userID])), nil
}

func (f *fakeSessionRepo) ConnectionsOf(ctx context.Context, userID uint64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id := range f.conns[userID] {
		out = append(out, id)
	}
	return out, nil
}

func (f *fakeSessionRepo) IsOnline(ctx context.Context, userID uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns[userID]) > 0, nil
}

func (f *fakeSessionRepo) RefreshTTL(ctx context.Context, userID uint64) error { return nil }

type fakePresenceRepo struct {
	mu      sync.Mutex
	records map[uint64]*repository.PresenceRecord
}

func newFakePresenceRepo() *fakePresenceRepo {
	return &fakePresenceRepo{records: make(map[uint64]*repository.PresenceRecord)}
}

func (f *fakePresenceRepo) SetStatus(ctx context.Context, userID uint64, status string, lastSeen time.Time, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[userID] = &repository.PresenceRecord{Status: status, LastSeen: lastSeen}
	return nil
}

func (f *fakePresenceRepo) Get(ctx context.Context, userID uint64) (*repository.PresenceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[userID]; ok {
		return rec, nil
	}
	return &repository.PresenceRecord{}, nil
}

func (f *fakePresenceRepo) RefreshTTL(ctx context.Context, userID uint64) error { return nil }

type fakeTypingRepo struct {
	mu      sync.Mutex
	records map[uint64]map[uint64]time.Time // convID -> userID -> 过期时刻
}

func newFakeTypingRepo() *fakeTypingRepo {
	return &fakeTypingRepo{records: make(map[uint64]map[uint64]time.Time)}
}

func (f *fakeTypingRepo) Arm(ctx context.Context, convID, userID uint64, expireAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records[convID] == nil {
		f.records[convID] = make(map[uint64]time.Time)
	}
	f.records[convID][userID] = expireAt
	return nil
}

func (f *fakeTypingRepo) Disarm(ctx context.Context, convID, userID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records[convID], userID)
	return nil
}

func (f *fakeTypingRepo) ActiveUsers(ctx context.Context, convID uint64, now time.Time) ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uint64
	for uid, expireAt := range f.records[convID] {
		if expireAt.After(now) {
			out = append(out, uid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[string]*mongo.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: make(map[string]*mongo.Message)}
}

func (f *fakeMessageRepo) CreateMessage(ctx context.Context, msg *mongo.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.ID.IsZero() {
		msg.ID = primitive.NewObjectID()
	}
	f.messages[msg.ID.Hex()] = msg
	return msg.ID.Hex(), nil
}

func (f *fakeMessageRepo) GetMessage(ctx context.Context, msgID string) (*mongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := f.messages[msgID]; ok {
		return msg, nil
	}
	return nil, mongo.ErrMessageNotExist
}

func (f *fakeMessageRepo) MessagesAfter(ctx context.Context, convID uint64, cursor string, limit int) ([]*mongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*mongo.Message
	for id, msg := range f.messages {
		if msg.ConversationID == convID && (cursor == "" || id > cursor) {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeMessageRepo) CountAfter(ctx context.Context, convID uint64, cursor string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for id, msg := range f.messages {
		if msg.ConversationID == convID && (cursor == "" || id > cursor) {
			count++
		}
	}
	return count, nil
}

func (f *fakeMessageRepo) DeleteMessage(ctx context.Context, msgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, msgID)
	return nil
}

type pushRecord struct {
	UserID    uint64
	EventType string
	Payload   interface{}
}

type convEvent struct {
	ConvID    uint64
	EventType string
	Payload   interface{}
}

// fakeBroadcaster 记录推送调用，online 集合决定 PushToUser 的投递结果
type fakeBroadcaster struct {
	mu         sync.Mutex
	online     map[uint64]bool
	failPush   map[uint64]bool
	pushes     []pushRecord
	convEvents []convEvent
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{
		online:   make(map[uint64]bool),
		failPush: make(map[uint64]bool),
	}
}

func (f *fakeBroadcaster) Start(ctx context.Context)             {}
func (f *fakeBroadcaster) AttachLocalSink(sink LocalSink)        {}
func (f *fakeBroadcaster) SubscribeUser(userID uint64)           {}
func (f *fakeBroadcaster) UnsubscribeUser(userID uint64)         {}
func (f *fakeBroadcaster) SubscribeConversation(convID uint64)   {}
func (f *fakeBroadcaster) UnsubscribeConversation(convID uint64) {}
func (f *fakeBroadcaster) Close()                                {}

func (f *fakeBroadcaster) PushToUser(ctx context.Context, userID uint64, eventType string, payload interface{}) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPush[userID] {
		return false, errors.New("push failed")
	}
	f.pushes = append(f.pushes, pushRecord{UserID: userID, EventType: eventType, Payload: payload})
	return f.online[userID], nil
}

func (f *fakeBroadcaster) PublishToConversation(ctx context.Context, convID uint64, eventType string, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convEvents = append(f.convEvents, convEvent{ConvID: convID, EventType: eventType, Payload: payload})
	return nil
}

func (f *fakeBroadcaster) pushesTo(userID uint64, eventType string) []pushRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pushRecord
	for _, p := range f.pushes {
		if p.UserID == userID && p.EventType == eventType {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeBroadcaster) convEventsOf(convID uint64, eventType string) []convEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []convEvent
	for _, e := range f.convEvents {
		if e.ConvID == convID && e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

type factRecord struct {
	FactType string
	Payload  interface{}
}

type fakeFactPublisher struct {
	mu    sync.Mutex
	facts []factRecord
}

func (f *fakeFactPublisher) Publish(factType string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.facts = append(f.facts, factRecord{FactType: factType, Payload: payload})
}

func (f *fakeFactPublisher) ofType(factType string) []factRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []factRecord
	for _, r := range f.facts {
		if r.FactType == factType {
			out = append(out, r)
		}
	}
	return out
}
