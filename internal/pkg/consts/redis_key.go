package consts

const (
	SessionConnsKey = "chat:session:conns:"
	PresenceKey     = "chat:presence:"
	TypingKey       = "chat:typing:"
	DedupKey        = "chat:dedup:"
	OfflineQueueKey = "chat:offline:"
)

// Pub/Sub 频道：用户私有频道承载点对点事件，会话频道承载房间内广播
const (
	UserChannelKey = "chat:user:"
	ConvChannelKey = "chat:conv:"
)
