package wire

import (
	"Courier/internal/api"
	"Courier/internal/api/config"
	"Courier/internal/api/handler"
	"Courier/internal/gateway"
	"Courier/internal/job"
	"Courier/internal/pkg/cron"
	"Courier/internal/pkg/kafka"
	courmongo "Courier/internal/pkg/mongo"
	"Courier/internal/repository"
	"Courier/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router       *gin.Engine
	DB           *gorm.DB
	CronMgr      *cron.Manager
	Broadcaster  service.Broadcaster
	Gateway      *gateway.Gateway
	Typing       service.TypingService
	FactProducer *kafka.FactProducer
}

func BuildApplication(db *gorm.DB, mongoDB *mongo.Database, cfg *config.Config) (*ApplicationContainer, error) {
	nodeID := cfg.Server.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	convRepo := repository.NewConversationRepo(db)
	prefRepo := repository.NewPreferenceRepo(db)
	receiptRepo := repository.NewReceiptRepo(db)
	dedupRepo := repository.NewDedupRepo()
	offlineRepo := repository.NewOfflineQueueRepo()
	sessionRepo := repository.NewSessionRepo()
	presenceRepo := repository.NewPresenceRepo()
	typingRepo := repository.NewTypingRepo()
	messageRepo := courmongo.NewMessageRepo(mongoDB)

	factProducer, err := kafka.NewFactProducer(cfg)
	if err != nil {
		return nil, err
	}

	broadcaster := service.NewBroadcaster(nodeID)

	deliveryService := service.NewDeliveryService(
		convRepo, prefRepo, receiptRepo, dedupRepo, offlineRepo,
		sessionRepo, messageRepo, broadcaster, factProducer,
	)
	presenceService := service.NewPresenceService(sessionRepo, presenceRepo, convRepo, broadcaster, factProducer)
	typingService := service.NewTypingService(typingRepo, broadcaster, factProducer)
	convService := service.NewConversationService(convRepo)

	gw := gateway.NewGateway(deliveryService, presenceService, typingService, broadcaster, convRepo)

	handlers := &api.HandlersGroup{
		ChatHandler: handler.NewChatHandler(deliveryService, convService, presenceService, typingService),
		WSHandler:   handler.NewWsHandler(gw),
	}

	router := api.SetupRouter(handlers)

	cronMgr := cron.NewCronManager(job.NewTypingSweepJob(), job.NewOfflineQueueAuditJob())

	return &ApplicationContainer{
		Router:       router,
		DB:           db,
		CronMgr:      cronMgr,
		Broadcaster:  broadcaster,
		Gateway:      gw,
		Typing:       typingService,
		FactProducer: factProducer,
	}, nil
}
