package api

import (
	"Courier/internal/api/middleware"
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRouter(group *HandlersGroup) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"localhost"})

	// TraceId & CORS
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.CORSMiddleware())
	r.Use(gin.Recovery())

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"Code":    200,
				"Message": "pong",
				"Data":    nil,
			})
		})

		chatGroup := apiGroup.Group("/chat")
		{
			// WebSocket 入口，认证走连接内 authenticate 事件
			chatGroup.GET("/ws", group.WSHandler.Connect)

			authGroup := chatGroup.Group("")
			authGroup.Use(middleware.AuthMiddleware())
			{
				authGroup.POST("/send", group.ChatHandler.SendMessage)
				authGroup.POST("/read", group.ChatHandler.MarkAsRead)
				authGroup.GET("/state/:message_id", group.ChatHandler.GetDeliveryState)
				authGroup.GET("/backfill", group.ChatHandler.Backfill)

				authGroup.POST("/conversations", group.ChatHandler.CreateConversation)
				authGroup.GET("/conversations/:conversation_id/members", group.ChatHandler.GetMembers)
				authGroup.GET("/conversations/:conversation_id/typing", group.ChatHandler.GetTypingUsers)
				authGroup.GET("/conversations/:conversation_id/unread", group.ChatHandler.GetUnreadCount)

				authGroup.GET("/presence/:user_id", group.ChatHandler.GetPresence)
				authGroup.PUT("/preferences", group.ChatHandler.UpdatePreferences)
			}
		}
	}

	return r
}
