package handler

import (
	"Courier/internal/gateway"

	"github.com/gin-gonic/gin"
)

type WsHandler struct {
	gw *gateway.Gateway
}

func NewWsHandler(gw *gateway.Gateway) *WsHandler {
	return &WsHandler{gw: gw}
}

// Connect 升级 WebSocket，认证在连接建立后走 authenticate 事件
func (s *WsHandler) Connect(c *gin.Context) {
	s.gw.HandleConnect(c)
}
