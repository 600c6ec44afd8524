// Package websocket 负责处理 WebSocket 升级请求，建立房间会话并把客户端交给 Hub。
package websocket

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Spike1990AI/party-games/internal/game"
	"github.com/Spike1990AI/party-games/internal/hub"
)

// WebSocketHandler 处理 WebSocket 升级请求和客户端注册。
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
	svc      *game.Service
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
func NewWebSocketHandler(h *hub.Hub, svc *game.Service) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if svc == nil {
		panic("game.Service cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// 允许所有来源连接 (生产环境应配置具体的允许来源)
		CheckOrigin: func(r *http.Request) bool {
			// TODO: Implement proper origin checking for production
			return true
		},
	}

	return &WebSocketHandler{
		upgrader: upgrader,
		hub:      h,
		svc:      svc,
	}
}

// HandleConnection 处理 WebSocket 连接请求。
// URL 预期格式: /ws/room/{code}?player={playerID}
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	code := c.Param("code")
	playerID := c.Query("player")
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "player_id": playerID})

	if code == "" || playerID == "" {
		logCtx.Warn("WS Handler: missing room code or player id")
		c.JSON(http.StatusBadRequest, gin.H{"error": "room code and player id are required"})
		return
	}

	// 升级前先打开会话：验证房间与成员资格，登记断线补偿
	session, err := h.svc.OpenSession(c.Request.Context(), code, playerID)
	if err != nil {
		if errors.Is(err, game.ErrRoomNotFound) {
			logCtx.WithError(err).Warn("WS Handler: Room not found")
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		} else if errors.Is(err, game.ErrNotInRoom) {
			logCtx.WithError(err).Warn("WS Handler: Player not in room")
			c.JSON(http.StatusForbidden, gin.H{"error": "Join the room before connecting"})
		} else {
			logCtx.WithError(err).Error("WS Handler: Failed to open session")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to open session"})
		}
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 失败时自动发送 HTTP 错误响应，这里只需记录并拆除会话
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		session.Teardown(c.Request.Context())
		return
	}
	logCtx.Info("WS Handler: Connection upgraded to WebSocket")

	client := hub.NewClient(h.hub, conn, code, playerID, session)
	h.hub.Register(client)
	client.Run()
}
