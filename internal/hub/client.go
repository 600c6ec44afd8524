package hub

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Spike1990AI/party-games/internal/game"
)

// Client 代表一个连接到 Hub 的 WebSocket 客户端。
// 每个客户端绑定一个房间会话：会话的快照流经 snapshotPump 推到连接上。
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	roomCode string
	playerID string
	session  *game.Session
	send     chan []byte
}

// NewClient 创建一个新的 Client 实例。
func NewClient(h *Hub, conn *websocket.Conn, roomCode, playerID string, session *game.Session) *Client {
	return &Client{
		hub:      h,
		conn:     conn,
		roomCode: roomCode,
		playerID: playerID,
		session:  session,
		send:     make(chan []byte, 256),
	}
}

// Run 启动客户端的读写与快照转发 goroutine。
func (c *Client) Run() {
	go c.WritePump()
	go c.ReadPump()
	go c.snapshotPump()
}

// snapshotPump 把会话的房间快照序列化后送入发送通道。
// 快照是全量的，发送通道满时丢帧无害。
func (c *Client) snapshotPump() {
	for snap := range c.session.Snapshots() {
		data, err := json.Marshal(map[string]interface{}{
			"type":     "snapshot",
			"snapshot": snap,
		})
		if err != nil {
			logrus.WithFields(logrus.Fields{"room_code": c.roomCode, "player_id": c.playerID}).
				WithError(err).Error("Failed to marshal room snapshot")
			continue
		}
		select {
		case c.send <- data:
		default:
			logrus.WithFields(logrus.Fields{"room_code": c.roomCode, "player_id": c.playerID}).
				Warn("Client send channel full, dropping snapshot")
		}
	}
	// 快照流关闭意味着房间已删除或会话已拆除，通知客户端收尾
	c.conn.Close()
}

// sendError 把被拒绝的意图反馈给客户端。
func (c *Client) sendError(intent string, err error) {
	data, marshalErr := json.Marshal(intentError{Type: "error", Intent: intent, Error: err.Error()})
	if marshalErr != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// ReadPump 把消息从 WebSocket 连接泵送到 Hub 的消息通道。
func (c *Client) ReadPump() {
	defer func() {
		unregisterMsg := HubMessage{Type: "unregister", Client: c}
		select {
		case c.hub.messageChan <- unregisterMsg:
		case <-time.After(1 * time.Second):
			logrus.WithFields(logrus.Fields{"room_code": c.roomCode, "player_id": c.playerID}).
				Warn("Timeout sending unregister message to Hub channel")
		}
		c.conn.Close()
		logrus.WithFields(logrus.Fields{"room_code": c.roomCode, "player_id": c.playerID}).
			Info("readPump exited, unregistered client")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			logCtx := logrus.WithFields(logrus.Fields{"room_code": c.roomCode, "player_id": c.playerID})
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed normally or read error")
			}
			break
		}

		if messageType != websocket.TextMessage {
			continue
		}
		intentMsg := HubMessage{
			Type:     "intent",
			RoomCode: c.roomCode,
			PlayerID: c.playerID,
			Client:   c,
			RawData:  message,
		}
		select {
		case c.hub.messageChan <- intentMsg:
		default:
			logrus.WithFields(logrus.Fields{"room_code": c.roomCode, "player_id": c.playerID}).
				Warn("Hub message channel full, dropping client message")
		}
	}
}

// WritePump 把消息从发送通道泵送到 WebSocket 连接，并周期性发送 Ping。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		logrus.WithFields(logrus.Fields{"room_code": c.roomCode, "player_id": c.playerID}).Info("writePump exited")
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithFields(logrus.Fields{"room_code": c.roomCode, "player_id": c.playerID}).
					WithError(err).Warn("Failed to write message to websocket")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logrus.WithFields(logrus.Fields{"room_code": c.roomCode, "player_id": c.playerID}).
					WithError(err).Warn("Failed to send ping message")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Time{})
		}
	}
}

// RoomCode 返回客户端所在的房间码。
func (c *Client) RoomCode() string { return c.roomCode }

// PlayerID 返回客户端对应的玩家 ID。
func (c *Client) PlayerID() string { return c.playerID }

// CloseConn 强制关闭底层连接。
func (c *Client) CloseConn() { c.conn.Close() }
