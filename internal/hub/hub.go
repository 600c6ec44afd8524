// Package hub 维护活跃的 WebSocket 客户端集合：
// 把房间会话的快照流推给客户端，并把客户端发来的意图分发给协议服务。
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Spike1990AI/party-games/internal/game"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用。
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// HubMessage 定义了在 Hub 内部通道传递的消息类型。
type HubMessage struct {
	Type     string // "register", "unregister", "intent"
	RoomCode string
	PlayerID string
	Client   *Client
	RawData  []byte // 仅用于 intent (原始 WebSocket 消息)
}

// Intent 是客户端通过 WebSocket 发来的一次操作请求。
type Intent struct {
	Type    string            `json:"type"` // start/submit/advance/verdict/award/forfeit/leave
	Payload string            `json:"payload,omitempty"`
	Board   map[string]string `json:"board,omitempty"`
	Target  string            `json:"target,omitempty"` // verdict 的胜者 / award 的对象
	Delta   int64             `json:"delta,omitempty"`  // award 的分值
}

// intentError 是意图被拒绝时回给客户端的消息。静默丢弃档的错误不会走到这里。
type intentError struct {
	Type   string `json:"type"`
	Intent string `json:"intent"`
	Error  string `json:"error"`
}

// Hub 维护活跃客户端集合并协调意图处理。
type Hub struct {
	messageChan chan HubMessage

	// 客户端集合，按房间码组织
	rooms   map[string]map[*Client]bool
	roomsMu sync.RWMutex

	svc *game.Service
}

// NewHub 创建并返回一个新的 Hub 实例。
func NewHub(svc *game.Service) *Hub {
	if svc == nil {
		panic("game.Service cannot be nil for Hub")
	}
	return &Hub{
		messageChan: make(chan HubMessage, 512),
		rooms:       make(map[string]map[*Client]bool),
		svc:         svc,
	}
}

// Run 启动 Hub 的主事件处理循环，应在单独的 goroutine 中运行。
func (h *Hub) Run() {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")

	for msg := range h.messageChan {
		switch msg.Type {
		case "register":
			h.registerClient(msg.Client)
		case "unregister":
			h.unregisterClient(msg.Client)
		case "intent":
			// 意图处理涉及存储往返，异步执行避免阻塞主循环；
			// 协议写入本身是幂等/可交换的，乱序执行无害
			go h.handleIntent(msg)
		default:
			log.Warnf("Hub: Received unknown message type: %s from player %s in room %s", msg.Type, msg.PlayerID, msg.RoomCode)
		}
	}
	log.Info("Hub is shutting down...")
}

// Stop 关闭消息通道，结束主循环。
func (h *Hub) Stop() {
	close(h.messageChan)
}

// Register 把一个客户端交给 Hub 管理。
func (h *Hub) Register(client *Client) {
	h.messageChan <- HubMessage{Type: "register", Client: client}
}

// ActiveRoomCodes 返回当前有活跃连接的房间码列表。
func (h *Hub) ActiveRoomCodes() []string {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	codes := make([]string, 0, len(h.rooms))
	for code := range h.rooms {
		codes = append(codes, code)
	}
	return codes
}

func (h *Hub) registerClient(client *Client) {
	if client == nil {
		logrus.Error("Hub: Attempted to register a nil client")
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_code": client.RoomCode(),
		"player_id": client.PlayerID(),
	})

	h.roomsMu.Lock()
	clients, ok := h.rooms[client.RoomCode()]
	if !ok {
		clients = make(map[*Client]bool)
		h.rooms[client.RoomCode()] = clients
	}
	clients[client] = true
	h.roomsMu.Unlock()

	logCtx.Info("Client registered with hub")
}

func (h *Hub) unregisterClient(client *Client) {
	if client == nil {
		return
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"room_code": client.RoomCode(),
		"player_id": client.PlayerID(),
	})

	h.roomsMu.Lock()
	if clients, ok := h.rooms[client.RoomCode()]; ok {
		if _, present := clients[client]; present {
			delete(clients, client)
			close(client.send)
			if len(clients) == 0 {
				delete(h.rooms, client.RoomCode())
			}
		}
	}
	h.roomsMu.Unlock()

	// 显式拆除会话：落盘离线标记，撤销断线补偿
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client.session.Teardown(ctx)

	logCtx.Info("Client unregistered from hub")
}

// handleIntent 解析并执行一条客户端意图。
func (h *Hub) handleIntent(msg HubMessage) {
	logCtx := logrus.WithFields(logrus.Fields{
		"room_code": msg.RoomCode,
		"player_id": msg.PlayerID,
	})

	var intent Intent
	if err := json.Unmarshal(msg.RawData, &intent); err != nil {
		logCtx.WithError(err).Warn("Failed to parse client intent")
		return
	}
	logCtx = logCtx.WithField("intent", intent.Type)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch intent.Type {
	case "start":
		err = h.svc.StartGame(ctx, msg.RoomCode, msg.PlayerID)
	case "submit":
		err = h.svc.SubmitAction(ctx, msg.RoomCode, msg.PlayerID, game.Action{
			Payload: intent.Payload,
			Board:   intent.Board,
		})
	case "advance":
		err = h.svc.AdvancePhase(ctx, msg.RoomCode, msg.PlayerID)
	case "verdict":
		err = h.svc.JudgeVerdict(ctx, msg.RoomCode, msg.PlayerID, intent.Target)
	case "award":
		err = h.svc.AwardPoint(ctx, msg.RoomCode, msg.PlayerID, intent.Target, intent.Delta)
	case "forfeit":
		err = h.svc.Forfeit(ctx, msg.RoomCode, msg.PlayerID)
	case "leave":
		err = h.svc.LeaveRoom(ctx, msg.RoomCode, msg.PlayerID)
	default:
		logCtx.Warn("Unknown intent type")
		return
	}

	if err == nil {
		logCtx.Debug("Intent handled")
		return
	}
	if game.IsSilent(err) {
		// 迟到/重复的提交静默丢弃，客户端随下一份快照自然对齐
		logCtx.WithError(err).Debug("Intent dropped silently")
		return
	}
	logCtx.WithError(err).Warn("Intent rejected")
	if msg.Client != nil {
		msg.Client.sendError(intent.Type, err)
	}
}
