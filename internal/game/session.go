package game

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Spike1990AI/party-games/internal/domain"
	"github.com/Spike1990AI/party-games/internal/store"
)

// heartbeatInterval 是会话存活标记的刷新间隔，必须明显小于存储侧的标记有效期。
const heartbeatInterval = 30 * time.Second

// Session 是一名玩家与一个房间之间的活动连接。
// 它订阅房间文档的变更并以快照流的形式推给 UI 层，维护存活心跳，
// 并在阶段截止到点时触发强制结算。
// 拆除必须显式调用 Teardown：依赖 GC 回收连接会让掉线检测失去时效。
type Session struct {
	svc       *Service
	code      string
	playerID  string
	sessionID string

	snapshots chan domain.RoomSnapshot
	cancelSub func()
	stop      chan struct{}
	done      chan struct{}
	once      sync.Once
}

// SessionID 构造会话标识。确定性标识让同一玩家的重连自然顶替旧会话的补偿更新。
func SessionID(code, playerID string) string {
	return code + ":" + playerID
}

// OpenSession 为玩家打开一个房间会话。
// 打开时登记断线补偿更新 (离线标记)，由存储侧在连接消失时执行。
func (s *Service) OpenSession(ctx context.Context, code, playerID string) (*Session, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "player_id": playerID})

	room, err := s.loadRoom(ctx, code)
	if err != nil {
		logCtx.WithError(err).Warn("OpenSession: failed to load room")
		return nil, err
	}
	if _, ok := room.Players[playerID]; !ok {
		logCtx.Warn("OpenSession: player not in room")
		return nil, ErrNotInRoom
	}

	sessionID := SessionID(code, playerID)
	patch := store.Fields{
		domain.PlayerField(playerID, "connected"): "0",
	}
	if err := s.store.RegisterDisconnectPatch(ctx, sessionID, RoomRoot(code), patch); err != nil {
		logCtx.WithError(err).Error("OpenSession: failed to register disconnect patch")
		return nil, err
	}
	if err := s.store.TouchPresence(ctx, sessionID); err != nil {
		logCtx.WithError(err).Warn("OpenSession: failed to touch presence")
	}

	updates, cancelSub, err := s.store.Subscribe(ctx, RoomRoot(code))
	if err != nil {
		_ = s.store.ClearDisconnectPatches(ctx, sessionID)
		logCtx.WithError(err).Error("OpenSession: failed to subscribe to room")
		return nil, err
	}

	sess := &Session{
		svc:       s,
		code:      code,
		playerID:  playerID,
		sessionID: sessionID,
		snapshots: make(chan domain.RoomSnapshot, 8),
		cancelSub: cancelSub,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	// 先塞入一份当前快照再启动事件循环，UI 不必等第一次变更
	sess.push(domain.RoomSnapshot{Room: *room, ReadAt: s.now().UnixMilli(), Present: true})
	go sess.run(updates)

	logCtx.Info("Session opened")
	return sess, nil
}

// Snapshots 返回房间快照流。房间被删除时收到 Present=false 的快照，随后通道关闭。
func (sess *Session) Snapshots() <-chan domain.RoomSnapshot {
	return sess.snapshots
}

// Teardown 显式拆除会话：停止订阅与心跳，落盘离线标记并撤销补偿更新。
// 幂等，可安全重复调用。
func (sess *Session) Teardown(ctx context.Context) {
	sess.once.Do(func() {
		close(sess.stop)
		sess.cancelSub()
		<-sess.done

		if err := sess.svc.OnConnectionLost(ctx, sess.code, sess.playerID); err != nil {
			logrus.WithFields(logrus.Fields{
				"room_code": sess.code,
				"player_id": sess.playerID,
			}).WithError(err).Warn("Teardown: failed to mark player disconnected")
		}
		if err := sess.svc.store.ClearDisconnectPatches(ctx, sess.sessionID); err != nil {
			logrus.WithField("session_id", sess.sessionID).WithError(err).Warn("Teardown: failed to clear disconnect patches")
		}
		logrus.WithFields(logrus.Fields{
			"room_code": sess.code,
			"player_id": sess.playerID,
		}).Info("Session torn down")
	})
}

// run 是会话的事件循环：转发文档变更、刷心跳、盯阶段截止。
func (sess *Session) run(updates <-chan store.Fields) {
	defer close(sess.done)
	defer close(sess.snapshots)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	// 截止定时器按最近一次快照的 phaseDeadline 重置；没有截止时保持停跳
	deadline := time.NewTimer(time.Hour)
	if !deadline.Stop() {
		<-deadline.C
	}
	defer deadline.Stop()
	deadlineArmed := false

	ctx := context.Background()
	for {
		select {
		case <-sess.stop:
			return
		case fields, ok := <-updates:
			if !ok {
				return
			}
			if fields == nil {
				sess.push(domain.RoomSnapshot{ReadAt: sess.svc.now().UnixMilli(), Present: false})
				return
			}
			room := domain.DecodeRoom(fields)
			sess.push(domain.RoomSnapshot{Room: room, ReadAt: sess.svc.now().UnixMilli(), Present: true})

			if deadlineArmed {
				if !deadline.Stop() {
					select {
					case <-deadline.C:
					default:
					}
				}
				deadlineArmed = false
			}
			if room.PhaseDeadline > 0 && room.Phase == domain.PhasePlaying {
				wait := time.Until(time.UnixMilli(room.PhaseDeadline))
				if wait < 0 {
					wait = 0
				}
				deadline.Reset(wait)
				deadlineArmed = true
			}
		case <-heartbeat.C:
			if err := sess.svc.store.TouchPresence(ctx, sess.sessionID); err != nil {
				logrus.WithField("session_id", sess.sessionID).WithError(err).Warn("Session heartbeat failed")
			}
		case <-deadline.C:
			deadlineArmed = false
			if _, err := sess.svc.ForceResolveExpired(ctx, sess.code); err != nil {
				logrus.WithField("room_code", sess.code).WithError(err).Warn("Deadline trigger failed")
			}
		}
	}
}

// push 投递一份快照，消费者落后时丢弃最旧的一份 (快照是全量的，丢中间帧无害)。
func (sess *Session) push(snap domain.RoomSnapshot) {
	for {
		select {
		case sess.snapshots <- snap:
			return
		default:
			select {
			case <-sess.snapshots:
			default:
			}
		}
	}
}
