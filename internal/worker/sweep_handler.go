package worker

import (
	"context"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/Spike1990AI/party-games/internal/game"
	"github.com/Spike1990AI/party-games/internal/store/redisstore"
)

// RoomSweepHandler 处理周期性清理任务：
// 回收过期房间、强制结算截止已过的回合、对失联会话执行断线补偿。
// 三件事都依赖"绝对值写入收敛"的性质，多个 worker 并发执行也是安全的。
type RoomSweepHandler struct {
	svc   *game.Service
	store *redisstore.Store
}

// NewRoomSweepHandler 创建 Handler 实例。
func NewRoomSweepHandler(svc *game.Service, st *redisstore.Store) *RoomSweepHandler {
	if svc == nil {
		panic("game.Service cannot be nil for RoomSweepHandler")
	}
	if st == nil {
		panic("redisstore.Store cannot be nil for RoomSweepHandler")
	}
	return &RoomSweepHandler{svc: svc, store: st}
}

// ProcessTask 实现 asynq.Handler 接口。
func (h *RoomSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithField("task_type", t.Type())
	logCtx.Info("Processing room sweep task...")
	started := time.Now()

	// 1. 失联会话的断线补偿先执行，让掉线标记在过期判定之前落盘
	stale, err := h.store.StaleSessions(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Sweep: failed to list stale sessions")
	} else {
		for _, sessionID := range stale {
			h.compensate(ctx, logCtx, sessionID)
		}
	}

	// 2. 截止已过的提交阶段强制结算
	resolved, err := h.svc.SweepDeadlines(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Sweep: deadline pass failed")
	}

	// 3. 超过保留期的房间整体回收
	removed, err := h.svc.ExpireStaleRooms(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Sweep: expiry pass failed")
		return err // 交给 asynq 重试
	}

	logCtx.WithFields(logrus.Fields{
		"stale_sessions": len(stale),
		"resolved":       resolved,
		"removed":        removed,
		"elapsed":        time.Since(started).String(),
	}).Info("Room sweep task completed")
	return nil
}

// compensate 对一个失联会话执行断线处理：落盘离线标记并迁移房主。
func (h *RoomSweepHandler) compensate(ctx context.Context, logCtx *logrus.Entry, sessionID string) {
	sessLog := logCtx.WithField("session_id", sessionID)

	// 会话标识是 code:playerID，失联时走与主动离开相同的成员逻辑，
	// 登记的原始补偿更新只作为成员逻辑失败时的兜底
	if code, playerID, ok := splitSessionID(sessionID); ok {
		if err := h.svc.OnConnectionLost(ctx, code, playerID); err != nil {
			sessLog.WithError(err).Warn("Sweep: membership handling for lost session failed, falling back to raw patch")
			if err := h.store.RunDisconnectPatches(ctx, sessionID); err != nil {
				sessLog.WithError(err).Error("Sweep: failed to run disconnect patches")
			}
			return
		}
	}
	if err := h.store.ClearDisconnectPatches(ctx, sessionID); err != nil {
		sessLog.WithError(err).Warn("Sweep: failed to clear disconnect patches")
	}
	sessLog.Info("Compensated lost session")
}

func splitSessionID(sessionID string) (code, playerID string, ok bool) {
	parts := strings.SplitN(sessionID, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
