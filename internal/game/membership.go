package game

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/Spike1990AI/party-games/internal/domain"
	"github.com/Spike1990AI/party-games/internal/store"
)

// resolveHost 在 departing 离开后决出新房主。
// 规则是确定性的：剩余在线玩家中 JoinedAt 最早者 (ID 决胜)，
// 任何客户端按同一份文档计算都会得到同一个结果，因此多端并发写也只是幂等覆盖。
func resolveHost(room *domain.Room, departing string) string {
	for _, p := range room.ConnectedPlayers() {
		if p.ID != departing {
			return p.ID
		}
	}
	return ""
}

// ensureHost 校验房主权限，必要时在读路径上执行房主迁移。
// 房主的掉线可能由存储侧补偿更新落盘，那份更新只翻转在线标志，hostId 仍指向
// 离线玩家；因此读到文档的一方不能直接信任 hostId，记录的房主已离线时要先
// 决出继任者。继任者是确定性的，多端并发迁移只是幂等覆盖。
func (s *Service) ensureHost(ctx context.Context, room *domain.Room, callerID string) error {
	if room.HostID == callerID {
		return nil
	}
	if host, ok := room.Players[room.HostID]; ok && host.Connected {
		return ErrNotHost
	}
	successor := resolveHost(room, room.HostID)
	if successor == "" || successor != callerID {
		return ErrNotHost
	}
	fields := store.Fields{domain.FieldHostID: successor}
	if err := s.mergeRoom(ctx, "ensureHost", room.Code, fields); err != nil {
		return err
	}
	room.HostID = successor
	logrus.WithFields(logrus.Fields{
		"room_code": room.Code,
		"host_id":   successor,
	}).Info("Host migrated to successor on read")
	return nil
}

// OnConnectionLost 处理一名玩家的连接消失 (由会话拆除或后台清理触发)。
// 与主动离开走同一份字段计算：离线标记 + 必要的房主迁移。
// 回合制玩法中轮到掉线玩家时，顺带把行动权移交给下一位，避免全桌卡死。
func (s *Service) OnConnectionLost(ctx context.Context, code, playerID string) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "player_id": playerID})

	room, err := s.loadRoom(ctx, code)
	if err != nil {
		logCtx.WithError(err).Warn("OnConnectionLost: failed to load room")
		return err
	}
	if _, ok := room.Players[playerID]; !ok {
		return ErrNotInRoom
	}

	fields := s.departureFields(room, playerID)
	rs, rsErr := Lookup(room.Game)
	if rsErr == nil && rs.TurnBased && room.Phase == domain.PhasePlaying && room.CurrentActorID == playerID {
		if next := room.NextActor(playerID); next != "" && next != playerID {
			fields[domain.FieldCurrentActorID] = next
		}
	}

	if err := s.mergeRoom(ctx, "OnConnectionLost", code, fields); err != nil {
		return err
	}
	logCtx.Info("Player marked disconnected")
	return nil
}
