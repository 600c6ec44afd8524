package game

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/Spike1990AI/party-games/internal/domain"
	"github.com/Spike1990AI/party-games/internal/store"
)

// 房间码字母表。去掉了 I 和 O，避免口头传码时与 1/0 混淆。
const (
	codeAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	codeLength      = 4
	maxCodeAttempts = 10
)

// CreateRoom 创建一个新房间：生成唯一房间码，写入初始文档，创建者即房主。
func (s *Service) CreateRoom(ctx context.Context, gameName, hostID, hostName string) (*domain.Room, error) {
	logCtx := logrus.WithFields(logrus.Fields{"game": gameName, "host_id": hostID})

	if _, err := Lookup(gameName); err != nil {
		logCtx.Warn("CreateRoom: unknown game type")
		return nil, err
	}

	code, err := s.generateUniqueCode(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Failed to generate unique room code")
		return nil, err
	}
	logCtx = logCtx.WithField("room_code", code)

	now := s.now()
	room := &domain.Room{
		Code:      code,
		Game:      gameName,
		CreatedAt: now.UnixMilli(),
		Phase:     domain.PhaseLobby,
		HostID:    hostID,
		Players: map[string]domain.PlayerRecord{
			hostID: {
				ID:          hostID,
				DisplayName: hostName,
				Connected:   true,
				JoinedAt:    now.UnixMilli(),
				Role:        domain.RolePlayer,
			},
		},
		Round: 0,
	}

	err = withRetry(ctx, "CreateRoom", func() error {
		return s.store.WriteSubtree(ctx, RoomRoot(code), room.EncodeFields())
	})
	if err != nil {
		logCtx.WithError(err).Error("Failed to write new room document")
		return nil, err
	}

	if s.archive != nil {
		record := &domain.RoomRecord{Code: code, Game: gameName}
		if err := s.archive.CreateRecord(ctx, record); err != nil {
			// 登记失败不影响房间可用性
			logCtx.WithError(err).Warn("Failed to create archive record for room")
		}
	}

	logCtx.Info("Room created successfully")
	return room, nil
}

// JoinRoom 加入已有房间。同一玩家重复加入视为重连：恢复在线标志，不新建记录。
// 开局后的加入只有 AllowLateJoin 的玩法允许。
func (s *Service) JoinRoom(ctx context.Context, code, playerID, name string) (*domain.Room, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "player_id": playerID})

	room, err := s.loadRoom(ctx, code)
	if err != nil {
		logCtx.WithError(err).Warn("JoinRoom: failed to load room")
		return nil, err
	}
	rs, err := Lookup(room.Game)
	if err != nil {
		logCtx.WithField("game", room.Game).Error("JoinRoom: room references unknown game")
		return nil, err
	}

	now := s.now().UnixMilli()
	if existing, ok := room.Players[playerID]; ok {
		// 重连：只翻转在线标志，JoinedAt 与得分保持不变
		fields := store.Fields{
			domain.PlayerField(playerID, "connected"):      "1",
			domain.PlayerField(playerID, "disconnectedAt"): "0",
		}
		if err := s.mergeRoom(ctx, "JoinRoom/reconnect", code, fields); err != nil {
			return nil, err
		}
		existing.Connected = true
		existing.DisconnectedAt = 0
		room.Players[playerID] = existing
		logCtx.Info("Player reconnected to room")
		return room, nil
	}

	if room.Phase != domain.PhaseLobby && !rs.AllowLateJoin {
		logCtx.Warn("JoinRoom: game already started")
		return nil, ErrAlreadyStarted
	}
	if room.Phase == domain.PhaseFinished {
		logCtx.Warn("JoinRoom: room already finished")
		return nil, ErrAlreadyStarted
	}
	if len(room.Players) >= rs.MaxPlayers {
		logCtx.Warn("JoinRoom: room is full")
		return nil, ErrRoomFull
	}

	player := domain.PlayerRecord{
		ID:          playerID,
		DisplayName: name,
		Connected:   true,
		JoinedAt:    now,
		Role:        domain.RolePlayer,
	}
	fields := make(store.Fields)
	for attr, v := range domain.EncodePlayer(player) {
		fields[domain.PlayerField(playerID, attr)] = v
	}
	if err := s.mergeRoom(ctx, "JoinRoom", code, fields); err != nil {
		return nil, err
	}
	room.Players[playerID] = player
	logCtx.Info("Player joined room")
	return room, nil
}

// LeaveRoom 处理玩家主动离开。
// 大厅阶段直接移除玩家记录，空出的席位立刻可被复用，最后一人离开时回收整个房间；
// 开局后只标记离线并在需要时迁移房主，记录保留给重连和计分。
func (s *Service) LeaveRoom(ctx context.Context, code, playerID string) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "player_id": playerID})

	room, err := s.loadRoom(ctx, code)
	if err != nil {
		logCtx.WithError(err).Warn("LeaveRoom: failed to load room")
		return err
	}
	if _, ok := room.Players[playerID]; !ok {
		logCtx.Warn("LeaveRoom: player not in room")
		return ErrNotInRoom
	}

	if room.Phase == domain.PhaseLobby {
		return s.removeFromLobby(ctx, room, playerID)
	}

	fields := s.departureFields(room, playerID)
	if err := s.mergeRoom(ctx, "LeaveRoom", code, fields); err != nil {
		return err
	}
	logCtx.Info("Player left room")
	return nil
}

// removeFromLobby 把尚未开局的玩家从房间文档中整体移除。
// 大厅阶段没有 TurnOrder 和计分需要保护，席位计数依赖记录本身。
func (s *Service) removeFromLobby(ctx context.Context, room *domain.Room, playerID string) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_code": room.Code, "player_id": playerID})

	if len(room.Players) == 1 {
		err := withRetry(ctx, "LeaveRoom/delete", func() error {
			return s.store.DeleteSubtree(ctx, RoomRoot(room.Code))
		})
		if err != nil {
			return err
		}
		logCtx.Info("Last player left, lobby room removed")
		return nil
	}

	err := withRetry(ctx, "LeaveRoom/remove", func() error {
		return s.store.DeletePrefix(ctx, RoomRoot(room.Code), domain.PlayerField(playerID, ""))
	})
	if err != nil {
		return err
	}
	delete(room.Players, playerID)

	if room.HostID == playerID {
		successor := resolveHost(room, playerID)
		if successor == "" {
			// 剩下的都不在线：指给加入最早的记录，重连即恢复
			if rest := room.PlayersByJoinOrder(); len(rest) > 0 {
				successor = rest[0].ID
			}
		}
		if successor != "" {
			fields := store.Fields{domain.FieldHostID: successor}
			if err := s.mergeRoom(ctx, "LeaveRoom/host", room.Code, fields); err != nil {
				return err
			}
		}
	}
	logCtx.Info("Player removed from lobby")
	return nil
}

// departureFields 计算玩家离开 (主动或断线) 时需要合并的字段集合，
// 包括离线标记和必要的房主迁移。LeaveRoom 和断线补偿共用这份逻辑。
func (s *Service) departureFields(room *domain.Room, playerID string) store.Fields {
	fields := store.Fields{
		domain.PlayerField(playerID, "connected"):      "0",
		domain.PlayerField(playerID, "disconnectedAt"): strconv.FormatInt(s.now().UnixMilli(), 10),
	}
	if room.HostID == playerID {
		if successor := resolveHost(room, playerID); successor != "" {
			fields[domain.FieldHostID] = successor
		}
		// 没有继任者时保留原 hostId：房间进入无房主等待状态，
		// 原房主重连即恢复，否则由保留期清理回收
	}
	return fields
}

// ExpireStaleRooms 扫描并删除超过保留期的房间，返回删除数量。
// 终局房间在删除前登记战绩。后台清理任务周期性调用。
func (s *Service) ExpireStaleRooms(ctx context.Context) (int, error) {
	roots, err := s.store.ListRoots(ctx, RoomRootPrefix)
	if err != nil {
		return 0, fmt.Errorf("expire: failed to list rooms: %w", err)
	}
	now := s.now()
	removed := 0
	for _, root := range roots {
		fields, err := s.store.ReadOnce(ctx, root)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue // 扫描与删除之间的竞争，忽略
			}
			logrus.WithField("root", root).WithError(err).Warn("Expire sweep: failed to read room")
			continue
		}
		room := domain.DecodeRoom(fields)
		if !room.IsExpired(now) {
			continue
		}
		s.archiveFinished(ctx, &room)
		if err := s.store.DeleteSubtree(ctx, root); err != nil {
			logrus.WithField("root", root).WithError(err).Warn("Expire sweep: failed to delete room")
			continue
		}
		removed++
		logrus.WithFields(logrus.Fields{
			"room_code": room.Code,
			"phase":     room.Phase,
		}).Info("Expired room removed")
	}
	return removed, nil
}

// archiveFinished 把终局房间的成绩写入登记库。非终局房间过期时只记录创建信息。
func (s *Service) archiveFinished(ctx context.Context, room *domain.Room) {
	if s.archive == nil || room.Code == "" {
		return
	}
	results := make([]domain.PlayerResult, 0, len(room.Players))
	winnerName := ""
	for _, p := range room.PlayersByJoinOrder() {
		won := room.WinnerID != "" && p.ID == room.WinnerID
		if won {
			winnerName = p.DisplayName
		}
		results = append(results, domain.PlayerResult{
			PlayerID:    p.ID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
			Won:         won,
		})
	}
	finishedAt := s.now()
	err := s.archive.FinalizeRecord(ctx, room.Code, finishedAt, room.Round, winnerName, room.EndReason, results)
	if err != nil {
		logrus.WithField("room_code", room.Code).WithError(err).Warn("Failed to finalize archive record")
	}
}

// loadRoom 读取并解码房间文档，统一错误映射。
func (s *Service) loadRoom(ctx context.Context, code string) (*domain.Room, error) {
	var fields store.Fields
	err := withRetry(ctx, "loadRoom", func() error {
		var readErr error
		fields, readErr = s.store.ReadOnce(ctx, RoomRoot(code))
		return readErr
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	room := domain.DecodeRoom(fields)
	return &room, nil
}

// mergeRoom 带重试地合并字段到房间文档。
func (s *Service) mergeRoom(ctx context.Context, op, code string, fields store.Fields) error {
	return withRetry(ctx, op, func() error {
		return s.store.MergeFields(ctx, RoomRoot(code), fields)
	})
}

// generateUniqueCode 生成未被占用的房间码，冲突时有界重试。
func (s *Service) generateUniqueCode(ctx context.Context) (string, error) {
	b := make([]byte, codeLength)
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		if _, err := rand.Read(b); err != nil {
			return "", fmt.Errorf("failed to generate random bytes: %w", err)
		}
		for i := range b {
			b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
		}
		code := string(b)

		_, err := s.store.ReadOnce(ctx, RoomRoot(code))
		if errors.Is(err, store.ErrNotFound) {
			logrus.WithField("room_code", code).Debugf("Generated unique room code after %d attempt(s).", attempt+1)
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check room code availability: %w", err)
		}
		logrus.WithField("room_code", code).Warnf("Generated room code already exists, retrying (attempt %d)...", attempt+1)
	}
	return "", fmt.Errorf("failed to generate a unique room code after %d attempts", maxCodeAttempts)
}
