package game

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/Spike1990AI/party-games/internal/domain"
	"github.com/Spike1990AI/party-games/internal/store"
)

// Action 是一次玩家提交。Payload 对协议层不透明 (各玩法自定义 JSON)；
// Board 是可选的棋盘写入，回合制棋盘玩法随动作一并落盘。
type Action struct {
	Payload string
	Board   map[string]string
}

// StartGame 由房主从大厅开局：固定 TurnOrder，指定首个行动者/裁判，进入 playing。
// 所有写入都是由当前文档确定性推导出的绝对值，两个并发的开局请求会写出
// 完全相同的字段，收敛为一次开局。
func (s *Service) StartGame(ctx context.Context, code, callerID string) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "caller_id": callerID})

	room, err := s.loadRoom(ctx, code)
	if err != nil {
		logCtx.WithError(err).Warn("StartGame: failed to load room")
		return err
	}
	if err := s.ensureHost(ctx, room, callerID); err != nil {
		if errors.Is(err, ErrNotHost) {
			logCtx.Warn("StartGame: caller is not host")
		}
		return err
	}
	if room.Phase != domain.PhaseLobby {
		logCtx.Warn("StartGame: game already started")
		return ErrAlreadyStarted
	}
	rs, err := Lookup(room.Game)
	if err != nil {
		return err
	}
	connected := room.ConnectedPlayers()
	if len(connected) < rs.MinPlayers {
		logCtx.WithField("connected", len(connected)).Warn("StartGame: not enough players")
		return ErrNotEnoughPlayers
	}

	order := make([]string, 0, len(connected))
	for _, p := range connected {
		order = append(order, p.ID)
	}
	room.TurnOrder = order

	fields := store.Fields{
		domain.FieldPhase: string(domain.PhasePlaying),
		domain.FieldRound: "1",
	}
	if raw, err := encodeTurnOrder(order); err == nil {
		fields[domain.FieldTurnOrder] = raw
	}
	if rs.TurnBased {
		fields[domain.FieldCurrentActorID] = order[0]
	} else {
		fields[domain.FieldPhaseDeadline] = strconv.FormatInt(rs.phaseDeadline(s.now()), 10)
	}
	if rs.HasJudge {
		// 首回合裁判 = 加入最早的玩家，之后每回合沿 TurnOrder 轮转
		fields[domain.PlayerField(order[0], "role")] = domain.RoleJudge
	}

	if err := s.mergeRoom(ctx, "StartGame", code, fields); err != nil {
		return err
	}
	logCtx.WithField("players", len(order)).Info("Game started")
	return nil
}

// SubmitAction 处理一次玩家提交。
// 回合制：仅当前行动者可提交，提交后行动权移交下一位；
// 提交制：每人每回合一次 (按玩家分键防重复)，齐了即触发回合结算。
// 迟到与重复提交属于静默丢弃档，调用方不应把它们当作玩家可见错误。
func (s *Service) SubmitAction(ctx context.Context, code, playerID string, action Action) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "player_id": playerID})

	room, err := s.loadRoom(ctx, code)
	if err != nil {
		logCtx.WithError(err).Warn("SubmitAction: failed to load room")
		return err
	}
	switch room.Phase {
	case domain.PhasePlaying:
		// 收集中
	case domain.PhaseJudging, domain.PhaseResolution, domain.PhaseFinished:
		// 回合已收口后才到达的提交是协议容忍的竞争，静默丢弃
		logCtx.WithField("phase", room.Phase).Debug("SubmitAction: round already closed, dropping")
		return ErrAlreadySubmitted
	default:
		logCtx.WithField("phase", room.Phase).Warn("SubmitAction: room not in playing phase")
		return ErrInvalidTransition
	}
	p, ok := room.Players[playerID]
	if !ok {
		return ErrNotInRoom
	}
	rs, err := Lookup(room.Game)
	if err != nil {
		return err
	}

	if rs.TurnBased {
		return s.submitTurn(ctx, logCtx, room, rs, playerID, action)
	}

	if rs.HasJudge && p.Role == domain.RoleJudge {
		logCtx.Debug("SubmitAction: judge does not submit, dropping")
		return ErrNotYourTurn
	}
	if _, dup := room.Submissions[playerID]; dup {
		logCtx.Debug("SubmitAction: duplicate submission, dropping")
		return ErrAlreadySubmitted
	}

	fields := store.Fields{domain.SubmissionField(playerID): action.Payload}
	for cell, v := range action.Board {
		fields[domain.BoardField(cell)] = v
	}
	if err := s.mergeRoom(ctx, "SubmitAction", code, fields); err != nil {
		return err
	}

	// 计数触发：本地视图里提交齐了就推进阶段。推进写的是绝对值，
	// 多个客户端同时发现"齐了"也只会收敛为一次结算。
	room.Submissions[playerID] = action.Payload
	if rs.roundComplete(room) {
		return s.closeSubmissions(ctx, room, rs)
	}
	return nil
}

// submitTurn 处理回合制玩法的一次行动：校验行动权、落盘、移交、查终局。
func (s *Service) submitTurn(ctx context.Context, logCtx *logrus.Entry, room *domain.Room, rs Ruleset, playerID string, action Action) error {
	if room.CurrentActorID != playerID {
		logCtx.WithField("current_actor", room.CurrentActorID).Debug("SubmitAction: not this player's turn, dropping")
		return ErrNotYourTurn
	}

	next := room.NextActor(playerID)
	fields := store.Fields{
		domain.SubmissionField(playerID): action.Payload,
		domain.FieldCurrentActorID:       next,
	}
	for cell, v := range action.Board {
		fields[domain.BoardField(cell)] = v
		room.Board[cell] = v
	}
	// 行动权回到序列头即进入下一回合
	round := room.Round
	if len(room.TurnOrder) > 0 && next == room.TurnOrder[0] {
		round++
		fields[domain.FieldRound] = strconv.Itoa(round)
	}
	room.Round = round

	if reason, winner, over := rs.terminal(room); over {
		return s.finishRoom(ctx, room, fields, winner, reason)
	}
	return s.mergeRoom(ctx, "SubmitAction/turn", room.Code, fields)
}

// closeSubmissions 结束收集阶段：带裁判的玩法进入 judging，其余进入 resolution。
func (s *Service) closeSubmissions(ctx context.Context, room *domain.Room, rs Ruleset) error {
	nextPhase := domain.PhaseResolution
	if rs.HasJudge {
		nextPhase = domain.PhaseJudging
	}
	fields := store.Fields{
		domain.FieldPhase:         string(nextPhase),
		domain.FieldPhaseDeadline: "0",
	}
	if err := s.mergeRoom(ctx, "closeSubmissions", room.Code, fields); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"room_code": room.Code,
		"round":     room.Round,
		"phase":     nextPhase,
	}).Info("Round submissions closed")
	return nil
}

// JudgeVerdict 由本回合裁判宣布胜者：胜者加一分，房间进入 resolution。
// 计分走原子自增，绝不读出整个文档再写回。
func (s *Service) JudgeVerdict(ctx context.Context, code, callerID, winnerID string) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "caller_id": callerID, "winner_id": winnerID})

	room, err := s.loadRoom(ctx, code)
	if err != nil {
		return err
	}
	if room.Phase != domain.PhaseJudging {
		logCtx.WithField("phase", room.Phase).Warn("JudgeVerdict: room not in judging phase")
		return ErrInvalidTransition
	}
	caller, ok := room.Players[callerID]
	if !ok || caller.Role != domain.RoleJudge {
		logCtx.Warn("JudgeVerdict: caller is not the judge")
		return ErrNotHost
	}
	if _, ok := room.Players[winnerID]; !ok {
		return ErrNotInRoom
	}

	err = withRetry(ctx, "JudgeVerdict/score", func() error {
		_, incErr := s.store.IncrField(ctx, RoomRoot(code), domain.PlayerField(winnerID, "score"), 1)
		return incErr
	})
	if err != nil {
		return err
	}
	fields := store.Fields{domain.FieldPhase: string(domain.PhaseResolution)}
	if err := s.mergeRoom(ctx, "JudgeVerdict", code, fields); err != nil {
		return err
	}
	logCtx.Info("Judge verdict recorded")
	return nil
}

// AwardPoint 由房主给玩家计分 (结算画面用)。delta 可为负 (纠错)。
func (s *Service) AwardPoint(ctx context.Context, code, callerID, playerID string, delta int64) error {
	room, err := s.loadRoom(ctx, code)
	if err != nil {
		return err
	}
	if err := s.ensureHost(ctx, room, callerID); err != nil {
		return err
	}
	if _, ok := room.Players[playerID]; !ok {
		return ErrNotInRoom
	}
	return withRetry(ctx, "AwardPoint", func() error {
		_, incErr := s.store.IncrField(ctx, RoomRoot(code), domain.PlayerField(playerID, "score"), delta)
		return incErr
	})
}

// AdvancePhase 由房主推进阶段。
// resolution -> 下一回合 (或终局)；playing -> 强制结算 (时限过半后开放的手动兜底)；
// finished 上的重复调用是幂等空操作。阶段字段的并发覆盖是幂等的：
// 两个房主端同时推进写出同一组绝对值，回合数只加一次。
func (s *Service) AdvancePhase(ctx context.Context, code, callerID string) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "caller_id": callerID})

	room, err := s.loadRoom(ctx, code)
	if err != nil {
		logCtx.WithError(err).Warn("AdvancePhase: failed to load room")
		return err
	}
	if err := s.ensureHost(ctx, room, callerID); err != nil {
		if errors.Is(err, ErrNotHost) {
			logCtx.Warn("AdvancePhase: caller is not host")
		}
		return err
	}
	rs, err := Lookup(room.Game)
	if err != nil {
		return err
	}

	switch room.Phase {
	case domain.PhaseResolution:
		return s.nextRound(ctx, room, rs)
	case domain.PhasePlaying:
		if rs.TurnBased {
			return ErrInvalidTransition
		}
		if !rs.manualForceReady(room, s.now()) {
			logCtx.Warn("AdvancePhase: manual force not yet available")
			return ErrInvalidTransition
		}
		return s.closeSubmissions(ctx, room, rs)
	case domain.PhaseFinished:
		return nil // 幂等空操作
	default:
		logCtx.WithField("phase", room.Phase).Warn("AdvancePhase: invalid phase")
		return ErrInvalidTransition
	}
}

// nextRound 从 resolution 进入下一回合：查终局、清提交、轮转裁判、刷新截止。
func (s *Service) nextRound(ctx context.Context, room *domain.Room, rs Ruleset) error {
	nextNum := room.Round + 1
	probe := *room
	probe.Round = nextNum
	if reason, winner, over := rs.terminal(&probe); over {
		return s.finishRoom(ctx, room, store.Fields{}, winner, reason)
	}

	err := withRetry(ctx, "nextRound/clear", func() error {
		return s.store.DeletePrefix(ctx, RoomRoot(room.Code), domain.SubmissionsPrefix())
	})
	if err != nil {
		return err
	}

	fields := store.Fields{
		domain.FieldPhase: string(domain.PhasePlaying),
		domain.FieldRound: strconv.Itoa(nextNum),
	}
	if rs.TurnBased {
		if len(room.TurnOrder) > 0 {
			fields[domain.FieldCurrentActorID] = room.TurnOrder[0]
		}
	} else {
		fields[domain.FieldPhaseDeadline] = strconv.FormatInt(rs.phaseDeadline(s.now()), 10)
	}
	if rs.HasJudge {
		current := currentJudge(room)
		next := room.NextActor(current)
		if current != "" {
			fields[domain.PlayerField(current, "role")] = domain.RolePlayer
		}
		if next != "" {
			fields[domain.PlayerField(next, "role")] = domain.RoleJudge
		}
	}
	if err := s.mergeRoom(ctx, "nextRound", room.Code, fields); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"room_code": room.Code, "round": nextNum}).Info("Advanced to next round")
	return nil
}

// Forfeit 处理认输。双人对局直接终局判对手胜；多人局等同主动离开。
func (s *Service) Forfeit(ctx context.Context, code, playerID string) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_code": code, "player_id": playerID})

	room, err := s.loadRoom(ctx, code)
	if err != nil {
		return err
	}
	if _, ok := room.Players[playerID]; !ok {
		return ErrNotInRoom
	}
	if room.Phase == domain.PhaseLobby || room.Phase == domain.PhaseFinished {
		return s.LeaveRoom(ctx, code, playerID)
	}

	if len(room.TurnOrder) == 2 {
		winner := ""
		for _, id := range room.TurnOrder {
			if id != playerID {
				winner = id
				break
			}
		}
		logCtx.WithField("winner_id", winner).Info("Player forfeited head-to-head game")
		return s.finishRoom(ctx, room, store.Fields{}, winner, EndReasonForfeit)
	}
	logCtx.Info("Player forfeited, treating as leave")
	return s.LeaveRoom(ctx, code, playerID)
}

// finishRoom 写入终局字段并登记战绩。extra 允许把最后一次行动与终局合并为一次写。
func (s *Service) finishRoom(ctx context.Context, room *domain.Room, extra store.Fields, winnerID, reason string) error {
	fields := store.Fields{
		domain.FieldPhase:         string(domain.PhaseFinished),
		domain.FieldWinnerID:      winnerID,
		domain.FieldEndReason:     reason,
		domain.FieldPhaseDeadline: "0",
	}
	for k, v := range extra {
		fields[k] = v
	}
	if err := s.mergeRoom(ctx, "finishRoom", room.Code, fields); err != nil {
		return err
	}
	room.Phase = domain.PhaseFinished
	room.WinnerID = winnerID
	room.EndReason = reason
	s.archiveFinished(ctx, room)
	logrus.WithFields(logrus.Fields{
		"room_code": room.Code,
		"winner_id": winnerID,
		"reason":    reason,
	}).Info("Game finished")
	return nil
}

func encodeTurnOrder(order []string) (string, error) {
	b, err := json.Marshal(order)
	return string(b), err
}

// currentJudge 返回当前回合的裁判 ID。
func currentJudge(room *domain.Room) string {
	for id, p := range room.Players {
		if p.Role == domain.RoleJudge {
			return id
		}
	}
	return ""
}
