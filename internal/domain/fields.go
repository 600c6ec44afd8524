package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// 房间文档在实时存储中的扁平字段布局。
// 每个字段是房间子树下的一条路径，写入方总是把更新收窄到最小的字段集合，
// 多写者可达的字段要么按玩家分键，要么只做幂等覆盖。
const (
	FieldCode           = "code"
	FieldGame           = "game"
	FieldCreatedAt      = "createdAt"
	FieldPhase          = "phase"
	FieldHostID         = "hostId"
	FieldTurnOrder      = "turnOrder"
	FieldCurrentActorID = "currentActorId"
	FieldRound          = "round"
	FieldPhaseDeadline  = "phaseDeadline"
	FieldWinnerID       = "winnerId"
	FieldEndReason      = "endReason"

	prefixPlayers     = "players/"
	prefixSubmissions = "submissions/"
	prefixBoard       = "board/"
)

// PlayerField 构造某个玩家属性的字段路径，例如 players/p1/connected。
func PlayerField(playerID, attr string) string {
	return prefixPlayers + playerID + "/" + attr
}

// SubmissionField 构造玩家本回合提交的字段路径。
// 按玩家分键是防重复提交的关键：同一玩家的两次提交只会互相覆盖，不会翻倍。
func SubmissionField(playerID string) string {
	return prefixSubmissions + playerID
}

// BoardField 构造棋盘格子的字段路径，例如 board/3_4。
func BoardField(cell string) string {
	return prefixBoard + cell
}

// SubmissionsPrefix 返回提交子树的前缀，用于回合切换时整体清空。
func SubmissionsPrefix() string { return prefixSubmissions }

// BoardPrefix 返回棋盘子树的前缀。
func BoardPrefix() string { return prefixBoard }

// EncodeFields 把房间文档展开为扁平字段集合 (写整棵子树时使用)。
func (r *Room) EncodeFields() map[string]string {
	fields := map[string]string{
		FieldCode:           r.Code,
		FieldGame:           r.Game,
		FieldCreatedAt:      strconv.FormatInt(r.CreatedAt, 10),
		FieldPhase:          string(r.Phase),
		FieldHostID:         r.HostID,
		FieldCurrentActorID: r.CurrentActorID,
		FieldRound:          strconv.Itoa(r.Round),
		FieldPhaseDeadline:  strconv.FormatInt(r.PhaseDeadline, 10),
		FieldWinnerID:       r.WinnerID,
		FieldEndReason:      r.EndReason,
	}
	if order, err := json.Marshal(r.TurnOrder); err == nil {
		fields[FieldTurnOrder] = string(order)
	}
	for id, p := range r.Players {
		for attr, v := range EncodePlayer(p) {
			fields[PlayerField(id, attr)] = v
		}
	}
	for id, payload := range r.Submissions {
		fields[SubmissionField(id)] = payload
	}
	for cell, owner := range r.Board {
		fields[BoardField(cell)] = owner
	}
	return fields
}

// EncodePlayer 展开单个玩家记录的属性字段。
func EncodePlayer(p PlayerRecord) map[string]string {
	return map[string]string{
		"id":             p.ID,
		"name":           p.DisplayName,
		"connected":      encodeBool(p.Connected),
		"joinedAt":       strconv.FormatInt(p.JoinedAt, 10),
		"disconnectedAt": strconv.FormatInt(p.DisconnectedAt, 10),
		"role":           p.Role,
		"score":          strconv.Itoa(p.Score),
	}
}

// DecodeRoom 从扁平字段集合还原房间文档。
// 字段缺失或无法解析时保持零值，不视为错误：并发局部更新下出现半成品文档是正常的。
func DecodeRoom(fields map[string]string) Room {
	r := Room{
		Code:           fields[FieldCode],
		Game:           fields[FieldGame],
		CreatedAt:      parseInt64(fields[FieldCreatedAt]),
		Phase:          Phase(fields[FieldPhase]),
		HostID:         fields[FieldHostID],
		CurrentActorID: fields[FieldCurrentActorID],
		Round:          int(parseInt64(fields[FieldRound])),
		PhaseDeadline:  parseInt64(fields[FieldPhaseDeadline]),
		WinnerID:       fields[FieldWinnerID],
		EndReason:      fields[FieldEndReason],
		Players:        make(map[string]PlayerRecord),
		Submissions:    make(map[string]string),
		Board:          make(map[string]string),
	}
	if raw := fields[FieldTurnOrder]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &r.TurnOrder)
	}
	for key, value := range fields {
		switch {
		case strings.HasPrefix(key, prefixPlayers):
			rest := strings.TrimPrefix(key, prefixPlayers)
			parts := strings.SplitN(rest, "/", 2)
			if len(parts) != 2 {
				continue
			}
			id, attr := parts[0], parts[1]
			p := r.Players[id]
			p.ID = id
			decodePlayerAttr(&p, attr, value)
			r.Players[id] = p
		case strings.HasPrefix(key, prefixSubmissions):
			id := strings.TrimPrefix(key, prefixSubmissions)
			if id != "" {
				r.Submissions[id] = value
			}
		case strings.HasPrefix(key, prefixBoard):
			cell := strings.TrimPrefix(key, prefixBoard)
			if cell != "" {
				r.Board[cell] = value
			}
		}
	}
	return r
}

func decodePlayerAttr(p *PlayerRecord, attr, value string) {
	switch attr {
	case "name":
		p.DisplayName = value
	case "connected":
		p.Connected = value == "1"
	case "joinedAt":
		p.JoinedAt = parseInt64(value)
	case "disconnectedAt":
		p.DisconnectedAt = parseInt64(value)
	case "role":
		p.Role = value
	case "score":
		p.Score = int(parseInt64(value))
	}
}

func encodeBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
