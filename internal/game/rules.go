package game

import (
	"strconv"
	"time"

	"github.com/Spike1990AI/party-games/internal/domain"
)

// Ruleset 描述一种玩法在房间协议层的参数。
// 协议只关心人数边界、回合结构和终局条件，玩法内部的棋盘/卡牌逻辑不在这里。
type Ruleset struct {
	Name       string
	MinPlayers int
	MaxPlayers int

	// TurnBased 为真表示回合制：同一时刻只有 CurrentActorID 可以行动。
	// 为假表示提交制：全员 (裁判除外) 各提交一次后推进阶段。
	TurnBased bool

	// HasJudge 为真表示每回合指定一名裁判，裁判不参与提交，
	// 提交齐了以后进入 judging 阶段等裁判裁决。
	HasJudge bool

	// AllowLateJoin 为真表示开局后仍可加入 (协作类玩法)。
	AllowLateJoin bool

	// TargetScore 大于 0 表示达到该分数即终局。
	TargetScore int

	// MaxRounds 大于 0 表示打满该回合数后终局，按得分定胜负。
	MaxRounds int

	// RoundDeadline 大于 0 表示每个提交阶段的截止时长，超时强制结算。
	// 为 0 时使用协议默认的 DefaultPhaseDeadline。
	RoundDeadline time.Duration

	// BoardDriven 为真表示棋盘类玩法：棋盘写满即终局 (board-full)。
	BoardDriven bool

	// FleetDriven 为真表示舰队类玩法：一方棋子清零即终局 (fleet-eliminated)。
	FleetDriven bool
}

// 终局原因。写入 Room.EndReason，供结算画面与战绩登记使用。
const (
	EndReasonScoreReached    = "score-threshold"
	EndReasonRoundsExhausted = "rounds-exhausted"
	EndReasonBoardFull       = "board-full"
	EndReasonFleetEliminated = "fleet-eliminated"
	EndReasonForfeit         = "forfeit"
	EndReasonDeadline        = "deadline-exceeded"
)

// DefaultPhaseDeadline 是未指定截止时长的提交阶段的默认期限。
const DefaultPhaseDeadline = 60 * time.Second

// 内置玩法。名字即存储里 Room.Game 的取值。
var rulesets = map[string]Ruleset{
	"battleship": {
		Name:        "battleship",
		MinPlayers:  2,
		MaxPlayers:  2,
		TurnBased:   true,
		FleetDriven: true,
	},
	"cardjudge": {
		Name:        "cardjudge",
		MinPlayers:  3,
		MaxPlayers:  8,
		HasJudge:    true,
		TargetScore: 7,
	},
	"herd": {
		Name:       "herd",
		MinPlayers: 2,
		MaxPlayers: 4,
		MaxRounds:  10,
	},
	"escape": {
		Name:          "escape",
		MinPlayers:    1,
		MaxPlayers:    6,
		AllowLateJoin: true,
		MaxRounds:     8,
	},
	"gridrace": {
		Name:        "gridrace",
		MinPlayers:  2,
		MaxPlayers:  4,
		TurnBased:   true,
		BoardDriven: true,
	},
	"territory": {
		Name:        "territory",
		MinPlayers:  2,
		MaxPlayers:  2,
		TurnBased:   true,
		BoardDriven: true,
	},
	"kitchen": {
		Name:          "kitchen",
		MinPlayers:    1,
		MaxPlayers:    4,
		AllowLateJoin: true,
		MaxRounds:     1,
		RoundDeadline: 180 * time.Second,
	},
}

// Lookup 按名字查找玩法，未注册的名字返回 ErrUnknownGame。
func Lookup(name string) (Ruleset, error) {
	rs, ok := rulesets[name]
	if !ok {
		return Ruleset{}, ErrUnknownGame
	}
	return rs, nil
}

// Games 返回全部已注册的玩法名，供 API 列表使用。
func Games() []string {
	names := make([]string, 0, len(rulesets))
	for name := range rulesets {
		names = append(names, name)
	}
	return names
}

// phaseDeadline 计算一个提交阶段的截止时间戳 (Unix 毫秒)。
func (rs Ruleset) phaseDeadline(now time.Time) int64 {
	d := rs.RoundDeadline
	if d <= 0 {
		d = DefaultPhaseDeadline
	}
	return now.Add(d).UnixMilli()
}

// manualForceReady 判断房主的手动强制结算是否开放：阶段时限过半即可用，
// 不必等到自动截止触发，给人留出解卡僵局的操作窗口。
func (rs Ruleset) manualForceReady(room *domain.Room, now time.Time) bool {
	if room.PhaseDeadline <= 0 {
		return false
	}
	d := rs.RoundDeadline
	if d <= 0 {
		d = DefaultPhaseDeadline
	}
	return now.UnixMilli() >= room.PhaseDeadline-d.Milliseconds()/2
}

// submitters 返回本回合需要提交的玩家数 (裁判不计入)。
func (rs Ruleset) submitters(room *domain.Room) int {
	n := 0
	for _, p := range room.Players {
		if !p.Connected {
			continue
		}
		if rs.HasJudge && p.Role == domain.RoleJudge {
			continue
		}
		n++
	}
	return n
}

// roundComplete 判断本回合的提交是否齐了 (计数触发)。
// 只统计在线玩家：掉线玩家不被等待，这是截止触发之外的另一道兜底。
func (rs Ruleset) roundComplete(room *domain.Room) bool {
	need := rs.submitters(room)
	if need == 0 {
		return false
	}
	got := 0
	for id := range room.Submissions {
		p, ok := room.Players[id]
		if !ok || !p.Connected {
			continue
		}
		if rs.HasJudge && p.Role == domain.RoleJudge {
			continue
		}
		got++
	}
	return got >= need
}

// terminal 判断当前房间状态是否满足终局条件，满足时返回 (原因, 胜者ID)。
// 胜者按得分最高、加入时间早者优先的确定性顺序决出；协作玩法可能没有单一胜者。
func (rs Ruleset) terminal(room *domain.Room) (string, string, bool) {
	if rs.TargetScore > 0 {
		for _, p := range room.PlayersByJoinOrder() {
			if p.Score >= rs.TargetScore {
				return EndReasonScoreReached, p.ID, true
			}
		}
	}
	if rs.MaxRounds > 0 && room.Round > rs.MaxRounds {
		return EndReasonRoundsExhausted, rs.leader(room), true
	}
	if rs.BoardDriven && rs.boardFull(room) {
		return EndReasonBoardFull, rs.leader(room), true
	}
	if rs.FleetDriven {
		if loser, ok := fleetEliminated(room); ok {
			winner := ""
			for _, id := range room.TurnOrder {
				if id != loser {
					winner = id
					break
				}
			}
			return EndReasonFleetEliminated, winner, true
		}
	}
	return "", "", false
}

// leader 返回当前得分最高的玩家 ID (并列时加入早者胜)。
func (rs Ruleset) leader(room *domain.Room) string {
	best := ""
	bestScore := -1
	for _, p := range room.PlayersByJoinOrder() {
		if p.Score > bestScore {
			best, bestScore = p.ID, p.Score
		}
	}
	return best
}

// boardFull 判断棋盘是否已被写满。
// 棋盘尺寸由玩法约定：board/size 字段记录总格数，缺失时保守返回 false。
func (rs Ruleset) boardFull(room *domain.Room) bool {
	sizeRaw, ok := room.Board["size"]
	if !ok {
		return false
	}
	size := int(parseIntDefault(sizeRaw, 0))
	if size <= 0 {
		return false
	}
	claimed := 0
	for cell := range room.Board {
		if cell != "size" {
			claimed++
		}
	}
	return claimed >= size
}

// fleetEliminated 检查舰队类玩法中是否有一方棋子清零。
// 棋盘字段 fleet/<playerID> 记录该方剩余棋子数。
func fleetEliminated(room *domain.Room) (string, bool) {
	for _, id := range room.TurnOrder {
		if raw, ok := room.Board["fleet/"+id]; ok && parseIntDefault(raw, 1) <= 0 {
			return id, true
		}
	}
	return "", false
}

func parseIntDefault(s string, def int64) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return v
}
