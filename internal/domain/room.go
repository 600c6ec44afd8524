package domain

import (
	"sort"
	"time"
)

// Phase 表示房间状态机的一个命名阶段。
// 阶段只会向前推进：lobby -> playing (-> judging) -> resolution -> playing | finished。
type Phase string

const (
	PhaseLobby      Phase = "lobby"      // 等待玩家加入
	PhasePlaying    Phase = "playing"    // 回合进行中，收集玩家提交
	PhaseJudging    Phase = "judging"    // 裁判阶段 (仅限带裁判角色的玩法)
	PhaseResolution Phase = "resolution" // 回合结算，等待房主推进
	PhaseFinished   Phase = "finished"   // 终局
)

// RoomRetention 定义房间的保留时长，超过后由清理任务删除 (无论处于哪个阶段)。
const RoomRetention = 30 * time.Minute

// 玩家角色。大多数玩法只有普通玩家；带裁判的玩法每回合指定一名 judge。
const (
	RolePlayer = "player"
	RoleJudge  = "judge"
)

// PlayerRecord 表示房间内的一名玩家。
// 断线只翻转 Connected 标志，不删除记录，以保证 TurnOrder 与计分不被重排。
type PlayerRecord struct {
	ID             string `json:"id"`
	DisplayName    string `json:"displayName"`
	Connected      bool   `json:"connected"`
	JoinedAt       int64  `json:"joinedAt"`       // Unix 毫秒，房主迁移的决胜依据
	DisconnectedAt int64  `json:"disconnectedAt"` // Unix 毫秒，0 表示从未断线
	Role           string `json:"role"`
	Score          int    `json:"score"`
}

// Room 表示一个游戏房间的共享文档。
// 它是唯一的共享可变资源，完整存放在实时存储中，所有客户端通过局部更新修改它。
type Room struct {
	Code           string                  `json:"code"`
	Game           string                  `json:"game"`
	CreatedAt      int64                   `json:"createdAt"` // Unix 毫秒，过期清理依据
	Phase          Phase                   `json:"phase"`
	HostID         string                  `json:"hostId"`
	Players        map[string]PlayerRecord `json:"players"`
	TurnOrder      []string                `json:"turnOrder"`      // 开局后固定
	CurrentActorID string                  `json:"currentActorId"` // 仅回合制阶段有意义
	Round          int                     `json:"round"`
	PhaseDeadline  int64                   `json:"phaseDeadline"` // Unix 毫秒，0 表示无截止
	Submissions    map[string]string       `json:"submissions"`   // playerID -> 本回合提交 (JSON)
	Board          map[string]string       `json:"board"`         // cellKey -> 占用方 (棋盘类玩法)
	WinnerID       string                  `json:"winnerId"`
	EndReason      string                  `json:"endReason"`
}

// RoomSnapshot 是推送给 UI 层的只读快照。
type RoomSnapshot struct {
	Room    Room  `json:"room"`
	ReadAt  int64 `json:"readAt"`
	Present bool  `json:"present"` // false 表示房间已被删除
}

// ConnectedCount 返回当前在线玩家数。
func (r *Room) ConnectedCount() int {
	n := 0
	for _, p := range r.Players {
		if p.Connected {
			n++
		}
	}
	return n
}

// ConnectedPlayers 返回在线玩家列表，按 JoinedAt 升序 (ID 作为决胜键保证确定性)。
func (r *Room) ConnectedPlayers() []PlayerRecord {
	players := make([]PlayerRecord, 0, len(r.Players))
	for _, p := range r.Players {
		if p.Connected {
			players = append(players, p)
		}
	}
	sortByJoin(players)
	return players
}

// PlayersByJoinOrder 返回全部玩家，按加入顺序排序。开局时用它固定 TurnOrder。
func (r *Room) PlayersByJoinOrder() []PlayerRecord {
	players := make([]PlayerRecord, 0, len(r.Players))
	for _, p := range r.Players {
		players = append(players, p)
	}
	sortByJoin(players)
	return players
}

func sortByJoin(players []PlayerRecord) {
	sort.Slice(players, func(i, j int) bool {
		if players[i].JoinedAt != players[j].JoinedAt {
			return players[i].JoinedAt < players[j].JoinedAt
		}
		return players[i].ID < players[j].ID
	})
}

// NextActor 返回 TurnOrder 中当前行动者之后的下一个玩家 ID (循环)。
// 当前行动者不在序列中时回退到序列头，保证状态机不会卡死。
func (r *Room) NextActor(current string) string {
	if len(r.TurnOrder) == 0 {
		return ""
	}
	for i, id := range r.TurnOrder {
		if id == current {
			return r.TurnOrder[(i+1)%len(r.TurnOrder)]
		}
	}
	return r.TurnOrder[0]
}

// IsExpired 判断房间是否超过保留时长。
func (r *Room) IsExpired(now time.Time) bool {
	return r.CreatedAt > 0 && now.UnixMilli()-r.CreatedAt > RoomRetention.Milliseconds()
}

// DeadlinePassed 判断当前阶段的截止时间是否已过。
func (r *Room) DeadlinePassed(now time.Time) bool {
	return r.PhaseDeadline > 0 && now.UnixMilli() >= r.PhaseDeadline
}
