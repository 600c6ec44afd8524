package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomFieldsRoundTrip(t *testing.T) {
	room := Room{
		Code:      "WXYZ",
		Game:      "cardjudge",
		CreatedAt: 1700000000000,
		Phase:     PhasePlaying,
		HostID:    "p1",
		Players: map[string]PlayerRecord{
			"p1": {ID: "p1", DisplayName: "Ana", Connected: true, JoinedAt: 100, Role: RoleJudge, Score: 3},
			"p2": {ID: "p2", DisplayName: "Ben", Connected: false, JoinedAt: 200, DisconnectedAt: 900, Role: RolePlayer},
		},
		TurnOrder:      []string{"p1", "p2"},
		CurrentActorID: "p2",
		Round:          4,
		PhaseDeadline:  1700000060000,
		Submissions:    map[string]string{"p2": `{"card":7}`},
		Board:          map[string]string{"3_4": "p1"},
	}

	decoded := DecodeRoom(room.EncodeFields())

	assert.Equal(t, room.Code, decoded.Code)
	assert.Equal(t, room.Phase, decoded.Phase)
	assert.Equal(t, room.HostID, decoded.HostID)
	assert.Equal(t, room.TurnOrder, decoded.TurnOrder)
	assert.Equal(t, room.Round, decoded.Round)
	assert.Equal(t, room.PhaseDeadline, decoded.PhaseDeadline)
	assert.Equal(t, room.Players["p1"], decoded.Players["p1"])
	assert.Equal(t, room.Players["p2"], decoded.Players["p2"])
	assert.Equal(t, room.Submissions, decoded.Submissions)
	assert.Equal(t, room.Board, decoded.Board)
}

func TestDecodeRoomToleratesPartialDocument(t *testing.T) {
	// 并发局部更新下读到半成品文档是正常现象，解码不能炸
	fields := map[string]string{
		FieldCode:                 "ABCD",
		FieldRound:                "not-a-number",
		PlayerField("p1", "name"): "Solo",
		"players/broken":          "ignored", // 缺属性段的玩家键
		SubmissionField(""):       "ignored", // 空玩家 ID
	}

	room := DecodeRoom(fields)

	assert.Equal(t, "ABCD", room.Code)
	assert.Equal(t, 0, room.Round)
	require.Contains(t, room.Players, "p1")
	assert.Equal(t, "Solo", room.Players["p1"].DisplayName)
	assert.NotContains(t, room.Players, "broken")
	assert.Empty(t, room.Submissions)
}

func TestPlayersByJoinOrderDeterministic(t *testing.T) {
	room := Room{Players: map[string]PlayerRecord{
		"b": {ID: "b", JoinedAt: 100},
		"a": {ID: "a", JoinedAt: 100}, // 同时加入，ID 决胜
		"c": {ID: "c", JoinedAt: 50},
	}}

	ordered := room.PlayersByJoinOrder()
	require.Len(t, ordered, 3)
	assert.Equal(t, "c", ordered[0].ID)
	assert.Equal(t, "a", ordered[1].ID)
	assert.Equal(t, "b", ordered[2].ID)
}

func TestNextActorWrapsAndRecovers(t *testing.T) {
	room := Room{TurnOrder: []string{"p1", "p2", "p3"}}

	assert.Equal(t, "p2", room.NextActor("p1"))
	assert.Equal(t, "p1", room.NextActor("p3"), "行动权应回绕到序列头")
	assert.Equal(t, "p1", room.NextActor("ghost"), "未知行动者应回退到序列头")
	assert.Equal(t, "", (&Room{}).NextActor("p1"))
}

func TestRoomExpiry(t *testing.T) {
	now := time.Now()
	fresh := Room{CreatedAt: now.Add(-10 * time.Minute).UnixMilli()}
	stale := Room{CreatedAt: now.Add(-31 * time.Minute).UnixMilli()}

	assert.False(t, fresh.IsExpired(now))
	assert.True(t, stale.IsExpired(now))
	assert.False(t, (&Room{}).IsExpired(now), "CreatedAt 为零值的半成品文档不应视为过期")
}
