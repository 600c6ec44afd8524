package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spike1990AI/party-games/internal/domain"
	"github.com/Spike1990AI/party-games/internal/store/memstore"
)

// newTestService 构造一个用内存存储、无登记库的协议服务，时钟可控。
func newTestService(t *testing.T) (*Service, *memstore.Store, *time.Time) {
	t.Helper()
	st := memstore.New()
	svc := NewService(st, nil)
	now := time.Now()
	svc.now = func() time.Time { return now }
	return svc, st, &now
}

func TestCreateRoomReadBack(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "herd", "p1", "Ana")
	require.NoError(t, err)
	require.Len(t, room.Code, 4)
	for _, c := range room.Code {
		assert.Contains(t, codeAlphabet, string(c), "房间码只能使用无歧义字母表")
	}

	// 读回的文档应与创建者写入的一致：lobby 阶段，创建者即房主且在线
	got, err := svc.loadRoom(ctx, room.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseLobby, got.Phase)
	assert.Equal(t, "p1", got.HostID)
	require.Contains(t, got.Players, "p1")
	assert.True(t, got.Players["p1"].Connected)
	assert.Equal(t, "Ana", got.Players["p1"].DisplayName)
}

func TestCreateRoomUnknownGame(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.CreateRoom(context.Background(), "chess9000", "p1", "Ana")
	assert.ErrorIs(t, err, ErrUnknownGame)
}

func TestJoinRoomLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "herd", "p1", "Ana")
	require.NoError(t, err)

	_, err = svc.JoinRoom(ctx, room.Code, "p2", "Ben")
	require.NoError(t, err)

	_, err = svc.JoinRoom(ctx, "ZZZZ", "p3", "Cleo")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	// herd 上限 4 人
	_, err = svc.JoinRoom(ctx, room.Code, "p3", "Cleo")
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, room.Code, "p4", "Dee")
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, room.Code, "p5", "Eve")
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestJoinRoomReconnectKeepsIdentity(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "herd", "p1", "Ana")
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, room.Code, "p2", "Ben")
	require.NoError(t, err)

	require.NoError(t, svc.OnConnectionLost(ctx, room.Code, "p2"))
	got, err := svc.loadRoom(ctx, room.Code)
	require.NoError(t, err)
	assert.False(t, got.Players["p2"].Connected)

	// 重连不重建记录，JoinedAt 不变
	joinedAt := got.Players["p2"].JoinedAt
	_, err = svc.JoinRoom(ctx, room.Code, "p2", "Ben")
	require.NoError(t, err)
	got, err = svc.loadRoom(ctx, room.Code)
	require.NoError(t, err)
	assert.True(t, got.Players["p2"].Connected)
	assert.Equal(t, joinedAt, got.Players["p2"].JoinedAt)
	assert.Zero(t, got.Players["p2"].DisconnectedAt)
	assert.Len(t, got.Players, 2)
}

func TestJoinAfterStartOnlyForLateJoinGames(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// herd 不允许开局后加入
	room, err := svc.CreateRoom(ctx, "herd", "p1", "Ana")
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, room.Code, "p2", "Ben")
	require.NoError(t, err)
	require.NoError(t, svc.StartGame(ctx, room.Code, "p1"))
	_, err = svc.JoinRoom(ctx, room.Code, "p3", "Cleo")
	assert.ErrorIs(t, err, ErrAlreadyStarted)

	// escape 是协作玩法，允许中途加入
	coop, err := svc.CreateRoom(ctx, "escape", "p1", "Ana")
	require.NoError(t, err)
	require.NoError(t, svc.StartGame(ctx, coop.Code, "p1"))
	_, err = svc.JoinRoom(ctx, coop.Code, "p2", "Ben")
	assert.NoError(t, err)
}

func TestLeaveRoomMigratesHost(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "herd", "p1", "Ana")
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, room.Code, "p2", "Ben")
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, room.Code, "p3", "Cleo")
	require.NoError(t, err)
	require.NoError(t, svc.StartGame(ctx, room.Code, "p1"))

	require.NoError(t, svc.LeaveRoom(ctx, room.Code, "p1"))

	got, err := svc.loadRoom(ctx, room.Code)
	require.NoError(t, err)
	assert.Equal(t, "p2", got.HostID, "房主应迁移给加入最早的在线玩家")
	assert.False(t, got.Players["p1"].Connected)
	assert.Contains(t, got.Players, "p1", "开局后离开不删除玩家记录")
}

func TestLobbyLeaveFreesSeat(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// battleship 上限 2 人：大厅离开释放席位，第三人可以顶上
	room, err := svc.CreateRoom(ctx, "battleship", "p1", "Ana")
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, room.Code, "p2", "Ben")
	require.NoError(t, err)
	require.NoError(t, svc.LeaveRoom(ctx, room.Code, "p2"))

	got, err := svc.loadRoom(ctx, room.Code)
	require.NoError(t, err)
	assert.NotContains(t, got.Players, "p2", "大厅离开应整体移除玩家记录")

	_, err = svc.JoinRoom(ctx, room.Code, "p3", "Cleo")
	assert.NoError(t, err, "空出的席位应立刻可被复用")
}

func TestLobbyHostLeaveMigratesHost(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "herd", "p1", "Ana")
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, room.Code, "p2", "Ben")
	require.NoError(t, err)

	require.NoError(t, svc.LeaveRoom(ctx, room.Code, "p1"))

	got, err := svc.loadRoom(ctx, room.Code)
	require.NoError(t, err)
	assert.NotContains(t, got.Players, "p1")
	assert.Equal(t, "p2", got.HostID, "大厅房主离开后重算 hostId")
}

func TestLastPlayerLeavesLobbyRemovesRoom(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "herd", "p1", "Ana")
	require.NoError(t, err)
	require.NoError(t, svc.LeaveRoom(ctx, room.Code, "p1"))

	// 空大厅不等保留期，直接回收
	_, err = svc.loadRoom(ctx, room.Code)
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestExpireStaleRooms(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()

	old, err := svc.CreateRoom(ctx, "herd", "p1", "Ana")
	require.NoError(t, err)

	*now = now.Add(20 * time.Minute)
	fresh, err := svc.CreateRoom(ctx, "herd", "p2", "Ben")
	require.NoError(t, err)

	*now = now.Add(15 * time.Minute) // old 35 分钟，fresh 15 分钟
	removed, err := svc.ExpireStaleRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = svc.loadRoom(ctx, old.Code)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = svc.loadRoom(ctx, fresh.Code)
	assert.NoError(t, err)
}
