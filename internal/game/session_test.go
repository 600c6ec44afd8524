package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spike1990AI/party-games/internal/domain"
)

// waitSnapshot 从快照流里取出下一份满足条件的快照。
func waitSnapshot(t *testing.T, sess *Session, match func(domain.RoomSnapshot) bool) domain.RoomSnapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-sess.Snapshots():
			if !ok {
				t.Fatal("快照流提前关闭")
			}
			if match(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("等待快照超时")
		}
	}
}

func TestSessionDeliversSnapshots(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "herd", "p1", "Ana")
	require.NoError(t, err)

	sess, err := svc.OpenSession(ctx, room.Code, "p1")
	require.NoError(t, err)
	defer sess.Teardown(ctx)

	first := waitSnapshot(t, sess, func(s domain.RoomSnapshot) bool { return s.Present })
	assert.Equal(t, domain.PhaseLobby, first.Room.Phase, "打开会话立即收到当前快照")

	_, err = svc.JoinRoom(ctx, room.Code, "p2", "Ben")
	require.NoError(t, err)

	joined := waitSnapshot(t, sess, func(s domain.RoomSnapshot) bool {
		return s.Present && len(s.Room.Players) == 2
	})
	assert.True(t, joined.Room.Players["p2"].Connected)
}

func TestSessionRequiresMembership(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "herd", "p1", "Ana")
	require.NoError(t, err)

	_, err = svc.OpenSession(ctx, room.Code, "stranger")
	assert.ErrorIs(t, err, ErrNotInRoom)
	_, err = svc.OpenSession(ctx, "ZZZZ", "p1")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestTeardownMarksDisconnected(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "herd", "p1", "Ana")
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, room.Code, "p2", "Ben")
	require.NoError(t, err)

	sess, err := svc.OpenSession(ctx, room.Code, "p2")
	require.NoError(t, err)

	sess.Teardown(ctx)
	sess.Teardown(ctx) // 幂等

	got, err := svc.loadRoom(ctx, room.Code)
	require.NoError(t, err)
	assert.False(t, got.Players["p2"].Connected)
	assert.Positive(t, got.Players["p2"].DisconnectedAt)

	// 正常拆除后补偿更新已撤销，不会有失联会话残留
	assert.Empty(t, st.StaleSessions(time.Now().Add(time.Minute)))
}

func TestSessionObservesRoomDeletion(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	room, err := svc.CreateRoom(ctx, "herd", "p1", "Ana")
	require.NoError(t, err)
	sess, err := svc.OpenSession(ctx, room.Code, "p1")
	require.NoError(t, err)
	defer sess.Teardown(ctx)

	require.NoError(t, st.DeleteSubtree(ctx, RoomRoot(room.Code)))

	gone := waitSnapshot(t, sess, func(s domain.RoomSnapshot) bool { return !s.Present })
	assert.False(t, gone.Present, "房间删除应推送 Present=false 的快照")
}
