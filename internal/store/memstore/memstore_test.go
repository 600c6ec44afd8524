package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spike1990AI/party-games/internal/store"
)

func TestReadOnceNotFound(t *testing.T) {
	s := New()
	_, err := s.ReadOnce(context.Background(), "rooms/NOPE")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMergePreservesOtherFields(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.WriteSubtree(ctx, "rooms/AAAA", store.Fields{"phase": "lobby", "hostId": "p1"}))
	require.NoError(t, s.MergeFields(ctx, "rooms/AAAA", store.Fields{"phase": "playing"}))

	fields, err := s.ReadOnce(ctx, "rooms/AAAA")
	require.NoError(t, err)
	assert.Equal(t, "playing", fields["phase"])
	assert.Equal(t, "p1", fields["hostId"], "未提及的字段应保持不变")
}

func TestIncrFieldIsAtomicCounter(t *testing.T) {
	s := New()
	ctx := context.Background()

	v, err := s.IncrField(ctx, "rooms/AAAA", "players/p1/score", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = s.IncrField(ctx, "rooms/AAAA", "players/p1/score", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestSubscribeDeliversChangesAndDeletion(t *testing.T) {
	s := New()
	ctx := context.Background()

	ch, cancel, err := s.Subscribe(ctx, "rooms/AAAA")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, s.WriteSubtree(ctx, "rooms/AAAA", store.Fields{"phase": "lobby"}))
	select {
	case fields := <-ch:
		assert.Equal(t, "lobby", fields["phase"])
	case <-time.After(time.Second):
		t.Fatal("变更通知未送达")
	}

	require.NoError(t, s.DeleteSubtree(ctx, "rooms/AAAA"))
	select {
	case fields := <-ch:
		assert.Nil(t, fields, "删除应投递 nil")
	case <-time.After(time.Second):
		t.Fatal("删除通知未送达")
	}
}

func TestDeletePrefixClearsSubtreeOnly(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.WriteSubtree(ctx, "rooms/AAAA", store.Fields{
		"phase":          "playing",
		"submissions/p1": "x",
		"submissions/p2": "y",
	}))
	require.NoError(t, s.DeletePrefix(ctx, "rooms/AAAA", "submissions/"))

	fields, err := s.ReadOnce(ctx, "rooms/AAAA")
	require.NoError(t, err)
	assert.Equal(t, store.Fields{"phase": "playing"}, fields)
}

func TestDisconnectPatchLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.WriteSubtree(ctx, "rooms/AAAA", store.Fields{"players/p1/connected": "1"}))
	require.NoError(t, s.RegisterDisconnectPatch(ctx, "AAAA:p1", "rooms/AAAA", store.Fields{"players/p1/connected": "0"}))

	// 正常离开：补偿被撤销，不生效
	require.NoError(t, s.ClearDisconnectPatches(ctx, "AAAA:p1"))
	require.NoError(t, s.RunDisconnectPatches(ctx, "AAAA:p1"))
	fields, _ := s.ReadOnce(ctx, "rooms/AAAA")
	assert.Equal(t, "1", fields["players/p1/connected"])

	// 失联：补偿被执行
	require.NoError(t, s.RegisterDisconnectPatch(ctx, "AAAA:p1", "rooms/AAAA", store.Fields{"players/p1/connected": "0"}))
	require.NoError(t, s.RunDisconnectPatches(ctx, "AAAA:p1"))
	fields, _ = s.ReadOnce(ctx, "rooms/AAAA")
	assert.Equal(t, "0", fields["players/p1/connected"])
}

func TestStaleSessions(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.RegisterDisconnectPatch(ctx, "AAAA:p1", "rooms/AAAA", store.Fields{"x": "1"}))
	require.NoError(t, s.RegisterDisconnectPatch(ctx, "AAAA:p2", "rooms/AAAA", store.Fields{"x": "1"}))
	require.NoError(t, s.TouchPresence(ctx, "AAAA:p2"))

	stale := s.StaleSessions(time.Now().Add(-time.Minute))
	assert.Equal(t, []string{"AAAA:p1"}, stale, "只有没有存活标记的会话算失联")
}

func TestListRoots(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.WriteSubtree(ctx, "rooms/AAAA", store.Fields{"x": "1"}))
	require.NoError(t, s.WriteSubtree(ctx, "rooms/BBBB", store.Fields{"x": "1"}))
	require.NoError(t, s.WriteSubtree(ctx, "other/CCCC", store.Fields{"x": "1"}))

	roots, err := s.ListRoots(ctx, "rooms/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rooms/AAAA", "rooms/BBBB"}, roots)
}
