package game

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spike1990AI/party-games/internal/domain"
)

func TestForceResolveExpiredDeadline(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()
	code := setupStarted(t, svc, "herd", "p1", "p2")

	// 只有 p1 提交，p2 挂机
	require.NoError(t, svc.SubmitAction(ctx, code, "p1", Action{Payload: `"a"`}))

	acted, err := svc.ForceResolveExpired(ctx, code)
	require.NoError(t, err)
	assert.False(t, acted, "截止未到不得强制结算")

	*now = now.Add(DefaultPhaseDeadline + time.Second)
	acted, err = svc.ForceResolveExpired(ctx, code)
	require.NoError(t, err)
	assert.True(t, acted)

	got, err := svc.loadRoom(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseResolution, got.Phase, "截止触发后回合强制进入结算")

	// 再触发一次是空操作
	acted, err = svc.ForceResolveExpired(ctx, code)
	require.NoError(t, err)
	assert.False(t, acted)
}

func TestForceResolveMissingRoomIsNoop(t *testing.T) {
	svc, _, _ := newTestService(t)
	acted, err := svc.ForceResolveExpired(context.Background(), "GONE")
	assert.NoError(t, err, "晚到的定时器撞上已回收的房间不应报错")
	assert.False(t, acted)
}

func TestManualForceOpensAfterHalfWindow(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()
	code := setupStarted(t, svc, "herd", "p1", "p2")

	// 时限未过半：手动强推尚未开放
	assert.ErrorIs(t, svc.AdvancePhase(ctx, code, "p1"), ErrInvalidTransition)

	// 过半后房主即可强推解卡，不必等自动截止触发
	*now = now.Add(DefaultPhaseDeadline/2 + time.Second)
	require.NoError(t, svc.AdvancePhase(ctx, code, "p1"))

	got, err := svc.loadRoom(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseResolution, got.Phase)
}

func TestKitchenGlobalDeadlineFinishesGame(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()
	code := setupStarted(t, svc, "kitchen", "p1", "p2")

	require.NoError(t, svc.AwardPoint(ctx, code, "p1", "p2", 3))

	*now = now.Add(181 * time.Second)
	acted, err := svc.ForceResolveExpired(ctx, code)
	require.NoError(t, err)
	assert.True(t, acted)

	got, err := svc.loadRoom(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFinished, got.Phase, "全局倒计时玩法超时即终局")
	assert.Equal(t, EndReasonDeadline, got.EndReason)
	assert.Equal(t, "p2", got.WinnerID)
}

func TestSweepDeadlines(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()
	expired := setupStarted(t, svc, "herd", "p1", "p2")
	_ = setupStarted(t, svc, "territory", "q1", "q2") // 回合制，没有集体截止

	*now = now.Add(DefaultPhaseDeadline + time.Second)
	resolved, err := svc.SweepDeadlines(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	got, err := svc.loadRoom(ctx, expired)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseResolution, got.Phase)
}

func TestConnectionLostPassesTurn(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	code := setupStarted(t, svc, "territory", "p1", "p2")

	// 轮到 p1 时 p1 掉线：行动权移交，全桌不卡死
	require.NoError(t, svc.OnConnectionLost(ctx, code, "p1"))

	got, err := svc.loadRoom(ctx, code)
	require.NoError(t, err)
	assert.False(t, got.Players["p1"].Connected)
	assert.Equal(t, "p2", got.CurrentActorID)
	assert.Equal(t, "p2", got.HostID, "房主同时迁移")
}

func TestEveryoneDisconnectsRoomStaysConsistent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	code := setupStarted(t, svc, "herd", "p1", "p2", "p3")

	require.NoError(t, svc.OnConnectionLost(ctx, code, "p1"))
	require.NoError(t, svc.OnConnectionLost(ctx, code, "p2"))
	require.NoError(t, svc.OnConnectionLost(ctx, code, "p3"))

	// 无人在线：文档保持一致，等保留期回收；任何人重连都能继续
	got, err := svc.loadRoom(ctx, code)
	require.NoError(t, err)
	assert.Zero(t, got.ConnectedCount())
	assert.Equal(t, domain.PhasePlaying, got.Phase)

	_, err = svc.JoinRoom(ctx, code, "p2", "Ben")
	require.NoError(t, err)
	got, err = svc.loadRoom(ctx, code)
	require.NoError(t, err)
	assert.True(t, got.Players["p2"].Connected)
}
