package game

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/Spike1990AI/party-games/internal/domain"
	"github.com/Spike1990AI/party-games/internal/store"
)

// 推进守卫：提交阶段由两类触发器收口。
// 计数触发在 SubmitAction 里就地生效；这里实现截止触发，
// 保证掉线或挂机的玩家不会让全桌永远等下去。
// 所有触发写的都是从文档确定性推导的绝对值，多个观察者同时触发会收敛为一次推进。

// ForceResolveExpired 检查单个房间的阶段截止，已过期则强制结算本回合。
// 返回是否执行了推进。会话的截止定时器到点时调用它。
func (s *Service) ForceResolveExpired(ctx context.Context, code string) (bool, error) {
	room, err := s.loadRoom(ctx, code)
	if err != nil {
		if errors.Is(err, ErrRoomNotFound) {
			return false, nil // 房间已被回收，定时器晚到
		}
		return false, err
	}
	if room.Phase != domain.PhasePlaying || !room.DeadlinePassed(s.now()) {
		return false, nil
	}
	rs, err := Lookup(room.Game)
	if err != nil {
		return false, err
	}
	if rs.TurnBased {
		// 回合制没有集体截止；整局超时由保留期清理兜底
		return false, nil
	}

	logrus.WithFields(logrus.Fields{
		"room_code": code,
		"round":     room.Round,
	}).Info("Phase deadline passed, force-resolving round")

	if rs.RoundDeadline > 0 && rs.MaxRounds == 1 {
		// 单回合限时玩法 (全局倒计时) 超时即终局
		return true, s.finishRoom(ctx, room, store.Fields{}, rs.leader(room), EndReasonDeadline)
	}
	return true, s.closeSubmissions(ctx, room, rs)
}

// SweepDeadlines 扫描全部房间并强制结算截止已过的提交阶段。
// 后台清理任务调用它，兜住所有客户端定时器都没活到截止时刻的情况。
func (s *Service) SweepDeadlines(ctx context.Context) (int, error) {
	roots, err := s.store.ListRoots(ctx, RoomRootPrefix)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, root := range roots {
		code := root[len(RoomRootPrefix):]
		acted, err := s.ForceResolveExpired(ctx, code)
		if err != nil {
			logrus.WithField("room_code", code).WithError(err).Warn("Deadline sweep: failed to resolve room")
			continue
		}
		if acted {
			resolved++
		}
	}
	return resolved, nil
}
