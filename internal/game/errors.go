package game

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Spike1990AI/party-games/internal/store"
)

// 协议层错误分类。处理方式分三档：
//   - 拒绝并告知调用方 (房间不存在/已满/已开局等)；
//   - 静默丢弃 (迟到的回合动作、重复提交)，不打断游戏流程；
//   - 有界重试 (存储暂时不可用)。
var (
	ErrRoomNotFound      = errors.New("game: room not found")
	ErrRoomFull          = errors.New("game: room is full")
	ErrAlreadyStarted    = errors.New("game: game already started")
	ErrNotYourTurn       = errors.New("game: not your turn")
	ErrAlreadySubmitted  = errors.New("game: already submitted this round")
	ErrInvalidTransition = errors.New("game: invalid phase transition")
	ErrNotHost           = errors.New("game: host privilege required")
	ErrNotEnoughPlayers  = errors.New("game: not enough players")
	ErrUnknownGame       = errors.New("game: unknown game type")
	ErrNotInRoom         = errors.New("game: player not in room")
	ErrStoreUnavailable  = store.ErrUnavailable
)

// IsSilent 判断一个错误是否属于静默丢弃档：调用方记一条日志即可，不向玩家报错。
func IsSilent(err error) bool {
	return errors.Is(err, ErrNotYourTurn) || errors.Is(err, ErrAlreadySubmitted)
}

// 有界重试参数。退避从 baseBackoff 开始指数增长，总尝试 maxAttempts 次。
const (
	maxAttempts = 4
	baseBackoff = 100 * time.Millisecond
)

// withRetry 对存储不可用错误做有界指数退避重试，其余错误立即返回。
// 重试耗尽后把最后一次的错误交给调用方，由上层决定是否进入降级提示。
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	backoff := baseBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, store.ErrUnavailable) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		logrus.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"backoff": backoff.String(),
		}).WithError(err).Warn("Store unavailable, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	logrus.WithField("op", op).WithError(err).Error("Store unavailable, retries exhausted")
	return err
}
