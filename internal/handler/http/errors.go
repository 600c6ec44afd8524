package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Spike1990AI/party-games/internal/game"
)

// HandleServiceError 把协议层错误映射为 HTTP 状态码。
// 静默丢弃档 (迟到/重复提交) 返回 202：请求被接收但没有产生效果，
// 客户端随下一份快照自然对齐。
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, game.ErrRoomNotFound):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrRoomFull),
		errors.Is(err, game.ErrAlreadyStarted),
		errors.Is(err, game.ErrNotEnoughPlayers),
		errors.Is(err, game.ErrInvalidTransition),
		errors.Is(err, game.ErrUnknownGame):
		ErrorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrNotHost), errors.Is(err, game.ErrNotInRoom):
		ErrorResponse(c, http.StatusForbidden, err.Error())
	case game.IsSilent(err):
		SuccessResponse(c, http.StatusAccepted, gin.H{"dropped": true})
	case errors.Is(err, game.ErrStoreUnavailable):
		ErrorResponse(c, http.StatusServiceUnavailable, "Store temporarily unavailable, please retry")
	default:
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
