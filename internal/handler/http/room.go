// Package http 提供房间协议的 REST 意图接口。
// 所有接口都是薄封装：解析请求、调用协议服务、映射错误，不承载任何游戏逻辑。
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Spike1990AI/party-games/internal/game"
	"github.com/Spike1990AI/party-games/internal/repository"
)

// RoomHandler 处理房间相关的 HTTP 请求。
type RoomHandler struct {
	svc     *game.Service
	archive repository.RoomArchive
}

// NewRoomHandler 创建 RoomHandler 实例。archive 为 nil 时战绩接口返回 404。
func NewRoomHandler(svc *game.Service, archive repository.RoomArchive) *RoomHandler {
	if svc == nil {
		panic("game.Service cannot be nil for RoomHandler")
	}
	return &RoomHandler{svc: svc, archive: archive}
}

type createRoomRequest struct {
	Game     string `json:"game" binding:"required"`
	PlayerID string `json:"playerId" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

// CreateRoom 处理 POST /api/rooms。
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	room, err := h.svc.CreateRoom(c.Request.Context(), req.Game, req.PlayerID, req.Name)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, gin.H{"room": room})
}

type joinRoomRequest struct {
	Code     string `json:"code" binding:"required"`
	PlayerID string `json:"playerId" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

// JoinRoom 处理 POST /api/rooms/join。
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	var req joinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	room, err := h.svc.JoinRoom(c.Request.Context(), req.Code, req.PlayerID, req.Name)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"room": room})
}

type playerRequest struct {
	PlayerID string `json:"playerId" binding:"required"`
}

// LeaveRoom 处理 POST /api/rooms/:code/leave。
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.svc.LeaveRoom(c.Request.Context(), c.Param("code"), req.PlayerID); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"left": true})
}

// StartGame 处理 POST /api/rooms/:code/start。
func (h *RoomHandler) StartGame(c *gin.Context) {
	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.svc.StartGame(c.Request.Context(), c.Param("code"), req.PlayerID); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"started": true})
}

type submitRequest struct {
	PlayerID string            `json:"playerId" binding:"required"`
	Payload  string            `json:"payload"`
	Board    map[string]string `json:"board"`
}

// SubmitAction 处理 POST /api/rooms/:code/submit。
func (h *RoomHandler) SubmitAction(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	err := h.svc.SubmitAction(c.Request.Context(), c.Param("code"), req.PlayerID, game.Action{
		Payload: req.Payload,
		Board:   req.Board,
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"submitted": true})
}

// AdvancePhase 处理 POST /api/rooms/:code/advance。
func (h *RoomHandler) AdvancePhase(c *gin.Context) {
	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.svc.AdvancePhase(c.Request.Context(), c.Param("code"), req.PlayerID); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"advanced": true})
}

type verdictRequest struct {
	PlayerID string `json:"playerId" binding:"required"`
	WinnerID string `json:"winnerId" binding:"required"`
}

// JudgeVerdict 处理 POST /api/rooms/:code/verdict。
func (h *RoomHandler) JudgeVerdict(c *gin.Context) {
	var req verdictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.svc.JudgeVerdict(c.Request.Context(), c.Param("code"), req.PlayerID, req.WinnerID); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"judged": true})
}

type awardRequest struct {
	PlayerID string `json:"playerId" binding:"required"`
	TargetID string `json:"targetId" binding:"required"`
	Delta    int64  `json:"delta" binding:"required"`
}

// AwardPoint 处理 POST /api/rooms/:code/award。
func (h *RoomHandler) AwardPoint(c *gin.Context) {
	var req awardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.svc.AwardPoint(c.Request.Context(), c.Param("code"), req.PlayerID, req.TargetID, req.Delta); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"awarded": true})
}

// Forfeit 处理 POST /api/rooms/:code/forfeit。
func (h *RoomHandler) Forfeit(c *gin.Context) {
	var req playerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.svc.Forfeit(c.Request.Context(), c.Param("code"), req.PlayerID); err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"forfeited": true})
}

// ListGames 处理 GET /api/games。
func (h *RoomHandler) ListGames(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, gin.H{"games": game.Games()})
}

// RoomHistory 处理 GET /api/rooms/:code/history：查询房间的战绩登记。
func (h *RoomHandler) RoomHistory(c *gin.Context) {
	if h.archive == nil {
		ErrorResponse(c, http.StatusNotFound, "Archive not configured")
		return
	}
	record, err := h.archive.FindRecordByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		HandleArchiveError(c, err)
		return
	}
	results, err := h.archive.ResultsForRecord(c.Request.Context(), record.ID)
	if err != nil {
		HandleArchiveError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"record": record, "results": results})
}

// RecentRooms 处理 GET /api/history：最近的房间登记列表。
func (h *RoomHandler) RecentRooms(c *gin.Context) {
	if h.archive == nil {
		ErrorResponse(c, http.StatusNotFound, "Archive not configured")
		return
	}
	records, err := h.archive.ListRecent(c.Request.Context(), 20)
	if err != nil {
		HandleArchiveError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"records": records})
}

// HandleArchiveError 映射登记库错误。
func HandleArchiveError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, repository.ErrNotFound):
		ErrorResponse(c, http.StatusNotFound, "Record not found")
	default:
		logrus.WithError(err).Error("Archive query failed")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
