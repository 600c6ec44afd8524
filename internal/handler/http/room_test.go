package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spike1990AI/party-games/internal/game"
	"github.com/Spike1990AI/party-games/internal/store/memstore"
)

// newTestRouter 用内存存储搭一套最小路由，不接 MySQL 登记库。
func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := game.NewService(memstore.New(), nil)
	handler := NewRoomHandler(svc, nil)

	router := gin.New()
	api := router.Group("/api")
	api.GET("/games", handler.ListGames)
	rooms := api.Group("/rooms")
	rooms.POST("", handler.CreateRoom)
	rooms.POST("/join", handler.JoinRoom)
	rooms.POST("/:code/start", handler.StartGame)
	rooms.POST("/:code/submit", handler.SubmitAction)
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req, err := http.NewRequest("POST", path, bytes.NewBuffer(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestCreateRoomEndpoint(t *testing.T) {
	router := newTestRouter()

	w := postJSON(t, router, "/api/rooms", gin.H{"game": "herd", "playerId": "p1", "name": "Ana"})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"code"`)

	// 缺字段
	w = postJSON(t, router, "/api/rooms", gin.H{"game": "herd"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// 未注册的玩法
	w = postJSON(t, router, "/api/rooms", gin.H{"game": "chess9000", "playerId": "p1", "name": "Ana"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestJoinAndStartEndpoints(t *testing.T) {
	router := newTestRouter()

	w := postJSON(t, router, "/api/rooms", gin.H{"game": "herd", "playerId": "p1", "name": "Ana"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Room struct {
			Code string `json:"code"`
		} `json:"room"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	code := created.Room.Code
	require.NotEmpty(t, code)

	w = postJSON(t, router, "/api/rooms/join", gin.H{"code": "ZZZZ", "playerId": "p2", "name": "Ben"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = postJSON(t, router, "/api/rooms/join", gin.H{"code": code, "playerId": "p2", "name": "Ben"})
	assert.Equal(t, http.StatusOK, w.Code)

	// 非房主开局被拒
	w = postJSON(t, router, "/api/rooms/"+code+"/start", gin.H{"playerId": "p2"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = postJSON(t, router, "/api/rooms/"+code+"/start", gin.H{"playerId": "p1"})
	assert.Equal(t, http.StatusOK, w.Code)

	// 重复提交走静默档：202 Accepted
	w = postJSON(t, router, "/api/rooms/"+code+"/submit", gin.H{"playerId": "p1", "payload": `"a"`})
	assert.Equal(t, http.StatusOK, w.Code)
	w = postJSON(t, router, "/api/rooms/"+code+"/submit", gin.H{"playerId": "p1", "payload": `"b"`})
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestListGamesEndpoint(t *testing.T) {
	router := newTestRouter()

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/games", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "battleship")
	assert.Contains(t, w.Body.String(), "cardjudge")
}
