package game_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Spike1990AI/party-games/internal/domain"
	"github.com/Spike1990AI/party-games/internal/game"
	"github.com/Spike1990AI/party-games/internal/repository/mocks"
	"github.com/Spike1990AI/party-games/internal/store/memstore"
)

func TestCreateRoomRegistersArchiveRecord(t *testing.T) {
	// Arrange
	mockArchive := new(mocks.RoomArchive)
	svc := game.NewService(memstore.New(), mockArchive)
	ctx := context.Background()

	mockArchive.On("CreateRecord", ctx, mock.MatchedBy(func(record *domain.RoomRecord) bool {
		assert.Equal(t, "battleship", record.Game)
		assert.Len(t, record.Code, 4)
		return true
	})).Return(nil).Once()

	// Act
	room, err := svc.CreateRoom(ctx, "battleship", "p1", "Ana")

	// Assert
	require.NoError(t, err)
	require.NotNil(t, room)
	mockArchive.AssertExpectations(t)
}

func TestArchiveFailureDoesNotBlockRoomCreation(t *testing.T) {
	// Arrange: 登记库坏了，房间创建不受影响
	mockArchive := new(mocks.RoomArchive)
	svc := game.NewService(memstore.New(), mockArchive)
	ctx := context.Background()

	mockArchive.On("CreateRecord", ctx, mock.AnythingOfType("*domain.RoomRecord")).
		Return(errors.New("mysql is down")).Once()

	// Act
	room, err := svc.CreateRoom(ctx, "herd", "p1", "Ana")

	// Assert
	require.NoError(t, err, "登记失败不应影响房间可用性")
	require.NotNil(t, room)
	mockArchive.AssertExpectations(t)
}

func TestForfeitFinalizesArchiveRecord(t *testing.T) {
	// Arrange
	mockArchive := new(mocks.RoomArchive)
	svc := game.NewService(memstore.New(), mockArchive)
	ctx := context.Background()

	mockArchive.On("CreateRecord", ctx, mock.AnythingOfType("*domain.RoomRecord")).Return(nil).Once()

	room, err := svc.CreateRoom(ctx, "battleship", "p1", "Ana")
	require.NoError(t, err)
	_, err = svc.JoinRoom(ctx, room.Code, "p2", "Ben")
	require.NoError(t, err)
	require.NoError(t, svc.StartGame(ctx, room.Code, "p1"))

	mockArchive.On("FinalizeRecord", ctx, room.Code, mock.AnythingOfType("time.Time"),
		mock.AnythingOfType("int"), "Ben", game.EndReasonForfeit,
		mock.MatchedBy(func(results []domain.PlayerResult) bool {
			require.Len(t, results, 2)
			for _, r := range results {
				if r.PlayerID == "p2" {
					assert.True(t, r.Won)
				} else {
					assert.False(t, r.Won)
				}
			}
			return true
		})).Return(nil).Once()

	// Act: p1 认输，p2 获胜，战绩落库
	require.NoError(t, svc.Forfeit(ctx, room.Code, "p1"))

	// Assert
	mockArchive.AssertExpectations(t)
}
