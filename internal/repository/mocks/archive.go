// Package mocks 提供 repository 接口的 testify Mock 实现，供服务层单元测试使用。
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Spike1990AI/party-games/internal/domain"
)

// RoomArchive 是 repository.RoomArchive 的 Mock 实现。
type RoomArchive struct {
	mock.Mock
}

func (m *RoomArchive) CreateRecord(ctx context.Context, record *domain.RoomRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *RoomArchive) FinalizeRecord(ctx context.Context, code string, finishedAt time.Time, rounds int, winnerName, endReason string, results []domain.PlayerResult) error {
	args := m.Called(ctx, code, finishedAt, rounds, winnerName, endReason, results)
	return args.Error(0)
}

func (m *RoomArchive) FindRecordByCode(ctx context.Context, code string) (*domain.RoomRecord, error) {
	args := m.Called(ctx, code)
	if record, ok := args.Get(0).(*domain.RoomRecord); ok {
		return record, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RoomArchive) ListRecent(ctx context.Context, limit int) ([]domain.RoomRecord, error) {
	args := m.Called(ctx, limit)
	if records, ok := args.Get(0).([]domain.RoomRecord); ok {
		return records, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RoomArchive) ResultsForRecord(ctx context.Context, recordID uint) ([]domain.PlayerResult, error) {
	args := m.Called(ctx, recordID)
	if results, ok := args.Get(0).([]domain.PlayerResult); ok {
		return results, args.Error(1)
	}
	return nil, args.Error(1)
}
