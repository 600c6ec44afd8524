package repository

import (
	"context"
	"time"

	"github.com/Spike1990AI/party-games/internal/domain"
)

// RoomArchive 是房间战绩的登记库。
// 实时文档只在存储里保留 30 分钟，登记库负责之后还能查到的那部分：
// 房间创建信息与终局成绩。
type RoomArchive interface {
	// CreateRecord 在房间创建时登记一行。
	CreateRecord(ctx context.Context, record *domain.RoomRecord) error

	// FinalizeRecord 在房间终局 (或过期回收) 时补全成绩。
	// 同一房间码取最近一条未完结的记录；找不到时返回 ErrNotFound。
	FinalizeRecord(ctx context.Context, code string, finishedAt time.Time, rounds int, winnerName, endReason string, results []domain.PlayerResult) error

	// FindRecordByCode 查询某房间码最近一次的登记。
	FindRecordByCode(ctx context.Context, code string) (*domain.RoomRecord, error)

	// ListRecent 按创建时间倒序列出最近的登记。
	ListRecent(ctx context.Context, limit int) ([]domain.RoomRecord, error)

	// ResultsForRecord 列出一条登记对应的玩家成绩。
	ResultsForRecord(ctx context.Context, recordID uint) ([]domain.PlayerResult, error)
}
