// Package gormpersistence 是 repository 接口的 GORM/MySQL 实现。
package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/Spike1990AI/party-games/internal/domain"
	"github.com/Spike1990AI/party-games/internal/repository"
)

// GormRoomArchive 是 RoomArchive 接口的 GORM 实现。
type GormRoomArchive struct {
	db *gorm.DB
}

// NewGormRoomArchive 创建 GormRoomArchive 实例。
func NewGormRoomArchive(db *gorm.DB) *GormRoomArchive {
	if db == nil {
		panic("database connection cannot be nil for GormRoomArchive")
	}
	return &GormRoomArchive{db: db}
}

// CreateRecord 登记新房间。
func (r *GormRoomArchive) CreateRecord(ctx context.Context, record *domain.RoomRecord) error {
	err := r.db.WithContext(ctx).Create(record).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create room record (code: %s): %w", record.Code, err)
	}
	return nil
}

// FinalizeRecord 补全终局成绩：更新登记行并批量写入玩家成绩。
// 同一房间码取最近一条未完结的记录 (过期回收的房间码可以复用)。
func (r *GormRoomArchive) FinalizeRecord(ctx context.Context, code string, finishedAt time.Time, rounds int, winnerName, endReason string, results []domain.PlayerResult) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record domain.RoomRecord
		err := tx.Where("code = ? AND finished_at IS NULL", code).
			Order("created_at DESC").
			First(&record).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repository.ErrNotFound
			}
			return fmt.Errorf("gorm: find open record for code '%s': %w", code, err)
		}

		record.FinishedAt = &finishedAt
		record.Rounds = rounds
		record.WinnerName = winnerName
		record.EndReason = endReason
		if err := tx.Save(&record).Error; err != nil {
			return fmt.Errorf("gorm: finalize record %d: %w", record.ID, err)
		}

		for i := range results {
			results[i].RoomRecordID = record.ID
		}
		if len(results) > 0 {
			if err := tx.Create(&results).Error; err != nil {
				return fmt.Errorf("gorm: save player results for record %d: %w", record.ID, err)
			}
		}
		return nil
	})
}

// FindRecordByCode 查询某房间码最近一次的登记。
func (r *GormRoomArchive) FindRecordByCode(ctx context.Context, code string) (*domain.RoomRecord, error) {
	var record domain.RoomRecord
	err := r.db.WithContext(ctx).Where("code = ?", code).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("gorm: find record by code '%s': %w", code, err)
	}
	return &record, nil
}

// ListRecent 按创建时间倒序列出最近的登记。
func (r *GormRoomArchive) ListRecent(ctx context.Context, limit int) ([]domain.RoomRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []domain.RoomRecord
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list recent records: %w", err)
	}
	return records, nil
}

// ResultsForRecord 列出一条登记对应的玩家成绩。
func (r *GormRoomArchive) ResultsForRecord(ctx context.Context, recordID uint) ([]domain.PlayerResult, error) {
	var results []domain.PlayerResult
	err := r.db.WithContext(ctx).Where("room_record_id = ?", recordID).
		Order("score DESC").
		Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list results for record %d: %w", recordID, err)
	}
	return results, nil
}
