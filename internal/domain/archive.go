package domain

import "time"

// RoomRecord 是房间在 MySQL 中的登记行。
// 实时文档只活在存储里 30 分钟；登记行保留创建与终局信息，供战绩查询。
// 协议本身的正确性不依赖这张表。
type RoomRecord struct {
	ID         uint       `gorm:"primaryKey"`
	Code       string     `gorm:"index;size:8;not null"` // 过期后同码可复用，因此只加普通索引
	Game       string     `gorm:"size:32;not null"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index"`
	FinishedAt *time.Time `gorm:"index"`
	Rounds     int        `gorm:"not null;default:0"`
	WinnerName string     `gorm:"size:64"`
	EndReason  string     `gorm:"size:64"`
}

// PlayerResult 是终局时每名玩家的成绩行。
type PlayerResult struct {
	ID           uint   `gorm:"primaryKey"`
	RoomRecordID uint   `gorm:"index;not null"`
	PlayerID     string `gorm:"size:64;not null"`
	DisplayName  string `gorm:"size:64;not null"`
	Score        int    `gorm:"not null;default:0"`
	Won          bool   `gorm:"not null;default:false"`
}
