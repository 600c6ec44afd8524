// Package setup 负责基础设施连接的初始化：MySQL、Redis 和数据库迁移。
package setup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/Spike1990AI/party-games/internal/domain"
)

// InitDB 建立 MySQL 连接并配置连接池。
func InitDB() (*gorm.DB, error) {
	dsn, err := getDSN()
	if err != nil {
		return nil, fmt.Errorf("failed to get DSN: %w", err)
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	logrus.Info("MySQL connected")
	return db, nil
}

// getDSN 从环境变量构建数据库连接字符串。
func getDSN() (string, error) {
	mysqlUser := os.Getenv("MYSQL_USER")
	if mysqlUser == "" {
		return "", fmt.Errorf("MYSQL_USER environment variable not set")
	}
	mysqlPassword := os.Getenv("MYSQL_PASSWORD")
	if mysqlPassword == "" {
		return "", fmt.Errorf("MYSQL_PASSWORD environment variable not set")
	}
	mysqlHost := os.Getenv("MYSQL_HOST")
	if mysqlHost == "" {
		mysqlHost = "127.0.0.1"
	}
	mysqlPort := os.Getenv("MYSQL_PORT")
	if mysqlPort == "" {
		mysqlPort = "3306"
	}
	mysqlDB := os.Getenv("MYSQL_DB")
	if mysqlDB == "" {
		mysqlDB = "party_games_db"
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		mysqlUser, mysqlPassword, mysqlHost, mysqlPort, mysqlDB)
	return dsn, nil
}

// MigrateDB 迁移战绩登记相关的表结构。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}
	if err := db.AutoMigrate(&domain.RoomRecord{}, &domain.PlayerResult{}); err != nil {
		return fmt.Errorf("failed to auto-migrate archive tables: %w", err)
	}
	logrus.Info("Database migration completed successfully")
	return nil
}

// InitRedis 建立 Redis 连接。实时存储与后台任务队列共用这套配置。
func InitRedis() (*redis.Client, error) {
	client := redis.NewClient(RedisOptions())
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logrus.Info("Redis connected")
	return client, nil
}

// RedisOptions 从环境变量构建 Redis 连接配置 (asynq 需要独立构建同样的配置)。
func RedisOptions() *redis.Options {
	redisHost := os.Getenv("REDIS_HOST")
	if redisHost == "" {
		redisHost = "127.0.0.1"
	}
	redisPort := os.Getenv("REDIS_PORT")
	if redisPort == "" {
		redisPort = "6379"
	}
	return &redis.Options{
		Addr:         redisHost + ":" + redisPort,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DB:           0,
		PoolSize:     20,
		MinIdleConns: 5,
		MaxConnAge:   30 * time.Minute,
	}
}
