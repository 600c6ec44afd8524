// Package bootstrap 组装应用：配置、日志、基础设施、服务、路由与优雅关闭。
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/Spike1990AI/party-games/internal/game"
	httpHandler "github.com/Spike1990AI/party-games/internal/handler/http"
	wsHandler "github.com/Spike1990AI/party-games/internal/handler/websocket"
	"github.com/Spike1990AI/party-games/internal/hub"
	gormpersistence "github.com/Spike1990AI/party-games/internal/infra/persistence/gorm"
	"github.com/Spike1990AI/party-games/internal/infra/setup"
	"github.com/Spike1990AI/party-games/internal/middleware"
	"github.com/Spike1990AI/party-games/internal/repository"
	"github.com/Spike1990AI/party-games/internal/store/redisstore"
	"github.com/Spike1990AI/party-games/internal/tasks"
	"github.com/Spike1990AI/party-games/internal/worker"
)

// Config 存储从环境变量加载的应用配置。
// 数据库与 Redis 的连接参数由 setup 包直接从环境变量读取。
type Config struct {
	ServerPort      string
	LogLevel        string
	AppEnv          string // development/production
	KeyPrefix       string // Redis Key 前缀
	RateLimitMax    int
	RateLimitWindow time.Duration
	ArchiveEnabled  bool // MySQL 战绩登记是否启用
}

// LoadConfig 从环境变量加载配置。
func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // .env 不存在时直接用环境变量

	cfg := &Config{
		ServerPort:      os.Getenv("SERVER_PORT"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		AppEnv:          os.Getenv("APP_ENV"),
		KeyPrefix:       os.Getenv("REDIS_KEY_PREFIX"),
		RateLimitMax:    100,
		RateLimitWindow: 1 * time.Second,
	}

	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "pg:"
	}
	// MYSQL_USER 未配置时以无登记库模式运行：协议功能完整，只是查不到历史战绩
	cfg.ArchiveEnabled = os.Getenv("MYSQL_USER") != ""

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// App 包含应用的所有组件。
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Hub         *hub.Hub
	HttpServer  *http.Server

	redisClientOpt asynq.RedisClientOpt
	scheduler      *asynq.Scheduler
}

// NewApp 创建并初始化应用的所有组件。
func NewApp() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(logLevel)
	log.Info("Configuration loaded successfully")

	log.Info("Initializing infrastructure...")
	var db *gorm.DB
	var archive repository.RoomArchive
	if cfg.ArchiveEnabled {
		db, err = setup.InitDB()
		if err != nil {
			return nil, fmt.Errorf("failed to init DB: %w", err)
		}
		if err := setup.MigrateDB(db); err != nil {
			return nil, fmt.Errorf("failed to migrate DB: %w", err)
		}
		archive = gormpersistence.NewGormRoomArchive(db)
		log.Info("Database initialized and migrated")
	} else {
		log.Warn("MYSQL_USER not set, running without room archive")
	}

	redisClient, err := setup.InitRedis()
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	log.Info("Redis client initialized")

	redisOpts := setup.RedisOptions()
	redisClientOpt := asynq.RedisClientOpt{
		Addr:     redisOpts.Addr,
		Password: redisOpts.Password,
		DB:       redisOpts.DB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Asynq client initialized")

	log.Info("Initializing store and services...")
	roomStore := redisstore.New(redisClient, cfg.KeyPrefix)
	svc := game.NewService(roomStore, archive)
	log.Info("Services initialized")

	hubInstance := hub.NewHub(svc)
	log.Info("Hub initialized")

	roomHandler := httpHandler.NewRoomHandler(svc, archive)
	websocketHandler := wsHandler.NewWebSocketHandler(hubInstance, svc)
	log.Info("Handlers initialized")

	workerServer := worker.NewWorkerServer(redisClientOpt, svc, roomStore, log)
	log.Info("Worker server initialized")

	log.Info("Setting up Gin router...")
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(func(c *gin.Context) { /* CORS */
		allowedOrigin := os.Getenv("CORS_ALLOWED_ORIGIN")
		if allowedOrigin == "" {
			allowedOrigin = "http://localhost:3000"
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
	router.Use(middleware.RateLimit(redisClient, cfg.RateLimitMax, cfg.RateLimitWindow))

	api := router.Group("/api")
	{
		api.GET("/games", roomHandler.ListGames)
		api.GET("/history", roomHandler.RecentRooms)
	}
	roomRoutes := api.Group("/rooms")
	{
		roomRoutes.POST("", roomHandler.CreateRoom)
		roomRoutes.POST("/join", roomHandler.JoinRoom)
		roomRoutes.POST("/:code/leave", roomHandler.LeaveRoom)
		roomRoutes.POST("/:code/start", roomHandler.StartGame)
		roomRoutes.POST("/:code/submit", roomHandler.SubmitAction)
		roomRoutes.POST("/:code/advance", roomHandler.AdvancePhase)
		roomRoutes.POST("/:code/verdict", roomHandler.JudgeVerdict)
		roomRoutes.POST("/:code/award", roomHandler.AwardPoint)
		roomRoutes.POST("/:code/forfeit", roomHandler.Forfeit)
		roomRoutes.GET("/:code/history", roomHandler.RoomHistory)
	}
	wsRoutes := router.Group("/ws")
	{
		wsRoutes.GET("/room/:code", websocketHandler.HandleConnection)
	}
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	log.Info("Router setup complete")

	httpServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	app := &App{
		Config:         cfg,
		Log:            log,
		DB:             db,
		RedisClient:    redisClient,
		AsynqClient:    asynqClient,
		AsynqServer:    workerServer,
		Hub:            hubInstance,
		HttpServer:     httpServer,
		redisClientOpt: redisClientOpt,
	}
	log.Info("Application assembled successfully")
	return app, nil
}

// Start 启动所有后台 Goroutine 和 HTTP 服务器。
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")
	go a.Hub.Run()
	a.Log.Info("Hub routine started")

	go a.AsynqServer.Start()
	a.Log.Info("Asynq worker server routine started")

	a.registerPeriodicTasks()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// registerPeriodicTasks 注册周期性清理任务并启动调度器。
func (a *App) registerPeriodicTasks() {
	a.scheduler = asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{})

	taskPayload, err := tasks.NewRoomSweepTask()
	if err != nil {
		a.Log.Errorf("Failed to create room sweep task payload: %v", err)
		return
	}
	task := asynq.NewTask(tasks.TypeRoomSweep, taskPayload)

	// 保留期是 30 分钟，5 分钟一扫保证过期房间及时回收
	schedule := "@every 5m"
	entryID, err := a.scheduler.Register(schedule, task, asynq.Queue("default"))
	if err != nil {
		a.Log.Errorf("Could not register periodic room sweep task: %v", err)
	} else {
		a.Log.Infof("Periodic room sweep task registered with schedule '%s' (EntryID: %s)", schedule, entryID)
	}

	go func() {
		a.Log.Info("Asynq scheduler starting...")
		if err := a.scheduler.Run(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, asynq.ErrServerClosed) {
				a.Log.Errorf("Asynq scheduler Run() failed: %v", err)
			} else {
				a.Log.Info("Asynq scheduler stopped.")
			}
		}
	}()
}

// Shutdown 优雅地关闭应用。
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	if a.scheduler != nil {
		a.scheduler.Shutdown()
	}

	if a.Hub != nil {
		a.Hub.Stop()
	}

	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	a.Log.Info("Shutting down HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		} else {
			a.Log.Info("Asynq client closed.")
		}
	}

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// LoggerMiddleware 创建一个记录请求日志的 Gin 中间件。
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   clientIP,
			"method":      method,
			"path":        path,
		})

		if errorMessage != "" {
			entry.Error(errorMessage)
		} else {
			if statusCode >= 500 {
				entry.Error("Server error")
			} else if statusCode >= 400 {
				entry.Warn("Client error")
			} else {
				entry.Info("Request handled")
			}
		}
	}
}
