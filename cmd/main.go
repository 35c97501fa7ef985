package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fyerfyer/deal-ai/api"
	"github.com/fyerfyer/deal-ai/api/handler"
	"github.com/fyerfyer/deal-ai/api/middleware"
	appconfig "github.com/fyerfyer/deal-ai/config"
	"github.com/fyerfyer/deal-ai/internal/cache"
	"github.com/fyerfyer/deal-ai/internal/database"
	"github.com/fyerfyer/deal-ai/internal/document"
	"github.com/fyerfyer/deal-ai/internal/metrics"
	"github.com/fyerfyer/deal-ai/internal/repository"
	"github.com/fyerfyer/deal-ai/internal/services"
	"github.com/fyerfyer/deal-ai/internal/source"
	"github.com/fyerfyer/deal-ai/pkg/storage"
	"github.com/fyerfyer/deal-ai/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// 命令行选项，显式指定时覆盖配置文件
type options struct {
	ConfigFile string // 配置文件路径
	Port       int    // 服务端口
	Mode       string // 运行模式 (debug/release)
	LogLevel   string // 日志级别
	Queue      bool   // 是否启用任务队列
}

func main() {
	// .env 不存在时忽略
	_ = godotenv.Load()

	opts := parseFlags()

	cfg, err := appconfig.Load(opts.ConfigFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg, opts)

	gin.SetMode(cfg.Server.Mode)

	logger, err := setupLogger(cfg.Log)
	if err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("Starting Deal AI service...")

	db, err := database.Open(&database.Config{
		Type:          cfg.Database.Type,
		DSN:           cfg.Database.DSN,
		MaxOpenConns:  cfg.Database.MaxOpenConns,
		MaxIdleConns:  cfg.Database.MaxIdleConns,
		MaxLifetime:   time.Hour,
		SlowThreshold: cfg.Database.SlowThreshold,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.WithError(err).Warn("Failed to close database")
		}
	}()

	ctx := context.Background()

	fileStorage, err := setupStorage(ctx, cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	folderSource, err := setupSource(ctx, cfg, fileStorage, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize folder source: %v", err)
	}

	cacheService, err := setupCache(cfg.Cache)
	if err != nil {
		logger.Fatalf("Failed to initialize cache: %v", err)
	}

	m := metrics.New()
	repo := repository.NewDealRepository(db)

	dealOptions := []services.DealOption{
		services.WithLogger(logger),
		services.WithMetrics(m),
		services.WithConcurrency(cfg.Processing.Concurrency),
		services.WithStatusManager(services.NewDealStatusManager(repo, logger)),
	}
	if cacheService != nil {
		dealOptions = append(dealOptions, services.WithCache(cacheService, time.Duration(cfg.Cache.TTL)*time.Second))
	}
	if cfg.Processing.ArchiveRaw {
		dealOptions = append(dealOptions, services.WithArchive(fileStorage))
	}

	// 初始化任务队列（如果启用）
	var queue *taskqueue.RedisQueue
	if cfg.Queue.Enable {
		queue, err = setupTaskQueue(cfg.Queue, logger)
		if err != nil {
			logger.Fatalf("Failed to initialize task queue: %v", err)
		}
		defer func() {
			if err := queue.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close task queue")
			}
		}()
		dealOptions = append(dealOptions, services.WithTaskQueue(queue))
		logger.Info("Task queue initialized successfully")
	}

	parser := document.NewDocumentParser(document.WithParserLogger(logger))
	dealService := services.NewDealService(folderSource, parser, repo, dealOptions...)
	chatService := services.NewChatService(services.WithChatLogger(logger))

	// 在本进程中运行worker
	if queue != nil && cfg.Queue.Worker {
		worker := taskqueue.NewRedisWorker(queue, nil)
		taskHandler := services.NewDealTaskHandler(dealService, logger)
		for _, taskType := range taskHandler.GetTaskTypes() {
			worker.RegisterHandler(taskType, taskHandler)
		}
		if err := worker.Start(); err != nil {
			logger.Fatalf("Failed to start task worker: %v", err)
		}
		defer worker.Stop()
		logger.Info("Task worker started")
	}

	router := api.SetupRouter(
		handler.NewDealHandler(dealService, handler.WithChunkDefaults(document.SplitterConfig{
			ChunkSize:    cfg.Document.ChunkSize,
			ChunkOverlap: cfg.Document.ChunkOverlap,
		})),
		handler.NewChatHandler(chatService),
		handler.NewTaskHandler(dealService),
		m,
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 等待终止信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// parseFlags 解析命令行参数
func parseFlags() options {
	opts := options{}

	flag.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to config file")
	flag.IntVar(&opts.Port, "port", 8000, "Server port")
	flag.StringVar(&opts.Mode, "mode", "release", "Run mode (debug/release)")
	flag.StringVar(&opts.LogLevel, "log-level", "info", "Log level (debug/info/warn/error)")
	flag.BoolVar(&opts.Queue, "queue", false, "Enable task queue")

	flag.Parse()
	return opts
}

// applyFlags 只用命令行上明确设置的参数覆盖配置
func applyFlags(cfg *appconfig.Config, opts options) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = opts.Port
		case "mode":
			cfg.Server.Mode = opts.Mode
		case "log-level":
			cfg.Log.Level = opts.LogLevel
		case "queue":
			cfg.Queue.Enable = opts.Queue
		}
	})
}

// setupLogger 设置日志系统，中间件和各服务共用同一个logger
func setupLogger(cfg appconfig.LogConfig) (*logrus.Logger, error) {
	logger, err := middleware.NewLogger(middleware.LogOptions{
		Level:      cfg.Level,
		Format:     cfg.Format,
		File:       cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
	if err != nil {
		return nil, err
	}
	middleware.SetLogger(logger)
	return logger, nil
}

// setupStorage 设置文件存储服务
func setupStorage(ctx context.Context, cfg appconfig.StorageConfig) (storage.Storage, error) {
	switch cfg.Type {
	case "minio":
		return storage.NewMinioStorage(ctx, storage.MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
		})
	default:
		return storage.NewLocalStorage(storage.LocalConfig{Path: cfg.Path})
	}
}

// setupSource 设置交易文件夹来源
func setupSource(ctx context.Context, cfg *appconfig.Config, store storage.Storage, logger *logrus.Logger) (source.Source, error) {
	if cfg.Source.Type == "storage" {
		return source.NewStorageSource(store, cfg.Source.MaxDownloadSize), nil
	}

	driveCfg := source.DriveConfig{
		CredentialsFile: cfg.Drive.CredentialsFile,
		Endpoint:        cfg.Drive.Endpoint,
		PageSize:        cfg.Drive.PageSize,
		MaxRetries:      cfg.Drive.MaxRetries,
		RetryBaseDelay:  cfg.Drive.RetryBaseDelay,
		MaxDownloadSize: cfg.Source.MaxDownloadSize,
	}
	// 未展开的环境变量占位符视为未配置
	if strings.HasPrefix(driveCfg.CredentialsFile, "${") {
		driveCfg.CredentialsFile = ""
	}

	svc, err := source.NewDriveService(ctx, driveCfg)
	if err != nil {
		return nil, err
	}
	return source.NewDriveSource(svc, driveCfg, source.WithDriveLogger(logger)), nil
}

// setupCache 设置缓存服务，未启用时返回nil
func setupCache(cfg appconfig.CacheConfig) (cache.Cache, error) {
	if !cfg.Enable {
		return nil, nil
	}

	cacheConfig := cache.DefaultConfig()
	cacheConfig.Type = cfg.Type
	cacheConfig.RedisAddr = cfg.Address
	cacheConfig.RedisPassword = cfg.Password
	cacheConfig.RedisDB = cfg.DB
	cacheConfig.KeyPrefix = cfg.KeyPrefix
	if cfg.TTL > 0 {
		cacheConfig.DefaultTTL = time.Duration(cfg.TTL) * time.Second
	}
	return cache.NewCache(cacheConfig)
}

// setupTaskQueue 设置任务队列
func setupTaskQueue(cfg appconfig.QueueConfig, logger *logrus.Logger) (*taskqueue.RedisQueue, error) {
	if cfg.Type != "" && cfg.Type != "redis" {
		return nil, fmt.Errorf("unsupported queue type: %s", cfg.Type)
	}

	queueConfig := &taskqueue.Config{
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		Concurrency:   cfg.Concurrency,
		RetryLimit:    cfg.RetryLimit,
		RetryDelay:    time.Duration(cfg.RetryDelay) * time.Second,
		TaskTimeout:   time.Duration(cfg.TaskTimeout) * time.Second,
	}

	logger.WithFields(logrus.Fields{
		"type":        cfg.Type,
		"redis_addr":  cfg.RedisAddr,
		"concurrency": cfg.Concurrency,
		"retry_limit": cfg.RetryLimit,
	}).Info("Setting up task queue")

	return taskqueue.NewRedisQueue(queueConfig, taskqueue.WithQueueLogger(logger))
}
