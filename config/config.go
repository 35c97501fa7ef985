package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/fyerfyer/deal-ai/internal/document"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config 应用程序配置结构体
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Source     SourceConfig     `mapstructure:"source"`
	Drive      DriveConfig      `mapstructure:"drive"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Document   DocumentConfig   `mapstructure:"document"`
	Processing ProcessingConfig `mapstructure:"processing"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`             // 服务器主机
	Port            int           `mapstructure:"port"`             // 服务器端口
	Mode            string        `mapstructure:"mode"`             // gin运行模式：debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`     // 读取超时
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`    // 写入超时
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // 优雅关闭超时
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // 日志级别
	Format     string `mapstructure:"format"`      // json 或 text
	File       string `mapstructure:"file"`        // 日志文件，为空时只输出到标准输出
	MaxSize    int    `mapstructure:"max_size"`    // 单个日志文件大小(MB)
	MaxBackups int    `mapstructure:"max_backups"` // 保留的旧文件数
	MaxAge     int    `mapstructure:"max_age"`     // 保留天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

// SourceConfig 文件夹来源配置
type SourceConfig struct {
	Type            string `mapstructure:"type"`              // drive 或 storage
	MaxDownloadSize int64  `mapstructure:"max_download_size"` // 单个文件下载上限(字节)
}

// DriveConfig Google Drive配置
type DriveConfig struct {
	CredentialsFile string        `mapstructure:"credentials_file"` // 服务账号凭据文件
	Endpoint        string        `mapstructure:"endpoint"`         // 自定义API端点（测试用）
	PageSize        int64         `mapstructure:"page_size"`        // 列举分页大小
	MaxRetries      uint64        `mapstructure:"max_retries"`      // 临时错误重试次数
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"` // 指数退避初始间隔
}

// StorageConfig 存储配置
type StorageConfig struct {
	Type      string `mapstructure:"type"`     // 存储类型：local 或 minio
	Path      string `mapstructure:"path"`     // 本地存储路径
	Bucket    string `mapstructure:"bucket"`   // MinIO桶名称
	Endpoint  string `mapstructure:"endpoint"` // MinIO端点
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"` // 是否使用SSL
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type          string        `mapstructure:"type"`           // 数据库类型: sqlite, postgres
	DSN           string        `mapstructure:"dsn"`            // 数据源名称
	MaxOpenConns  int           `mapstructure:"max_open_conns"` // 最大打开连接数
	MaxIdleConns  int           `mapstructure:"max_idle_conns"` // 最大空闲连接数
	SlowThreshold time.Duration `mapstructure:"slow_threshold"` // 慢查询阈值
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Enable    bool   `mapstructure:"enable"`     // 是否启用缓存
	Type      string `mapstructure:"type"`       // 缓存类型：memory 或 redis
	Address   string `mapstructure:"address"`    // Redis地址
	Password  string `mapstructure:"password"`   // Redis密码
	DB        int    `mapstructure:"db"`         // Redis数据库
	TTL       int    `mapstructure:"ttl"`        // 缓存TTL（秒）
	KeyPrefix string `mapstructure:"key_prefix"` // 键前缀
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	Enable        bool   `mapstructure:"enable"`         // 是否启用任务队列
	Type          string `mapstructure:"type"`           // 队列类型：redis
	RedisAddr     string `mapstructure:"redis_addr"`     // Redis地址
	RedisPassword string `mapstructure:"redis_password"` // Redis密码
	RedisDB       int    `mapstructure:"redis_db"`       // Redis数据库编号
	Concurrency   int    `mapstructure:"concurrency"`    // 任务处理并发数
	RetryLimit    int    `mapstructure:"retry_limit"`    // 任务最大重试次数
	RetryDelay    int    `mapstructure:"retry_delay"`    // 重试延迟(秒)
	TaskTimeout   int    `mapstructure:"task_timeout"`   // 单个任务超时(秒)
	Worker        bool   `mapstructure:"worker"`         // 是否在本进程中运行worker
}

// DocumentConfig 文档处理配置
type DocumentConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`    // 分块大小
	ChunkOverlap int `mapstructure:"chunk_overlap"` // 分块重叠大小
}

// ProcessingConfig 交易处理配置
type ProcessingConfig struct {
	Concurrency int  `mapstructure:"concurrency"` // 单个交易内并发处理的文件数
	ArchiveRaw  bool `mapstructure:"archive_raw"` // 是否把原始文件归档到存储
}

// Load 从文件和环境变量加载配置
// 配置文件不存在时使用默认值
func Load(configPath string) (*Config, error) {
	var config Config

	if configPath == "" {
		configPath = "config.yaml"
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			logrus.Warnf("Config file not found at %s, using defaults", configPath)
		} else {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}
	} else {
		logrus.Infof("Using config file: %s", v.ConfigFileUsed())
	}

	// 支持环境变量覆盖，例如 SERVER_PORT、QUEUE_ENABLE
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}

	processEnvironmentVariables(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Default 返回只包含默认值的配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Source.Type {
	case "drive", "storage":
	default:
		return fmt.Errorf("unsupported source type: %s", c.Source.Type)
	}

	switch c.Storage.Type {
	case "local", "minio":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	if err := document.ValidateChunkConfig(c.Document.ChunkSize, c.Document.ChunkOverlap); err != nil {
		return err
	}

	if c.Processing.Concurrency <= 0 {
		return fmt.Errorf("processing concurrency must be positive")
	}
	return nil
}

// processEnvironmentVariables 展开形如${VAR}的配置值
func processEnvironmentVariables(cfg *Config) {
	for _, field := range []*string{
		&cfg.Drive.CredentialsFile,
		&cfg.Storage.AccessKey,
		&cfg.Storage.SecretKey,
		&cfg.Database.DSN,
		&cfg.Cache.Password,
		&cfg.Queue.RedisPassword,
	} {
		*field = expandEnv(*field)
	}
}

// expandEnv 整个值为${VAR}且环境变量非空时替换
func expandEnv(value string) string {
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		if envVal := os.Getenv(value[2 : len(value)-1]); envVal != "" {
			return envVal
		}
	}
	return value
}

// setDefaults 设置配置的默认值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "10s")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)

	// 来源默认配置
	v.SetDefault("source.type", "drive")
	v.SetDefault("source.max_download_size", 100<<20)

	// Drive默认配置
	v.SetDefault("drive.credentials_file", "${GOOGLE_APPLICATION_CREDENTIALS}")
	v.SetDefault("drive.endpoint", "")
	v.SetDefault("drive.page_size", 100)
	v.SetDefault("drive.max_retries", 3)
	v.SetDefault("drive.retry_base_delay", "200ms")

	// 存储默认配置
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.path", "./data/files")
	v.SetDefault("storage.bucket", "deal-ai")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", false)

	// 数据库默认配置
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "data/deals.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.slow_threshold", "200ms")

	// 缓存默认配置
	v.SetDefault("cache.enable", true)
	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", 600)
	v.SetDefault("cache.key_prefix", "deal-ai:")

	// 队列默认配置
	v.SetDefault("queue.enable", false)
	v.SetDefault("queue.type", "redis")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.retry_limit", 3)
	v.SetDefault("queue.retry_delay", 60)
	v.SetDefault("queue.task_timeout", 1800)
	v.SetDefault("queue.worker", true)

	// 文档处理默认配置
	v.SetDefault("document.chunk_size", 1000)
	v.SetDefault("document.chunk_overlap", 200)

	// 交易处理默认配置
	v.SetDefault("processing.concurrency", 4)
	v.SetDefault("processing.archive_raw", false)
}
