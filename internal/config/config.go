package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Queue    QueueConfig
	Media    MediaConfig
	Vision   VisionConfig
	Remote   RemoteConfig
	Logging  LoggingConfig
	Tracing  TracingConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	UploadDir       string
	MaxUploadMB     int64
	RateLimitRPS    int
	RateLimitBurst  int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
	Migrate  bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled        bool
	Host           string
	Port           int
	Password       string
	DB             int
	DescriptionTTL time.Duration
	VideoTTL       time.Duration
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Provider        string // minio, s3
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	UsePathStyle    bool
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// MediaConfig holds ffmpeg toolchain configuration
type MediaConfig struct {
	FFmpegPath  string
	FFprobePath string
	TempDir     string
	EnableGPU   bool
	Preset      string
}

// VisionConfig holds vision-language model configuration
type VisionConfig struct {
	Host           string
	ModelID        string
	Prompt         string
	MaxNewTokens   int
	Device         string // auto, mps, cuda, cpu
	PullMissing    bool
	RequestTimeout time.Duration
	EmbeddingModel string
}

// RemoteConfig holds remote worker configuration
type RemoteConfig struct {
	BatchSize int
	WorkDir   string

	// How long a stopping worker waits for the job in flight
	ShutdownTimeout time.Duration
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// TracingConfig holds Jaeger configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// MetricsConfig holds Prometheus exporter configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// A missing .env is the normal case outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Vision.ModelID == "" {
		return fmt.Errorf("invalid config: vision.modelID is required")
	}
	if c.Vision.MaxNewTokens <= 0 {
		return fmt.Errorf("invalid config: vision.maxNewTokens must be positive, got %d", c.Vision.MaxNewTokens)
	}
	switch c.Vision.Device {
	case "auto", "mps", "cuda", "cpu":
	default:
		return fmt.Errorf("invalid config: vision.device %q (want auto, mps, cuda or cpu)", c.Vision.Device)
	}
	switch c.Storage.Provider {
	case "minio", "s3":
	default:
		return fmt.Errorf("invalid config: storage.provider %q (want minio or s3)", c.Storage.Provider)
	}
	if c.Remote.BatchSize < 0 {
		return fmt.Errorf("invalid config: remote.batchSize must not be negative, got %d", c.Remote.BatchSize)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid config: server.maxUploadMB must be positive, got %d", c.Server.MaxUploadMB)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "30m")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.uploadDir", "/tmp/framescribe/uploads")
	v.SetDefault("server.maxUploadMB", 500)
	v.SetDefault("server.rateLimitRPS", 2)
	v.SetDefault("server.rateLimitBurst", 4)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "framescribe")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.minConns", 2)
	v.SetDefault("database.migrate", true)

	// Redis defaults
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.descriptionTTL", "168h")
	v.SetDefault("redis.videoTTL", "5m")

	// Storage defaults
	v.SetDefault("storage.provider", "minio")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "videos")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)
	v.SetDefault("storage.usePathStyle", true)

	// Queue defaults
	v.SetDefault("queue.host", "localhost")
	v.SetDefault("queue.port", 5672)
	v.SetDefault("queue.user", "guest")
	v.SetDefault("queue.password", "guest")
	v.SetDefault("queue.vhost", "/")

	// Media defaults
	v.SetDefault("media.ffmpegPath", "ffmpeg")
	v.SetDefault("media.ffprobePath", "ffprobe")
	v.SetDefault("media.tempDir", "/tmp/framescribe")
	v.SetDefault("media.enableGPU", true)
	v.SetDefault("media.preset", "veryfast")

	// Vision defaults
	v.SetDefault("vision.host", "http://localhost:11434")
	v.SetDefault("vision.modelID", "llama3.2-vision:11b")
	v.SetDefault("vision.prompt", "Describe what's happening in this scene.")
	v.SetDefault("vision.maxNewTokens", 100)
	v.SetDefault("vision.device", "auto")
	v.SetDefault("vision.pullMissing", false)
	v.SetDefault("vision.requestTimeout", "2m")
	v.SetDefault("vision.embeddingModel", "")

	// Remote worker defaults
	v.SetDefault("remote.batchSize", 8)
	v.SetDefault("remote.workDir", "/tmp/framescribe/remote")
	v.SetDefault("remote.shutdownTimeout", "10m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "framescribe")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
}
