package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/therealutkarshpriyadarshi/poseflow/pkg/models"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Logging    LoggingConfig
	Queue      QueueConfig
	Transcoder TranscoderConfig
	Inference  InferenceConfig
	Streaming  StreamingConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Events     EventsConfig
	Webhook    WebhookConfig
	Metrics    MetricsConfig
	Tracing    TracingConfig
	RateLimit  RateLimitConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// QueueConfig holds in-memory job queue configuration
type QueueConfig struct {
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration // 0 retries immediately
	MaxBackoff   time.Duration
	HistorySize  int
}

// TranscoderConfig holds transcoding configuration
type TranscoderConfig struct {
	FFmpegPath      string
	FFprobePath     string
	TempDir         string
	OutputDir       string
	ThumbnailOffset time.Duration
	CheckOnStartup  bool
}

// InferenceConfig holds pose model configuration
type InferenceConfig struct {
	Command        string
	Args           []string
	RequestTimeout time.Duration
	Defaults       models.ModelConfig
}

// StreamingConfig holds WebSocket server configuration
type StreamingConfig struct {
	MaxMessageBytes  int64
	WriteTimeout     time.Duration
	ProgressInterval int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled    bool
	Host       string
	Port       int
	Password   string
	DB         int
	HistoryTTL time.Duration
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// EventsConfig holds activity event publishing configuration
type EventsConfig struct {
	BufferSize   int
	AMQPEnabled  bool
	Host         string
	Port         int
	User         string
	Password     string
	Vhost        string
	ExchangeName string
}

// WebhookConfig holds completion callback configuration
type WebhookConfig struct {
	Secret      string
	Timeout     time.Duration
	RetryDelays []time.Duration
}

// MetricsConfig holds Prometheus server configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
}

// TracingConfig holds Jaeger configuration
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RPS   int
	Burst int
}

// Load reads configuration from file and environment variables.
// An empty path loads defaults and environment overrides only.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return decode(v)
}

// Watch reloads the config file whenever it changes and hands the new config to onChange.
// Decode failures are reported through onError and the previous config stays in effect.
func Watch(configPath string, onChange func(*Config), onError func(error)) error {
	v := newViper()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()

	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("POSEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Inference.Defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid inference defaults: %w", err)
	}
	if config.Queue.Workers <= 0 {
		return nil, fmt.Errorf("queue.workers must be positive, got %d", config.Queue.Workers)
	}
	if config.Queue.MaxAttempts <= 0 {
		return nil, fmt.Errorf("queue.maxAttempts must be positive, got %d", config.Queue.MaxAttempts)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.shutdownTimeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Queue defaults
	v.SetDefault("queue.workers", 3)
	v.SetDefault("queue.maxAttempts", models.DefaultMaxAttempts)
	v.SetDefault("queue.retryBackoff", "0s")
	v.SetDefault("queue.maxBackoff", "1m")
	v.SetDefault("queue.historySize", 1000)

	// Transcoder defaults
	v.SetDefault("transcoder.ffmpegPath", "ffmpeg")
	v.SetDefault("transcoder.ffprobePath", "ffprobe")
	v.SetDefault("transcoder.tempDir", "/tmp/poseflow")
	v.SetDefault("transcoder.outputDir", "/tmp/poseflow/output")
	v.SetDefault("transcoder.thumbnailOffset", "2s")
	v.SetDefault("transcoder.checkOnStartup", true)

	// Inference defaults
	defaults := models.DefaultModelConfig()
	v.SetDefault("inference.command", "python3")
	v.SetDefault("inference.args", []string{"models/pose_worker.py"})
	v.SetDefault("inference.requestTimeout", "10s")
	v.SetDefault("inference.defaults.architecture", defaults.Architecture)
	v.SetDefault("inference.defaults.outputStride", defaults.OutputStride)
	v.SetDefault("inference.defaults.inputResolution", defaults.InputResolution)
	v.SetDefault("inference.defaults.multiplier", defaults.Multiplier)
	v.SetDefault("inference.defaults.quantBytes", defaults.QuantBytes)
	v.SetDefault("inference.defaults.scoreThreshold", defaults.ScoreThreshold)
	v.SetDefault("inference.defaults.maxDetections", defaults.MaxDetections)
	v.SetDefault("inference.defaults.nmsRadius", defaults.NMSRadius)

	// Streaming defaults
	v.SetDefault("streaming.maxMessageBytes", 64*1024*1024) // 64MB, whole-video requests carry every frame
	v.SetDefault("streaming.writeTimeout", "10s")
	v.SetDefault("streaming.progressInterval", 10)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.historyTTL", "24h")

	// Storage defaults
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.accessKeyID", "minioadmin")
	v.SetDefault("storage.secretAccessKey", "minioadmin")
	v.SetDefault("storage.bucketName", "poseflow")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.useSSL", false)

	// Events defaults
	v.SetDefault("events.bufferSize", 1024)
	v.SetDefault("events.amqpEnabled", false)
	v.SetDefault("events.host", "localhost")
	v.SetDefault("events.port", 5672)
	v.SetDefault("events.user", "guest")
	v.SetDefault("events.password", "guest")
	v.SetDefault("events.vhost", "/")
	v.SetDefault("events.exchangeName", "poseflow.activity")

	// Webhook defaults
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.timeout", "30s")
	v.SetDefault("webhook.retryDelays", []string{"1s", "5s", "30s"})

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "poseflow")
	v.SetDefault("tracing.endpoint", "http://localhost:14268/api/traces")

	// Rate limit defaults
	v.SetDefault("rateLimit.rps", 20)
	v.SetDefault("rateLimit.burst", 40)
}
