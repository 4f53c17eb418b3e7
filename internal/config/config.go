package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML, shared by the API
// and the worker.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL string `yaml:"databaseURL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	QueueDriver            string `yaml:"queueDriver"` // redis | amqp
	QueueName              string `yaml:"queueName"`
	QueueGroup             string `yaml:"queueGroup"`
	QueueConcurrency       int    `yaml:"queueConcurrency"`
	QueueMaxRetries        int    `yaml:"queueMaxRetries"`
	QueueRetryDelaySeconds int    `yaml:"queueRetryDelaySeconds"`
	AMQPURL                string `yaml:"amqpURL"`

	StorageDriver  string `yaml:"storageDriver"` // local | minio
	StorageRoot    string `yaml:"storageRoot"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	SignatureSecret    string `yaml:"signatureSecret"`
	SessionSecret      string `yaml:"sessionSecret"`
	SessionTTLMinutes  int    `yaml:"sessionTtlMinutes"`
	ProviderTTLDays    int    `yaml:"providerTtlDays"`

	VisionAPIKey             string `yaml:"visionApiKey"`
	VisionTimeoutSeconds     int    `yaml:"visionTimeoutSeconds"`
	CompletionEndpoint       string `yaml:"completionEndpoint"`
	CompletionAPIKey         string `yaml:"completionApiKey"`
	CompletionModel          string `yaml:"completionModel"`
	CompletionTimeoutSeconds int    `yaml:"completionTimeoutSeconds"`

	MaxImageUploadBytes int64 `yaml:"maxImageUploadBytes"`
	MaxPDFUploadBytes   int64 `yaml:"maxPdfUploadBytes"`

	LoginRateLimitPerMinute    int  `yaml:"loginRateLimitPerMinute"`
	RegisterRateLimitPerMinute int  `yaml:"registerRateLimitPerMinute"`
	TrustForwardedHeaders      bool `yaml:"trustForwardedHeaders"`
}

// Load reads config from path (defaults to config.yaml) and applies
// environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("AMBERSCAN_QUEUE_DRIVER"); v != "" {
		cfg.QueueDriver = v
	}
	if v := os.Getenv("AMBERSCAN_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("AMBERSCAN_STORAGE_DRIVER"); v != "" {
		cfg.StorageDriver = v
	}
	if v := os.Getenv("AMBERSCAN_STORAGE_ROOT"); v != "" {
		cfg.StorageRoot = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("AMBERSCAN_SIGNATURE_SECRET"); v != "" {
		cfg.SignatureSecret = v
	}
	if v := os.Getenv("AMBERSCAN_SESSION_SECRET"); v != "" {
		cfg.SessionSecret = v
	}
	if v := os.Getenv("VISION_API_KEY"); v != "" {
		cfg.VisionAPIKey = v
	}
	if v := os.Getenv("COMPLETION_API_KEY"); v != "" {
		cfg.CompletionAPIKey = v
	}
	if v := os.Getenv("COMPLETION_ENDPOINT"); v != "" {
		cfg.CompletionEndpoint = v
	}
	if v := os.Getenv("COMPLETION_MODEL"); v != "" {
		cfg.CompletionModel = v
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.QueueDriver == "" {
		cfg.QueueDriver = "redis"
	}
	if cfg.QueueName == "" {
		cfg.QueueName = "amberscan:assets"
	}
	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "workers"
	}
	if cfg.QueueConcurrency <= 0 {
		cfg.QueueConcurrency = 4
	}
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = "local"
	}
	if cfg.StorageRoot == "" {
		cfg.StorageRoot = "./media"
	}
	if cfg.MaxImageUploadBytes <= 0 {
		cfg.MaxImageUploadBytes = 5 << 20
	}
	if cfg.MaxPDFUploadBytes <= 0 {
		cfg.MaxPDFUploadBytes = 20 << 20
	}
	if cfg.SessionTTLMinutes <= 0 {
		cfg.SessionTTLMinutes = 24 * 60
	}
	if cfg.VisionTimeoutSeconds <= 0 {
		cfg.VisionTimeoutSeconds = 30
	}
	if cfg.CompletionTimeoutSeconds <= 0 {
		cfg.CompletionTimeoutSeconds = 60
	}
	if cfg.LoginRateLimitPerMinute <= 0 {
		cfg.LoginRateLimitPerMinute = 10
	}
	if cfg.RegisterRateLimitPerMinute <= 0 {
		cfg.RegisterRateLimitPerMinute = 5
	}
}

func validate(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	switch cfg.QueueDriver {
	case "redis":
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required for the redis queue driver")
		}
	case "amqp":
		if cfg.AMQPURL == "" {
			return errors.New("config: amqpURL is required for the amqp queue driver")
		}
	default:
		return fmt.Errorf("config: unknown queueDriver %q (want redis or amqp)", cfg.QueueDriver)
	}
	switch cfg.StorageDriver {
	case "local":
		if cfg.StorageRoot == "" {
			return errors.New("config: storageRoot is required for the local storage driver")
		}
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minio storage requires minioEndpoint, minioAccessKey, minioSecretKey, and minioBucket")
		}
	default:
		return fmt.Errorf("config: unknown storageDriver %q (want local or minio)", cfg.StorageDriver)
	}
	if cfg.RedisAddr == "" && (cfg.LoginRateLimitPerMinute > 0 || cfg.RegisterRateLimitPerMinute > 0) && cfg.QueueDriver != "redis" {
		return errors.New("config: redisAddr is required for auth rate limiting")
	}
	if strings.TrimSpace(cfg.SignatureSecret) == "" {
		return errors.New("config: signatureSecret is required (set AMBERSCAN_SIGNATURE_SECRET)")
	}
	if strings.TrimSpace(cfg.SessionSecret) == "" {
		return errors.New("config: sessionSecret is required (set AMBERSCAN_SESSION_SECRET)")
	}
	return nil
}
