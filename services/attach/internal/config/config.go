package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location, relative to the working
// directory of the service.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                      string `yaml:"port"`
	LogLevel                  string `yaml:"logLevel"`
	DatabaseURL               string `yaml:"databaseURL"`
	MinioEndpoint             string `yaml:"minioEndpoint"`
	MinioAccessKey            string `yaml:"minioAccessKey"`
	MinioSecretKey            string `yaml:"minioSecretKey"`
	MinioBucket               string `yaml:"minioBucket"`
	MinioUseSSL               bool   `yaml:"minioUseSSL"`
	LocalStoragePath          string `yaml:"localStoragePath"`
	RedisAddr                 string `yaml:"redisAddr"`
	RedisPassword             string `yaml:"redisPassword"`
	QueueName                 string `yaml:"queueName"`
	QueueGroup                string `yaml:"queueGroup"`
	QueueConcurrency          int    `yaml:"queueConcurrency"`
	AMQPEnabled               bool   `yaml:"amqpEnabled"`
	AMQPURL                   string `yaml:"amqpURL"`
	InternalTokenKey          string `yaml:"internalTokenKey"`
	InternalTokenIssuers      string `yaml:"internalTokenIssuers"`
	PDFWorkerPath             string `yaml:"pdfWorkerPath"`
	ExtractTimeoutSeconds     int    `yaml:"extractTimeoutSeconds"`
	MinTextChars              int    `yaml:"minTextChars"`
	PollIntervalMs            int    `yaml:"pollIntervalMs"`
	ServerPollDeadlineSeconds int    `yaml:"serverPollDeadlineSeconds"`
	ClientPollDeadlineSeconds int    `yaml:"clientPollDeadlineSeconds"`
	MaxUploadBytes            int64  `yaml:"maxUploadBytes"`
	OCRCommand                string `yaml:"ocrCommand"`
}

// Load reads config from path (defaults to config.yaml).
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
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
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
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if useSSL, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = useSSL
		}
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
	if v := os.Getenv("TUTORCHAT_INTERNAL_TOKEN_KEY"); v != "" {
		cfg.InternalTokenKey = v
	}
	if v := os.Getenv("TUTORCHAT_INTERNAL_TOKEN_ISSUERS"); v != "" {
		cfg.InternalTokenIssuers = v
	}
	if v := os.Getenv("ATTACH_QUEUE_NAME"); v != "" {
		cfg.QueueName = v
	}
	if v := os.Getenv("ATTACH_QUEUE_GROUP"); v != "" {
		cfg.QueueGroup = v
	}
	if v := os.Getenv("ATTACH_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("ATTACH_PDF_WORKER_PATH"); v != "" {
		cfg.PDFWorkerPath = v
	}
	if v := os.Getenv("ATTACH_EXTRACT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ExtractTimeoutSeconds = n
		}
	}
	if v := os.Getenv("ATTACH_MIN_TEXT_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinTextChars = n
		}
	}
	if v := os.Getenv("ATTACH_POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollIntervalMs = n
		}
	}
	if v := os.Getenv("ATTACH_SERVER_POLL_DEADLINE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ServerPollDeadlineSeconds = n
		}
	}
	if v := os.Getenv("ATTACH_CLIENT_POLL_DEADLINE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ClientPollDeadlineSeconds = n
		}
	}
	if v := os.Getenv("ATTACH_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("ATTACH_OCR_COMMAND"); v != "" {
		cfg.OCRCommand = v
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.MinioEndpoint) == "" && strings.TrimSpace(cfg.LocalStoragePath) == "" {
		return errors.New("config: blob storage requires minioEndpoint or localStoragePath")
	}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minio requires minioAccessKey, minioSecretKey and minioBucket")
		}
	}
	if strings.TrimSpace(cfg.InternalTokenKey) == "" {
		return errors.New("config: internalTokenKey is required (set in config.yaml or TUTORCHAT_INTERNAL_TOKEN_KEY)")
	}
	if strings.TrimSpace(cfg.PDFWorkerPath) == "" {
		return errors.New("config: pdfWorkerPath is required (set in config.yaml or ATTACH_PDF_WORKER_PATH)")
	}
	if cfg.AMQPEnabled && strings.TrimSpace(cfg.AMQPURL) == "" {
		return errors.New("config: amqpURL is required when amqpEnabled=true")
	}
	if cfg.ExtractTimeoutSeconds < 0 {
		return errors.New("config: extractTimeoutSeconds must be >= 0")
	}
	if cfg.MinTextChars < 0 {
		return errors.New("config: minTextChars must be >= 0")
	}
	if cfg.PollIntervalMs < 0 {
		return errors.New("config: pollIntervalMs must be >= 0")
	}
	if cfg.ServerPollDeadlineSeconds < 0 || cfg.ClientPollDeadlineSeconds < 0 {
		return errors.New("config: poll deadlines must be >= 0")
	}
	if cfg.MaxUploadBytes < 0 {
		return errors.New("config: maxUploadBytes must be >= 0")
	}
	if cfg.QueueConcurrency < 0 {
		return errors.New("config: queueConcurrency must be >= 0")
	}
	return nil
}

// Issuers splits the comma-separated issuer allowlist.
func (c FileConfig) Issuers() []string {
	var issuers []string
	for _, part := range strings.Split(c.InternalTokenIssuers, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			issuers = append(issuers, trimmed)
		}
	}
	return issuers
}
