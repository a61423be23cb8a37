package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	LogLevel    string `yaml:"log_level"`

	// MigrationsPath is the directory holding the SQL migrations.
	MigrationsPath string `yaml:"migrations_path"`

	// Storage
	StorageBackend   string `yaml:"storage_backend"`
	LocalStoragePath string `yaml:"local_storage_path"`

	// S3
	S3Endpoint        string `yaml:"s3_endpoint"`
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`
	S3BucketName      string `yaml:"s3_bucket_name"`
	S3UseSSL          bool   `yaml:"s3_use_ssl"`

	// Document extraction service
	ADEAPIKey       string `yaml:"ade_api_key"`
	ADEBaseURL      string `yaml:"ade_base_url"`
	ADEParseModel   string `yaml:"ade_parse_model"`
	ADEExtractModel string `yaml:"ade_extract_model"`

	// RemoteTimeout bounds a single parse or extract operation; RequestTimeout bounds
	// every other outbound call.
	RemoteTimeout  time.Duration `yaml:"remote_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ExtractWorkers int           `yaml:"extract_workers"`

	// Progress tracking
	ProgressBackend string `yaml:"progress_backend"`
	RedisAddr       string `yaml:"redis_addr"`
	RedisPassword   string `yaml:"redis_password"`

	// Upload limits
	MaxFileSize int64 `yaml:"max_file_size"`
}

func defaults() *Config {
	return &Config{
		Port:             "8080",
		DatabaseURL:      "data/statements.db",
		LogLevel:         "info",
		MigrationsPath:   "internal/db/migrations",
		StorageBackend:   "s3",
		LocalStoragePath: "local_storage",
		S3Endpoint:       "localhost:9000",
		S3AccessKeyID:    "minioadmin",
		S3SecretAccessKey: "minioadmin",
		S3BucketName:     "statements",
		ADEBaseURL:       "https://api.va.landing.ai",
		ADEParseModel:    "dpt-2-latest",
		ADEExtractModel:  "extract-latest",
		RemoteTimeout:    10 * time.Minute,
		RequestTimeout:   30 * time.Second,
		ExtractWorkers:   4,
		ProgressBackend:  "memory",
		RedisAddr:        "localhost:6379",
		MaxFileSize:      50 * 1024 * 1024,
	}
}

// Load builds the configuration from an optional YAML file (CONFIG_FILE) overlaid
// with environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.MigrationsPath = getEnv("MIGRATIONS_PATH", cfg.MigrationsPath)
	cfg.StorageBackend = getEnv("STORAGE_BACKEND", cfg.StorageBackend)
	cfg.LocalStoragePath = getEnv("LOCAL_STORAGE_PATH", cfg.LocalStoragePath)
	cfg.S3Endpoint = getEnv("S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3AccessKeyID = getEnv("S3_ACCESS_KEY_ID", cfg.S3AccessKeyID)
	cfg.S3SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", cfg.S3SecretAccessKey)
	cfg.S3BucketName = getEnv("S3_BUCKET_NAME", cfg.S3BucketName)
	cfg.S3UseSSL = getEnvAsBool("S3_USE_SSL", cfg.S3UseSSL)
	// VISION_AGENT_API_KEY is the older name of the same key.
	cfg.ADEAPIKey = getEnv("ADE_API_KEY", getEnv("VISION_AGENT_API_KEY", cfg.ADEAPIKey))
	cfg.ADEBaseURL = getEnv("ADE_BASE_URL", cfg.ADEBaseURL)
	cfg.ADEParseModel = getEnv("ADE_PARSE_MODEL", cfg.ADEParseModel)
	cfg.ADEExtractModel = getEnv("ADE_EXTRACT_MODEL", cfg.ADEExtractModel)
	cfg.RemoteTimeout = getEnvAsDuration("REMOTE_TIMEOUT", cfg.RemoteTimeout)
	cfg.RequestTimeout = getEnvAsDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.ExtractWorkers = getEnvAsInt("EXTRACT_WORKERS", cfg.ExtractWorkers)
	cfg.ProgressBackend = getEnv("PROGRESS_BACKEND", cfg.ProgressBackend)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.MaxFileSize = int64(getEnvAsInt("MAX_FILE_SIZE", int(cfg.MaxFileSize)))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the loaded configuration for missing or contradictory values.
func (c *Config) Validate() error {
	if c.ADEAPIKey == "" {
		return fmt.Errorf("ADE_API_KEY is required")
	}
	switch c.StorageBackend {
	case "s3", "local":
	default:
		return fmt.Errorf("STORAGE_BACKEND must be 's3' or 'local', got %q", c.StorageBackend)
	}
	switch c.ProgressBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("PROGRESS_BACKEND must be 'memory' or 'redis', got %q", c.ProgressBackend)
	}
	if c.RemoteTimeout <= c.RequestTimeout {
		return fmt.Errorf("REMOTE_TIMEOUT (%s) must be longer than REQUEST_TIMEOUT (%s)", c.RemoteTimeout, c.RequestTimeout)
	}
	if c.ExtractWorkers <= 0 {
		return fmt.Errorf("EXTRACT_WORKERS must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
