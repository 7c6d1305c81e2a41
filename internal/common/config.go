package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Storage  StorageConfig
	Tagging  TaggingConfig
	Render   RenderConfig
	Queue    QueueConfig
	Ingest   IngestConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "postgres" or "sqlite"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// StorageConfig holds blob-store configuration
type StorageConfig struct {
	Backend string // "fs" or "gcs"
	RootDir string // fs backend
	Bucket  string // gcs backend
}

// TaggingConfig holds AI tagging configuration
type TaggingConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Enabled reports whether an AI tagging backend is configured.
func (c TaggingConfig) Enabled() bool { return c.APIKey != "" }

// RenderConfig holds browser/PDF render configuration
type RenderConfig struct {
	Timeout     time.Duration
	SettleDelay time.Duration
}

// QueueConfig holds worker-pool configuration
type QueueConfig struct {
	Workers    int
	Size       int
	JobTimeout time.Duration
}

// IngestConfig holds drop-directory ingestion configuration. An empty
// Dir disables the watcher.
type IngestConfig struct {
	Dir      string
	UserID   string
	Debounce time.Duration
}

// Enabled reports whether a drop directory is configured.
func (c IngestConfig) Enabled() bool { return c.Dir != "" }

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "postgres"),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Storage: StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", "fs"),
			RootDir: getEnv("STORAGE_ROOT", "./data/assets"),
			Bucket:  getEnv("STORAGE_BUCKET", ""),
		},
		Tagging: TaggingConfig{
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			Temperature: getEnvAsFloat64("OPENAI_TEMPERATURE", 0.2),
			MaxTokens:   getEnvAsInt("OPENAI_MAX_TOKENS", 256),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 30*time.Second),
		},
		Render: RenderConfig{
			Timeout:     getEnvAsDuration("RENDER_TIMEOUT", 30*time.Second),
			SettleDelay: getEnvAsDuration("RENDER_SETTLE_DELAY", 2*time.Second),
		},
		Queue: QueueConfig{
			Workers:    getEnvAsInt("QUEUE_WORKERS", 4),
			Size:       getEnvAsInt("QUEUE_SIZE", 256),
			JobTimeout: getEnvAsDuration("QUEUE_JOB_TIMEOUT", 3*time.Minute),
		},
		Ingest: IngestConfig{
			Dir:      getEnv("INGEST_DIR", ""),
			UserID:   getEnv("INGEST_USER_ID", ""),
			Debounce: getEnvAsDuration("INGEST_DEBOUNCE", 500*time.Millisecond),
		},
	}
}

// Helper functions for environment variable parsing
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

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return NewAppError("CONFIG_ERROR", "DB_URL is required for the postgres driver", ErrInvalidInput)
		}
	case "sqlite":
		// empty DSN falls back to a local file
	default:
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	switch c.Storage.Backend {
	case "fs":
		if c.Storage.RootDir == "" {
			return NewAppError("CONFIG_ERROR", "STORAGE_ROOT is required for the fs backend", ErrInvalidInput)
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return NewAppError("CONFIG_ERROR", "STORAGE_BUCKET is required for the gcs backend", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "STORAGE_BACKEND must be fs or gcs", ErrInvalidInput)
	}
	if c.Queue.Workers <= 0 {
		return NewAppError("CONFIG_ERROR", "QUEUE_WORKERS must be positive", ErrInvalidInput)
	}
	if c.Ingest.Enabled() && c.Ingest.UserID == "" {
		return NewAppError("CONFIG_ERROR", "INGEST_USER_ID is required when INGEST_DIR is set", ErrInvalidInput)
	}
	return nil
}
