package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	StorageDriverFilesystem = "filesystem"
	StorageDriverGCS        = "gcs"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	LogLevel    string
	Port        string
	DatabaseURL string
	StoreDriver string
	JWTSecret   string

	StorageDriver     string
	StoragePath       string
	StorageBaseURL    string
	GCSBucket         string
	GCSPublicBaseURL  string
	GCSCredentialFile string
	ArchiveDir        string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	QwenAPIKey  string
	QwenBaseURL string
	QwenModel   string

	ProviderTimeout       time.Duration
	ProviderRatePerMinute int

	JobMaxAttempts     int
	JobBackoffBase     time.Duration
	JobBackoffMax      time.Duration
	JobStaleAfter      time.Duration
	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	WorkerEmbedded     bool

	RedisAddr    string
	RedisChannel string

	CORSOrigins      []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		LogLevel:    strings.ToLower(os.Getenv("LOG_LEVEL")),
		Port:        port,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		JWTSecret:   os.Getenv("JWT_SECRET"),

		StorageDriver:     strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverFilesystem)),
		StoragePath:       getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:    strings.TrimRight(getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"), "/"),
		GCSBucket:         os.Getenv("GCS_BUCKET"),
		GCSPublicBaseURL:  os.Getenv("GCS_PUBLIC_BASE_URL"),
		GCSCredentialFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		ArchiveDir:        getEnv("ARCHIVE_DIR", "./storage/archives"),

		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),

		QwenAPIKey:  os.Getenv("QWEN_API_KEY"),
		QwenBaseURL: getEnv("QWEN_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		QwenModel:   getEnv("QWEN_MODEL", "qwen-image-plus"),

		ProviderTimeout:       getEnvDuration("PROVIDER_TIMEOUT", 2*time.Minute),
		ProviderRatePerMinute: getEnvInt("PROVIDER_RATE_PER_MINUTE", 20),

		JobMaxAttempts:     getEnvInt("JOB_MAX_ATTEMPTS", 3),
		JobBackoffBase:     getEnvDuration("JOB_BACKOFF_BASE", 5*time.Second),
		JobBackoffMax:      getEnvDuration("JOB_BACKOFF_MAX", 5*time.Minute),
		JobStaleAfter:      getEnvDuration("JOB_STALE_AFTER", 15*time.Minute),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 2),
		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", 2*time.Second),
		WorkerEmbedded:     getEnvBool("WORKER_EMBEDDED", true),

		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RedisChannel: getEnv("REDIS_CHANNEL", "generation-events"),

		CORSOrigins:      splitList(os.Getenv("CORS_ORIGINS")),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.StorageDriver {
	case StorageDriverFilesystem:
	case StorageDriverGCS:
		if cfg.GCSBucket == "" {
			return nil, fmt.Errorf("GCS_BUCKET is required when STORAGE_DRIVER=gcs")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.JobMaxAttempts < 1 {
		cfg.JobMaxAttempts = 1
	}
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if i, err := strconv.Atoi(v); err == nil {
		return time.Duration(i) * time.Second
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
