package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// キャッシュバックエンドの種類
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	JWTSecret string

	// Server
	ServerPort        string
	CORSAllowedOrigin string

	// Logging
	LogLevel string

	// Cache
	CacheBackend       string
	CacheDefaultTTL    time.Duration
	CacheSweepInterval time.Duration
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisNamespace     string

	// Content
	RenderFreshness time.Duration

	// Rate Limit（req/min）
	RateLimitGeneral       int
	RateLimitContentUpdate int

	// Progress
	ProgressMaxConcurrent int

	// Rerender worker
	RerenderSchedule  string
	RerenderBatchSize int
}

// Load は環境変数からConfigを読み込む。
// ENV_FILE（デフォルト .env）が存在すれば先に読み込むが、既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadEnvFile(getEnvString("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CacheBackend = getEnvString("CACHE_BACKEND", CacheBackendMemory)
	cfg.CacheDefaultTTL = getEnvDuration("CACHE_DEFAULT_TTL", time.Hour)
	cfg.CacheSweepInterval = getEnvDuration("CACHE_SWEEP_INTERVAL", 120*time.Second)
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.RedisNamespace = getEnvString("REDIS_NAMESPACE", "learnpath")
	cfg.RenderFreshness = getEnvDuration("RENDER_FRESHNESS", time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitContentUpdate = getEnvInt("RATE_LIMIT_CONTENT_UPDATE", 20)
	cfg.ProgressMaxConcurrent = getEnvInt("PROGRESS_MAX_CONCURRENT", 4)
	cfg.RerenderSchedule = getEnvString("RERENDER_SCHEDULE", "@every 10m")
	cfg.RerenderBatchSize = getEnvInt("RERENDER_BATCH_SIZE", 50)

	switch cfg.CacheBackend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		return nil, fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q", CacheBackendMemory, CacheBackendRedis, cfg.CacheBackend)
	}

	return cfg, nil
}

// loadEnvFile は .env ファイルを読み込む。ファイルが無い場合は何もしない。
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
