package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DriverREST     = "rest"
	DriverPostgres = "postgres"

	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// DefaultAssetManifest lists the shell assets cached on install.
var DefaultAssetManifest = []string{
	"/",
	"/index.html",
	"/offline.html",
	"/assets/icon-192x192.png",
	"/assets/icon-512x512.png",
}

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port             string
	ReadTimeoutSecs  int
	WriteTimeoutSecs int
	IdleTimeoutSecs  int

	StoreURL         string
	StoreAPIKey      string
	StoreDriver      string
	StoreTimeoutSecs int
	StoreRateLimit   float64
	StoreRateBurst   int

	RealtimeEnabled       bool
	RealtimeHeartbeatSecs int

	DBURL             string
	DBMaxConns        int
	DBMinConns        int
	DBMaxIdleSecs     int
	DBMaxLifeSecs     int
	DBConnTimeoutSecs int
	DBStatementCache  int
	DBMigrate         bool

	AssetOrigin       string
	AssetCacheVersion string
	AssetManifest     []string
	AssetOfflinePage  string
	AssetCacheBackend string
	AssetTimeoutSecs  int
	RedisAddr         string
	RedisPassword     string
	RedisDB           int

	SessionFile string
	LogLevel    string
	LogFormat   string
}

// Load reads configuration from environment variables, applying defaults and
// validation. A .env file in the working directory (or ENV_FILE) is loaded first
// without overriding variables that are already set.
func Load() (Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		ReadTimeoutSecs:       getEnvInt("SERVER_READ_TIMEOUT", 15),
		WriteTimeoutSecs:      getEnvInt("SERVER_WRITE_TIMEOUT", 15),
		IdleTimeoutSecs:       getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		StoreURL:              strings.TrimRight(os.Getenv("STORE_URL"), "/"),
		StoreAPIKey:           os.Getenv("STORE_API_KEY"),
		StoreDriver:           strings.ToLower(getEnv("STORE_DRIVER", DriverREST)),
		StoreTimeoutSecs:      getEnvInt("STORE_TIMEOUT_SECS", 10),
		StoreRateLimit:        getEnvFloat("STORE_RATE_LIMIT", 10),
		StoreRateBurst:        getEnvInt("STORE_RATE_BURST", 5),
		RealtimeEnabled:       getEnvBool("REALTIME_ENABLED", true),
		RealtimeHeartbeatSecs: getEnvInt("REALTIME_HEARTBEAT_SECS", 30),
		DBURL:                 os.Getenv("DB_URL"),
		DBMaxConns:            getEnvInt("DB_MAX_CONNS", 10),
		DBMinConns:            getEnvInt("DB_MIN_CONNS", 1),
		DBMaxIdleSecs:         getEnvInt("DB_MAX_CONN_IDLE_SECS", 300),
		DBMaxLifeSecs:         getEnvInt("DB_MAX_CONN_LIFETIME_SECS", 3600),
		DBConnTimeoutSecs:     getEnvInt("DB_CONN_TIMEOUT_SECS", 10),
		DBStatementCache:      getEnvInt("DB_STATEMENT_CACHE_CAPACITY", 256),
		DBMigrate:             getEnvBool("DB_MIGRATE", true),
		AssetOrigin:           strings.TrimRight(os.Getenv("ASSET_ORIGIN"), "/"),
		AssetCacheVersion:     getEnv("ASSET_CACHE_VERSION", "kdbuddy-cache-v1"),
		AssetManifest:         getEnvList("ASSET_MANIFEST", DefaultAssetManifest),
		AssetOfflinePage:      getEnv("ASSET_OFFLINE_PAGE", "/offline.html"),
		AssetCacheBackend:     strings.ToLower(getEnv("ASSET_CACHE_BACKEND", CacheBackendMemory)),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		AssetTimeoutSecs:      getEnvInt("ASSET_TIMEOUT_SECS", 10),
		SessionFile:           os.Getenv("SESSION_FILE"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
	}

	if cfg.StoreURL == "" {
		return Config{}, fmt.Errorf("STORE_URL is required")
	}
	if cfg.StoreAPIKey == "" {
		return Config{}, fmt.Errorf("STORE_API_KEY is required")
	}
	switch cfg.StoreDriver {
	case DriverREST:
	case DriverPostgres:
		if cfg.DBURL == "" {
			return Config{}, fmt.Errorf("DB_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return Config{}, fmt.Errorf("STORE_DRIVER must be %q or %q", DriverREST, DriverPostgres)
	}
	if cfg.StoreTimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("STORE_TIMEOUT_SECS must be positive")
	}
	if cfg.StoreRateLimit <= 0 {
		return Config{}, fmt.Errorf("STORE_RATE_LIMIT must be positive")
	}
	if cfg.StoreRateBurst <= 0 {
		return Config{}, fmt.Errorf("STORE_RATE_BURST must be positive")
	}
	if cfg.RealtimeHeartbeatSecs <= 0 {
		return Config{}, fmt.Errorf("REALTIME_HEARTBEAT_SECS must be positive")
	}
	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 {
		return Config{}, fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if cfg.DBStatementCache < 0 {
		return Config{}, fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}
	if strings.TrimSpace(cfg.AssetCacheVersion) == "" {
		return Config{}, fmt.Errorf("ASSET_CACHE_VERSION cannot be empty")
	}
	switch cfg.AssetCacheBackend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if cfg.RedisAddr == "" {
			return Config{}, fmt.Errorf("REDIS_ADDR is required when ASSET_CACHE_BACKEND=redis")
		}
	default:
		return Config{}, fmt.Errorf("ASSET_CACHE_BACKEND must be %q or %q", CacheBackendMemory, CacheBackendRedis)
	}
	if cfg.AssetTimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("ASSET_TIMEOUT_SECS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
