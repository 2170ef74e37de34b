package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Mahd-Mehn/MM-zypherfunk/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration.
type Config struct {
	// Binance API (service-owned keys, used for routing and monitoring;
	// follower keys come from the credential store)
	BinanceAPIKey    string
	BinanceAPISecret string
	IsTestnet        bool

	// Monitoring
	PollInterval  time.Duration // Delay between poll ticks per session
	DedupTTL      time.Duration // How long emitted event IDs stay deduplicated
	OrderLookback time.Duration // How far back order history is scanned
	OrderLimit    int           // Max orders fetched per poll
	CallTimeout   time.Duration // Per-venue-call timeout inside a tick

	// Copy engine
	EventBusBuffer   int           // Per-subscriber channel buffer
	DispatchTimeout  time.Duration // Timeout for one replica order dispatch
	ReplicationDelay time.Duration // Delay between source and target legs in Replicate

	// Database
	DBPath      string // SQLite file path (used when DatabaseURL is empty)
	DatabaseURL string // PostgreSQL URL; when set it takes precedence over SQLite

	// Redis (metrics snapshots; empty address disables publishing)
	RedisAddr       string
	RedisPassword   string
	MetricsInterval time.Duration

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string // Collect validation errors

	// Binance API
	cfg.BinanceAPIKey = getEnv("BINANCE_API_KEY", "")
	cfg.BinanceAPISecret = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	// Monitoring
	pollSeconds := getEnvAsInt("POLL_INTERVAL_SECONDS", 5)
	if pollSeconds <= 0 {
		errs = append(errs, "POLL_INTERVAL_SECONDS must be positive")
	}
	cfg.PollInterval = time.Duration(pollSeconds) * time.Second

	dedupSeconds := getEnvAsInt("DEDUP_TTL_SECONDS", 3600)
	if dedupSeconds <= 0 {
		errs = append(errs, "DEDUP_TTL_SECONDS must be positive")
	}
	cfg.DedupTTL = time.Duration(dedupSeconds) * time.Second

	lookbackSeconds := getEnvAsInt("ORDER_LOOKBACK_SECONDS", 3600)
	if lookbackSeconds <= 0 {
		errs = append(errs, "ORDER_LOOKBACK_SECONDS must be positive")
	}
	cfg.OrderLookback = time.Duration(lookbackSeconds) * time.Second

	cfg.OrderLimit = getEnvAsInt("ORDER_LIMIT", 20)
	if cfg.OrderLimit <= 0 {
		errs = append(errs, "ORDER_LIMIT must be positive")
	}

	callTimeoutSeconds := getEnvAsInt("CALL_TIMEOUT_SECONDS", 5)
	if callTimeoutSeconds <= 0 {
		errs = append(errs, "CALL_TIMEOUT_SECONDS must be positive")
	}
	cfg.CallTimeout = time.Duration(callTimeoutSeconds) * time.Second

	// Copy engine
	cfg.EventBusBuffer = getEnvAsInt("EVENT_BUS_BUFFER", 64)
	if cfg.EventBusBuffer <= 0 {
		errs = append(errs, "EVENT_BUS_BUFFER must be positive")
	}

	dispatchSeconds := getEnvAsInt("DISPATCH_TIMEOUT_SECONDS", 30)
	if dispatchSeconds <= 0 {
		errs = append(errs, "DISPATCH_TIMEOUT_SECONDS must be positive")
	}
	cfg.DispatchTimeout = time.Duration(dispatchSeconds) * time.Second

	replicationMs := getEnvAsInt("REPLICATION_DELAY_MS", 100)
	if replicationMs < 0 {
		errs = append(errs, "REPLICATION_DELAY_MS cannot be negative")
	}
	cfg.ReplicationDelay = time.Duration(replicationMs) * time.Millisecond

	// Database
	cfg.DatabaseURL = getEnv("DATABASE_URL", "")
	cfg.DBPath = getEnv("DB_PATH", "./data/copytrading.db")
	if cfg.DatabaseURL == "" && cfg.DBPath == "" {
		errs = append(errs, "either DATABASE_URL or DB_PATH must be set")
	}

	// Redis
	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	metricsSeconds := getEnvAsInt("METRICS_INTERVAL_SECONDS", 30)
	if metricsSeconds <= 0 {
		errs = append(errs, "METRICS_INTERVAL_SECONDS must be positive")
	}
	cfg.MetricsInterval = time.Duration(metricsSeconds) * time.Second

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
