package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	CORS         CORSConfig
	Logging      LoggingConfig
	Engine       EngineConfig
	Regeneration RegenerationConfig
	Prices       PriceConfig
	Backtest     BacktestConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port string
	Host string
	Addr string // Combined host:port for convenience
}

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Path string
}

// CORSConfig holds CORS-specific configuration
type CORSConfig struct {
	AllowedOrigins []string
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string
	Format string // "console" or "json"
}

// EngineConfig holds the thresholds used by the allocation engine and metrics cache.
type EngineConfig struct {
	DriftThreshold     float64
	MetricsFreshness   time.Duration
	FreePortfolioLimit int
}

// RegenerationConfig controls the suggestion regeneration worker.
type RegenerationConfig struct {
	Schedule      string
	SettleDelay   time.Duration
	MaxAttempts   int
	SweepSchedule string
}

// PriceConfig holds settings for the quote provider.
type PriceConfig struct {
	RateLimit float64
	Timeout   time.Duration
}

// BacktestConfig holds the key used to seal backtest seeds.
type BacktestConfig struct {
	FernetKey string
	SeedTTL   time.Duration
}

// Load reads configuration from environment variables and .env file
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "5001"),
			Host: getEnv("SERVER_HOST", "localhost"),
		},
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/portfolio_rebalancer.db"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost")),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Backtest: BacktestConfig{
			FernetKey: os.Getenv("BACKTEST_FERNET_KEY"),
		},
		Regeneration: RegenerationConfig{
			Schedule:      getEnv("REGENERATION_SCHEDULE", "@every 10s"),
			SweepSchedule: getEnv("METRICS_SWEEP_SCHEDULE", "@every 15m"),
		},
	}

	var err error
	if config.Engine.DriftThreshold, err = getFloat("DRIFT_THRESHOLD", 0.05); err != nil {
		return nil, err
	}
	if config.Engine.DriftThreshold <= 0 || config.Engine.DriftThreshold >= 1 {
		return nil, fmt.Errorf("DRIFT_THRESHOLD must be between 0 and 1, got %v", config.Engine.DriftThreshold)
	}
	if config.Engine.MetricsFreshness, err = getDuration("METRICS_FRESHNESS", 5*time.Minute); err != nil {
		return nil, err
	}
	if config.Engine.FreePortfolioLimit, err = getInt("FREE_PORTFOLIO_LIMIT", 1); err != nil {
		return nil, err
	}
	if config.Regeneration.SettleDelay, err = getDuration("REGENERATION_SETTLE_DELAY", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if config.Regeneration.MaxAttempts, err = getInt("REGENERATION_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if config.Prices.RateLimit, err = getFloat("PRICE_RATE_LIMIT", 5); err != nil {
		return nil, err
	}
	if config.Prices.Timeout, err = getDuration("PRICE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if config.Backtest.SeedTTL, err = getDuration("BACKTEST_SEED_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	// Combine host and port
	config.Server.Addr = fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)

	return config, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return i, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
