package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the ETL service.
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	Env string // development, staging, production

	// API server
	Port string

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Data vendors
	FRED  FREDConfig
	Yahoo YahooConfig

	// Pipeline
	Pipeline PipelineConfig

	// Labels
	Labels LabelConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	URL string

	// Connection pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// FREDConfig holds FRED observations API configuration.
type FREDConfig struct {
	APIKey  string
	BaseURL string

	// Requests per minute allowed against the vendor
	RateLimit int
}

// YahooConfig holds the daily-bars vendor configuration.
type YahooConfig struct {
	BaseURL string

	// Requests per minute allowed against the vendor
	RateLimit int
}

// PipelineConfig holds ETL run configuration.
type PipelineConfig struct {
	// Instruments the feature/label dataset is built for
	Symbols []string

	// Cross-asset proxy tickers merged as shared context
	ProxySymbols []string

	// FRED series ingested as macro context
	MacroSeries []string

	// Calendar days of persisted history reloaded as rolling-window
	// context in incremental mode. Must cover the largest feature window
	// (200-day SMA), so a full year.
	LookbackDays int

	// Maximum calendar-day gap the sparse macro filler bridges
	MacroMaxGapDays int
}

// LabelConfig holds label-generation configuration.
type LabelConfig struct {
	// Discretization policy: "binary-sign" or "ternary-threshold"
	Policy string

	// Dead-zone threshold on the vol-scaled return (ternary policy only)
	Threshold float64
}

// Load reads configuration from environment variables.
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Env:  getEnv("ENV", "development"),
		Port: getEnv("PORT", "8090"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		FRED: FREDConfig{
			APIKey:    getEnv("FRED_API_KEY", ""),
			BaseURL:   getEnv("FRED_BASE_URL", "https://api.stlouisfed.org/fred"),
			RateLimit: getEnvAsInt("FRED_RATE_LIMIT", 60),
		},

		Yahoo: YahooConfig{
			BaseURL:   getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),
			RateLimit: getEnvAsInt("YAHOO_RATE_LIMIT", 30),
		},

		Pipeline: PipelineConfig{
			Symbols: getEnvAsSlice("ETL_SYMBOLS", []string{"SPY", "QQQ", "DIA", "IWM"}),
			ProxySymbols: getEnvAsSlice("ETL_PROXY_SYMBOLS", []string{
				"^VIX", "^VIX9D", "^VVIX", "UUP", "GLD", "USO", "HYG", "LQD", "TLT", "RSP",
			}),
			MacroSeries: getEnvAsSlice("ETL_MACRO_SERIES", []string{
				"DGS2", "DGS10", "FEDFUNDS", "EFFR", "T10YIE",
				"BAMLH0A0HYM2", "WALCL", "RRPONTSYD", "SOFR",
			}),
			LookbackDays:    getEnvAsInt("ETL_LOOKBACK_DAYS", 365),
			MacroMaxGapDays: getEnvAsInt("ETL_MACRO_MAX_GAP_DAYS", 7),
		},

		Labels: LabelConfig{
			Policy:    getEnv("LABEL_POLICY", "binary-sign"),
			Threshold: getEnvAsFloat("LABEL_THRESHOLD", 0.002),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set.
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if len(c.Pipeline.Symbols) == 0 {
		return fmt.Errorf("ETL_SYMBOLS must list at least one instrument")
	}

	switch c.Labels.Policy {
	case "binary-sign", "ternary-threshold":
	default:
		return fmt.Errorf("LABEL_POLICY must be binary-sign or ternary-threshold, got %q", c.Labels.Policy)
	}

	return nil
}

// loadEnvFile tries to load .env from multiple locations.
func loadEnvFile() {
	paths := []string{
		".env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
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

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
