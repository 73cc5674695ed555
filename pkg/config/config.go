package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the bridge process
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Bridge server
	Bridge BridgeConfig

	// Factor engine
	Factors FactorConfig

	// Screener
	Screens ScreenConfig

	// External provider
	Naver NaverConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Environment
	Env string // development, staging, production
}

// BridgeConfig holds JSON-RPC server configuration
type BridgeConfig struct {
	Port        int           // 0 = OS assigns a free port
	WorkerPool  int           // bounded worker pool for blocking handlers
	IdleTimeout time.Duration // read idle timeout (keepalive, not disconnect)
	DebugPort   int           // optional HTTP debug endpoint, 0 = disabled
	RefreshCron string        // optional cron spec for scheduled cache refresh
}

// FactorConfig holds factor engine configuration
type FactorConfig struct {
	CacheDir         string
	CacheTTL         time.Duration
	MomentumUniverse int // bounded leading subset of tickers for momentum/volatility
}

// ScreenConfig holds saved-screen storage configuration
type ScreenConfig struct {
	Dir string
}

// NaverConfig holds Naver Finance provider configuration
type NaverConfig struct {
	BaseURL      string
	ChartBaseURL string
	RatePerSec   float64 // provider request rate limit
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Bridge: BridgeConfig{
			Port:        getEnvAsInt("QUANTK_PORT", 0),
			WorkerPool:  getEnvAsInt("QUANTK_WORKER_POOL", 8),
			IdleTimeout: getEnvAsDuration("QUANTK_IDLE_TIMEOUT", "5m"),
			DebugPort:   getEnvAsInt("QUANTK_DEBUG_PORT", 0),
			RefreshCron: getEnv("QUANTK_REFRESH_CRON", ""),
		},

		Factors: FactorConfig{
			CacheDir:         getEnv("QUANTK_CACHE_DIR", ".quantk/data/factors"),
			CacheTTL:         getEnvAsDuration("QUANTK_CACHE_TTL", "24h"),
			MomentumUniverse: getEnvAsInt("QUANTK_MOMENTUM_UNIVERSE", 100),
		},

		Screens: ScreenConfig{
			Dir: getEnv("QUANTK_SCREENS_DIR", ".quantk/screens"),
		},

		Naver: NaverConfig{
			BaseURL:      getEnv("NAVER_BASE_URL", "https://finance.naver.com"),
			ChartBaseURL: getEnv("NAVER_CHART_BASE_URL", "https://fchart.stock.naver.com"),
			RatePerSec:   getEnvAsFloat("NAVER_RATE_PER_SEC", 5.0),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		Env: getEnv("ENV", "development"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if configuration values are sane
func (c *Config) validate() error {
	if c.Bridge.Port < 0 || c.Bridge.Port > 65535 {
		return fmt.Errorf("QUANTK_PORT must be in [0, 65535], got %d", c.Bridge.Port)
	}

	if c.Bridge.WorkerPool < 1 {
		return fmt.Errorf("QUANTK_WORKER_POOL must be at least 1, got %d", c.Bridge.WorkerPool)
	}

	if c.Factors.CacheTTL <= 0 {
		return fmt.Errorf("QUANTK_CACHE_TTL must be positive")
	}

	if c.Factors.MomentumUniverse < 1 {
		return fmt.Errorf("QUANTK_MOMENTUM_UNIVERSE must be at least 1, got %d", c.Factors.MomentumUniverse)
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	// Also try relative to executable
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
