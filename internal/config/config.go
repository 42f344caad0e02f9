// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir     string // Base directory for all databases (always absolute)
	Port        int
	LogLevel    string
	DevMode     bool
	HolidayFile string // Optional YAML file with exchange holidays

	// Market data provider
	ProviderBaseURL    string
	ProviderTimeout    time.Duration
	ProviderMaxRetries int           // Per-ticker fetch retries before a date is escalated
	ProviderRateLimit  float64       // Requests per second
	ProviderBackoff    time.Duration // Base backoff between retries

	// Ingestion job
	IngestHistoryFloor string // Earliest date replayed when the ledger is empty (YYYY-MM-DD)
	IngestStaleAfter   time.Duration
	IngestMaxErrorRate float64 // Fraction of tickers allowed to fail per date

	// Analysis job
	AnalysisTimeBudget   time.Duration
	AnalysisQuota        int // Max tickers per invocation, 0 = unlimited
	AnalysisStaleAfter   time.Duration
	AnalysisLookbackDays int
	AnalysisKeepDays     int

	// In-process scheduler (for deployments without OS cron)
	SchedulerEnabled bool
	IngestSchedule   string
	AnalysisSchedule string

	// S3 snapshot backup
	BackupBucket string
	BackupPrefix string

	// AI advisor
	AnthropicAPIKey string
	AdvisorModel    string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("KRXWATCH_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:     absDataDir,
		Port:        getEnvAsInt("KRXWATCH_PORT", 8000),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DevMode:     getEnvAsBool("DEV_MODE", false),
		HolidayFile: getEnv("HOLIDAY_FILE", ""),

		ProviderBaseURL:    getEnv("PROVIDER_BASE_URL", "https://api.marketdata.krx.local"),
		ProviderTimeout:    getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second),
		ProviderMaxRetries: getEnvAsInt("PROVIDER_MAX_RETRIES", 3),
		ProviderRateLimit:  getEnvAsFloat("PROVIDER_RATE_LIMIT", 5.0),
		ProviderBackoff:    getEnvAsDuration("PROVIDER_BACKOFF", 2*time.Second),

		IngestHistoryFloor: getEnv("INGEST_HISTORY_FLOOR", ""),
		IngestStaleAfter:   getEnvAsDuration("INGEST_STALE_AFTER", 6*time.Hour),
		IngestMaxErrorRate: getEnvAsFloat("INGEST_MAX_ERROR_RATE", 0.5),

		AnalysisTimeBudget:   getEnvAsDuration("ANALYSIS_TIME_BUDGET", 50*time.Minute),
		AnalysisQuota:        getEnvAsInt("ANALYSIS_QUOTA", 50),
		AnalysisStaleAfter:   getEnvAsDuration("ANALYSIS_STALE_AFTER", 2*time.Hour),
		AnalysisLookbackDays: getEnvAsInt("ANALYSIS_LOOKBACK_DAYS", 200),
		AnalysisKeepDays:     getEnvAsInt("ANALYSIS_KEEP_DAYS", 30),

		SchedulerEnabled: getEnvAsBool("SCHEDULER_ENABLED", false),
		IngestSchedule:   getEnv("INGEST_SCHEDULE", "0 19 * * MON-FRI"),
		AnalysisSchedule: getEnv("ANALYSIS_SCHEDULE", "10 0-8,19-23 * * MON-FRI"),

		BackupBucket: getEnv("BACKUP_S3_BUCKET", ""),
		BackupPrefix: getEnv("BACKUP_S3_PREFIX", "krxwatch"),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AdvisorModel:    getEnv("ADVISOR_MODEL", "claude-sonnet-4-20250514"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.IngestHistoryFloor != "" {
		if _, err := time.Parse("2006-01-02", c.IngestHistoryFloor); err != nil {
			return fmt.Errorf("invalid INGEST_HISTORY_FLOOR %q: %w", c.IngestHistoryFloor, err)
		}
	}
	if c.AnalysisTimeBudget <= 0 {
		return fmt.Errorf("ANALYSIS_TIME_BUDGET must be positive")
	}
	if c.ProviderMaxRetries < 0 {
		return fmt.Errorf("PROVIDER_MAX_RETRIES must not be negative")
	}
	return nil
}

// Helper functions
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
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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
