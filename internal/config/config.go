// Package config provides configuration management functionality.
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

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool
	// CORSOrigins lists allowed browser origins; "*" allows any
	CORSOrigins []string

	Scheduler   SchedulerConfig
	Valuation   ValuationConfig
	Retention   RetentionConfig
	Executor    ExecutorConfig
	Notifier    NotifierConfig
	Backup      BackupConfig
	Maintenance MaintenanceConfig
}

// SchedulerConfig holds the snipe scheduler thresholds
type SchedulerConfig struct {
	DefaultLeadTime  time.Duration // Lead time used when a snipe does not set one
	GraceWindow      time.Duration // How late a fire may still execute after downtime
	ArmAhead         time.Duration // How long before fire time a snipe is armed (no longer cancellable)
	MaxAttempts      int           // Bid submissions per snipe, including the first
	RetryBackoff     time.Duration // Base backoff between attempts, doubled each retry
	SafetyMargin     time.Duration // Minimum time before auction end required to retry
	ExecutionTimeout time.Duration // Deadline for a single bid submission
	Workers          int           // Concurrent bid executions
	RescanInterval   time.Duration // How often the index is rebuilt from the store
	ShardCount       int
	ShardIndex       int
}

// ValuationConfig holds valuation and comparables settings
type ValuationConfig struct {
	StaleAfter       time.Duration // Comparables older than this are flagged stale
	MinComparables   int           // Minimum sale count before the market stage applies
	MarketAdjustment bool
	SalesWindow      time.Duration // Window of sales used to rebuild comparables
	RefreshSchedule  string        // Cron expression for comparables refresh
}

// RetentionConfig holds listing archival settings
type RetentionConfig struct {
	ArchiveAfter time.Duration
	Schedule     string
}

// ExecutorConfig selects the BidExecutor implementation
type ExecutorConfig struct {
	Mode    string // "dry_run" or "http"
	BaseURL string
	APIKey  string
}

// NotifierConfig holds notification delivery settings
type NotifierConfig struct {
	WebhookTimeout time.Duration
}

// BackupConfig holds object storage backup settings
type BackupConfig struct {
	Provider  string // "none", "s3" or "minio"
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Schedule  string
	KeepLast  int
}

// MaintenanceConfig holds schedules for housekeeping jobs
type MaintenanceConfig struct {
	LedgerVerifySchedule string
	WALCheckSchedule     string
	VacuumSchedule       string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("ARBITER_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:     absDataDir,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Port:        getEnvAsInt("PORT", 8080),
		DevMode:     getEnvAsBool("DEV_MODE", false),
		CORSOrigins: getEnvAsList("CORS_ORIGINS", "*"),
		Scheduler: SchedulerConfig{
			DefaultLeadTime:  getEnvAsDuration("SNIPE_DEFAULT_LEAD_TIME", 5*time.Second),
			GraceWindow:      getEnvAsDuration("SNIPE_GRACE_WINDOW", 2*time.Second),
			ArmAhead:         getEnvAsDuration("SNIPE_ARM_AHEAD", 30*time.Second),
			MaxAttempts:      getEnvAsInt("SNIPE_MAX_ATTEMPTS", 3),
			RetryBackoff:     getEnvAsDuration("SNIPE_RETRY_BACKOFF", 500*time.Millisecond),
			SafetyMargin:     getEnvAsDuration("SNIPE_SAFETY_MARGIN", time.Second),
			ExecutionTimeout: getEnvAsDuration("SNIPE_EXECUTION_TIMEOUT", 10*time.Second),
			Workers:          getEnvAsInt("SNIPE_WORKERS", 4),
			RescanInterval:   getEnvAsDuration("SNIPE_RESCAN_INTERVAL", 30*time.Second),
			ShardCount:       getEnvAsInt("SNIPE_SHARD_COUNT", 1),
			ShardIndex:       getEnvAsInt("SNIPE_SHARD_INDEX", 0),
		},
		Valuation: ValuationConfig{
			StaleAfter:       getEnvAsDuration("COMPS_STALE_AFTER", 24*time.Hour),
			MinComparables:   getEnvAsInt("COMPS_MIN_COUNT", 1),
			MarketAdjustment: getEnvAsBool("VALUATION_MARKET_ADJUSTMENT", true),
			SalesWindow:      getEnvAsDuration("COMPS_SALES_WINDOW", 90*24*time.Hour),
			RefreshSchedule:  getEnv("COMPS_REFRESH_SCHEDULE", "@every 15m"),
		},
		Retention: RetentionConfig{
			ArchiveAfter: getEnvAsDuration("LISTING_ARCHIVE_AFTER", 30*24*time.Hour),
			Schedule:     getEnv("LISTING_ARCHIVE_SCHEDULE", "0 30 0 * * *"),
		},
		Executor: ExecutorConfig{
			Mode:    getEnv("BID_EXECUTOR_MODE", "dry_run"),
			BaseURL: getEnv("BID_EXECUTOR_URL", ""),
			APIKey:  getEnv("BID_EXECUTOR_API_KEY", ""),
		},
		Notifier: NotifierConfig{
			WebhookTimeout: getEnvAsDuration("NOTIFIER_WEBHOOK_TIMEOUT", 5*time.Second),
		},
		Backup: BackupConfig{
			Provider:  getEnv("BACKUP_PROVIDER", "none"),
			Bucket:    getEnv("BACKUP_BUCKET", "arbiter-backups"),
			Endpoint:  getEnv("BACKUP_ENDPOINT", ""),
			Region:    getEnv("BACKUP_REGION", "auto"),
			AccessKey: getEnv("BACKUP_ACCESS_KEY", ""),
			SecretKey: getEnv("BACKUP_SECRET_KEY", ""),
			UseSSL:    getEnvAsBool("BACKUP_USE_SSL", true),
			Schedule:  getEnv("BACKUP_SCHEDULE", "0 0 3 * * *"),
			KeepLast:  getEnvAsInt("BACKUP_KEEP_LAST", 7),
		},
		Maintenance: MaintenanceConfig{
			LedgerVerifySchedule: getEnv("LEDGER_VERIFY_SCHEDULE", "0 0 4 * * *"),
			WALCheckSchedule:     getEnv("WAL_CHECK_SCHEDULE", "@hourly"),
			VacuumSchedule:       getEnv("VACUUM_SCHEDULE", "0 0 5 * * 0"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	s := c.Scheduler
	if s.Workers < 1 {
		return fmt.Errorf("SNIPE_WORKERS must be at least 1, got %d", s.Workers)
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("SNIPE_MAX_ATTEMPTS must be at least 1, got %d", s.MaxAttempts)
	}
	if s.ShardCount < 1 {
		return fmt.Errorf("SNIPE_SHARD_COUNT must be at least 1, got %d", s.ShardCount)
	}
	if s.ShardIndex < 0 || s.ShardIndex >= s.ShardCount {
		return fmt.Errorf("SNIPE_SHARD_INDEX must be in [0, %d), got %d", s.ShardCount, s.ShardIndex)
	}
	if s.DefaultLeadTime < time.Second {
		return fmt.Errorf("SNIPE_DEFAULT_LEAD_TIME must be at least 1s, got %s", s.DefaultLeadTime)
	}
	if s.GraceWindow < 0 || s.ArmAhead < 0 || s.SafetyMargin < 0 {
		return fmt.Errorf("scheduler windows must not be negative")
	}
	if s.ExecutionTimeout <= 0 {
		return fmt.Errorf("SNIPE_EXECUTION_TIMEOUT must be positive")
	}

	if c.Valuation.MinComparables < 1 {
		return fmt.Errorf("COMPS_MIN_COUNT must be at least 1, got %d", c.Valuation.MinComparables)
	}

	switch c.Executor.Mode {
	case "dry_run":
	case "http":
		if c.Executor.BaseURL == "" {
			return fmt.Errorf("BID_EXECUTOR_URL is required when BID_EXECUTOR_MODE=http")
		}
	default:
		return fmt.Errorf("unknown BID_EXECUTOR_MODE %q", c.Executor.Mode)
	}

	switch c.Backup.Provider {
	case "none", "s3", "minio":
	default:
		return fmt.Errorf("unknown BACKUP_PROVIDER %q", c.Backup.Provider)
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

// getEnvAsList splits a comma-separated value, dropping blank entries
func getEnvAsList(key, defaultValue string) []string {
	var out []string
	for _, v := range strings.Split(getEnv(key, defaultValue), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// getEnvAsDuration accepts Go durations ("2s", "15m") or bare seconds ("5")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
