package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the main configuration struct combining all sub-configs
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Session   SessionConfig   `mapstructure:"session"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Health    HealthConfig    `mapstructure:"health"`
	Logs      LogsConfig      `mapstructure:"logs"`
	Usage     UsageConfig     `mapstructure:"usage"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Manifest  ManifestConfig  `mapstructure:"manifest"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// StoreConfig holds relational store configuration
type StoreConfig struct {
	// Driver selects the GORM dialector
	Driver string `mapstructure:"driver" validate:"omitempty,oneof=postgres sqlite"`

	// DSN is the driver-specific connection string
	DSN string `mapstructure:"dsn"`

	Pool PoolConfig `mapstructure:"pool"`
}

// PoolConfig holds connection pool settings
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open" validate:"min=0"`
	MaxIdle     int           `mapstructure:"max_idle" validate:"min=0"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// QueueConfig holds the durable job queue configuration
type QueueConfig struct {
	// Path of the bbolt database file
	Path string `mapstructure:"path"`

	// Visibility timeout for claimed jobs
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`

	// Attempts before a job is dead lettered
	MaxAttempts int `mapstructure:"max_attempts" validate:"min=1"`

	// Retry backoff: base * 2^(attempt-1), capped
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`

	// Retention bounds for terminal jobs
	CompletedRetention time.Duration `mapstructure:"completed_retention"`
	CompletedKeep      int           `mapstructure:"completed_keep" validate:"min=1"`
	FailedRetention    time.Duration `mapstructure:"failed_retention"`
	FailedKeep         int           `mapstructure:"failed_keep" validate:"min=1"`

	// Sweep cadences
	VisibilityInterval time.Duration `mapstructure:"visibility_interval"`
	RetentionInterval  time.Duration `mapstructure:"retention_interval"`
}

// RuntimeConfig holds container runtime configuration
type RuntimeConfig struct {
	// Endpoint overrides DOCKER_HOST when set
	Endpoint    string        `mapstructure:"endpoint"`
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
}

// SessionConfig holds assistant session configuration
type SessionConfig struct {
	// Command launches the assistant inside the container
	Command    string   `mapstructure:"command"`
	Args       []string `mapstructure:"args"`
	WorkingDir string   `mapstructure:"working_dir"`

	// Captured output cap per stream in bytes
	OutputLimitBytes int64 `mapstructure:"output_limit_bytes" validate:"min=1024"`

	// Daemon readiness polling
	StartTimeout time.Duration `mapstructure:"start_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Background agent quiescence barrier
	BarrierPoll    time.Duration `mapstructure:"barrier_poll"`
	BarrierTimeout time.Duration `mapstructure:"barrier_timeout"`

	// Idle eviction
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	EvictInterval time.Duration `mapstructure:"evict_interval"`
}

// WorkerConfig holds instruction worker configuration
type WorkerConfig struct {
	// Token bucket for job claims per container
	RateLimit  int           `mapstructure:"rate_limit" validate:"min=1"`
	RateWindow time.Duration `mapstructure:"rate_window"`

	// Claim poll cadence while the queue is empty
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Heartbeat cadence for claimed jobs
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// HealthConfig holds health monitor configuration
type HealthConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	MaxRecoveryAttempts int           `mapstructure:"max_recovery_attempts" validate:"min=0"`
	RecoveryDelay       time.Duration `mapstructure:"recovery_delay"`
	VerifyDelay         time.Duration `mapstructure:"verify_delay"`
}

// LogsConfig holds log collector configuration
type LogsConfig struct {
	BatchSize         int           `mapstructure:"batch_size" validate:"min=1"`
	FlushInterval     time.Duration `mapstructure:"flush_interval"`
	Retention         time.Duration `mapstructure:"retention"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts" validate:"min=0"`
	Lookback          time.Duration `mapstructure:"lookback"`
}

// UsageConfig holds usage accountant configuration
type UsageConfig struct {
	Retention       time.Duration `mapstructure:"retention"`
	CompactInterval time.Duration `mapstructure:"compact_interval"`
}

// MetricsConfig holds the operational HTTP listener configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// ManifestConfig holds fleet manifest configuration
type ManifestConfig struct {
	Path     string        `mapstructure:"path"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// LifecycleConfig holds container transition configuration
type LifecycleConfig struct {
	// Drain bound for in-flight jobs during stop
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
	DrainPoll    time.Duration `mapstructure:"drain_poll"`
}

// LoadConfig loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. Config file (corral.yaml)
// 3. Defaults (lowest priority)
func LoadConfig(configPath string) (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	v := newViper(configPath)

	// Read config file (optional - don't error if missing)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we'll use env vars and defaults
	}

	return unmarshalConfig(v)
}

// MustLoadConfig loads configuration and panics on error (for use in main.go)
func MustLoadConfig(configPath string) *Config {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()

	// Set config file details
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("corral")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/corral")
	}

	// Enable environment variable reading
	v.SetEnvPrefix("CORRAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func unmarshalConfig(v *viper.Viper) (*Config, error) {
	// Special handling for DATABASE_URL environment variable
	// This allows users to set the full connection string without CORRAL_ prefix
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		v.Set("store.dsn", dbURL)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	SetDefaults(&cfg)

	// Validate configuration
	if err := ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
