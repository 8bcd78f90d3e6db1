package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit" mapstructure:"ratelimit"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Pool       PoolConfig       `yaml:"pool" mapstructure:"pool"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Validate   ValidateConfig   `yaml:"validate" mapstructure:"validate"`
	Checkpoint CheckpointCfg    `yaml:"checkpoint" mapstructure:"checkpoint"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// MonitoringConfig configures the background health checker.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DLQDepthThreshold    int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ExtractConfig configures batch orchestration.
type ExtractConfig struct {
	Workers   int    `yaml:"workers" mapstructure:"workers"`
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
}

// RateLimitConfig configures per-source request spacing.
type RateLimitConfig struct {
	DefaultIntervalMs int            `yaml:"default_interval_ms" mapstructure:"default_interval_ms"`
	PerSourceMs       map[string]int `yaml:"per_source_ms" mapstructure:"per_source_ms"`
	GlobalRPS         float64        `yaml:"global_rps" mapstructure:"global_rps"`
}

// CircuitConfig configures per-source circuit breaking.
type CircuitConfig struct {
	FailureThreshold    int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	RecoveryTimeoutSecs int `yaml:"recovery_timeout_secs" mapstructure:"recovery_timeout_secs"`
}

// RetryConfig configures fetch retry behavior.
type RetryConfig struct {
	MaxAttempts        int `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseBackoffMs      int `yaml:"base_backoff_ms" mapstructure:"base_backoff_ms"`
	MaxBackoffMs       int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	AttemptTimeoutSecs int `yaml:"attempt_timeout_secs" mapstructure:"attempt_timeout_secs"`
	DLQMaxRetries      int `yaml:"dlq_max_retries" mapstructure:"dlq_max_retries"`
}

// PoolConfig configures the fetch session pool.
type PoolConfig struct {
	MaxSessions        int `yaml:"max_sessions" mapstructure:"max_sessions"`
	RequestTimeoutSecs int `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// CacheConfig configures the per-run response cache.
type CacheConfig struct {
	Size    int `yaml:"size" mapstructure:"size"`
	TTLSecs int `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// ValidateConfig configures plausibility checks.
type ValidateConfig struct {
	MinAmount float64 `yaml:"min_amount" mapstructure:"min_amount"`
	MaxAmount float64 `yaml:"max_amount" mapstructure:"max_amount"`
	BandMin   float64 `yaml:"band_min" mapstructure:"band_min"`
	BandMax   float64 `yaml:"band_max" mapstructure:"band_max"`
}

// CheckpointCfg configures checkpoint flushing.
type CheckpointCfg struct {
	EveryItems int `yaml:"every_items" mapstructure:"every_items"`
	EverySecs  int `yaml:"every_secs" mapstructure:"every_secs"`
}

// ServerConfig configures the metrics/report server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CheckpointInterval returns the timer-based flush interval.
func (c CheckpointCfg) CheckpointInterval() time.Duration {
	return time.Duration(c.EverySecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TAXBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "taxbill.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("extract.workers", 4)
	v.SetDefault("extract.user_agent", "taxbill-cli/1.0")
	v.SetDefault("ratelimit.default_interval_ms", 2000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.recovery_timeout_secs", 60)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.attempt_timeout_secs", 45)
	v.SetDefault("retry.dlq_max_retries", 3)
	v.SetDefault("pool.max_sessions", 8)
	v.SetDefault("pool.request_timeout_secs", 30)
	v.SetDefault("cache.size", 512)
	v.SetDefault("cache.ttl_secs", 3600)
	v.SetDefault("validate.min_amount", 100)
	v.SetDefault("validate.max_amount", 100000)
	v.SetDefault("validate.band_min", 0.005)
	v.SetDefault("validate.band_max", 0.03)
	v.SetDefault("checkpoint.every_items", 25)
	v.SetDefault("checkpoint.every_secs", 30)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.dlq_depth_threshold", 50)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
