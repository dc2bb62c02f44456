package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Source     SourceConfig
	Logging    LogConfig
	Engine     EngineConfig
	Corruption CorruptionConfig
}

// ServerConfig holds the status HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" yaml:"port" toml:"port"`
	Host string `envconfig:"HOST" yaml:"host" toml:"host"`
}

// SourceConfig holds the monitoring API data source configuration.
type SourceConfig struct {
	BaseURL       string        `envconfig:"SOURCE_BASE_URL" yaml:"base_url" toml:"base_url"`
	Timeout       time.Duration `envconfig:"SOURCE_TIMEOUT" yaml:"timeout" toml:"timeout"`
	MaxRetries    int           `envconfig:"SOURCE_MAX_RETRIES" yaml:"max_retries" toml:"max_retries"`
	PollInterval  time.Duration `envconfig:"SOURCE_POLL_INTERVAL" yaml:"poll_interval" toml:"poll_interval"`
	RequestsPerSc int           `envconfig:"SOURCE_RPS" yaml:"requests_per_second" toml:"requests_per_second"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// EngineConfig holds update engine tunables.
type EngineConfig struct {
	DefaultThrottle     time.Duration `envconfig:"ENGINE_DEFAULT_THROTTLE" yaml:"default_throttle" toml:"default_throttle"`
	ListThrottle        time.Duration `envconfig:"ENGINE_LIST_THROTTLE" yaml:"list_throttle" toml:"list_throttle"`
	NumericThrottle     time.Duration `envconfig:"ENGINE_NUMERIC_THROTTLE" yaml:"numeric_throttle" toml:"numeric_throttle"`
	LockStaleAfter      time.Duration `envconfig:"ENGINE_LOCK_STALE_AFTER" yaml:"lock_stale_after" toml:"lock_stale_after"`
	QueueCap            int           `envconfig:"ENGINE_QUEUE_CAP" yaml:"queue_cap" toml:"queue_cap"`
	MaxRollbackAttempts int           `envconfig:"ENGINE_MAX_ROLLBACK_ATTEMPTS" yaml:"max_rollback_attempts" toml:"max_rollback_attempts"`
	NodeCountTolerance  int           `envconfig:"ENGINE_NODE_TOLERANCE" yaml:"node_count_tolerance" toml:"node_count_tolerance"`
	DefaultNodeLimit    int           `envconfig:"ENGINE_DEFAULT_NODE_LIMIT" yaml:"default_node_limit" toml:"default_node_limit"`
	SweepInterval       time.Duration `envconfig:"ENGINE_SWEEP_INTERVAL" yaml:"sweep_interval" toml:"sweep_interval"`
	MaxConcurrent       int           `envconfig:"ENGINE_MAX_CONCURRENT" yaml:"max_concurrent" toml:"max_concurrent"`
	BatchTimeout        time.Duration `envconfig:"ENGINE_BATCH_TIMEOUT" yaml:"batch_timeout" toml:"batch_timeout"`
	RefreshDelay        time.Duration `envconfig:"ENGINE_REFRESH_DELAY" yaml:"refresh_delay" toml:"refresh_delay"`
	ErrorLogCap         int           `envconfig:"ENGINE_ERROR_LOG_CAP" yaml:"error_log_cap" toml:"error_log_cap"`
	SessionLogCap       int           `envconfig:"ENGINE_SESSION_LOG_CAP" yaml:"session_log_cap" toml:"session_log_cap"`
	SessionLogPath      string        `envconfig:"ENGINE_SESSION_LOG_PATH" yaml:"session_log_path" toml:"session_log_path"`
}

// CorruptionConfig holds the corruption detection thresholds. These are
// tunables, not load-bearing constants; tests parameterize them.
type CorruptionConfig struct {
	Enabled           bool    `envconfig:"CORRUPTION_ENABLED" yaml:"enabled" toml:"enabled"`
	OversizeFactor    float64 `envconfig:"CORRUPTION_OVERSIZE_FACTOR" yaml:"oversize_factor" toml:"oversize_factor"`
	DuplicateRatio    float64 `envconfig:"CORRUPTION_DUPLICATE_RATIO" yaml:"duplicate_ratio" toml:"duplicate_ratio"`
	MinItemsForDup    int     `envconfig:"CORRUPTION_MIN_ITEMS" yaml:"min_items_for_dup" toml:"min_items_for_dup"`
	LeakRatio         float64 `envconfig:"CORRUPTION_LEAK_RATIO" yaml:"leak_ratio" toml:"leak_ratio"`
	MinElemsForLeak   int     `envconfig:"CORRUPTION_MIN_ELEMS" yaml:"min_elems_for_leak" toml:"min_elems_for_leak"`
	ScrollOvershootPx int     `envconfig:"CORRUPTION_SCROLL_OVERSHOOT" yaml:"scroll_overshoot_px" toml:"scroll_overshoot_px"`
	ExtentFactor      float64 `envconfig:"CORRUPTION_EXTENT_FACTOR" yaml:"extent_factor" toml:"extent_factor"`
	CriticalReasons   int     `envconfig:"CORRUPTION_CRITICAL_REASONS" yaml:"critical_reasons" toml:"critical_reasons"`
}

// Load loads configuration from environment variables on top of the
// defaults. Fields without a set variable keep their default value, so
// the same Process pass also serves as the override step for LoadFile.
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// LoadFile loads configuration from a YAML or TOML file, then applies
// environment variable overrides on top.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to apply env overrides: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8090",
			Host: "0.0.0.0",
		},
		Source: SourceConfig{
			BaseURL:       "http://localhost:3000",
			Timeout:       10 * time.Second,
			MaxRetries:    2,
			PollInterval:  30 * time.Second,
			RequestsPerSc: 10,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Engine: EngineConfig{
			DefaultThrottle:     time.Second,
			ListThrottle:        2 * time.Second,
			NumericThrottle:     500 * time.Millisecond,
			LockStaleAfter:      30 * time.Second,
			QueueCap:            5,
			MaxRollbackAttempts: 3,
			NodeCountTolerance:  5,
			DefaultNodeLimit:    1000,
			SweepInterval:       30 * time.Second,
			MaxConcurrent:       3,
			BatchTimeout:        25 * time.Second,
			RefreshDelay:        2 * time.Second,
			ErrorLogCap:         100,
			SessionLogCap:       50,
		},
		Corruption: CorruptionConfig{
			Enabled:           true,
			OversizeFactor:    2.0,
			DuplicateRatio:    0.2,
			MinItemsForDup:    10,
			LeakRatio:         0.6,
			MinElemsForLeak:   20,
			ScrollOvershootPx: 10,
			ExtentFactor:      50,
			CriticalReasons:   2,
		},
	}
}
