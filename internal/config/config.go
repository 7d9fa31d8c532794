package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ControlConfig holds control connection configuration
type ControlConfig struct {
	DefaultPort    int           `yaml:"default_port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StreamingConfig holds per-endpoint streaming configuration
type StreamingConfig struct {
	MaxConnectAttempts int           `yaml:"max_connect_attempts"`
	InitialBackoff     time.Duration `yaml:"initial_backoff"`
	MaxBackoff         time.Duration `yaml:"max_backoff"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	SendTimeout        time.Duration `yaml:"send_timeout"`
	FramePartitions    int           `yaml:"frame_partitions"`
	MaxUnitBytes       int64         `yaml:"max_unit_bytes"`
	MaxUnitPartitions  int           `yaml:"max_unit_partitions"`
	MaxPlanBytes       int64         `yaml:"max_plan_bytes"`
	ThrottleMbps       float64       `yaml:"throttle_mbps"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

// SourceConfig holds source directory configuration
type SourceConfig struct {
	TargetKeyspace   string `yaml:"target_keyspace"`
	ValidateParallel int    `yaml:"validate_parallel"`
	MaxKeySize       int    `yaml:"max_key_size"`
	MaxValueSize     int    `yaml:"max_value_size"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete configuration for the bulk loader
type Config struct {
	Control   ControlConfig   `yaml:"control"`
	Streaming StreamingConfig `yaml:"streaming"`
	Source    SourceConfig    `yaml:"source"`
	Ignore    []string        `yaml:"ignore"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if not specified
	setDefaults(&cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Control.DefaultPort == 0 {
		cfg.Control.DefaultPort = 50051
	}
	if cfg.Control.ConnectTimeout == 0 {
		cfg.Control.ConnectTimeout = 5 * time.Second
	}
	if cfg.Control.RequestTimeout == 0 {
		cfg.Control.RequestTimeout = 10 * time.Second
	}

	if cfg.Streaming.MaxConnectAttempts == 0 {
		cfg.Streaming.MaxConnectAttempts = 3
	}
	if cfg.Streaming.InitialBackoff == 0 {
		cfg.Streaming.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.Streaming.MaxBackoff == 0 {
		cfg.Streaming.MaxBackoff = 5 * time.Second
	}
	if cfg.Streaming.ConnectTimeout == 0 {
		cfg.Streaming.ConnectTimeout = 5 * time.Second
	}
	if cfg.Streaming.SendTimeout == 0 {
		cfg.Streaming.SendTimeout = 5 * time.Minute
	}
	if cfg.Streaming.FramePartitions == 0 {
		cfg.Streaming.FramePartitions = 500
	}
	if cfg.Streaming.MaxUnitBytes == 0 {
		cfg.Streaming.MaxUnitBytes = 64 * 1024 * 1024 // 64MB
	}
	if cfg.Streaming.MaxPlanBytes == 0 {
		cfg.Streaming.MaxPlanBytes = 4 * 1024 * 1024 * 1024 // 4GB
	}
	if cfg.Streaming.MaxUnitPartitions == 0 {
		cfg.Streaming.MaxUnitPartitions = 100000
	}
	if cfg.Streaming.ShutdownTimeout == 0 {
		cfg.Streaming.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Source.ValidateParallel == 0 {
		cfg.Source.ValidateParallel = 4
	}
	if cfg.Source.MaxKeySize == 0 {
		cfg.Source.MaxKeySize = 1024
	}
	if cfg.Source.MaxValueSize == 0 {
		cfg.Source.MaxValueSize = 10 * 1024 * 1024 // 10MB
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Control.DefaultPort < 1 || c.Control.DefaultPort > 65535 {
		return fmt.Errorf("control.default_port must be between 1 and 65535")
	}
	if c.Control.ConnectTimeout < 0 || c.Control.RequestTimeout < 0 {
		return fmt.Errorf("control timeouts must not be negative")
	}
	if c.Streaming.MaxConnectAttempts < 1 {
		return fmt.Errorf("streaming.max_connect_attempts must be at least 1")
	}
	if c.Streaming.InitialBackoff > c.Streaming.MaxBackoff {
		return fmt.Errorf("streaming.initial_backoff must not exceed streaming.max_backoff")
	}
	if c.Streaming.FramePartitions < 1 {
		return fmt.Errorf("streaming.frame_partitions must be at least 1")
	}
	if c.Streaming.MaxPlanBytes < c.Streaming.MaxUnitBytes {
		return fmt.Errorf("streaming.max_plan_bytes must be at least streaming.max_unit_bytes")
	}
	if c.Streaming.MaxUnitBytes < 1 || c.Streaming.MaxUnitPartitions < 1 {
		return fmt.Errorf("streaming unit limits must be positive")
	}
	if c.Streaming.ThrottleMbps < 0 {
		return fmt.Errorf("streaming.throttle_mbps must not be negative")
	}
	if c.Source.ValidateParallel < 1 {
		return fmt.Errorf("source.validate_parallel must be at least 1")
	}
	if c.Source.MaxKeySize < 1 || c.Source.MaxValueSize < 1 {
		return fmt.Errorf("source entry limits must be positive")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json")
	}
	return nil
}
