package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	Pacing  PacingConfig  `yaml:"pacing"`
	Phone   PhoneConfig   `yaml:"phone"`
	API     APIConfig     `yaml:"api"`
	History HistoryConfig `yaml:"history"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// GatewayConfig contains messaging gateway settings
type GatewayConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`      // Per-call HTTP timeout (default: 30s)
	MediaPrefix string        `yaml:"media_prefix"` // URL prefix of gateway-hosted media (skips re-upload)
	DryRun      bool          `yaml:"dry_run"`      // Log sends instead of calling the gateway
}

// PacingConfig contains send pacing settings
type PacingConfig struct {
	DelayBetween        time.Duration `yaml:"delay_between"`         // Base delay between messages (default: 6s)
	Jitter              time.Duration `yaml:"jitter"`                // Randomized window width (0 = derived)
	MessagesBeforeBreak int           `yaml:"messages_before_break"` // Cool-down break every N messages (default: 25)
	BreakDuration       time.Duration `yaml:"break_duration"`        // Cool-down break length (default: 60s)
	RetryWaitMargin     time.Duration `yaml:"retry_wait_margin"`     // Extra wait on rate-limit retry without a hint (default: 2s)
}

// PhoneConfig contains phone normalization settings
type PhoneConfig struct {
	DefaultCountryCode string `yaml:"default_country_code"` // Replaces a bare leading zero
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	APIKey       string        `yaml:"api_key"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // HTTP read timeout (default: 30s)
	WriteTimeout time.Duration `yaml:"write_timeout"` // HTTP write timeout (default: 30s)
	IdleTimeout  time.Duration `yaml:"idle_timeout"`  // HTTP idle timeout (default: 60s)
}

// HistoryConfig contains outcome journal settings
type HistoryConfig struct {
	Path            string        `yaml:"path"`
	MaxAge          time.Duration `yaml:"max_age"`          // Delete journal entries older than this (0 = keep forever)
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // How often to run journal cleanup
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"` // Default: :9090
	Path       string `yaml:"path"`        // Default: /metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 30 * time.Second
	}

	if c.Pacing.DelayBetween == 0 {
		c.Pacing.DelayBetween = 6 * time.Second
	}
	if c.Pacing.MessagesBeforeBreak == 0 {
		c.Pacing.MessagesBeforeBreak = 25
	}
	if c.Pacing.BreakDuration == 0 {
		c.Pacing.BreakDuration = time.Minute
	}
	if c.Pacing.RetryWaitMargin == 0 {
		c.Pacing.RetryWaitMargin = 2 * time.Second
	}

	if c.Phone.DefaultCountryCode == "" {
		c.Phone.DefaultCountryCode = "62"
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.History.Path == "" {
		c.History.Path = "/var/lib/wablast/history.db"
	}
	if c.History.CleanupInterval == 0 {
		c.History.CleanupInterval = time.Hour
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !c.Gateway.DryRun && c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if !c.Gateway.DryRun && c.Gateway.APIKey == "" {
		return fmt.Errorf("gateway.api_key is required")
	}

	if c.Pacing.DelayBetween < 0 || c.Pacing.Jitter < 0 || c.Pacing.BreakDuration < 0 {
		return fmt.Errorf("pacing durations must not be negative")
	}
	if c.Pacing.MessagesBeforeBreak < 0 {
		return fmt.Errorf("pacing.messages_before_break must not be negative")
	}

	for _, r := range c.Phone.DefaultCountryCode {
		if r < '0' || r > '9' {
			return fmt.Errorf("phone.default_country_code must contain only digits")
		}
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}
