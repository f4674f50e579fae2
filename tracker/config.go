package tracker

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config configures the tracker service.
type Config struct {
	// Workers bounds concurrent item runs in RunBatch. Default: 4.
	Workers int `yaml:"workers"`

	Browser  BrowserConfig  `yaml:"browser"`
	Discover DiscoverConfig `yaml:"discover"`
	Extract  ExtractConfig  `yaml:"extract"`
	Retry    RetryConfig    `yaml:"retry"`
	Throttle ThrottleConfig `yaml:"throttle"`
	Compact  CompactConfig  `yaml:"compact"`
}

// BrowserConfig configures the headless browser.
type BrowserConfig struct {
	// RemoteURL connects to an external Chrome over WebSocket instead of
	// launching one.
	RemoteURL   string        `yaml:"remote_url"`
	NavTimeout  time.Duration `yaml:"nav_timeout"`
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// DiscoverConfig configures colorway discovery.
type DiscoverConfig struct {
	// Selectors to probe for swatch controls, first match wins. Empty
	// means the built-in set.
	Selectors []string `yaml:"selectors"`
	// MaxColorways caps variants per item. Default: 12.
	MaxColorways int `yaml:"max_colorways"`
	// SettleTimeout bounds the DOM settle wait after a swatch click.
	// Default: 10s.
	SettleTimeout time.Duration `yaml:"settle_timeout"`
}

// ExtractConfig configures the two-tier extraction pipeline.
type ExtractConfig struct {
	// APIKey for the semantic service. Falls back to the
	// ANTHROPIC_API_KEY environment variable.
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
	// Timeout bounds one semantic call. Default: 60s.
	Timeout           time.Duration `yaml:"timeout"`
	MaxContentBytes   int           `yaml:"max_content_bytes"`
	MaxPlausiblePrice float64       `yaml:"max_plausible_price"`
	// RecipeMaxFailures is the consecutive fallback failures tolerated
	// before a domain recipe is invalidated. Default: 3.
	RecipeMaxFailures int `yaml:"recipe_max_failures"`
}

// RetryConfig configures the per-item retry loop.
type RetryConfig struct {
	// MaxAttempts bounds tries per run, rate-limit waits excluded.
	// Default: 3.
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// ThrottleConfig configures the per-domain request pacing.
type ThrottleConfig struct {
	Interval time.Duration `yaml:"interval"`
	Burst    int           `yaml:"burst"`
}

// CompactConfig configures history retention.
type CompactConfig struct {
	WeeklyAfterMonths  int `yaml:"weekly_after_months"`
	MonthlyAfterMonths int `yaml:"monthly_after_months"`
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Extract.APIKey == "" {
		c.Extract.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if c.Extract.Timeout <= 0 {
		c.Extract.Timeout = 60 * time.Second
	}
	if c.Discover.SettleTimeout <= 0 {
		c.Discover.SettleTimeout = 10 * time.Second
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = time.Second
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 30 * time.Second
	}
	// Browser, Throttle, Extract content bounds and Compact tiers default
	// inside their own packages.
}

// LoadConfigFile reads a YAML config. A missing file yields the defaults.
func LoadConfigFile(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.defaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
	}
	cfg.defaults()
	return cfg, nil
}
