// config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// BotConfig holds the immutable trading parameters for a single volume bot.
// Edits never mutate a live config in place; the whole struct is replaced.
type BotConfig struct {
	Symbol            string  `yaml:"symbol" json:"symbol"`
	Leverage          int     `yaml:"leverage" json:"leverage"`
	InvestmentUSDT    float64 `yaml:"investment_usdt" json:"investmentUsdt"`
	SpreadBps         float64 `yaml:"spread_bps" json:"spreadBps"`
	OrdersPerSide     int     `yaml:"orders_per_side" json:"ordersPerSide"`
	OrderSizePercent  float64 `yaml:"order_size_percent" json:"orderSizePercent"`
	RefreshIntervalMs int     `yaml:"refresh_interval_ms" json:"refreshIntervalMs"`
	OrderDelayMs      int     `yaml:"order_delay_ms" json:"orderDelayMs"`
	CancelSettleMs    int     `yaml:"cancel_settle_ms" json:"cancelSettleMs"`
	UsePostOnly       bool    `yaml:"use_post_only" json:"usePostOnly"`
	MaxOrdersToPlace  int     `yaml:"max_orders_to_place" json:"maxOrdersToPlace"`

	// Volume campaign targets. MaxLossUSDT is a fee budget: once cumulative
	// fees reach it the engine stops itself.
	TargetVolumeUSDT float64 `yaml:"target_volume_usdt" json:"targetVolumeUsdt"`
	TargetHours      int     `yaml:"target_hours" json:"targetHours"`
	MaxLossUSDT      float64 `yaml:"max_loss_usdt" json:"maxLossUsdt"`
}

// Validate checks a single bot's trading parameters.
func (b *BotConfig) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("Critical config missing: bot 'symbol' must be explicitly specified")
	}
	if b.Leverage <= 0 {
		return fmt.Errorf("Config error: bot %s: 'leverage' must be positive", b.Symbol)
	}
	if b.InvestmentUSDT <= 0 {
		return fmt.Errorf("Config error: bot %s: 'investment_usdt' must be positive", b.Symbol)
	}
	if b.SpreadBps <= 0 {
		return fmt.Errorf("Config error: bot %s: 'spread_bps' must be positive", b.Symbol)
	}
	if b.OrdersPerSide <= 0 {
		return fmt.Errorf("Config error: bot %s: 'orders_per_side' must be positive", b.Symbol)
	}
	if b.OrderSizePercent <= 0 || b.OrderSizePercent > 100 {
		return fmt.Errorf("Config error: bot %s: 'order_size_percent' must be in (0, 100]", b.Symbol)
	}
	if b.RefreshIntervalMs <= 0 {
		return fmt.Errorf("Config error: bot %s: 'refresh_interval_ms' must be positive", b.Symbol)
	}
	if b.MaxOrdersToPlace <= 0 {
		return fmt.Errorf("Config error: bot %s: 'max_orders_to_place' must be positive", b.Symbol)
	}
	if b.MaxLossUSDT < 0 {
		return fmt.Errorf("Config error: bot %s: 'max_loss_usdt' cannot be negative", b.Symbol)
	}
	return nil
}

// LogConfig holds the configuration for logging.
type LogConfig struct {
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NetworkConfig holds all transport-level tunables shared by every client.
type NetworkConfig struct {
	HTTPTimeoutSeconds    int `yaml:"http_timeout_seconds"`
	RecvWindowMs          int `yaml:"recv_window_ms"`
	RequestWeightLimit    int `yaml:"request_weight_limit"`
	OrderCountLimit       int `yaml:"order_count_limit"`
	StreamMaxReconnects   int `yaml:"stream_max_reconnects"`
	StreamBackoffBaseMs   int `yaml:"stream_backoff_base_ms"`
	StreamBackoffCapMs    int `yaml:"stream_backoff_cap_ms"`
	KeepaliveMinutes      int `yaml:"keepalive_minutes"`
	StatusIntervalSeconds int `yaml:"status_interval_seconds"`
}

// RiskConfig holds the risk monitor sweep settings.
type RiskConfig struct {
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// Config is the top-level configuration structure.
type Config struct {
	Bots          []BotConfig    `yaml:"bots"`
	Network       *NetworkConfig `yaml:"network"`
	Risk          *RiskConfig    `yaml:"risk"`
	Logs          *LogConfig     `yaml:"logs"`
	DataDirectory string         `yaml:"data_directory"`
	LogDirectory  string         `yaml:"log_directory"`
}

// NewConfig creates a Config with allocated nested structs and safe defaults
// only for values that have an obvious non-strategy default. All trading
// parameters MUST come from the config file.
func NewConfig() *Config {
	return &Config{
		Network: &NetworkConfig{
			HTTPTimeoutSeconds:    10,
			RecvWindowMs:          5000,
			RequestWeightLimit:    2400,
			OrderCountLimit:       1200,
			StreamMaxReconnects:   10,
			StreamBackoffBaseMs:   1000,
			StreamBackoffCapMs:    60000,
			KeepaliveMinutes:      30,
			StatusIntervalSeconds: 30,
		},
		Risk: &RiskConfig{SweepIntervalSeconds: 30},
		Logs: &LogConfig{},
	}
}

// LoadConfig loads configuration from a given path, applies defaults, and validates it.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("Error: Config file not found at %s. Program cannot run without a config file", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the logical consistency and completeness of the entire configuration.
func (c *Config) Validate() error {
	if c.DataDirectory == "" {
		return fmt.Errorf("Critical config missing: 'data_directory' must be explicitly specified in the config file (e.g., 'data')")
	}
	if c.LogDirectory == "" {
		return fmt.Errorf("Critical config missing: 'log_directory' must be explicitly specified in the config file (e.g., 'logs')")
	}

	if c.Network == nil {
		return fmt.Errorf("Critical config missing: 'network' configuration block must be provided")
	}
	if c.Network.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("Config error: 'network.http_timeout_seconds' must be positive")
	}
	if c.Network.RecvWindowMs <= 0 {
		return fmt.Errorf("Config error: 'network.recv_window_ms' must be positive")
	}
	if c.Network.RequestWeightLimit <= 0 || c.Network.OrderCountLimit <= 0 {
		return fmt.Errorf("Config error: 'network' rate limit budgets must be positive")
	}
	if c.Network.StreamMaxReconnects <= 0 {
		return fmt.Errorf("Config error: 'network.stream_max_reconnects' must be positive")
	}
	if c.Network.StreamBackoffBaseMs <= 0 || c.Network.StreamBackoffCapMs < c.Network.StreamBackoffBaseMs {
		return fmt.Errorf("Config error: stream backoff base/cap are inconsistent")
	}
	if c.Network.KeepaliveMinutes <= 0 || c.Network.KeepaliveMinutes > 55 {
		return fmt.Errorf("Config error: 'network.keepalive_minutes' must be inside the listen key expiry window (1-55)")
	}
	if c.Network.StatusIntervalSeconds <= 0 {
		return fmt.Errorf("Config error: 'network.status_interval_seconds' must be positive")
	}

	if c.Risk == nil || c.Risk.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'risk.sweep_interval_seconds' must be provided and positive")
	}

	if c.Logs == nil {
		return fmt.Errorf("Critical config missing: 'logs' configuration block must be provided")
	}
	if c.Logs.LogLevel == "" {
		return fmt.Errorf("Critical config missing: 'logs.log_level' must be explicitly specified (e.g., 'info', 'debug', 'warn', 'error')")
	}
	if c.Logs.MaxSizeMB <= 0 || c.Logs.MaxBackups <= 0 || c.Logs.MaxAgeDays <= 0 {
		return fmt.Errorf("Critical config missing: 'logs' rotation settings must be positive")
	}

	seen := make(map[string]bool, len(c.Bots))
	for i := range c.Bots {
		if err := c.Bots[i].Validate(); err != nil {
			return err
		}
		if seen[c.Bots[i].Symbol] {
			return fmt.Errorf("Config error: duplicate bot entry for symbol %s", c.Bots[i].Symbol)
		}
		seen[c.Bots[i].Symbol] = true
	}

	return nil
}

// EnvConfig carries secrets and endpoints that never belong in the yaml file.
type EnvConfig struct {
	ApiKey    string
	ApiSecret string
	BaseURL   string
	WSBaseURL string
}

func LoadEnvConfig() *EnvConfig {
	cfg := &EnvConfig{
		ApiKey:    os.Getenv("API_KEY"),
		ApiSecret: os.Getenv("API_SECRET"),
		BaseURL:   os.Getenv("BASE_URL"),
		WSBaseURL: os.Getenv("WS_BASE_URL"),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://fapi.asterdex.com"
	}
	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = "wss://fstream.asterdex.com"
	}
	return cfg
}
