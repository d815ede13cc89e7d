// config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
data_directory: "data"
log_directory: "logs"
logs:
  log_level: "info"
  max_size_mb: 10
  max_backups: 5
  max_age_days: 30
  compress: true
risk:
  sweep_interval_seconds: 30
bots:
  - symbol: "ETHUSDT"
    leverage: 10
    investment_usdt: 100
    spread_bps: 2
    orders_per_side: 3
    order_size_percent: 10
    refresh_interval_ms: 15000
    max_orders_to_place: 6
    target_volume_usdt: 500000
    max_loss_usdt: 50
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigValid(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	require.Len(t, cfg.Bots, 1)
	bot := cfg.Bots[0]
	assert.Equal(t, "ETHUSDT", bot.Symbol)
	assert.Equal(t, 2.0, bot.SpreadBps)
	assert.Equal(t, 50.0, bot.MaxLossUSDT)

	// Network defaults survive when the block is omitted.
	assert.Equal(t, 10, cfg.Network.HTTPTimeoutSeconds)
	assert.Equal(t, 2400, cfg.Network.RequestWeightLimit)
	assert.Equal(t, 30, cfg.Network.KeepaliveMinutes)
	assert.Equal(t, 30, cfg.Risk.SweepIntervalSeconds)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Config file not found")
}

func TestLoadConfigMissingDataDirectory(t *testing.T) {
	yaml := `
log_directory: "logs"
logs:
  log_level: "info"
  max_size_mb: 10
  max_backups: 5
  max_age_days: 30
`
	_, err := LoadConfig(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_directory")
}

func TestLoadConfigRejectsDuplicateSymbols(t *testing.T) {
	yaml := validYAML + `
  - symbol: "ETHUSDT"
    leverage: 5
    investment_usdt: 50
    spread_bps: 3
    orders_per_side: 2
    order_size_percent: 10
    refresh_interval_ms: 10000
    max_orders_to_place: 4
`
	_, err := LoadConfig(writeConfig(t, yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate bot entry")
}

func TestBotConfigValidate(t *testing.T) {
	valid := BotConfig{
		Symbol: "ETHUSDT", Leverage: 10, InvestmentUSDT: 100, SpreadBps: 2,
		OrdersPerSide: 3, OrderSizePercent: 10, RefreshIntervalMs: 15000,
		MaxOrdersToPlace: 6,
	}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*BotConfig)
	}{
		{"missing symbol", func(b *BotConfig) { b.Symbol = "" }},
		{"zero leverage", func(b *BotConfig) { b.Leverage = 0 }},
		{"zero investment", func(b *BotConfig) { b.InvestmentUSDT = 0 }},
		{"zero spread", func(b *BotConfig) { b.SpreadBps = 0 }},
		{"zero orders per side", func(b *BotConfig) { b.OrdersPerSide = 0 }},
		{"order size over 100", func(b *BotConfig) { b.OrderSizePercent = 101 }},
		{"zero refresh", func(b *BotConfig) { b.RefreshIntervalMs = 0 }},
		{"zero max orders", func(b *BotConfig) { b.MaxOrdersToPlace = 0 }},
		{"negative max loss", func(b *BotConfig) { b.MaxLossUSDT = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadEnvConfigDefaults(t *testing.T) {
	t.Setenv("API_KEY", "k")
	t.Setenv("API_SECRET", "s")
	t.Setenv("BASE_URL", "")
	t.Setenv("WS_BASE_URL", "")

	env := LoadEnvConfig()
	assert.Equal(t, "k", env.ApiKey)
	assert.Equal(t, "https://fapi.asterdex.com", env.BaseURL)
	assert.Equal(t, "wss://fstream.asterdex.com", env.WSBaseURL)
}

func TestLoadEnvConfigOverrides(t *testing.T) {
	t.Setenv("BASE_URL", "https://testnet.example.com")
	t.Setenv("WS_BASE_URL", "wss://testnet-stream.example.com")

	env := LoadEnvConfig()
	assert.Equal(t, "https://testnet.example.com", env.BaseURL)
	assert.Equal(t, "wss://testnet-stream.example.com", env.WSBaseURL)
}
