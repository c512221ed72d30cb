package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/trade_engine/internal/config"
	"go.uber.org/multierr"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
max_open_positions: 5
stake_amount: 0.002
minimal_roi:
  "10": 0.01
exchange:
  pair_whitelist: [ETH/BTC, XRP/BTC]
  pair_blacklist: [XRP/BTC]
  timeout: 3s
loop:
  interval: 1s
experimental:
  sell_profit_only: true
`)
	t.Setenv("BOT_EXCHANGE_API_KEY", "key-from-env")
	t.Setenv("BOT_STORAGE_DSN", "/tmp/from-env.db")
	t.Setenv("BOT_SERVER_PORT", "9090")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.MaxOpenPositions)
	assert.Equal(t, 0.002, cfg.StakeAmount)
	assert.Equal(t, []string{"ETH/BTC", "XRP/BTC"}, cfg.Exchange.PairWhitelist)
	assert.Equal(t, 3*time.Second, cfg.Exchange.Timeout)
	assert.Equal(t, time.Second, cfg.Loop.Interval)
	assert.True(t, cfg.Experimental.SellProfitOnly)
	assert.True(t, cfg.Experimental.UseSellSignal, "default kept")
	assert.Equal(t, "bybit", cfg.Exchange.Name, "default kept")
	assert.Equal(t, "key-from-env", cfg.Exchange.APIKey)
	assert.Equal(t, "/tmp/from-env.db", cfg.Storage.DSN)
	assert.Equal(t, 9090, cfg.Server.Port)

	roi, err := cfg.ROITable()
	require.NoError(t, err)
	require.Len(t, roi, 1, "configured table replaces the default one")
	assert.Equal(t, 10*time.Minute, roi[0].After)
}

func TestLoad_DefaultROIWhenOmitted(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, "exchange:\n  pair_whitelist: [ETH/BTC]\n"))
	require.NoError(t, err)

	roi, err := cfg.ROITable()
	require.NoError(t, err)
	assert.Len(t, roi, 3)
	assert.Equal(t, 0.04, roi[0].Ratio)
}

func TestLoad_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = config.Load(writeConfig(t, "max_open_positionz: 3\n"))
	assert.Error(t, err, "unknown keys are rejected")
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxOpenPositions)
	assert.Error(t, cfg.Validate(), "whitelist is required")
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		errs   int
	}{
		{"Valid", func(c *config.Config) {}, 0},
		{"Empty Whitelist", func(c *config.Config) { c.Exchange.PairWhitelist = nil }, 1},
		{"Malformed Pair", func(c *config.Config) { c.Exchange.PairWhitelist = []string{"ETHBTC"} }, 1},
		{"Balance Above One", func(c *config.Config) { c.BidStrategy.AskLastBalance = 1.5 }, 1},
		{"Balance Below Zero", func(c *config.Config) { c.BidStrategy.AskLastBalance = -0.1 }, 1},
		{"Zero Max Open", func(c *config.Config) { c.MaxOpenPositions = 0 }, 1},
		{"Fee Of One", func(c *config.Config) { c.Fee = 1 }, 1},
		{"Positive Stoploss", func(c *config.Config) { c.StopLoss = 0.1 }, 1},
		{"Bad ROI Key", func(c *config.Config) { c.MinimalROI = map[string]float64{"soon": 0.1} }, 1},
		{"Unknown Driver", func(c *config.Config) { c.Storage.Driver = "mongo" }, 1},
		{"Telegram Without Token", func(c *config.Config) { c.Telegram.Enabled = true }, 1},
		{"Unknown Trigger", func(c *config.Config) { c.Strategy.Buy.Trigger = "moon" }, 1},
		{
			"Several Problems",
			func(c *config.Config) {
				c.MaxOpenPositions = 0
				c.Fee = -1
				c.Storage.Driver = ""
			},
			3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.Exchange.PairWhitelist = []string{"ETH/BTC"}
			tt.mutate(&cfg)

			err := cfg.Validate()
			assert.Len(t, multierr.Errors(err), tt.errs)
		})
	}
}
