package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vitos/trade_engine/internal/domain"
	"github.com/vitos/trade_engine/internal/strategy"
	"go.uber.org/multierr"
)

type Config struct {
	MaxOpenPositions int                `yaml:"max_open_positions"`
	StakeCurrency    string             `yaml:"stake_currency"`
	StakeAmount      float64            `yaml:"stake_amount"`
	FiatCurrency     string             `yaml:"fiat_display_currency"`
	Fee              float64            `yaml:"fee"`
	MinimalROI       map[string]float64 `yaml:"minimal_roi"`
	StopLoss         float64            `yaml:"stoploss"`

	BidStrategy struct {
		AskLastBalance float64 `yaml:"ask_last_balance"`
	} `yaml:"bid_strategy"`

	Experimental struct {
		UseSellSignal  bool `yaml:"use_sell_signal"`
		SellProfitOnly bool `yaml:"sell_profit_only"`
	} `yaml:"experimental"`

	Exchange ExchangeConfig `yaml:"exchange"`
	Loop     LoopConfig     `yaml:"loop"`
	Storage  StorageConfig  `yaml:"storage"`
	Telegram TelegramConfig `yaml:"telegram"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`

	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Strategy StrategyConfig `yaml:"strategy"`
}

type ExchangeConfig struct {
	Name             string        `yaml:"name"`
	APIKey           string        `yaml:"api_key"`
	APISecret        string        `yaml:"api_secret"`
	RESTEndpoint     string        `yaml:"rest_endpoint"`
	WSEndpoint       string        `yaml:"ws_endpoint"`
	PairWhitelist    []string      `yaml:"pair_whitelist"`
	PairBlacklist    []string      `yaml:"pair_blacklist"`
	Timeout          time.Duration `yaml:"timeout"`
	TickerStaleAfter time.Duration `yaml:"ticker_stale_after"`
}

type LoopConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BackoffMax time.Duration `yaml:"backoff_max"`
	Workers    int           `yaml:"workers"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type StrategyConfig struct {
	Interval   string         `yaml:"interval"`
	StaleAfter time.Duration  `yaml:"stale_after"`
	Buy        strategy.Rules `yaml:"buy"`
	Sell       strategy.Rules `yaml:"sell"`
}

func Defaults() Config {
	var cfg Config
	cfg.MaxOpenPositions = 3
	cfg.StakeCurrency = "BTC"
	cfg.StakeAmount = 0
	cfg.FiatCurrency = "USD"
	cfg.Fee = domain.DefaultFee
	cfg.MinimalROI = map[string]float64{
		"0":  0.04,
		"20": 0.02,
		"40": 0.0,
	}
	cfg.StopLoss = -0.10
	cfg.BidStrategy.AskLastBalance = 0
	cfg.Experimental.UseSellSignal = true
	cfg.Experimental.SellProfitOnly = false

	cfg.Exchange = ExchangeConfig{
		Name:             "bybit",
		RESTEndpoint:     "https://api.bybit.com",
		WSEndpoint:       "wss://stream.bybit.com/v5/public/spot",
		Timeout:          10 * time.Second,
		TickerStaleAfter: 5 * time.Second,
	}
	cfg.Loop = LoopConfig{
		Interval:   5 * time.Second,
		BackoffMax: 2 * time.Minute,
		Workers:    4,
	}
	cfg.Storage = StorageConfig{Driver: "sqlite", DSN: "positions.db"}
	cfg.Logging.Level = "info"
	cfg.Server.Port = 8080
	cfg.Strategy = StrategyConfig{
		Interval:   "5",
		StaleAfter: strategy.DefaultStaleAfter,
		Buy:        strategy.DefaultBuyRules(),
		Sell:       strategy.DefaultSellRules(),
	}
	return cfg
}

// ROITable converts the minutes-keyed minimal_roi section.
func (c *Config) ROITable() (domain.ROITable, error) {
	entries := make(map[time.Duration]float64, len(c.MinimalROI))
	for key, ratio := range c.MinimalROI {
		minutes, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || minutes < 0 {
			return nil, fmt.Errorf("minimal_roi: invalid minutes key %q", key)
		}
		entries[time.Duration(minutes)*time.Minute] = ratio
	}
	return domain.NewROITable(entries), nil
}

var validDrivers = map[string]bool{"sqlite": true, "postgres": true}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs error
	add := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if len(c.Exchange.PairWhitelist) == 0 {
		add("exchange: pair_whitelist must not be empty")
	}
	for _, pair := range c.Exchange.PairWhitelist {
		if _, _, err := domain.SplitPair(pair); err != nil {
			add("exchange: %v", err)
		}
	}
	if c.BidStrategy.AskLastBalance < 0 || c.BidStrategy.AskLastBalance > 1 {
		add("bid_strategy: ask_last_balance must be within [0,1], got %v", c.BidStrategy.AskLastBalance)
	}
	if c.MaxOpenPositions < 1 {
		add("max_open_positions must be at least 1")
	}
	if c.StakeAmount < 0 {
		add("stake_amount must not be negative")
	}
	if c.StakeCurrency == "" {
		add("stake_currency must not be empty")
	}
	if c.Fee < 0 || c.Fee >= 1 {
		add("fee must be within [0,1), got %v", c.Fee)
	}
	if c.StopLoss > 0 {
		add("stoploss must be negative or zero, got %v", c.StopLoss)
	}
	if _, err := c.ROITable(); err != nil {
		add("%v", err)
	}
	if !validDrivers[strings.ToLower(c.Storage.Driver)] {
		add("storage: unknown driver %q (valid: sqlite, postgres)", c.Storage.Driver)
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == "") {
		add("telegram: token and chat_id are required when enabled")
	}
	if c.Loop.Workers < 1 {
		add("loop: workers must be at least 1")
	}
	if err := c.Strategy.Buy.Validate(); err != nil {
		add("strategy.buy: %v", err)
	}
	if err := c.Strategy.Sell.Validate(); err != nil {
		add("strategy.sell: %v", err)
	}
	return errs
}

func (c *Config) applyEnvOverrides() {
	setStr(&c.Exchange.APIKey, "BOT_EXCHANGE_API_KEY")
	setStr(&c.Exchange.APISecret, "BOT_EXCHANGE_API_SECRET")
	setStr(&c.Telegram.Token, "BOT_TELEGRAM_TOKEN")
	setStr(&c.Telegram.ChatID, "BOT_TELEGRAM_CHAT_ID")
	setStr(&c.Storage.Driver, "BOT_STORAGE_DRIVER")
	setStr(&c.Storage.DSN, "BOT_STORAGE_DSN")
	setStr(&c.Logging.Level, "BOT_LOG_LEVEL")
	setInt(&c.Server.Port, "BOT_SERVER_PORT")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
