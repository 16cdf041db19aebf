package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log         LoggingConfig     `yaml:"log"`
	Binance     BinanceConfig     `yaml:"binance"`
	Hyperliquid HyperliquidConfig `yaml:"hyperliquid"`
	Trading     TradingConfig     `yaml:"trading"`
	State       StateConfig       `yaml:"state"`
	Journal     JournalConfig     `yaml:"journal"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Telegram    TelegramConfig    `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type BinanceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type HyperliquidConfig struct {
	BaseURL        string        `yaml:"base_url"`
	WSURL          string        `yaml:"ws_url"`
	Timeout        time.Duration `yaml:"timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	Mainnet        bool          `yaml:"mainnet"`
}

type TradingConfig struct {
	Symbol string `yaml:"symbol"`
	// CapitalUSD is margin per leg; each venue commits this amount.
	CapitalUSD       float64       `yaml:"capital_usd"`
	Leverage         float64       `yaml:"leverage"`
	FundingThreshold float64       `yaml:"funding_threshold"`
	FillTimeout      time.Duration `yaml:"fill_timeout"`
	MonitorInterval  time.Duration `yaml:"monitor_interval"`
	MetadataTTL      time.Duration `yaml:"metadata_ttl"`
	AutoOpen         bool          `yaml:"auto_open"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type JournalConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
	// AllowedUserIDs restricts who may issue operator commands. Empty means
	// commands are disabled even when alerts are on.
	AllowedUserIDs []int64       `yaml:"allowed_user_ids"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

// applyEnvOverrides lets secrets stay out of the yaml file. Environment
// values win over config values.
func applyEnvOverrides(cfg *Config) {
	if token := os.Getenv("HEDGE_TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
	if chatID := os.Getenv("HEDGE_TELEGRAM_CHAT_ID"); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}
	if dsn := os.Getenv("HEDGE_JOURNAL_DSN"); dsn != "" {
		cfg.Journal.DSN = dsn
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Binance.BaseURL == "" {
		cfg.Binance.BaseURL = "https://fapi.binance.com"
	}
	if cfg.Binance.Timeout == 0 {
		cfg.Binance.Timeout = 10 * time.Second
	}
	if cfg.Hyperliquid.BaseURL == "" {
		cfg.Hyperliquid.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.Hyperliquid.WSURL == "" {
		cfg.Hyperliquid.WSURL = "wss://api.hyperliquid.xyz/ws"
	}
	if cfg.Hyperliquid.Timeout == 0 {
		cfg.Hyperliquid.Timeout = 10 * time.Second
	}
	if cfg.Hyperliquid.ReconnectDelay == 0 {
		cfg.Hyperliquid.ReconnectDelay = 3 * time.Second
	}
	if cfg.Hyperliquid.PingInterval == 0 {
		cfg.Hyperliquid.PingInterval = 30 * time.Second
	}
	if cfg.Trading.Leverage == 0 {
		cfg.Trading.Leverage = 1
	}
	if cfg.Trading.FundingThreshold == 0 {
		cfg.Trading.FundingThreshold = 0.001
	}
	if cfg.Trading.FillTimeout == 0 {
		cfg.Trading.FillTimeout = 30 * time.Second
	}
	if cfg.Trading.MonitorInterval == 0 {
		cfg.Trading.MonitorInterval = 60 * time.Second
	}
	if cfg.Trading.MetadataTTL == 0 {
		cfg.Trading.MetadataTTL = 5 * time.Minute
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/funding-hedge-bot.db"
	}
	if cfg.Journal.QueueSize == 0 {
		cfg.Journal.QueueSize = 256
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9090"
	}
	if cfg.Telegram.PollInterval == 0 {
		cfg.Telegram.PollInterval = 2 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.Trading.Symbol == "" {
		return errors.New("trading.symbol is required")
	}
	if cfg.Trading.CapitalUSD <= 0 {
		return errors.New("trading.capital_usd must be > 0")
	}
	if cfg.Trading.Leverage <= 0 {
		return errors.New("trading.leverage must be > 0")
	}
	if cfg.Trading.FundingThreshold < 0 {
		return errors.New("trading.funding_threshold must be >= 0")
	}
	if cfg.Journal.Enabled && cfg.Journal.DSN == "" {
		return errors.New("journal.dsn is required when journal is enabled")
	}
	if cfg.Telegram.Enabled && (cfg.Telegram.Token == "" || cfg.Telegram.ChatID == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	return nil
}
