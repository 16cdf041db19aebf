package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validTrading() TradingConfig {
	return TradingConfig{Symbol: "BTCUSDT", CapitalUSD: 100}
}

func TestTradingDefaults(t *testing.T) {
	cfg := &Config{Trading: validTrading()}
	applyDefaults(cfg)
	if cfg.Trading.Leverage != 1 {
		t.Fatalf("expected leverage default 1, got %v", cfg.Trading.Leverage)
	}
	if cfg.Trading.FundingThreshold != 0.001 {
		t.Fatalf("expected threshold default 0.001, got %v", cfg.Trading.FundingThreshold)
	}
	if cfg.Trading.FillTimeout != 30*time.Second {
		t.Fatalf("expected fill timeout default, got %v", cfg.Trading.FillTimeout)
	}
	if cfg.Trading.MonitorInterval <= 0 || cfg.Trading.MetadataTTL <= 0 {
		t.Fatalf("expected monitor/metadata defaults, got %+v", cfg.Trading)
	}
}

func TestVenueDefaults(t *testing.T) {
	cfg := &Config{Trading: validTrading()}
	applyDefaults(cfg)
	if cfg.Binance.BaseURL != "https://fapi.binance.com" {
		t.Fatalf("unexpected binance base url %q", cfg.Binance.BaseURL)
	}
	if cfg.Hyperliquid.BaseURL != "https://api.hyperliquid.xyz" {
		t.Fatalf("unexpected hyperliquid base url %q", cfg.Hyperliquid.BaseURL)
	}
	if cfg.Hyperliquid.WSURL != "wss://api.hyperliquid.xyz/ws" {
		t.Fatalf("unexpected ws url %q", cfg.Hyperliquid.WSURL)
	}
	if cfg.Binance.Timeout <= 0 || cfg.Hyperliquid.Timeout <= 0 {
		t.Fatalf("expected timeout defaults")
	}
}

func TestValidateRequiresSymbolAndCapital(t *testing.T) {
	cfg := &Config{Trading: TradingConfig{CapitalUSD: 100}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for missing symbol")
	}

	cfg = &Config{Trading: TradingConfig{Symbol: "BTCUSDT"}}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for missing capital")
	}
}

func TestValidateJournalRequiresDSN(t *testing.T) {
	cfg := &Config{
		Trading: validTrading(),
		Journal: JournalConfig{Enabled: true},
	}
	applyDefaults(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for enabled journal without dsn")
	}
}

func TestValidateTelegramRequiresCredentials(t *testing.T) {
	t.Setenv("HEDGE_TELEGRAM_TOKEN", "")
	t.Setenv("HEDGE_TELEGRAM_CHAT_ID", "")
	cfg := &Config{
		Trading:  validTrading(),
		Telegram: TelegramConfig{Enabled: true},
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for missing telegram token/chat_id")
	}
}

func TestTelegramEnvOverridesConfig(t *testing.T) {
	t.Setenv("HEDGE_TELEGRAM_TOKEN", "env-token")
	t.Setenv("HEDGE_TELEGRAM_CHAT_ID", "123")
	cfg := &Config{
		Trading: validTrading(),
		Telegram: TelegramConfig{
			Enabled: true,
			Token:   "config-token",
			ChatID:  "999",
		},
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if cfg.Telegram.Token != "env-token" || cfg.Telegram.ChatID != "123" {
		t.Fatalf("expected env overrides, got %+v", cfg.Telegram)
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("expected valid config with env overrides, got %v", err)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
log:
  level: debug
trading:
  symbol: ETHUSDT
  capital_usd: 250
  leverage: 3
  funding_threshold: 0.002
hyperliquid:
  mainnet: true
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Trading.Symbol != "ETHUSDT" || cfg.Trading.Leverage != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !cfg.Hyperliquid.Mainnet {
		t.Fatalf("expected mainnet true")
	}
}
