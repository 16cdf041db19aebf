// Command verify checks credentials, connectivity, and sizing for both venues
// without placing any order. Run it before trusting a config with capital.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"funding-hedge-bot/internal/config"
	"funding-hedge-bot/internal/funding"
	"funding-hedge-bot/internal/logging"
	"funding-hedge-bot/internal/sizing"
	"funding-hedge-bot/internal/venue"
	"funding-hedge-bot/internal/venue/binance"
	"funding-hedge-bot/internal/venue/hyperliquid"
	"funding-hedge-bot/internal/venue/hyperliquid/exchange"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	apiKey := strings.TrimSpace(os.Getenv("BINANCE_API_KEY"))
	apiSecret := strings.TrimSpace(os.Getenv("BINANCE_API_SECRET"))
	if apiKey == "" || apiSecret == "" {
		fatal(errors.New("BINANCE_API_KEY and BINANCE_API_SECRET are required"))
	}
	binanceClient := binance.NewClient(cfg.Binance.BaseURL, apiKey, apiSecret, cfg.Binance.Timeout, log)
	if err := binanceClient.SyncTime(ctx); err != nil {
		fatal(fmt.Errorf("binance time sync: %w", err))
	}
	venueA := binance.New(binanceClient, cfg.Trading.MetadataTTL, log)

	walletAddress := strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS"))
	privateKey := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	if walletAddress == "" || privateKey == "" {
		fatal(errors.New("HL_WALLET_ADDRESS and HL_PRIVATE_KEY are required"))
	}
	signer, err := exchange.NewSigner(privateKey, cfg.Hyperliquid.Mainnet)
	if err != nil {
		fatal(fmt.Errorf("hyperliquid signer: %w", err))
	}
	if !strings.EqualFold(walletAddress, signer.Address().Hex()) {
		fatal(fmt.Errorf("wallet address does not match private key: got %s expected %s", walletAddress, signer.Address().Hex()))
	}
	fmt.Printf("hyperliquid wallet: %s\n", signer.Address().Hex())

	exClient, err := exchange.NewClient(cfg.Hyperliquid.BaseURL, cfg.Hyperliquid.Timeout, signer, strings.TrimSpace(os.Getenv("HL_VAULT_ADDRESS")))
	if err != nil {
		fatal(err)
	}
	infoClient := hyperliquid.NewInfoClient(cfg.Hyperliquid.BaseURL, cfg.Hyperliquid.Timeout, log)
	venueB := hyperliquid.New(infoClient, exClient, cfg.Trading.MetadataTTL, log)

	symbol := cfg.Trading.Symbol
	for _, v := range []venue.Venue{venueA, venueB} {
		if err := verifyVenue(ctx, v, symbol, cfg.Trading.CapitalUSD, cfg.Trading.Leverage); err != nil {
			fatal(fmt.Errorf("%s: %w", v.Name(), err))
		}
	}

	evaluator := funding.NewEvaluator(venueA, venueB, log)
	eval, err := evaluator.Evaluate(ctx, symbol, cfg.Trading.FundingThreshold)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("funding: %s %.6f%% vs %s %.6f%% -> %s (diff %.6f%%, threshold %.6f%%)\n",
		venueA.Name(), eval.RateA.RatePercent,
		venueB.Name(), eval.RateB.RatePercent,
		eval.Outcome, eval.DiffPercent, eval.ThresholdPercent)
	if eval.Recommendation != nil {
		fmt.Printf("recommend: short %s, long %s\n", eval.Recommendation.ShortVenue, eval.Recommendation.LongVenue)
	}
	fmt.Println("verify OK: no orders were placed")
}

// verifyVenue exercises the read-only half of the open sequence: metadata,
// balance, fresh quote, and a dry-run sizing pass per direction.
func verifyVenue(ctx context.Context, v venue.Venue, symbol string, capital, leverage float64) error {
	meta, err := v.Metadata(ctx, symbol)
	if err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	fmt.Printf("%s %s: tick=%v step=%v min_notional=%v\n",
		v.Name(), symbol, meta.PriceIncrement, meta.SizeIncrement, meta.MinNotional)

	balance, err := v.AccountBalance(ctx)
	if err != nil {
		return fmt.Errorf("account balance: %w", err)
	}
	fmt.Printf("%s balance: %.2f\n", v.Name(), balance)

	for _, dir := range []venue.Direction{venue.DirectionLong, venue.DirectionShort} {
		quote, err := v.BestPrice(ctx, symbol, dir.Side())
		if err != nil {
			return fmt.Errorf("best price: %w", err)
		}
		intent, err := sizing.Build(sizing.Inputs{
			Capital:   capital,
			Leverage:  leverage,
			Direction: dir,
			Quote:     quote,
			Meta:      meta,
			Balance:   balance,
		})
		if err != nil {
			return fmt.Errorf("sizing %s: %w", dir, err)
		}
		fmt.Printf("%s dry-run %s: size=%v price=%v notional=%.2f\n",
			v.Name(), dir, intent.Size, intent.Price, intent.Notional())
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
