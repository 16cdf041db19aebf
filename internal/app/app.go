// Package app wires the venues, orchestrators, and operator surfaces into a
// running bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"funding-hedge-bot/internal/alerts"
	"funding-hedge-bot/internal/config"
	"funding-hedge-bot/internal/events"
	"funding-hedge-bot/internal/feed"
	"funding-hedge-bot/internal/funding"
	"funding-hedge-bot/internal/hedge"
	"funding-hedge-bot/internal/journal"
	"funding-hedge-bot/internal/metrics"
	"funding-hedge-bot/internal/state"
	"funding-hedge-bot/internal/state/sqlite"
	"funding-hedge-bot/internal/venue"
	"funding-hedge-bot/internal/venue/binance"
	"funding-hedge-bot/internal/venue/hyperliquid"
	"funding-hedge-bot/internal/venue/hyperliquid/exchange"

	"go.uber.org/zap"
)

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     state.Store
	positions *hedge.PositionStore
	venueA    venue.Venue
	venueB    venue.Venue
	binance   *binance.Client
	exchange  *exchange.Client
	feed      *feed.Feed
	journal   *journal.Writer
	metrics   *metrics.Metrics
	prom      *metrics.Prometheus
	alerts    *alerts.Telegram
	sink      events.Sink
	opener    *hedge.Opener
	closer    *hedge.Closer
	evaluator *funding.Evaluator

	opsMu          sync.RWMutex
	paused         bool
	operatorWarned bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(os.Getenv("BINANCE_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("BINANCE_API_KEY is required")
	}
	apiSecret := strings.TrimSpace(os.Getenv("BINANCE_API_SECRET"))
	if apiSecret == "" {
		return nil, errors.New("BINANCE_API_SECRET is required")
	}
	binanceClient := binance.NewClient(cfg.Binance.BaseURL, apiKey, apiSecret, cfg.Binance.Timeout, log)
	venueA := binance.New(binanceClient, cfg.Trading.MetadataTTL, log)

	walletAddress := strings.TrimSpace(os.Getenv("HL_WALLET_ADDRESS"))
	if walletAddress == "" {
		return nil, errors.New("HL_WALLET_ADDRESS is required")
	}
	privateKey := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	if privateKey == "" {
		return nil, errors.New("HL_PRIVATE_KEY is required")
	}
	vaultAddress := strings.TrimSpace(os.Getenv("HL_VAULT_ADDRESS"))
	signer, err := exchange.NewSigner(privateKey, cfg.Hyperliquid.Mainnet)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(walletAddress, signer.Address().Hex()) {
		return nil, fmt.Errorf("wallet address does not match private key: got %s expected %s", walletAddress, signer.Address().Hex())
	}
	exClient, err := exchange.NewClient(cfg.Hyperliquid.BaseURL, cfg.Hyperliquid.Timeout, signer, vaultAddress)
	if err != nil {
		return nil, err
	}
	exClient.SetLogger(log)
	infoClient := hyperliquid.NewInfoClient(cfg.Hyperliquid.BaseURL, cfg.Hyperliquid.Timeout, log)
	venueB := hyperliquid.New(infoClient, exClient, cfg.Trading.MetadataTTL, log)

	priceFeed := feed.New(cfg.Hyperliquid.WSURL, infoClient, cfg.Hyperliquid.ReconnectDelay, cfg.Hyperliquid.PingInterval, log)

	journalWriter, err := journal.New(journal.Config{
		Enabled:         cfg.Journal.Enabled,
		DSN:             cfg.Journal.DSN,
		Schema:          cfg.Journal.Schema,
		QueueSize:       cfg.Journal.QueueSize,
		MaxOpenConns:    cfg.Journal.MaxOpenConns,
		MaxIdleConns:    cfg.Journal.MaxIdleConns,
		ConnMaxLifetime: cfg.Journal.ConnMaxLifetime,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("journal init: %w", err)
	}

	var prom *metrics.Prometheus
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	} else {
		m = metrics.NewNoop()
	}

	alertsClient := alerts.NewTelegram(cfg.Telegram, log)
	sinks := events.Fanout{events.NewLogSink(log)}
	if journalWriter != nil {
		sinks = append(sinks, journalWriter)
	}
	if alertsClient.Enabled() {
		sinks = append(sinks, alerts.NewEventSink(alertsClient, log))
	}

	positions := hedge.NewPositionStore(store, log)
	opener := hedge.NewOpener(venueA, venueB, positions, sinks, log, cfg.Trading.FillTimeout)
	closer := hedge.NewCloser(venueA, venueB, positions, sinks, log, cfg.Trading.FillTimeout)
	evaluator := funding.NewEvaluator(venueA, venueB, log)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		positions: positions,
		venueA:    venueA,
		venueB:    venueB,
		binance:   binanceClient,
		exchange:  exClient,
		feed:      priceFeed,
		journal:   journalWriter,
		metrics:   m,
		prom:      prom,
		alerts:    alertsClient,
		sink:      sinks,
		opener:    opener,
		closer:    closer,
		evaluator: evaluator,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()

	if err := a.exchange.InitNonceStore(ctx, a.store); err != nil {
		a.log.Warn("nonce store init failed", zap.Error(err))
	}
	if err := a.binance.SyncTime(ctx); err != nil {
		a.log.Warn("binance time sync failed", zap.Error(err))
	}
	if err := a.positions.Load(ctx); err != nil {
		return err
	}
	for _, leg := range a.positions.Legs(a.cfg.Trading.Symbol) {
		a.log.Info("known hedge leg at startup",
			zap.String("venue", leg.Venue),
			zap.String("symbol", leg.Symbol),
			zap.String("direction", string(leg.Direction)),
			zap.Float64("size", leg.Size),
			zap.Float64("entry_price", leg.EntryPrice),
		)
	}

	a.journal.Start(ctx)
	if err := a.feed.Start(ctx); err != nil {
		a.log.Warn("price feed start failed, using REST fallback", zap.Error(err))
	}
	a.startMetricsServer(ctx)
	a.startOperator(ctx)

	ticker := time.NewTicker(a.cfg.Trading.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.tick(ctx); err != nil {
				a.log.Warn("monitor tick failed", zap.Error(err))
			}
		}
	}
}

// tick evaluates the funding differential and, when auto-open is on and the
// symbol is not already hedged, opens a hedge in the recommended direction.
func (a *App) tick(ctx context.Context) error {
	eval, err := a.EvaluateFunding(ctx)
	if err != nil {
		return err
	}
	if eval.Outcome != funding.Opportunity {
		return nil
	}
	a.log.Info("funding opportunity",
		zap.String("symbol", eval.Symbol),
		zap.Float64("diff_pct", eval.DiffPercent),
		zap.String("short_venue", eval.Recommendation.ShortVenue),
		zap.String("long_venue", eval.Recommendation.LongVenue),
	)
	if !a.cfg.Trading.AutoOpen {
		return nil
	}
	if a.isPaused() {
		a.log.Debug("auto-open skipped: trading paused")
		return nil
	}
	if len(a.positions.Legs(a.cfg.Trading.Symbol)) > 0 {
		a.log.Debug("auto-open skipped: hedge already open", zap.String("symbol", a.cfg.Trading.Symbol))
		return nil
	}
	_, err = a.OpenHedge(ctx, a.directionFor(eval.Recommendation))
	return err
}

// directionFor maps a short/long venue recommendation onto the venue-A leg
// direction the opener expects.
func (a *App) directionFor(rec *funding.Recommendation) venue.Direction {
	if rec != nil && rec.ShortVenue == a.venueA.Name() {
		return venue.DirectionShort
	}
	return venue.DirectionLong
}

func (a *App) startMetricsServer(ctx context.Context) {
	if a.prom == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	server := &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	a.log.Info("metrics server listening", zap.String("addr", a.cfg.Metrics.ListenAddr))
}
