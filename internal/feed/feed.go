// Package feed maintains a live mid-price view over the Hyperliquid
// websocket for the monitor loop. Placement-time prices never come from
// here: the orchestrators re-fetch quotes over REST so an entry cannot be
// sized off a stale stream.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"funding-hedge-bot/internal/venue/hyperliquid"

	"go.uber.org/zap"
)

// staleAfter bounds how old a streamed mid may be before Mid falls back to
// REST.
const staleAfter = 10 * time.Second

type Feed struct {
	ws   *wsConn
	info *hyperliquid.InfoClient
	log  *zap.Logger

	mu        sync.RWMutex
	mids      map[string]float64
	updatedAt time.Time
}

func New(wsURL string, info *hyperliquid.InfoClient, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *Feed {
	f := &Feed{
		info: info,
		log:  log,
		mids: make(map[string]float64),
	}
	if wsURL != "" {
		f.ws = newWSConn(wsURL, reconnectDelay, pingInterval, log)
	}
	return f
}

// Start subscribes to allMids and keeps the stream alive until ctx ends.
// Without a websocket URL the feed runs REST-only.
func (f *Feed) Start(ctx context.Context) error {
	if f.ws == nil {
		return nil
	}
	if err := f.ws.connect(ctx); err != nil {
		return err
	}
	sub := map[string]any{"method": "subscribe", "subscription": map[string]any{"type": "allMids"}}
	if err := f.ws.subscribe(ctx, sub); err != nil {
		return err
	}
	go func() {
		_ = f.ws.run(ctx, f.handleMessage)
	}()
	return nil
}

// Mid returns the mid price for a coin, serving from the stream while it is
// fresh and falling back to the /info endpoint otherwise.
func (f *Feed) Mid(ctx context.Context, coin string) (float64, error) {
	f.mu.RLock()
	price, ok := f.mids[coin]
	fresh := time.Since(f.updatedAt) < staleAfter
	f.mu.RUnlock()
	if ok && fresh {
		return price, nil
	}

	if f.info == nil {
		return 0, fmt.Errorf("no mid for %s and no rest fallback", coin)
	}
	mids, err := f.info.AllMids(ctx)
	if err != nil {
		return 0, fmt.Errorf("allMids fallback: %w", err)
	}
	f.setMids(mids)

	f.mu.RLock()
	price, ok = f.mids[coin]
	f.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("no mid for %s", coin)
	}
	return price, nil
}

func (f *Feed) handleMessage(msg json.RawMessage) {
	var payload struct {
		Channel string `json:"channel"`
		Data    struct {
			Mids map[string]string `json:"mids"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &payload); err != nil {
		f.log.Debug("ws decode error", zap.Error(err))
		return
	}
	if payload.Channel != "allMids" || len(payload.Data.Mids) == 0 {
		return
	}
	f.setMids(payload.Data.Mids)
}

func (f *Feed) setMids(mids map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for coin, raw := range mids {
		if price, err := strconv.ParseFloat(raw, 64); err == nil && price > 0 {
			f.mids[coin] = price
		}
	}
	f.updatedAt = time.Now()
}
