package hyperliquid

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"funding-hedge-bot/internal/cache"
	"funding-hedge-bot/internal/sizing"
	"funding-hedge-bot/internal/venue"
	"funding-hedge-bot/internal/venue/hyperliquid/exchange"

	"go.uber.org/zap"
)

const (
	// quoteSlippage widens the mark into an executable quote for sizing.
	quoteSlippage = 0.001
	// limitSlippage bounds how far past the mark an entry limit may cross.
	limitSlippage = 0.0005

	fillPollInterval = time.Second
)

// Adapter implements venue.Venue. Orders are aggressive IOC limits priced
// off a mark re-fetched immediately before submission; the mark moves fast
// enough that a sizing-time price cannot be trusted at placement.
type Adapter struct {
	info     *InfoClient
	exchange *exchange.Client
	log      *zap.Logger
	meta     *cache.TTL
}

func New(info *InfoClient, ex *exchange.Client, metadataTTL time.Duration, log *zap.Logger) *Adapter {
	return &Adapter{
		info:     info,
		exchange: ex,
		log:      log,
		meta:     cache.New(metadataTTL),
	}
}

func (a *Adapter) Name() string { return "hyperliquid" }

// Coin maps an exchange-neutral symbol onto the L1 coin name: BTCUSDT -> BTC.
func Coin(symbol string) string {
	for _, suffix := range []string{"USDT", "USDC", "USD"} {
		if trimmed := strings.TrimSuffix(symbol, suffix); trimmed != symbol && trimmed != "" {
			return trimmed
		}
	}
	return symbol
}

// tickFor is the price granularity used when rounding limit prices. BTC
// trades on whole-dollar ticks; everything else on tenths.
func tickFor(coin string) float64 {
	if coin == "BTC" {
		return 1.0
	}
	return 0.1
}

func (a *Adapter) BestPrice(ctx context.Context, symbol string, side venue.Side) (venue.PriceQuote, error) {
	pm, err := a.assetMeta(ctx, symbol, false)
	if err != nil {
		return venue.PriceQuote{}, err
	}
	mark := parseFloat(pm.Ctx.MarkPx)
	if mark <= 0 {
		return venue.PriceQuote{}, fmt.Errorf("%w: no mark price for %s", venue.ErrQuoteUnavailable, symbol)
	}
	best := mark * (1 + quoteSlippage)
	if side == venue.SideSell {
		best = mark * (1 - quoteSlippage)
	}
	return venue.PriceQuote{
		Venue:          a.Name(),
		Symbol:         symbol,
		Side:           side,
		BestPrice:      best,
		ReferencePrice: mark,
		At:             time.Now(),
	}, nil
}

func (a *Adapter) Metadata(ctx context.Context, symbol string) (venue.Metadata, error) {
	coin := Coin(symbol)
	if cached, ok := a.meta.Get(coin); ok {
		pm := cached.(PerpMeta)
		return a.toMetadata(symbol, pm), nil
	}
	pm, err := a.assetMeta(ctx, symbol, true)
	if err != nil {
		return venue.Metadata{}, err
	}
	return a.toMetadata(symbol, pm), nil
}

func (a *Adapter) toMetadata(symbol string, pm PerpMeta) venue.Metadata {
	sizeStep := math.Pow(10, -float64(pm.Asset.SzDecimals))
	return venue.Metadata{
		Venue:          a.Name(),
		Symbol:         symbol,
		PriceIncrement: tickFor(pm.Asset.Name),
		SizeIncrement:  sizeStep,
		MinNotional:    10,
		SizeDecimals:   pm.Asset.SzDecimals,
		MinSize:        sizeStep,
	}
}

// PlaceOrder re-fetches the mark and submits an IOC limit crossing it by at
// most limitSlippage. Entries set isolated leverage and check withdrawable
// margin first; reduce-only closes skip both.
func (a *Adapter) PlaceOrder(ctx context.Context, intent venue.OrderIntent, reduceOnly bool) (venue.OrderResult, error) {
	pm, err := a.assetMeta(ctx, intent.Symbol, false)
	if err != nil {
		return venue.OrderResult{}, err
	}
	mark := parseFloat(pm.Ctx.MarkPx)
	if mark <= 0 {
		return venue.OrderResult{}, fmt.Errorf("%w: no mark price for %s", venue.ErrQuoteUnavailable, intent.Symbol)
	}

	isBuy := intent.Direction.Side() == venue.SideBuy
	limit := mark * (1 + limitSlippage)
	side := venue.SideBuy
	if !isBuy {
		limit = mark * (1 - limitSlippage)
		side = venue.SideSell
	}
	limit = sizing.RoundPrice(limit, tickFor(pm.Asset.Name), side)

	if !reduceOnly {
		if err := a.checkMargin(ctx, intent, limit); err != nil {
			return venue.OrderResult{}, err
		}
		if err := a.updateLeverage(ctx, pm.Index, intent.Leverage); err != nil {
			return venue.OrderResult{}, err
		}
	}

	wire, err := exchange.LimitOrderWire(pm.Index, isBuy, intent.Size, limit, reduceOnly, exchange.TifIoc, "")
	if err != nil {
		return venue.OrderResult{}, err
	}
	resp, err := a.exchange.PlaceOrder(ctx, wire)
	if err != nil {
		return venue.OrderResult{}, err
	}
	outcome, err := exchange.ParseOrderResponse(resp)
	if err != nil {
		return venue.OrderResult{}, err
	}
	if outcome.Err != "" {
		return venue.OrderResult{}, a.mapReject(intent.Symbol, outcome.Err)
	}
	res := venue.OrderResult{ID: outcome.OrderID, Status: venue.OrderPending}
	if outcome.Filled {
		res.Status = venue.OrderFilled
		res.FilledSize = outcome.Size
		res.AvgPrice = outcome.AvgPx
	}
	return res, nil
}

func (a *Adapter) WaitForFill(ctx context.Context, symbol, orderID string, timeout time.Duration) (venue.OrderResult, error) {
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return venue.OrderResult{}, fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	user := a.exchange.Address().Hex()
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(fillPollInterval)
	defer ticker.Stop()

	last := venue.OrderResult{ID: orderID, Status: venue.OrderUnknown}
	for {
		status, err := a.info.QueryOrderStatus(ctx, user, oid)
		if err != nil {
			a.log.Warn("order status query failed", zap.String("order_id", orderID), zap.Error(err))
		} else if status.Found {
			switch status.Status {
			case "filled":
				last.Status = venue.OrderFilled
				last.FilledSize = parseFloat(status.Sz)
				last.AvgPrice = parseFloat(status.AvgPx)
				return last, nil
			case "canceled", "rejected", "marginCanceled":
				last.Status = venue.OrderRejected
				return last, &venue.RejectError{Venue: a.Name(), Symbol: symbol, Reason: status.Status}
			default:
				last.Status = venue.OrderPending
			}
		}
		if time.Now().After(deadline) {
			return last, &venue.TimeoutError{Venue: a.Name(), Symbol: symbol, OrderID: orderID, Last: last.Status}
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Adapter) CurrentPosition(ctx context.Context, symbol string) (venue.Position, bool, error) {
	coin := Coin(symbol)
	st, err := a.info.ClearinghouseState(ctx, a.exchange.Address().Hex())
	if err != nil {
		return venue.Position{}, false, err
	}
	for _, ap := range st.AssetPositions {
		if ap.Position.Coin != coin {
			continue
		}
		szi := parseFloat(ap.Position.Szi)
		if szi == 0 {
			return venue.Position{}, false, nil
		}
		dir := venue.DirectionLong
		if szi < 0 {
			dir = venue.DirectionShort
		}
		return venue.Position{
			Venue:      a.Name(),
			Symbol:     symbol,
			Direction:  dir,
			Size:       math.Abs(szi),
			EntryPrice: parseFloat(ap.Position.EntryPx),
			Leverage:   ap.Position.Leverage.Value,
		}, true, nil
	}
	return venue.Position{}, false, nil
}

// AccountBalance returns the withdrawable balance, the conservative measure
// of what can margin a new isolated position.
func (a *Adapter) AccountBalance(ctx context.Context) (float64, error) {
	st, err := a.info.ClearinghouseState(ctx, a.exchange.Address().Hex())
	if err != nil {
		return 0, err
	}
	return parseFloat(st.Withdrawable), nil
}

func (a *Adapter) FundingRate(ctx context.Context, symbol string) (venue.FundingQuote, error) {
	pm, err := a.assetMeta(ctx, symbol, false)
	if err != nil {
		return venue.FundingQuote{}, err
	}
	rate, err := strconv.ParseFloat(pm.Ctx.Funding, 64)
	if err != nil {
		return venue.FundingQuote{}, fmt.Errorf("parse funding rate %q: %w", pm.Ctx.Funding, err)
	}
	return venue.FundingQuote{
		Venue:       a.Name(),
		Symbol:      symbol,
		RatePercent: rate * 100,
		AsOf:        time.Now(),
	}, nil
}

// assetMeta resolves the perp entry for a symbol. allowCache serves metadata
// lookups; price-bearing callers always re-fetch so the mark stays live.
func (a *Adapter) assetMeta(ctx context.Context, symbol string, allowCache bool) (PerpMeta, error) {
	coin := Coin(symbol)
	if allowCache {
		if cached, ok := a.meta.Get(coin); ok {
			return cached.(PerpMeta), nil
		}
	}
	metas, err := a.info.MetaAndAssetCtxs(ctx)
	if err != nil {
		return PerpMeta{}, fmt.Errorf("%w: %v", venue.ErrQuoteUnavailable, err)
	}
	for _, pm := range metas {
		a.meta.Set(pm.Asset.Name, pm)
	}
	for _, pm := range metas {
		if pm.Asset.Name == coin {
			return pm, nil
		}
	}
	return PerpMeta{}, fmt.Errorf("%w: %s", venue.ErrSymbolNotFound, symbol)
}

func (a *Adapter) checkMargin(ctx context.Context, intent venue.OrderIntent, limit float64) error {
	withdrawable, err := a.AccountBalance(ctx)
	if err != nil {
		return fmt.Errorf("query withdrawable: %w", err)
	}
	required := intent.Size * limit / intent.Leverage
	if required > withdrawable {
		return fmt.Errorf("%w: need %.2f, withdrawable %.2f", venue.ErrInsufficientMargin, required, withdrawable)
	}
	return nil
}

func (a *Adapter) updateLeverage(ctx context.Context, asset int, leverage float64) error {
	resp, err := a.exchange.UpdateLeverage(ctx, asset, int(leverage))
	if err != nil {
		return fmt.Errorf("update leverage: %w", err)
	}
	if ok, msg := exchange.ActionOK(resp); !ok {
		return fmt.Errorf("update leverage: %s", msg)
	}
	return nil
}

func (a *Adapter) mapReject(symbol, msg string) error {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "margin") {
		return fmt.Errorf("%w: %s", venue.ErrInsufficientMargin, msg)
	}
	return &venue.RejectError{Venue: a.Name(), Symbol: symbol, Reason: msg}
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
