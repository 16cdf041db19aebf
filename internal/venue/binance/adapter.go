package binance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"funding-hedge-bot/internal/cache"
	"funding-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

const (
	// Error codes from the futures API worth mapping onto the shared
	// taxonomy. Everything else surfaces as a generic rejection.
	codeInvalidSymbol      = -1121
	codeInsufficientMargin = -2019
	codeMinNotional        = -4164

	fillPollInterval = time.Second
)

// Adapter implements venue.Venue against Binance USD-M futures. Positions are
// opened isolated-margin with the requested leverage applied before entry.
type Adapter struct {
	client *Client
	log    *zap.Logger
	meta   *cache.TTL

	// leverageSet remembers (symbol, leverage) pairs already applied so
	// repeat opens skip the extra round trips.
	leverageSet *cache.TTL
}

func New(client *Client, metadataTTL time.Duration, log *zap.Logger) *Adapter {
	return &Adapter{
		client:      client,
		log:         log,
		meta:        cache.New(metadataTTL),
		leverageSet: cache.New(time.Hour),
	}
}

func (a *Adapter) Name() string { return "binance" }

func (a *Adapter) BestPrice(ctx context.Context, symbol string, side venue.Side) (venue.PriceQuote, error) {
	var out struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := a.client.get(ctx, "/fapi/v1/ticker/bookTicker", params, &out); err != nil {
		if isCode(err, codeInvalidSymbol) {
			return venue.PriceQuote{}, fmt.Errorf("%w: %s", venue.ErrSymbolNotFound, symbol)
		}
		return venue.PriceQuote{}, fmt.Errorf("%w: %v", venue.ErrQuoteUnavailable, err)
	}
	bid, err1 := strconv.ParseFloat(out.BidPrice, 64)
	ask, err2 := strconv.ParseFloat(out.AskPrice, 64)
	if err1 != nil || err2 != nil || bid <= 0 || ask <= 0 {
		return venue.PriceQuote{}, fmt.Errorf("%w: empty book for %s", venue.ErrQuoteUnavailable, symbol)
	}
	best := ask
	if side == venue.SideSell {
		best = bid
	}
	return venue.PriceQuote{
		Venue:          a.Name(),
		Symbol:         symbol,
		Side:           side,
		BestPrice:      best,
		ReferencePrice: (bid + ask) / 2,
		At:             time.Now(),
	}, nil
}

func (a *Adapter) Metadata(ctx context.Context, symbol string) (venue.Metadata, error) {
	if cached, ok := a.meta.Get(symbol); ok {
		return cached.(venue.Metadata), nil
	}
	var out struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Status  string `json:"status"`
			Filters []struct {
				FilterType string `json:"filterType"`
				TickSize   string `json:"tickSize"`
				StepSize   string `json:"stepSize"`
				MinQty     string `json:"minQty"`
				Notional   string `json:"notional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := a.client.get(ctx, "/fapi/v1/exchangeInfo", params, &out); err != nil {
		if isCode(err, codeInvalidSymbol) {
			return venue.Metadata{}, fmt.Errorf("%w: %s", venue.ErrSymbolNotFound, symbol)
		}
		return venue.Metadata{}, err
	}
	for _, s := range out.Symbols {
		if s.Symbol != symbol {
			continue
		}
		meta := venue.Metadata{Venue: a.Name(), Symbol: symbol, MinNotional: 10}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				meta.PriceIncrement = parseFloat(f.TickSize)
			case "LOT_SIZE":
				meta.SizeIncrement = parseFloat(f.StepSize)
				meta.MinSize = parseFloat(f.MinQty)
				meta.SizeDecimals = decimalsOf(f.StepSize)
			case "MIN_NOTIONAL":
				if n := parseFloat(f.Notional); n > 0 {
					meta.MinNotional = n
				}
			}
		}
		if meta.PriceIncrement <= 0 || meta.SizeIncrement <= 0 {
			return venue.Metadata{}, fmt.Errorf("incomplete filters for %s", symbol)
		}
		a.meta.Set(symbol, meta)
		return meta, nil
	}
	return venue.Metadata{}, fmt.Errorf("%w: %s", venue.ErrSymbolNotFound, symbol)
}

// PlaceOrder submits a limit GTC order for entries and a market reduce-only
// order for closes. Margin mode and leverage are applied before any
// non-reduce order.
func (a *Adapter) PlaceOrder(ctx context.Context, intent venue.OrderIntent, reduceOnly bool) (venue.OrderResult, error) {
	if !reduceOnly {
		if err := a.prepareMargin(ctx, intent.Symbol, intent.Leverage); err != nil {
			return venue.OrderResult{}, err
		}
	}

	meta, err := a.Metadata(ctx, intent.Symbol)
	if err != nil {
		return venue.OrderResult{}, err
	}
	params := url.Values{
		"symbol":   {intent.Symbol},
		"side":     {orderSide(intent.Direction)},
		"quantity": {formatDecimals(intent.Size, meta.SizeDecimals)},
	}
	if reduceOnly {
		params.Set("type", "MARKET")
		params.Set("reduceOnly", "true")
	} else {
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", formatDecimals(intent.Price, decimalsFromStep(meta.PriceIncrement)))
	}
	params.Set("newOrderRespType", "RESULT")

	var out orderResponse
	if err := a.client.signed(ctx, "POST", "/fapi/v1/order", params, &out); err != nil {
		return venue.OrderResult{}, a.mapOrderError(err, intent.Symbol)
	}
	return out.toResult(), nil
}

// WaitForFill polls the order once per second until it goes terminal or the
// timeout elapses. A timeout never cancels the order.
func (a *Adapter) WaitForFill(ctx context.Context, symbol, orderID string, timeout time.Duration) (venue.OrderResult, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(fillPollInterval)
	defer ticker.Stop()

	last := venue.OrderResult{ID: orderID, Status: venue.OrderUnknown}
	for {
		params := url.Values{"symbol": {symbol}, "orderId": {orderID}}
		var out orderResponse
		if err := a.client.signed(ctx, "GET", "/fapi/v1/order", params, &out); err != nil {
			a.log.Warn("order status query failed", zap.String("order_id", orderID), zap.Error(err))
		} else {
			last = out.toResult()
			if last.Status.Terminal() {
				if last.Status == venue.OrderRejected {
					return last, &venue.RejectError{Venue: a.Name(), Symbol: symbol, Reason: out.Status}
				}
				return last, nil
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
	var out []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
		Leverage    string `json:"leverage"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := a.client.signed(ctx, "GET", "/fapi/v2/positionRisk", params, &out); err != nil {
		return venue.Position{}, false, err
	}
	for _, p := range out {
		if p.Symbol != symbol {
			continue
		}
		amt := parseFloat(p.PositionAmt)
		if amt == 0 {
			return venue.Position{}, false, nil
		}
		dir := venue.DirectionLong
		if amt < 0 {
			dir = venue.DirectionShort
		}
		return venue.Position{
			Venue:      a.Name(),
			Symbol:     symbol,
			Direction:  dir,
			Size:       math.Abs(amt),
			EntryPrice: parseFloat(p.EntryPrice),
			Leverage:   parseFloat(p.Leverage),
		}, true, nil
	}
	return venue.Position{}, false, nil
}

func (a *Adapter) AccountBalance(ctx context.Context) (float64, error) {
	var out []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := a.client.signed(ctx, "GET", "/fapi/v2/balance", nil, &out); err != nil {
		return 0, err
	}
	for _, b := range out {
		if b.Asset == "USDT" {
			return parseFloat(b.AvailableBalance), nil
		}
	}
	return 0, nil
}

func (a *Adapter) FundingRate(ctx context.Context, symbol string) (venue.FundingQuote, error) {
	var out struct {
		LastFundingRate string `json:"lastFundingRate"`
		Time            int64  `json:"time"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := a.client.get(ctx, "/fapi/v1/premiumIndex", params, &out); err != nil {
		if isCode(err, codeInvalidSymbol) {
			return venue.FundingQuote{}, fmt.Errorf("%w: %s", venue.ErrSymbolNotFound, symbol)
		}
		return venue.FundingQuote{}, err
	}
	rate, err := strconv.ParseFloat(out.LastFundingRate, 64)
	if err != nil {
		return venue.FundingQuote{}, fmt.Errorf("parse funding rate %q: %w", out.LastFundingRate, err)
	}
	return venue.FundingQuote{
		Venue:       a.Name(),
		Symbol:      symbol,
		RatePercent: rate * 100,
		AsOf:        time.UnixMilli(out.Time),
	}, nil
}

// prepareMargin puts the symbol in isolated margin at the requested leverage.
// Both calls are idempotent on the exchange side; "no need to change" errors
// are expected and swallowed.
func (a *Adapter) prepareMargin(ctx context.Context, symbol string, leverage float64) error {
	key := fmt.Sprintf("%s@%g", symbol, leverage)
	if _, ok := a.leverageSet.Get(key); ok {
		return nil
	}
	params := url.Values{"symbol": {symbol}, "marginType": {"ISOLATED"}}
	if err := a.client.signed(ctx, "POST", "/fapi/v1/marginType", params, nil); err != nil && !isNoChange(err) {
		return fmt.Errorf("set margin type: %w", err)
	}
	params = url.Values{"symbol": {symbol}, "leverage": {strconv.Itoa(int(leverage))}}
	if err := a.client.signed(ctx, "POST", "/fapi/v1/leverage", params, nil); err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}
	a.leverageSet.Set(key, struct{}{})
	return nil
}

type orderResponse struct {
	OrderID     int64  `json:"orderId"`
	Status      string `json:"status"`
	ExecutedQty string `json:"executedQty"`
	AvgPrice    string `json:"avgPrice"`
}

func (r orderResponse) toResult() venue.OrderResult {
	return venue.OrderResult{
		ID:         strconv.FormatInt(r.OrderID, 10),
		Status:     mapStatus(r.Status),
		FilledSize: parseFloat(r.ExecutedQty),
		AvgPrice:   parseFloat(r.AvgPrice),
	}
}

func mapStatus(s string) venue.OrderStatus {
	switch s {
	case "FILLED":
		return venue.OrderFilled
	case "NEW", "PARTIALLY_FILLED":
		return venue.OrderPending
	case "CANCELED", "REJECTED", "EXPIRED":
		return venue.OrderRejected
	default:
		return venue.OrderUnknown
	}
}

func (a *Adapter) mapOrderError(err error, symbol string) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeInsufficientMargin:
			return fmt.Errorf("%w: %s", venue.ErrInsufficientMargin, apiErr.Msg)
		case codeMinNotional:
			return fmt.Errorf("%w: %s", venue.ErrBelowMinNotional, apiErr.Msg)
		case codeInvalidSymbol:
			return fmt.Errorf("%w: %s", venue.ErrSymbolNotFound, symbol)
		}
		return &venue.RejectError{Venue: a.Name(), Symbol: symbol, Reason: apiErr.Msg}
	}
	return err
}

func orderSide(d venue.Direction) string {
	if d == venue.DirectionShort {
		return "SELL"
	}
	return "BUY"
}

func isCode(err error, code int) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// isNoChange matches the "No need to change margin type" rejection.
func isNoChange(err error) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && apiErr.Code == -4046
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

// decimalsOf counts the significant decimal places in an exchange filter
// value like "0.00100000".
func decimalsOf(s string) int {
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	frac := strings.TrimRight(s[i+1:], "0")
	return len(frac)
}

func decimalsFromStep(step float64) int {
	if step <= 0 {
		return 0
	}
	d := 0
	for step < 1-1e-9 && d < 12 {
		step *= 10
		d++
	}
	return d
}

func formatDecimals(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64)
}
