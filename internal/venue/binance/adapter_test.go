package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"funding-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, "key", "secret", 5*time.Second, zap.NewNop())
	return New(client, time.Minute, zap.NewNop())
}

func TestBestPriceUsesRequestedSide(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/ticker/bookTicker" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"bidPrice":"49999.5","askPrice":"50000.5"}`))
	})

	buy, err := a.BestPrice(context.Background(), "BTCUSDT", venue.SideBuy)
	if err != nil {
		t.Fatalf("buy quote failed: %v", err)
	}
	if buy.BestPrice != 50000.5 {
		t.Fatalf("buy must quote the ask, got %v", buy.BestPrice)
	}
	sell, err := a.BestPrice(context.Background(), "BTCUSDT", venue.SideSell)
	if err != nil {
		t.Fatalf("sell quote failed: %v", err)
	}
	if sell.BestPrice != 49999.5 {
		t.Fatalf("sell must quote the bid, got %v", sell.BestPrice)
	}
}

func TestBestPriceEmptyBookIsQuoteUnavailable(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bidPrice":"0","askPrice":"0"}`))
	})
	_, err := a.BestPrice(context.Background(), "BTCUSDT", venue.SideBuy)
	if !errors.Is(err, venue.ErrQuoteUnavailable) {
		t.Fatalf("expected ErrQuoteUnavailable, got %v", err)
	}
}

func TestMetadataParsesFiltersAndCaches(t *testing.T) {
	calls := 0
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","status":"TRADING","filters":[
			{"filterType":"PRICE_FILTER","tickSize":"0.10"},
			{"filterType":"LOT_SIZE","stepSize":"0.00100000","minQty":"0.001"},
			{"filterType":"MIN_NOTIONAL","notional":"100"}
		]}]}`))
	})

	meta, err := a.Metadata(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("metadata failed: %v", err)
	}
	if meta.PriceIncrement != 0.1 || meta.SizeIncrement != 0.001 || meta.MinSize != 0.001 {
		t.Fatalf("filter parse mismatch: %+v", meta)
	}
	if meta.SizeDecimals != 3 {
		t.Fatalf("expected 3 size decimals from step 0.00100000, got %d", meta.SizeDecimals)
	}
	if meta.MinNotional != 100 {
		t.Fatalf("expected venue notional 100, got %v", meta.MinNotional)
	}

	if _, err := a.Metadata(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("cached metadata failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one upstream call, got %d", calls)
	}
}

func TestMetadataUnknownSymbol(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})
	_, err := a.Metadata(context.Background(), "NOPEUSDT")
	if !errors.Is(err, venue.ErrSymbolNotFound) {
		t.Fatalf("expected ErrSymbolNotFound, got %v", err)
	}
}

func TestPlaceOrderEntryIsSignedLimitGTC(t *testing.T) {
	var orderQuery url.Values
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/exchangeInfo":
			w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[
				{"filterType":"PRICE_FILTER","tickSize":"0.1"},
				{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001"}
			]}]}`))
		case "/fapi/v1/marginType", "/fapi/v1/leverage":
			w.Write([]byte(`{}`))
		case "/fapi/v1/order":
			if r.Header.Get("X-MBX-APIKEY") != "key" {
				t.Errorf("missing api key header")
			}
			orderQuery = r.URL.Query()
			w.Write([]byte(`{"orderId":42,"status":"NEW","executedQty":"0","avgPrice":"0"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	intent := venue.OrderIntent{
		Symbol:    "BTCUSDT",
		Direction: venue.DirectionLong,
		Size:      0.004,
		Price:     50000.5,
		Leverage:  2,
	}
	res, err := a.PlaceOrder(context.Background(), intent, false)
	if err != nil {
		t.Fatalf("place failed: %v", err)
	}
	if res.ID != "42" || res.Status != venue.OrderPending {
		t.Fatalf("unexpected result: %+v", res)
	}
	if orderQuery.Get("type") != "LIMIT" || orderQuery.Get("timeInForce") != "GTC" {
		t.Fatalf("expected limit GTC, got %v", orderQuery)
	}
	if orderQuery.Get("side") != "BUY" || orderQuery.Get("quantity") != "0.004" || orderQuery.Get("price") != "50000.5" {
		t.Fatalf("order params mismatch: %v", orderQuery)
	}
	if orderQuery.Get("signature") == "" || orderQuery.Get("timestamp") == "" {
		t.Fatalf("order must be signed: %v", orderQuery)
	}
}

func TestPlaceOrderCloseIsMarketReduceOnly(t *testing.T) {
	var orderQuery url.Values
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/exchangeInfo":
			w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[
				{"filterType":"PRICE_FILTER","tickSize":"0.1"},
				{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001"}
			]}]}`))
		case "/fapi/v1/order":
			orderQuery = r.URL.Query()
			w.Write([]byte(`{"orderId":43,"status":"FILLED","executedQty":"0.004","avgPrice":"50001.0"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	intent := venue.OrderIntent{Symbol: "BTCUSDT", Direction: venue.DirectionShort, Size: 0.004}
	res, err := a.PlaceOrder(context.Background(), intent, true)
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if orderQuery.Get("type") != "MARKET" || orderQuery.Get("reduceOnly") != "true" {
		t.Fatalf("expected market reduce-only, got %v", orderQuery)
	}
	if orderQuery.Get("side") != "SELL" {
		t.Fatalf("close of a long must sell, got %v", orderQuery.Get("side"))
	}
	if res.Status != venue.OrderFilled || res.FilledSize != 0.004 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPlaceOrderMapsMarginRejection(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/exchangeInfo":
			w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","filters":[
				{"filterType":"PRICE_FILTER","tickSize":"0.1"},
				{"filterType":"LOT_SIZE","stepSize":"0.001","minQty":"0.001"}
			]}]}`))
		case "/fapi/v1/marginType", "/fapi/v1/leverage":
			w.Write([]byte(`{}`))
		case "/fapi/v1/order":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":-2019,"msg":"Margin is insufficient."}`))
		}
	})

	intent := venue.OrderIntent{Symbol: "BTCUSDT", Direction: venue.DirectionLong, Size: 1, Price: 50000, Leverage: 2}
	_, err := a.PlaceOrder(context.Background(), intent, false)
	if !errors.Is(err, venue.ErrInsufficientMargin) {
		t.Fatalf("expected ErrInsufficientMargin, got %v", err)
	}
}

func TestWaitForFillTimeoutKeepsOrderAlive(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"orderId":42,"status":"NEW","executedQty":"0","avgPrice":"0"}`))
	})

	_, err := a.WaitForFill(context.Background(), "BTCUSDT", "42", 0)
	if !errors.Is(err, venue.ErrOrderTimeout) {
		t.Fatalf("expected ErrOrderTimeout, got %v", err)
	}
	var te *venue.TimeoutError
	if !errors.As(err, &te) || te.OrderID != "42" {
		t.Fatalf("timeout must name the order: %v", err)
	}
}

func TestCurrentPositionSignConvention(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"BTCUSDT","positionAmt":"-0.004","entryPrice":"50000","leverage":"2"}]`))
	})
	pos, ok, err := a.CurrentPosition(context.Background(), "BTCUSDT")
	if err != nil || !ok {
		t.Fatalf("position query failed: %v (ok=%t)", err, ok)
	}
	if pos.Direction != venue.DirectionShort || pos.Size != 0.004 {
		t.Fatalf("negative amount must map to short with positive size: %+v", pos)
	}
}

func TestFundingRateIsPercent(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lastFundingRate":"0.00010000","time":1700000000000}`))
	})
	q, err := a.FundingRate(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("funding failed: %v", err)
	}
	if q.RatePercent != 0.01 {
		t.Fatalf("0.0001 fraction must read as 0.01 percent, got %v", q.RatePercent)
	}
}
