package hyperliquid

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"funding-hedge-bot/internal/venue"
	"funding-hedge-bot/internal/venue/hyperliquid/exchange"

	"go.uber.org/zap"
)

const testKey = "4f3edf983ac636a65a842ce7c78d9aa706d3b113bce036f81af8f9b72d3d80b2"

const metaFixture = `[
	{"universe":[
		{"name":"BTC","szDecimals":5,"maxLeverage":50},
		{"name":"ETH","szDecimals":4,"maxLeverage":50}
	]},
	[
		{"funding":"0.0000125","markPx":"50000.0","midPx":"50000.0"},
		{"funding":"-0.0000050","markPx":"3000.0","midPx":"3000.0"}
	]
]`

type exchangeCall struct {
	Action map[string]any `json:"action"`
	Nonce  uint64         `json:"nonce"`
}

// testServer answers /info by request type and records /exchange actions.
type testServer struct {
	srv           *httptest.Server
	exchangeCalls []exchangeCall
	orderResponse string
	clearinghouse string
	orderStatus   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		orderResponse: `{"status":"ok","response":{"type":"order","data":{"statuses":[{"resting":{"oid":101}}]}}}`,
		clearinghouse: `{"withdrawable":"1000.0","assetPositions":[]}`,
		orderStatus:   `{"status":"unknownOid"}`,
	}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		switch r.URL.Path {
		case "/info":
			var req struct {
				Type string `json:"type"`
			}
			json.Unmarshal(body, &req)
			switch req.Type {
			case "metaAndAssetCtxs":
				w.Write([]byte(metaFixture))
			case "clearinghouseState":
				w.Write([]byte(ts.clearinghouse))
			case "orderStatus":
				w.Write([]byte(ts.orderStatus))
			default:
				t.Errorf("unexpected info type %s", req.Type)
			}
		case "/exchange":
			var call exchangeCall
			json.Unmarshal(body, &call)
			ts.exchangeCalls = append(ts.exchangeCalls, call)
			if call.Action["type"] == "updateLeverage" {
				w.Write([]byte(`{"status":"ok","response":{"type":"default"}}`))
				return
			}
			w.Write([]byte(ts.orderResponse))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func newTestAdapter(t *testing.T, ts *testServer) *Adapter {
	t.Helper()
	signer, err := exchange.NewSigner(testKey, true)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	ex, err := exchange.NewClient(ts.srv.URL, 5*time.Second, signer, "")
	if err != nil {
		t.Fatalf("exchange client: %v", err)
	}
	info := NewInfoClient(ts.srv.URL, 5*time.Second, zap.NewNop())
	return New(info, ex, time.Minute, zap.NewNop())
}

func TestCoinMapping(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT": "BTC",
		"ETHUSD":  "ETH",
		"SOLUSDC": "SOL",
		"BTC":     "BTC",
	}
	for in, want := range cases {
		if got := Coin(in); got != want {
			t.Fatalf("Coin(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBestPriceAppliesSlippageAroundMark(t *testing.T) {
	a := newTestAdapter(t, newTestServer(t))

	buy, err := a.BestPrice(context.Background(), "BTCUSDT", venue.SideBuy)
	if err != nil {
		t.Fatalf("buy quote: %v", err)
	}
	if buy.BestPrice != 50000*1.001 || buy.ReferencePrice != 50000 {
		t.Fatalf("unexpected buy quote: %+v", buy)
	}
	sell, err := a.BestPrice(context.Background(), "BTCUSDT", venue.SideSell)
	if err != nil {
		t.Fatalf("sell quote: %v", err)
	}
	if sell.BestPrice != 50000*0.999 {
		t.Fatalf("unexpected sell quote: %+v", sell)
	}
}

func TestMetadataDerivedFromSzDecimals(t *testing.T) {
	a := newTestAdapter(t, newTestServer(t))

	meta, err := a.Metadata(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.SizeIncrement != 1e-5 || meta.SizeDecimals != 5 {
		t.Fatalf("szDecimals 5 must give step 0.00001, got %+v", meta)
	}
	if meta.PriceIncrement != 1.0 {
		t.Fatalf("BTC tick must be 1.0, got %v", meta.PriceIncrement)
	}

	eth, err := a.Metadata(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if eth.PriceIncrement != 0.1 {
		t.Fatalf("non-BTC tick must be 0.1, got %v", eth.PriceIncrement)
	}
}

func TestMetadataUnknownCoin(t *testing.T) {
	a := newTestAdapter(t, newTestServer(t))
	if _, err := a.Metadata(context.Background(), "DOGEUSDT"); !errors.Is(err, venue.ErrSymbolNotFound) {
		t.Fatalf("expected ErrSymbolNotFound, got %v", err)
	}
}

func TestPlaceOrderEntrySetsLeverageThenOrders(t *testing.T) {
	ts := newTestServer(t)
	a := newTestAdapter(t, ts)

	intent := venue.OrderIntent{
		Symbol:    "BTCUSDT",
		Direction: venue.DirectionShort,
		Size:      0.004,
		Leverage:  2,
		Capital:   100,
	}
	res, err := a.PlaceOrder(context.Background(), intent, false)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if res.ID != "101" || res.Status != venue.OrderPending {
		t.Fatalf("unexpected result: %+v", res)
	}

	if len(ts.exchangeCalls) != 2 {
		t.Fatalf("expected updateLeverage then order, got %d calls", len(ts.exchangeCalls))
	}
	lev := ts.exchangeCalls[0].Action
	if lev["type"] != "updateLeverage" || lev["isCross"] != false || lev["leverage"] != float64(2) {
		t.Fatalf("unexpected leverage action: %v", lev)
	}
	order := ts.exchangeCalls[1].Action
	orders := order["orders"].([]any)
	wire := orders[0].(map[string]any)
	if wire["b"] != false {
		t.Fatalf("short entry must sell: %v", wire)
	}
	if wire["r"] != false {
		t.Fatalf("entry must not be reduce-only: %v", wire)
	}
	// Sell limit: mark 50000 minus 5 bps, floored to the whole-dollar tick.
	if wire["p"] != "49975" {
		t.Fatalf("unexpected limit price %v", wire["p"])
	}
	if ts.exchangeCalls[0].Nonce >= ts.exchangeCalls[1].Nonce {
		t.Fatalf("nonces must increase: %d then %d", ts.exchangeCalls[0].Nonce, ts.exchangeCalls[1].Nonce)
	}
}

func TestPlaceOrderReduceOnlySkipsLeverageAndMargin(t *testing.T) {
	ts := newTestServer(t)
	ts.orderResponse = `{"status":"ok","response":{"type":"order","data":{"statuses":[{"filled":{"oid":102,"totalSz":"0.004","avgPx":"49990.0"}}]}}}`
	a := newTestAdapter(t, ts)

	intent := venue.OrderIntent{Symbol: "BTCUSDT", Direction: venue.DirectionLong, Size: 0.004}
	res, err := a.PlaceOrder(context.Background(), intent, true)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if res.Status != venue.OrderFilled || res.FilledSize != 0.004 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(ts.exchangeCalls) != 1 {
		t.Fatalf("reduce-only must post exactly the order, got %d calls", len(ts.exchangeCalls))
	}
	wire := ts.exchangeCalls[0].Action["orders"].([]any)[0].(map[string]any)
	if wire["r"] != true {
		t.Fatalf("close must be reduce-only: %v", wire)
	}
}

func TestPlaceOrderInsufficientWithdrawable(t *testing.T) {
	ts := newTestServer(t)
	ts.clearinghouse = `{"withdrawable":"10.0","assetPositions":[]}`
	a := newTestAdapter(t, ts)

	intent := venue.OrderIntent{Symbol: "BTCUSDT", Direction: venue.DirectionLong, Size: 0.004, Leverage: 2, Capital: 100}
	_, err := a.PlaceOrder(context.Background(), intent, false)
	if !errors.Is(err, venue.ErrInsufficientMargin) {
		t.Fatalf("expected ErrInsufficientMargin, got %v", err)
	}
	if len(ts.exchangeCalls) != 0 {
		t.Fatalf("margin failure must not reach the exchange")
	}
}

func TestPlaceOrderMapsExchangeReject(t *testing.T) {
	ts := newTestServer(t)
	ts.orderResponse = `{"status":"ok","response":{"type":"order","data":{"statuses":[{"error":"Order price out of bounds."}]}}}`
	a := newTestAdapter(t, ts)

	intent := venue.OrderIntent{Symbol: "BTCUSDT", Direction: venue.DirectionLong, Size: 0.004, Leverage: 2, Capital: 100}
	_, err := a.PlaceOrder(context.Background(), intent, false)
	if !errors.Is(err, venue.ErrOrderRejected) {
		t.Fatalf("expected ErrOrderRejected, got %v", err)
	}
}

func TestWaitForFillReportsFill(t *testing.T) {
	ts := newTestServer(t)
	ts.orderStatus = `{"status":"order","order":{"status":"filled","order":{"sz":"0","origSz":"0.004","limitPx":"50025"}}}`
	a := newTestAdapter(t, ts)

	res, err := a.WaitForFill(context.Background(), "BTCUSDT", "101", time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.Status != venue.OrderFilled || res.FilledSize != 0.004 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestWaitForFillRejectedOrder(t *testing.T) {
	ts := newTestServer(t)
	ts.orderStatus = `{"status":"order","order":{"status":"marginCanceled","order":{"sz":"0.004","origSz":"0.004","limitPx":"50025"}}}`
	a := newTestAdapter(t, ts)

	_, err := a.WaitForFill(context.Background(), "BTCUSDT", "101", time.Second)
	if !errors.Is(err, venue.ErrOrderRejected) {
		t.Fatalf("expected ErrOrderRejected, got %v", err)
	}
}

func TestCurrentPositionFromClearinghouse(t *testing.T) {
	ts := newTestServer(t)
	ts.clearinghouse = `{"withdrawable":"812.5","assetPositions":[{"position":{"coin":"BTC","szi":"-0.004","entryPx":"50010.0","leverage":{"type":"isolated","value":2}}}]}`
	a := newTestAdapter(t, ts)

	pos, ok, err := a.CurrentPosition(context.Background(), "BTCUSDT")
	if err != nil || !ok {
		t.Fatalf("position: %v (ok=%t)", err, ok)
	}
	if pos.Direction != venue.DirectionShort || pos.Size != 0.004 || pos.Leverage != 2 {
		t.Fatalf("unexpected position: %+v", pos)
	}

	bal, err := a.AccountBalance(context.Background())
	if err != nil || bal != 812.5 {
		t.Fatalf("unexpected balance %v (err=%v)", bal, err)
	}
}

func TestFundingRateIsPercent(t *testing.T) {
	a := newTestAdapter(t, newTestServer(t))
	q, err := a.FundingRate(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("funding: %v", err)
	}
	if q.RatePercent != 0.00125 {
		t.Fatalf("0.0000125 fraction must read as 0.00125 percent, got %v", q.RatePercent)
	}
}
