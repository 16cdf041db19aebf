package hedge

import (
	"context"
	"errors"
	"testing"

	"funding-hedge-bot/internal/events"
	"funding-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

func newTestCloser(a, b *fakeVenue, sink events.Sink) (*Closer, *PositionStore) {
	store := NewPositionStore(nil, zap.NewNop())
	return NewCloser(a, b, store, sink, zap.NewNop(), 0), store
}

func livePosition(venueName string, dir venue.Direction, size float64) venue.Position {
	return venue.Position{Venue: venueName, Symbol: "BTCUSDT", Direction: dir, Size: size, EntryPrice: 50000, Leverage: 2}
}

func TestCloseFlattensBothVenues(t *testing.T) {
	a := newFakeVenue("binance")
	a.positions = []venue.Position{livePosition("binance", venue.DirectionLong, 0.004), {}}
	b := newFakeVenue("hyperliquid")
	b.positions = []venue.Position{livePosition("hyperliquid", venue.DirectionShort, 0.004), {}}
	sink := newRecordingSink()
	closer, store := newTestCloser(a, b, sink)
	store.SetLeg(context.Background(), Leg{Venue: "binance", Symbol: "BTCUSDT", Direction: venue.DirectionLong, Size: 0.004, EntryPrice: 50000, Status: LegFilled})
	store.SetLeg(context.Background(), Leg{Venue: "hyperliquid", Symbol: "BTCUSDT", Direction: venue.DirectionShort, Size: 0.004, EntryPrice: 50000, Status: LegFilled})

	res, err := closer.Close(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !res.Closed {
		t.Fatalf("expected closed result: %+v", res)
	}

	// Each close order is reduce-only and opposite to the live direction.
	aIntents := a.placedIntents()
	if len(aIntents) != 1 || aIntents[0].Direction != venue.DirectionShort || aIntents[0].Size != 0.004 {
		t.Fatalf("unexpected binance close order: %+v", aIntents)
	}
	if !a.reduce[0] {
		t.Fatalf("close order must be reduce-only")
	}
	bIntents := b.placedIntents()
	if len(bIntents) != 1 || bIntents[0].Direction != venue.DirectionLong {
		t.Fatalf("unexpected hyperliquid close order: %+v", bIntents)
	}

	if !sink.saw("hedge_closed") {
		t.Fatalf("expected hedge_closed event, got %v", sink.events)
	}
	if len(store.All()) != 0 {
		t.Fatalf("closed legs must be cleared, got %v", store.All())
	}
}

func TestCloseIsIdempotentWhenAlreadyFlat(t *testing.T) {
	a := newFakeVenue("binance")
	b := newFakeVenue("hyperliquid")
	sink := newRecordingSink()
	closer, _ := newTestCloser(a, b, sink)

	res, err := closer.Close(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("close of flat symbol must succeed: %v", err)
	}
	if !res.Closed {
		t.Fatalf("expected closed result: %+v", res)
	}
	if len(a.placedIntents())+len(b.placedIntents()) != 0 {
		t.Fatalf("flat close must issue no orders")
	}
	if sink.saw("venue_closed") {
		t.Fatalf("no venue_closed event expected when nothing was closed")
	}
}

func TestCloseTreatsDustAsFlat(t *testing.T) {
	a := newFakeVenue("binance")
	a.positions = []venue.Position{livePosition("binance", venue.DirectionLong, 5e-7)}
	b := newFakeVenue("hyperliquid")
	closer, _ := newTestCloser(a, b, newRecordingSink())

	res, err := closer.Close(context.Background(), "BTCUSDT")
	if err != nil || !res.Closed {
		t.Fatalf("dust-sized position must count as flat: res=%+v err=%v", res, err)
	}
	if len(a.placedIntents()) != 0 {
		t.Fatalf("dust must not trigger a close order")
	}
}

func TestClosePartialWhenOneVenueStaysOpen(t *testing.T) {
	a := newFakeVenue("binance")
	a.positions = []venue.Position{livePosition("binance", venue.DirectionLong, 0.004), {}}
	b := newFakeVenue("hyperliquid")
	// Order placement fails; the position never moves.
	b.positions = []venue.Position{livePosition("hyperliquid", venue.DirectionShort, 0.004)}
	b.placeErr = &venue.RejectError{Venue: "hyperliquid", Symbol: "BTCUSDT", Reason: "exchange unavailable"}
	sink := newRecordingSink()
	closer, store := newTestCloser(a, b, sink)
	store.SetLeg(context.Background(), Leg{Venue: "hyperliquid", Symbol: "BTCUSDT", Direction: venue.DirectionShort, Size: 0.004, EntryPrice: 50000, Status: LegFilled})

	res, err := closer.Close(context.Background(), "BTCUSDT")
	if !errors.Is(err, ErrPartialClose) {
		t.Fatalf("expected ErrPartialClose, got %v", err)
	}
	if res.Closed {
		t.Fatalf("result must not report closed")
	}
	if !res.Venues["binance"].Closed {
		t.Fatalf("binance leg should have closed independently: %+v", res.Venues["binance"])
	}
	open := res.OpenVenues()
	if size, ok := open["hyperliquid"]; !ok || size != 0.004 {
		t.Fatalf("expected hyperliquid open with size 0.004, got %v", open)
	}
	if !sink.saw("partial_close") {
		t.Fatalf("expected partial_close event, got %v", sink.events)
	}
	// The failed venue's leg stays in the store for the next attempt.
	if _, ok := store.Leg("hyperliquid", "BTCUSDT"); !ok {
		t.Fatalf("unclosed leg must remain in store")
	}
}

func TestCloseDetectsResidualAfterOrder(t *testing.T) {
	a := newFakeVenue("binance")
	// Re-query after the close order still shows size: the venue only
	// partially filled the reduce.
	a.positions = []venue.Position{
		livePosition("binance", venue.DirectionLong, 0.004),
		livePosition("binance", venue.DirectionLong, 0.002),
	}
	b := newFakeVenue("hyperliquid")
	closer, _ := newTestCloser(a, b, newRecordingSink())

	res, err := closer.Close(context.Background(), "BTCUSDT")
	if !errors.Is(err, ErrPartialClose) {
		t.Fatalf("expected ErrPartialClose, got %v", err)
	}
	vc := res.Venues["binance"]
	if vc.Closed || vc.RemainingSize != 0.002 {
		t.Fatalf("expected 0.002 remaining on binance, got %+v", vc)
	}
}
