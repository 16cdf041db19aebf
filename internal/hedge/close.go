package hedge

import (
	"context"
	"fmt"
	"math"
	"time"

	"funding-hedge-bot/internal/events"
	"funding-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

// FlatTolerance is the absolute size below which a position counts as closed.
// Residual dust from step rounding sits well under this.
const FlatTolerance = 1e-6

// Closer unwinds both legs of a hedge best-effort. Each venue is attempted
// independently: one venue failing never stops the other from flattening.
// Close is idempotent; running it against an already-flat symbol issues no
// orders.
type Closer struct {
	venueA      venue.Venue
	venueB      venue.Venue
	store       *PositionStore
	sink        events.Sink
	log         *zap.Logger
	fillTimeout time.Duration
}

func NewCloser(venueA, venueB venue.Venue, store *PositionStore, sink events.Sink, log *zap.Logger, fillTimeout time.Duration) *Closer {
	if fillTimeout <= 0 {
		fillTimeout = defaultFillTimeout
	}
	return &Closer{
		venueA:      venueA,
		venueB:      venueB,
		store:       store,
		sink:        sink,
		log:         log,
		fillTimeout: fillTimeout,
	}
}

// Close flattens the symbol on both venues. The error is nil only when both
// venues end flat; otherwise it wraps ErrPartialClose and the result names
// each venue still holding exposure.
func (c *Closer) Close(ctx context.Context, symbol string) (CloseResult, error) {
	unlock := c.store.LockSymbol(symbol)
	defer unlock()

	res := CloseResult{Symbol: symbol, Venues: make(map[string]VenueClose)}
	for _, v := range []venue.Venue{c.venueA, c.venueB} {
		vc := c.closeVenue(ctx, v, symbol)
		res.Venues[v.Name()] = vc
		if vc.Closed {
			c.store.ClearLeg(ctx, v.Name(), symbol)
			if vc.ClosedSize > 0 {
				c.publish(ctx, events.VenueClosed{Venue: v.Name(), Symbol: symbol, Size: vc.ClosedSize})
			}
		}
	}

	res.Closed = res.Venues[c.venueA.Name()].Closed && res.Venues[c.venueB.Name()].Closed
	if !res.Closed {
		open := res.OpenVenues()
		reason := ""
		for name, vc := range res.Venues {
			if !vc.Closed {
				reason = fmt.Sprintf("%s: %s", name, vc.Reason)
				break
			}
		}
		c.publish(ctx, events.PartialClose{Symbol: symbol, OpenVenues: open, Reason: reason})
		return res, fmt.Errorf("%w: %s", ErrPartialClose, reason)
	}
	c.publish(ctx, events.HedgeClosed{Symbol: symbol})
	return res, nil
}

// closeVenue flattens one venue. The live position, not the stored leg, is
// the source of truth for direction and size: the close order is reduce-only
// and sized to exactly what the venue reports.
func (c *Closer) closeVenue(ctx context.Context, v venue.Venue, symbol string) VenueClose {
	pos, ok, err := v.CurrentPosition(ctx, symbol)
	if err != nil {
		return VenueClose{Venue: v.Name(), Reason: fmt.Sprintf("query position: %v", err)}
	}
	if !ok || math.Abs(pos.Size) < FlatTolerance {
		return VenueClose{Venue: v.Name(), Closed: true}
	}

	intent := venue.OrderIntent{
		Venue:     v.Name(),
		Symbol:    symbol,
		Direction: pos.Direction.Opposite(),
		Size:      math.Abs(pos.Size),
		Leverage:  pos.Leverage,
	}
	result, err := v.PlaceOrder(ctx, intent, true)
	if err != nil {
		return VenueClose{Venue: v.Name(), RemainingSize: math.Abs(pos.Size), Reason: fmt.Sprintf("close order: %v", err)}
	}
	if !result.Status.Terminal() {
		if _, err := v.WaitForFill(ctx, symbol, result.ID, c.fillTimeout); err != nil {
			c.log.Warn("close fill wait failed, re-querying position",
				zap.String("venue", v.Name()),
				zap.String("symbol", symbol),
				zap.Error(err),
			)
		}
	}

	// Trust the venue, not the order status: re-query and judge by what is
	// actually left.
	after, ok, err := v.CurrentPosition(ctx, symbol)
	if err != nil {
		return VenueClose{Venue: v.Name(), RemainingSize: math.Abs(pos.Size), Reason: fmt.Sprintf("verify flat: %v", err)}
	}
	remaining := 0.0
	if ok {
		remaining = math.Abs(after.Size)
	}
	if remaining >= FlatTolerance {
		return VenueClose{
			Venue:         v.Name(),
			ClosedSize:    math.Abs(pos.Size) - remaining,
			RemainingSize: remaining,
			Reason:        "position not flat after close order",
		}
	}
	return VenueClose{Venue: v.Name(), Closed: true, ClosedSize: math.Abs(pos.Size)}
}

func (c *Closer) publish(ctx context.Context, ev events.Event) {
	if c.sink != nil {
		c.sink.Publish(ctx, ev)
	}
}
