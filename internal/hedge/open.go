package hedge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"funding-hedge-bot/internal/events"
	"funding-hedge-bot/internal/sizing"
	"funding-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

const defaultFillTimeout = 30 * time.Second

// Opener runs the two-leg open sequence. Venue B goes first: its sizing
// depends on a mark price re-fetched immediately before placement, so it
// trades while that quote is freshest. A leg-B failure aborts with zero
// exposure; a leg-A failure after leg B fills is reported as a partial open
// and never auto-rolled back, because a compensating trade in a volatile
// market can compound the loss.
type Opener struct {
	venueA      venue.Venue
	venueB      venue.Venue
	store       *PositionStore
	sink        events.Sink
	log         *zap.Logger
	fillTimeout time.Duration
}

func NewOpener(venueA, venueB venue.Venue, store *PositionStore, sink events.Sink, log *zap.Logger, fillTimeout time.Duration) *Opener {
	if fillTimeout <= 0 {
		fillTimeout = defaultFillTimeout
	}
	return &Opener{
		venueA:      venueA,
		venueB:      venueB,
		store:       store,
		sink:        sink,
		log:         log,
		fillTimeout: fillTimeout,
	}
}

// Open places one leg per venue with identical capital/leverage inputs and
// opposite directions. The error is nil only when the result is Confirmed.
func (o *Opener) Open(ctx context.Context, p OpenParams) (OpenResult, error) {
	res := OpenResult{Symbol: p.Symbol, State: StateInit, Legs: make(map[string]Leg)}
	if !p.Direction.Valid() {
		return o.verifyFailed(ctx, res, fmt.Errorf("invalid direction %q", p.Direction))
	}
	if p.Capital <= 0 || p.Leverage <= 0 {
		return o.verifyFailed(ctx, res, fmt.Errorf("capital and leverage must be positive"))
	}

	unlock := o.store.LockSymbol(p.Symbol)
	defer unlock()

	// Verify both legs before placing anything: a validation failure here
	// costs nothing.
	intentA, err := o.verifyLeg(ctx, o.venueA, p.Symbol, p.Direction, p)
	if err != nil {
		return o.verifyFailed(ctx, res, fmt.Errorf("verify %s leg: %w", o.venueA.Name(), err))
	}
	intentB, err := o.verifyLeg(ctx, o.venueB, p.Symbol, p.Direction.Opposite(), p)
	if err != nil {
		return o.verifyFailed(ctx, res, fmt.Errorf("verify %s leg: %w", o.venueB.Name(), err))
	}
	res.State = StateVerified
	o.log.Info("hedge verified",
		zap.String("symbol", p.Symbol),
		zap.String("venue_a", o.venueA.Name()),
		zap.Float64("size_a", intentA.Size),
		zap.Float64("price_a", intentA.Price),
		zap.String("venue_b", o.venueB.Name()),
		zap.Float64("size_b", intentB.Size),
		zap.Float64("price_b", intentB.Price),
	)

	legB, err := o.placeLeg(ctx, o.venueB, intentB)
	if err != nil {
		// Nothing filled: clean abort. The timed-out order, if any, may
		// still fill later; the caller must re-query live positions before
		// trusting a flat state.
		reason := err.Error()
		o.publish(ctx, events.LegFailed{Venue: o.venueB.Name(), Symbol: p.Symbol, Reason: reason})
		o.publish(ctx, events.OpenAborted{Symbol: p.Symbol, Reason: reason})
		res.Outcome = OutcomeAborted
		res.FailedVenue = o.venueB.Name()
		res.Reason = reason
		return res, fmt.Errorf("%w: %s leg: %s", ErrOpenAborted, o.venueB.Name(), reason)
	}
	res.State = StateLegBPlaced
	res.Legs[legB.Venue] = legB
	o.publish(ctx, events.LegFilled{
		Venue:     legB.Venue,
		Symbol:    legB.Symbol,
		Direction: legB.Direction,
		Size:      legB.Size,
		Price:     legB.EntryPrice,
		Leverage:  legB.Leverage,
	})

	legA, err := o.placeLeg(ctx, o.venueA, intentA)
	if err != nil {
		// One leg live, one dead: the dangerous state. Record the filled
		// leg so reconciliation sees it and report exactly where the
		// exposure sits.
		reason := err.Error()
		res.State = StatePartialOpen
		res.Outcome = OutcomePartialOpen
		res.FilledVenue = legB.Venue
		res.FailedVenue = o.venueA.Name()
		res.Reason = reason
		if storeErr := o.store.SetLeg(ctx, legB); storeErr != nil {
			o.log.Error("failed to record partial leg", zap.Error(storeErr))
		}
		o.publish(ctx, events.LegFailed{Venue: o.venueA.Name(), Symbol: p.Symbol, Reason: reason})
		o.publish(ctx, events.PartialOpen{
			Symbol:      p.Symbol,
			FilledVenue: legB.Venue,
			FailedVenue: o.venueA.Name(),
			Size:        legB.Size,
			Price:       legB.EntryPrice,
			Reason:      reason,
		})
		return res, fmt.Errorf("%w: %s holds %v %s, %s leg failed: %s",
			ErrPartialOpen, legB.Venue, legB.Size, p.Symbol, o.venueA.Name(), reason)
	}
	res.State = StateLegAPlaced
	res.Legs[legA.Venue] = legA
	o.publish(ctx, events.LegFilled{
		Venue:     legA.Venue,
		Symbol:    legA.Symbol,
		Direction: legA.Direction,
		Size:      legA.Size,
		Price:     legA.EntryPrice,
		Leverage:  legA.Leverage,
	})

	if err := o.store.SetLeg(ctx, legA); err != nil {
		return res, err
	}
	if err := o.store.SetLeg(ctx, legB); err != nil {
		return res, err
	}
	res.State = StateConfirmed
	res.Outcome = OutcomeConfirmed
	o.publish(ctx, events.HedgeOpened{
		Symbol:   p.Symbol,
		Capital:  p.Capital,
		Leverage: p.Leverage,
		Legs: []events.LegFilled{
			{Venue: legA.Venue, Symbol: legA.Symbol, Direction: legA.Direction, Size: legA.Size, Price: legA.EntryPrice, Leverage: legA.Leverage},
			{Venue: legB.Venue, Symbol: legB.Symbol, Direction: legB.Direction, Size: legB.Size, Price: legB.EntryPrice, Leverage: legB.Leverage},
		},
	})
	return res, nil
}

func (o *Opener) verifyFailed(ctx context.Context, res OpenResult, err error) (OpenResult, error) {
	res.State = StateVerifyFailed
	res.Outcome = OutcomeAborted
	res.Reason = err.Error()
	o.publish(ctx, events.OpenAborted{Symbol: res.Symbol, Reason: res.Reason})
	return res, fmt.Errorf("%w: %w", ErrOpenAborted, err)
}

// verifyLeg runs the read-only half of a leg: balance, fresh quote, metadata,
// and pure sizing. No order is placed.
func (o *Opener) verifyLeg(ctx context.Context, v venue.Venue, symbol string, dir venue.Direction, p OpenParams) (venue.OrderIntent, error) {
	balance, err := v.AccountBalance(ctx)
	if err != nil {
		return venue.OrderIntent{}, err
	}
	quote, err := v.BestPrice(ctx, symbol, dir.Side())
	if err != nil {
		return venue.OrderIntent{}, err
	}
	meta, err := v.Metadata(ctx, symbol)
	if err != nil {
		return venue.OrderIntent{}, err
	}
	return sizing.Build(sizing.Inputs{
		Capital:   p.Capital,
		Leverage:  p.Leverage,
		Direction: dir,
		Quote:     quote,
		Meta:      meta,
		Balance:   balance,
	})
}

// placeLeg submits one leg and blocks until it fills or fails. Fills may be
// partial in principle; within the timeout a leg is treated as
// fully-filled-or-abandoned, and the venue-reported fill is what gets
// recorded.
func (o *Opener) placeLeg(ctx context.Context, v venue.Venue, intent venue.OrderIntent) (Leg, error) {
	placed, err := v.PlaceOrder(ctx, intent, false)
	if err != nil {
		return Leg{}, err
	}
	result := placed
	if !placed.Status.Terminal() {
		result, err = v.WaitForFill(ctx, intent.Symbol, placed.ID, o.fillTimeout)
		if err != nil {
			return Leg{}, err
		}
	}
	if result.Status != venue.OrderFilled {
		return Leg{}, &venue.RejectError{Venue: v.Name(), Symbol: intent.Symbol, Reason: string(result.Status)}
	}
	size := result.FilledSize
	if size == 0 {
		size = intent.Size
	}
	price := result.AvgPrice
	if price == 0 {
		price = intent.Price
	}
	return Leg{
		Venue:      v.Name(),
		Symbol:     intent.Symbol,
		Direction:  intent.Direction,
		Size:       size,
		EntryPrice: price,
		Leverage:   intent.Leverage,
		Status:     LegFilled,
	}, nil
}

func (o *Opener) publish(ctx context.Context, ev events.Event) {
	if o.sink != nil {
		o.sink.Publish(ctx, ev)
	}
}

// IsAborted reports whether the error is a clean pre-exposure abort.
func IsAborted(err error) bool {
	return errors.Is(err, ErrOpenAborted)
}
