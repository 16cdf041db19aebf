package hedge

import (
	"context"
	"sync"
	"time"

	"funding-hedge-bot/internal/events"
	"funding-hedge-bot/internal/venue"
)

// fakeVenue scripts one venue's behavior for orchestrator tests. Zero-value
// fields mean "succeed with sensible defaults".
type fakeVenue struct {
	name string

	balance  float64
	best     float64
	meta     venue.Metadata
	quoteErr error
	metaErr  error
	balErr   error

	placeErr  error
	placeRes  venue.OrderResult
	waitErr   error
	waitRes   venue.OrderResult
	placed    []venue.OrderIntent
	reduce    []bool
	positions []venue.Position
	posErr    error
	// posCalls counts CurrentPosition queries; positions[min(call, len-1)]
	// is returned so a close can observe before/after states.
	posCalls int

	mu sync.Mutex
}

func newFakeVenue(name string) *fakeVenue {
	return &fakeVenue{
		name:    name,
		balance: 1000,
		best:    50000,
		meta: venue.Metadata{
			Venue:          name,
			Symbol:         "BTCUSDT",
			PriceIncrement: 0.1,
			SizeIncrement:  0.001,
			MinNotional:    10,
			SizeDecimals:   3,
			MinSize:        0.001,
		},
		placeRes: venue.OrderResult{ID: "1", Status: venue.OrderPending},
		waitRes:  venue.OrderResult{ID: "1", Status: venue.OrderFilled},
	}
}

func (f *fakeVenue) Name() string { return f.name }

func (f *fakeVenue) BestPrice(_ context.Context, symbol string, side venue.Side) (venue.PriceQuote, error) {
	if f.quoteErr != nil {
		return venue.PriceQuote{}, f.quoteErr
	}
	return venue.PriceQuote{
		Venue:          f.name,
		Symbol:         symbol,
		Side:           side,
		BestPrice:      f.best,
		ReferencePrice: f.best,
		At:             time.Now(),
	}, nil
}

func (f *fakeVenue) Metadata(_ context.Context, symbol string) (venue.Metadata, error) {
	if f.metaErr != nil {
		return venue.Metadata{}, f.metaErr
	}
	m := f.meta
	m.Symbol = symbol
	return m, nil
}

func (f *fakeVenue) PlaceOrder(_ context.Context, intent venue.OrderIntent, reduceOnly bool) (venue.OrderResult, error) {
	f.mu.Lock()
	f.placed = append(f.placed, intent)
	f.reduce = append(f.reduce, reduceOnly)
	f.mu.Unlock()
	if f.placeErr != nil {
		return venue.OrderResult{}, f.placeErr
	}
	return f.placeRes, nil
}

func (f *fakeVenue) WaitForFill(_ context.Context, _, orderID string, _ time.Duration) (venue.OrderResult, error) {
	if f.waitErr != nil {
		return venue.OrderResult{}, f.waitErr
	}
	res := f.waitRes
	res.ID = orderID
	return res, nil
}

func (f *fakeVenue) CurrentPosition(_ context.Context, _ string) (venue.Position, bool, error) {
	if f.posErr != nil {
		return venue.Position{}, false, f.posErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.positions) == 0 {
		return venue.Position{}, false, nil
	}
	idx := f.posCalls
	if idx >= len(f.positions) {
		idx = len(f.positions) - 1
	}
	f.posCalls++
	pos := f.positions[idx]
	if pos.Size == 0 {
		return venue.Position{}, false, nil
	}
	return pos, true, nil
}

func (f *fakeVenue) AccountBalance(_ context.Context) (float64, error) {
	if f.balErr != nil {
		return 0, f.balErr
	}
	return f.balance, nil
}

func (f *fakeVenue) FundingRate(_ context.Context, symbol string) (venue.FundingQuote, error) {
	return venue.FundingQuote{Venue: f.name, Symbol: symbol, AsOf: time.Now()}, nil
}

func (f *fakeVenue) placedIntents() []venue.OrderIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]venue.OrderIntent, len(f.placed))
	copy(out, f.placed)
	return out
}

// recordingSink captures published events by kind.
type recordingSink struct {
	mu     sync.Mutex
	events []string
	last   map[string]events.Event
}

func newRecordingSink() *recordingSink {
	return &recordingSink{last: make(map[string]events.Event)}
}

func (r *recordingSink) Publish(_ context.Context, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.Kind())
	r.last[ev.Kind()] = ev
}

func (r *recordingSink) saw(kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.events {
		if k == kind {
			return true
		}
	}
	return false
}
