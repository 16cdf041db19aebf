// Package venue defines the capability interface a derivatives venue must
// expose to the hedge orchestrators, along with the shared market-data and
// order types. Wire formats are venue-specific; implementations live in the
// subpackages and map their errors onto the taxonomy in errors.go.
package venue

import (
	"context"
	"time"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Side maps a position direction onto the order side that opens it.
func (d Direction) Side() Side {
	if d == DirectionShort {
		return SideSell
	}
	return SideBuy
}

func (d Direction) Opposite() Direction {
	if d == DirectionShort {
		return DirectionLong
	}
	return DirectionShort
}

func (d Direction) Valid() bool {
	return d == DirectionLong || d == DirectionShort
}

// PriceQuote is an executable price snapshot. Quotes are fetched fresh for
// every operation and never cached.
type PriceQuote struct {
	Venue          string
	Symbol         string
	Side           Side
	BestPrice      float64
	ReferencePrice float64
	At             time.Time
}

// Metadata holds the sizing rules for one instrument. Immutable per
// (venue, symbol); safe to cache with a short TTL.
type Metadata struct {
	Venue          string
	Symbol         string
	PriceIncrement float64
	SizeIncrement  float64
	MinNotional    float64
	SizeDecimals   int
	MinSize        float64
}

// OrderIntent is a venue-legal order derived from a capital/leverage request.
// Size is floored to the venue's size increment and Price rounded toward the
// top of book for the requested side.
type OrderIntent struct {
	Venue     string
	Symbol    string
	Direction Direction
	Capital   float64
	Leverage  float64
	Size      float64
	Price     float64
}

func (i OrderIntent) Notional() float64 {
	return i.Size * i.Price
}

type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderFilled   OrderStatus = "filled"
	OrderRejected OrderStatus = "rejected"
	OrderUnknown  OrderStatus = "unknown"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderRejected
}

type OrderResult struct {
	ID         string
	Status     OrderStatus
	FilledSize float64
	AvgPrice   float64
}

// Position is one live leg on a venue. Size is always positive; Direction
// carries the sign.
type Position struct {
	Venue      string
	Symbol     string
	Direction  Direction
	Size       float64
	EntryPrice float64
	Leverage   float64
}

// FundingQuote is the most recent funding rate for a symbol, expressed in
// percent (0.01 means 0.01%).
type FundingQuote struct {
	Venue       string
	Symbol      string
	RatePercent float64
	AsOf        time.Time
}

// Venue is the capability interface implemented once per exchange. Semantics
// are identical across implementations even though the wire formats differ.
type Venue interface {
	Name() string

	// BestPrice returns the current top-of-book price for the given side.
	// Fails with ErrQuoteUnavailable when the book cannot be read.
	BestPrice(ctx context.Context, symbol string, side Side) (PriceQuote, error)

	// Metadata returns the sizing rules for a symbol. Fails with
	// ErrSymbolNotFound when the venue lists no such instrument.
	Metadata(ctx context.Context, symbol string) (Metadata, error)

	// PlaceOrder submits a limit order. Submission-time rejections (margin,
	// invalid price/size, halted symbol) surface as *RejectError.
	PlaceOrder(ctx context.Context, intent OrderIntent, reduceOnly bool) (OrderResult, error)

	// WaitForFill polls at a fixed interval until the order reaches a
	// terminal status or the timeout elapses. A timeout cancels only the
	// wait, never the order; it may still fill later and callers must
	// re-query the live position before trusting system state.
	WaitForFill(ctx context.Context, symbol, orderID string, timeout time.Duration) (OrderResult, error)

	// CurrentPosition returns the live position for a symbol, if any.
	CurrentPosition(ctx context.Context, symbol string) (Position, bool, error)

	// AccountBalance returns the balance available for new margin.
	AccountBalance(ctx context.Context) (float64, error)

	// FundingRate returns the most recent funding rate for a symbol.
	FundingRate(ctx context.Context, symbol string) (FundingQuote, error)
}
