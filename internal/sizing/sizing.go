// Package sizing converts a capital/leverage/direction request into a
// venue-legal order. Pure arithmetic: all I/O (quote, metadata, balance) is
// performed by the caller beforehand.
package sizing

import (
	"fmt"
	"math"

	"funding-hedge-bot/internal/venue"
)

// stepEpsilon absorbs float residue from the division before flooring, so a
// value that is already an exact multiple of the step is not pushed one step
// down.
const stepEpsilon = 1e-9

type Inputs struct {
	Capital   float64
	Leverage  float64
	Direction venue.Direction
	Quote     venue.PriceQuote
	Meta      venue.Metadata
	// Balance is the venue-reported balance available for margin.
	Balance float64
}

// FloorToStep rounds value down to the nearest multiple of step. Never rounds
// up: requesting more size than the capital covers would over-leverage.
func FloorToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	steps := math.Floor(value/step + stepEpsilon)
	return roundToStepDecimals(steps*step, step)
}

// RoundPrice aligns a limit price to the venue tick, rounding toward the top
// of book: buyers round up, sellers round down, favouring immediate execution.
func RoundPrice(price, tick float64, side venue.Side) float64 {
	if tick <= 0 {
		return price
	}
	var steps float64
	if side == venue.SideBuy {
		steps = math.Ceil(price/tick - stepEpsilon)
	} else {
		steps = math.Floor(price/tick + stepEpsilon)
	}
	return roundToStepDecimals(steps*tick, tick)
}

// roundToStepDecimals trims the float residue left by steps*step so that
// re-rounding an already-rounded value is a no-op.
func roundToStepDecimals(value, step float64) float64 {
	decimals := 0
	for step < 1 && decimals < 12 {
		step *= 10
		decimals++
	}
	scale := math.Pow10(decimals)
	return math.Round(value*scale) / scale
}

// Build validates and sizes one order leg. Errors map onto the shared venue
// taxonomy: ErrBelowMinNotional and ErrInsufficientMargin.
func Build(in Inputs) (venue.OrderIntent, error) {
	if in.Capital <= 0 {
		return venue.OrderIntent{}, fmt.Errorf("capital must be positive: %w", venue.ErrBelowMinNotional)
	}
	if in.Leverage <= 0 {
		return venue.OrderIntent{}, fmt.Errorf("leverage must be positive: %w", venue.ErrInsufficientMargin)
	}
	if in.Quote.BestPrice <= 0 {
		return venue.OrderIntent{}, fmt.Errorf("%s %s: %w", in.Meta.Venue, in.Meta.Symbol, venue.ErrQuoteUnavailable)
	}

	price := RoundPrice(in.Quote.BestPrice, in.Meta.PriceIncrement, in.Direction.Side())
	rawSize := (in.Capital * in.Leverage) / in.Quote.BestPrice
	size := FloorToStep(rawSize, in.Meta.SizeIncrement)

	if size <= 0 {
		return venue.OrderIntent{}, fmt.Errorf("%s %s: computed size is zero: %w", in.Meta.Venue, in.Meta.Symbol, venue.ErrBelowMinNotional)
	}
	if in.Meta.MinSize > 0 && size < in.Meta.MinSize {
		return venue.OrderIntent{}, fmt.Errorf("%s %s: size %v below minimum %v: %w", in.Meta.Venue, in.Meta.Symbol, size, in.Meta.MinSize, venue.ErrBelowMinNotional)
	}
	notional := size * price
	if in.Meta.MinNotional > 0 && notional < in.Meta.MinNotional {
		return venue.OrderIntent{}, fmt.Errorf("%s %s: notional %.2f below minimum %.2f: %w", in.Meta.Venue, in.Meta.Symbol, notional, in.Meta.MinNotional, venue.ErrBelowMinNotional)
	}

	required := notional / in.Leverage
	if required > in.Balance {
		return venue.OrderIntent{}, fmt.Errorf("%s: required margin %.2f exceeds available balance %.2f: %w", in.Meta.Venue, required, in.Balance, venue.ErrInsufficientMargin)
	}
	// Guard against leverage/price drift inflating the actual margin beyond
	// what the caller authorized.
	if required > in.Capital*(1+stepEpsilon) {
		return venue.OrderIntent{}, fmt.Errorf("%s: required margin %.2f exceeds requested capital %.2f: %w", in.Meta.Venue, required, in.Capital, venue.ErrInsufficientMargin)
	}

	return venue.OrderIntent{
		Venue:     in.Meta.Venue,
		Symbol:    in.Meta.Symbol,
		Direction: in.Direction,
		Capital:   in.Capital,
		Leverage:  in.Leverage,
		Size:      size,
		Price:     price,
	}, nil
}
