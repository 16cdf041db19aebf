// Package funding compares funding rates across two venues and decides
// whether the differential is worth hedging.
package funding

import (
	"context"
	"fmt"
	"math"

	"funding-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

type Outcome string

const (
	Opportunity   Outcome = "opportunity"
	NoOpportunity Outcome = "no_opportunity"
)

// Recommendation names the venue to short and the venue to long. Positive
// funding is paid by longs to shorts, so the short leg belongs on the venue
// with the higher rate.
type Recommendation struct {
	ShortVenue string
	LongVenue  string
}

type Evaluation struct {
	Symbol  string
	Outcome Outcome
	RateA   venue.FundingQuote
	RateB   venue.FundingQuote
	// DiffPercent is rateA - rateB, both in percent.
	DiffPercent      float64
	ThresholdPercent float64
	// Shortfall is how far |diff| fell below the threshold; zero on an
	// opportunity.
	Shortfall      float64
	Recommendation *Recommendation
}

type Evaluator struct {
	venueA venue.Venue
	venueB venue.Venue
	log    *zap.Logger
}

func NewEvaluator(venueA, venueB venue.Venue, log *zap.Logger) *Evaluator {
	return &Evaluator{venueA: venueA, venueB: venueB, log: log}
}

// Evaluate fetches fresh funding quotes from both venues and classifies the
// differential against the threshold (a fraction: 0.001 means 0.1%). A fetch
// failure on either venue is an error, never a zero-rate default: a missing
// rate must not manufacture a false opportunity.
func (e *Evaluator) Evaluate(ctx context.Context, symbol string, threshold float64) (Evaluation, error) {
	quoteA, err := e.venueA.FundingRate(ctx, symbol)
	if err != nil {
		return Evaluation{}, fmt.Errorf("funding rate from %s: %w", e.venueA.Name(), err)
	}
	quoteB, err := e.venueB.FundingRate(ctx, symbol)
	if err != nil {
		return Evaluation{}, fmt.Errorf("funding rate from %s: %w", e.venueB.Name(), err)
	}

	diff := quoteA.RatePercent - quoteB.RatePercent
	thresholdPercent := threshold * 100
	eval := Evaluation{
		Symbol:           symbol,
		RateA:            quoteA,
		RateB:            quoteB,
		DiffPercent:      diff,
		ThresholdPercent: thresholdPercent,
	}

	if math.Abs(diff) > thresholdPercent {
		eval.Outcome = Opportunity
		if diff > 0 {
			eval.Recommendation = &Recommendation{ShortVenue: e.venueA.Name(), LongVenue: e.venueB.Name()}
		} else {
			eval.Recommendation = &Recommendation{ShortVenue: e.venueB.Name(), LongVenue: e.venueA.Name()}
		}
	} else {
		eval.Outcome = NoOpportunity
		eval.Shortfall = thresholdPercent - math.Abs(diff)
	}

	e.log.Debug("funding evaluated",
		zap.String("symbol", symbol),
		zap.String("outcome", string(eval.Outcome)),
		zap.Float64("rate_a_pct", quoteA.RatePercent),
		zap.Float64("rate_b_pct", quoteB.RatePercent),
		zap.Float64("diff_pct", diff),
		zap.Float64("threshold_pct", thresholdPercent),
	)
	return eval, nil
}
