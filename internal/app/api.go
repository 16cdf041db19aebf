package app

import (
	"context"
	"math"

	"funding-hedge-bot/internal/funding"
	"funding-hedge-bot/internal/hedge"
	"funding-hedge-bot/internal/venue"
)

// EvaluateFunding fetches fresh funding rates from both venues and classifies
// the differential. Every evaluation is journaled, opportunity or not.
func (a *App) EvaluateFunding(ctx context.Context) (funding.Evaluation, error) {
	eval, err := a.evaluator.Evaluate(ctx, a.cfg.Trading.Symbol, a.cfg.Trading.FundingThreshold)
	if err != nil {
		return funding.Evaluation{}, err
	}
	a.metrics.Evaluations.Inc()
	if eval.Outcome == funding.Opportunity {
		a.metrics.Opportunities.Inc()
	}
	a.journal.EnqueueEvaluation(eval)
	return eval, nil
}

// OpenHedge opens the configured hedge with the given venue-A direction.
// The result is returned even on failure so callers can report the terminal
// state.
func (a *App) OpenHedge(ctx context.Context, direction venue.Direction) (hedge.OpenResult, error) {
	res, err := a.opener.Open(ctx, hedge.OpenParams{
		Symbol:    a.cfg.Trading.Symbol,
		Direction: direction,
		Capital:   a.cfg.Trading.CapitalUSD,
		Leverage:  a.cfg.Trading.Leverage,
	})
	for range res.Legs {
		a.metrics.OrdersPlaced.Inc()
	}
	if res.FailedVenue != "" {
		a.metrics.OrdersFailed.Inc()
	}
	switch res.Outcome {
	case hedge.OutcomeConfirmed:
		a.metrics.HedgesConfirmed.Inc()
	case hedge.OutcomePartialOpen:
		a.metrics.PartialOpens.Inc()
	case hedge.OutcomeAborted:
		a.metrics.OpensAborted.Inc()
	}
	return res, err
}

// CloseHedge flattens the configured symbol on both venues.
func (a *App) CloseHedge(ctx context.Context) (hedge.CloseResult, error) {
	res, err := a.closer.Close(ctx, a.cfg.Trading.Symbol)
	for _, vc := range res.Venues {
		if vc.ClosedSize > 0 {
			a.metrics.OrdersPlaced.Inc()
		}
		if !vc.Closed {
			a.metrics.OrdersFailed.Inc()
		}
	}
	if res.Closed {
		a.metrics.HedgesClosed.Inc()
	} else {
		a.metrics.PartialCloses.Inc()
	}
	return res, err
}

// VenuePosition pairs a venue's live position with the leg the bot recorded.
// Live is nil when the venue reports flat; Known is nil when no leg was
// recorded. Error carries the query failure when the venue was unreachable,
// in which case Known is the best information available.
type VenuePosition struct {
	Venue string
	Live  *venue.Position
	Known *hedge.Leg
	Error string
}

// QueryPositions asks both venues for their live position on the configured
// symbol, best-effort per venue. The live venue state is authoritative; the
// recorded leg rides along so callers can spot drift (a timed-out order that
// filled late, a manual close, a restart with stale state).
func (a *App) QueryPositions(ctx context.Context) map[string]VenuePosition {
	symbol := a.cfg.Trading.Symbol
	known := a.positions.Legs(symbol)
	out := make(map[string]VenuePosition, 2)
	for _, v := range []venue.Venue{a.venueA, a.venueB} {
		vp := VenuePosition{Venue: v.Name()}
		if leg, ok := known[v.Name()]; ok {
			vp.Known = &leg
		}
		pos, ok, err := v.CurrentPosition(ctx, symbol)
		switch {
		case err != nil:
			vp.Error = err.Error()
		case ok && math.Abs(pos.Size) >= hedge.FlatTolerance:
			vp.Live = &pos
		}
		out[v.Name()] = vp
	}
	return out
}
