// Package events carries the typed diagnostics emitted by the orchestrators.
// Components publish structured events instead of formatting strings; sinks
// (log, telegram, journal) decide how to render them.
package events

import (
	"context"

	"funding-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

type Event interface {
	Kind() string
}

type Sink interface {
	Publish(ctx context.Context, ev Event)
}

type LegFilled struct {
	Venue     string
	Symbol    string
	Direction venue.Direction
	Size      float64
	Price     float64
	Leverage  float64
}

func (LegFilled) Kind() string { return "leg_filled" }

type LegFailed struct {
	Venue  string
	Symbol string
	Reason string
}

func (LegFailed) Kind() string { return "leg_failed" }

type HedgeOpened struct {
	Symbol   string
	Capital  float64
	Leverage float64
	Legs     []LegFilled
}

func (HedgeOpened) Kind() string { return "hedge_opened" }

// PartialOpen is the loud one: a single venue holds an unhedged position and
// an operator has to decide what to do with it.
type PartialOpen struct {
	Symbol      string
	FilledVenue string
	FailedVenue string
	Size        float64
	Price       float64
	Reason      string
}

func (PartialOpen) Kind() string { return "partial_open" }

type OpenAborted struct {
	Symbol string
	Reason string
}

func (OpenAborted) Kind() string { return "open_aborted" }

type VenueClosed struct {
	Venue  string
	Symbol string
	Size   float64
}

func (VenueClosed) Kind() string { return "venue_closed" }

type HedgeClosed struct {
	Symbol string
}

func (HedgeClosed) Kind() string { return "hedge_closed" }

type PartialClose struct {
	Symbol string
	// OpenVenues lists the venues still holding exposure, with last known
	// size for manual reconciliation.
	OpenVenues map[string]float64
	Reason     string
}

func (PartialClose) Kind() string { return "partial_close" }

type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, ev Event) {
	for _, s := range f {
		if s != nil {
			s.Publish(ctx, ev)
		}
	}
}

type logSink struct {
	log *zap.Logger
}

// NewLogSink renders events as structured zap entries.
func NewLogSink(log *zap.Logger) Sink {
	return &logSink{log: log}
}

func (s *logSink) Publish(_ context.Context, ev Event) {
	switch e := ev.(type) {
	case LegFilled:
		s.log.Info("leg filled",
			zap.String("venue", e.Venue),
			zap.String("symbol", e.Symbol),
			zap.String("direction", string(e.Direction)),
			zap.Float64("size", e.Size),
			zap.Float64("price", e.Price),
		)
	case LegFailed:
		s.log.Warn("leg failed",
			zap.String("venue", e.Venue),
			zap.String("symbol", e.Symbol),
			zap.String("reason", e.Reason),
		)
	case HedgeOpened:
		s.log.Info("hedge opened",
			zap.String("symbol", e.Symbol),
			zap.Float64("capital", e.Capital),
			zap.Float64("leverage", e.Leverage),
			zap.Int("legs", len(e.Legs)),
		)
	case PartialOpen:
		s.log.Error("partial open: unhedged exposure",
			zap.String("symbol", e.Symbol),
			zap.String("filled_venue", e.FilledVenue),
			zap.String("failed_venue", e.FailedVenue),
			zap.Float64("size", e.Size),
			zap.Float64("price", e.Price),
			zap.String("reason", e.Reason),
		)
	case OpenAborted:
		s.log.Warn("open aborted",
			zap.String("symbol", e.Symbol),
			zap.String("reason", e.Reason),
		)
	case VenueClosed:
		s.log.Info("venue position closed",
			zap.String("venue", e.Venue),
			zap.String("symbol", e.Symbol),
			zap.Float64("size", e.Size),
		)
	case HedgeClosed:
		s.log.Info("hedge closed", zap.String("symbol", e.Symbol))
	case PartialClose:
		s.log.Error("partial close: exposure remains",
			zap.String("symbol", e.Symbol),
			zap.Any("open_venues", e.OpenVenues),
			zap.String("reason", e.Reason),
		)
	default:
		s.log.Info("event", zap.String("kind", ev.Kind()), zap.Any("event", ev))
	}
}
