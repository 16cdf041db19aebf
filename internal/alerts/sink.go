package alerts

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"funding-hedge-bot/internal/events"

	"go.uber.org/zap"
)

// eventSink renders hedge lifecycle events as Telegram messages. Per-leg
// events are skipped; the hedge-level ones carry everything an operator
// needs and keep the chat readable.
type eventSink struct {
	client *Telegram
	log    *zap.Logger
}

func NewEventSink(client *Telegram, log *zap.Logger) events.Sink {
	return &eventSink{client: client, log: log}
}

func (s *eventSink) Publish(ctx context.Context, ev events.Event) {
	msg := formatEvent(ev)
	if msg == "" {
		return
	}
	if err := s.client.Send(ctx, msg); err != nil {
		s.log.Warn("alert send failed", zap.String("kind", ev.Kind()), zap.Error(err))
	}
}

func formatEvent(ev events.Event) string {
	switch e := ev.(type) {
	case events.HedgeOpened:
		lines := []string{fmt.Sprintf("Hedge opened: %s capital %.2f leverage %.1fx", e.Symbol, e.Capital, e.Leverage)}
		for _, leg := range e.Legs {
			lines = append(lines, fmt.Sprintf("  %s %s %.6f @ %.4f", leg.Venue, leg.Direction, leg.Size, leg.Price))
		}
		return strings.Join(lines, "\n")
	case events.PartialOpen:
		return fmt.Sprintf("PARTIAL OPEN %s: %s holds %.6f @ %.4f unhedged, %s failed: %s",
			e.Symbol, e.FilledVenue, e.Size, e.Price, e.FailedVenue, e.Reason)
	case events.OpenAborted:
		return fmt.Sprintf("Hedge open aborted for %s: %s", e.Symbol, e.Reason)
	case events.HedgeClosed:
		return fmt.Sprintf("Hedge closed: %s is flat on both venues", e.Symbol)
	case events.PartialClose:
		names := make([]string, 0, len(e.OpenVenues))
		for name := range e.OpenVenues {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s %.6f", name, e.OpenVenues[name]))
		}
		return fmt.Sprintf("PARTIAL CLOSE %s: exposure remains on %s (%s)",
			e.Symbol, strings.Join(parts, ", "), e.Reason)
	default:
		return ""
	}
}
