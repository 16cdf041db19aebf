// Package hedge coordinates two opposite-direction legs on independent
// venues as if they were one transaction. There is no cross-venue atomicity:
// the orchestrators bound the blast radius of a mid-sequence failure to at
// most one unhedged leg and surface that state loudly instead of attempting
// compensating trades.
package hedge

import (
	"errors"

	"funding-hedge-bot/internal/venue"
)

var (
	ErrOpenAborted  = errors.New("hedge open aborted")
	ErrPartialOpen  = errors.New("hedge partially opened")
	ErrPartialClose = errors.New("hedge partially closed")
)

type LegStatus string

const (
	LegPending  LegStatus = "pending"
	LegFilled   LegStatus = "filled"
	LegRejected LegStatus = "rejected"
	LegUnknown  LegStatus = "unknown"
)

// Leg is one side of a hedge. Owned by the orchestrator that created it until
// confirmed, then transferred to the PositionStore.
type Leg struct {
	Venue      string
	Symbol     string
	Direction  venue.Direction
	Size       float64
	EntryPrice float64
	Leverage   float64
	Status     LegStatus
}

func (l Leg) Notional() float64 {
	return l.Size * l.EntryPrice
}

// OpenState tracks the open sequence. VerifyFailed and PartialOpen are
// absorbing failure states.
type OpenState string

const (
	StateInit         OpenState = "INIT"
	StateVerified     OpenState = "VERIFIED"
	StateLegBPlaced   OpenState = "LEG_B_PLACED"
	StateLegAPlaced   OpenState = "LEG_A_PLACED"
	StateConfirmed    OpenState = "CONFIRMED"
	StateVerifyFailed OpenState = "VERIFY_FAILED"
	StatePartialOpen  OpenState = "PARTIAL_OPEN"
)

type OpenOutcome string

const (
	OutcomeConfirmed   OpenOutcome = "confirmed"
	OutcomePartialOpen OpenOutcome = "partial_open"
	OutcomeAborted     OpenOutcome = "aborted"
)

type OpenParams struct {
	Symbol string
	// Direction is the venue-A leg; venue B always takes the opposite side.
	Direction venue.Direction
	Capital   float64
	Leverage  float64
}

// OpenResult reports the terminal state of an open attempt. Legs holds the
// actual fills (not the requested sizes); on a partial open FilledVenue names
// the venue left holding an unhedged position.
type OpenResult struct {
	Symbol      string
	State       OpenState
	Outcome     OpenOutcome
	Legs        map[string]Leg
	FilledVenue string
	FailedVenue string
	Reason      string
}

// VenueClose is one venue's outcome of a close attempt. RemainingSize is the
// last known live size when the venue could not be flattened.
type VenueClose struct {
	Venue         string
	Closed        bool
	ClosedSize    float64
	RemainingSize float64
	Reason        string
}

type CloseResult struct {
	Symbol string
	Closed bool
	Venues map[string]VenueClose
}

// OpenVenues lists venues still holding exposure with their last known size.
func (r CloseResult) OpenVenues() map[string]float64 {
	open := make(map[string]float64)
	for name, vc := range r.Venues {
		if !vc.Closed {
			open[name] = vc.RemainingSize
		}
	}
	return open
}
