package venue

import (
	"errors"
	"fmt"
)

var (
	ErrQuoteUnavailable   = errors.New("quote unavailable")
	ErrSymbolNotFound     = errors.New("symbol not found")
	ErrBelowMinNotional   = errors.New("below minimum notional")
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrOrderRejected      = errors.New("order rejected")
	ErrOrderTimeout       = errors.New("order wait timed out")
)

// RejectError carries the venue's rejection reason. It matches
// ErrOrderRejected under errors.Is.
type RejectError struct {
	Venue  string
	Symbol string
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s rejected order for %s: %s", e.Venue, e.Symbol, e.Reason)
}

func (e *RejectError) Is(target error) bool {
	return target == ErrOrderRejected
}

// TimeoutError reports a WaitForFill that gave up before the order reached a
// terminal status. The order itself is not cancelled. Matches ErrOrderTimeout
// under errors.Is.
type TimeoutError struct {
	Venue   string
	Symbol  string
	OrderID string
	Last    OrderStatus
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s order %s for %s did not reach a terminal status (last: %s)", e.Venue, e.OrderID, e.Symbol, e.Last)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrOrderTimeout
}
