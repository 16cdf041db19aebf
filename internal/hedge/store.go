package hedge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"funding-hedge-bot/internal/state"
	"funding-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

// PositionStore is the process-held record of the last known leg per
// (venue, symbol). Only the orchestrators mutate it. Each mutation is
// mirrored to the kv store so a restart can seed reconciliation; the live
// venue position remains authoritative on close.
type PositionStore struct {
	kv  state.Store
	log *zap.Logger

	mu   sync.Mutex
	legs map[string]Leg

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewPositionStore(kv state.Store, log *zap.Logger) *PositionStore {
	return &PositionStore{
		kv:    kv,
		log:   log,
		legs:  make(map[string]Leg),
		locks: make(map[string]*sync.Mutex),
	}
}

func legKey(venueName, symbol string) string {
	return venueName + "|" + symbol
}

// Load seeds the store from the kv snapshot written by a previous run.
func (s *PositionStore) Load(ctx context.Context) error {
	records, ok, err := state.LoadLegBook(ctx, s.kv)
	if err != nil {
		return fmt.Errorf("load leg book: %w", err)
	}
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.legs[legKey(r.Venue, r.Symbol)] = Leg{
			Venue:      r.Venue,
			Symbol:     r.Symbol,
			Direction:  venue.Direction(r.Direction),
			Size:       r.Size,
			EntryPrice: r.EntryPrice,
			Leverage:   r.Leverage,
			Status:     LegFilled,
		}
	}
	if len(records) > 0 {
		s.log.Info("restored hedge legs from state store", zap.Int("legs", len(records)))
	}
	return nil
}

// LockSymbol serializes hedge operations per symbol. The returned function
// releases the lock; concurrent opens/closes on the same symbol block rather
// than fail.
func (s *PositionStore) LockSymbol(symbol string) func() {
	s.lockMu.Lock()
	mu, ok := s.locks[symbol]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[symbol] = mu
	}
	s.lockMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// SetLeg records a confirmed leg. Rejects anything that is not a filled,
// positively sized position: the store must never hold speculative state.
func (s *PositionStore) SetLeg(ctx context.Context, leg Leg) error {
	if leg.Status != LegFilled {
		return fmt.Errorf("refusing to store leg with status %q", leg.Status)
	}
	if leg.Size <= 0 {
		return fmt.Errorf("refusing to store leg with size %v", leg.Size)
	}
	if !leg.Direction.Valid() {
		return fmt.Errorf("refusing to store leg with direction %q", leg.Direction)
	}
	s.mu.Lock()
	s.legs[legKey(leg.Venue, leg.Symbol)] = leg
	s.mu.Unlock()
	s.persist(ctx)
	return nil
}

// ClearLeg removes a leg once the venue is confirmed flat.
func (s *PositionStore) ClearLeg(ctx context.Context, venueName, symbol string) {
	s.mu.Lock()
	delete(s.legs, legKey(venueName, symbol))
	s.mu.Unlock()
	s.persist(ctx)
}

func (s *PositionStore) Leg(venueName, symbol string) (Leg, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	leg, ok := s.legs[legKey(venueName, symbol)]
	return leg, ok
}

// Legs returns the known legs for one symbol keyed by venue.
func (s *PositionStore) Legs(symbol string) map[string]Leg {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Leg)
	for _, leg := range s.legs {
		if leg.Symbol == symbol {
			out[leg.Venue] = leg
		}
	}
	return out
}

func (s *PositionStore) All() []Leg {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Leg, 0, len(s.legs))
	for _, leg := range s.legs {
		out = append(out, leg)
	}
	return out
}

func (s *PositionStore) persist(ctx context.Context) {
	if s.kv == nil {
		return
	}
	s.mu.Lock()
	records := make([]state.LegRecord, 0, len(s.legs))
	now := time.Now().UTC().UnixMilli()
	for _, leg := range s.legs {
		records = append(records, state.LegRecord{
			Venue:       leg.Venue,
			Symbol:      leg.Symbol,
			Direction:   string(leg.Direction),
			Size:        leg.Size,
			EntryPrice:  leg.EntryPrice,
			Leverage:    leg.Leverage,
			UpdatedAtMS: now,
		})
	}
	s.mu.Unlock()
	if err := state.SaveLegBook(ctx, s.kv, records); err != nil {
		s.log.Warn("leg book persistence failed", zap.Error(err))
	}
}
