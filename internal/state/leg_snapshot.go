package state

import (
	"context"
	"encoding/json"
	"strings"
)

const LegBookKey = "hedge:legs"

// LegRecord is the persisted form of one confirmed hedge leg. It seeds
// reconciliation after a restart; live venue state still wins on close.
type LegRecord struct {
	Venue       string  `json:"venue"`
	Symbol      string  `json:"symbol"`
	Direction   string  `json:"direction"`
	Size        float64 `json:"size"`
	EntryPrice  float64 `json:"entry_price"`
	Leverage    float64 `json:"leverage"`
	UpdatedAtMS int64   `json:"updated_at_ms"`
}

func LoadLegBook(ctx context.Context, store Store) ([]LegRecord, bool, error) {
	if store == nil {
		return nil, false, nil
	}
	raw, ok, err := store.Get(ctx, LegBookKey)
	if err != nil {
		return nil, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, false, nil
	}
	var records []LegRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, false, err
	}
	return records, true, nil
}

func SaveLegBook(ctx context.Context, store Store, records []LegRecord) error {
	if store == nil {
		return nil
	}
	payload, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return store.Set(ctx, LegBookKey, string(payload))
}
