package state

import "context"

// Store is the small durable kv surface the bot needs: last-known hedge legs,
// the exchange nonce seed, and the telegram operator offset.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
