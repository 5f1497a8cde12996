// pkg/kv/store.go
package kv

import (
	"context"
	"time"
)

// Store is the distributed key/value contract the gate coordinates through:
// the key-set cache and the rate counters both live behind it. Backends are
// eventually consistent and best-effort; callers must tolerate missing
// entries and treat store errors as degraded, not fatal.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent or
	// expired.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)

	// Put stores val under key. A ttl of zero means no expiry.
	Put(ctx context.Context, key string, val []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
