// Package cache holds the small keyed stores the pipeline shares between runs:
// scheduler claims and fingerprints already written during an invocation.
package cache

import (
	"context"
	"time"
)

// Store is a keyed string store with per-key expiry. Implementations must be
// safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Claim stores value only if key holds no live entry and reports whether
	// it did. The check and the write are one atomic step.
	Claim(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}
