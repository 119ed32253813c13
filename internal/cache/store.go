package cache

import (
	"context"
	"time"
)

// Store is the shared cache surface used by the rate limiter and transient
// lookups. Backed by Redis when configured, the SQL database otherwise.
type Store interface {
	// IncrementWithTTL bumps a counter, starting its expiry window on first use.
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
	// Ping verifies the backend is reachable; health probes call it.
	Ping(ctx context.Context) error
}
