// Package store provides the shared Redis-backed storage used by the
// rate limiter and the token revocation records.
package store

import (
	"context"
	"time"
)

// WindowSample is the result of one atomic sliding-window operation.
type WindowSample struct {
	// CountBefore is the number of entries in the window before the
	// current request was recorded.
	CountBefore int64

	// OldestUnixMilli is the timestamp of the oldest surviving entry,
	// including the one just recorded.
	OldestUnixMilli int64
}

// Store defines the storage operations the trust boundary depends on.
type Store interface {
	// SlidingWindow atomically prunes entries outside the window,
	// counts the survivors, records one entry for the current request
	// and refreshes the key TTL. The whole sequence is a single
	// atomic operation on the backend.
	SlidingWindow(ctx context.Context, key string, window time.Duration, now time.Time, member string) (*WindowSample, error)

	// SetEx stores a value with an expiration.
	SetEx(ctx context.Context, key, value string, expiration time.Duration) error

	// Get retrieves the value for the given key.
	Get(ctx context.Context, key string) (string, error)

	// Exists reports whether the key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the key from the store.
	Delete(ctx context.Context, key string) error

	// Ping checks connectivity to the backend.
	Ping(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}

// ErrKeyNotFound is returned when a key is not found in the store.
type ErrKeyNotFound struct {
	Key string
}

func (e *ErrKeyNotFound) Error() string {
	return "key not found: " + e.Key
}

// IsKeyNotFound returns true if the error is a key not found error.
func IsKeyNotFound(err error) bool {
	_, ok := err.(*ErrKeyNotFound)
	return ok
}
