// Package ratelimit implements a sliding window log rate limiter over
// a shared atomic store.
package ratelimit

import (
	"context"
	"time"
)

// Limit describes one rate limit rule.
type Limit struct {
	// MaxRequests is the maximum number of requests per window.
	MaxRequests int

	// Window is the sliding window size.
	Window time.Duration
}

// Valid reports whether the limit is enforceable.
func (l Limit) Valid() bool {
	return l.MaxRequests > 0 && l.Window > 0
}

// Result represents the outcome of a rate limit check.
type Result struct {
	// Allowed indicates if the request is allowed.
	Allowed bool

	// Limit is the maximum number of requests per window.
	Limit int

	// Remaining is the number of requests left in the current window.
	Remaining int

	// Total is the number of requests observed in the window,
	// including this one.
	Total int64

	// ResetAt is the moment the oldest tracked entry leaves the window.
	ResetAt time.Time

	// RetryAfter is how long a denied caller should wait before
	// retrying. Zero when the request is allowed.
	RetryAfter time.Duration

	// FailedOpen marks a decision that allowed the request because
	// the store was unavailable.
	FailedOpen bool
}

// Limiter is the interface for rate limiting.
type Limiter interface {
	// Check records the current request and decides whether it is
	// within the limit. Store failures never surface to the caller:
	// the limiter fails open.
	Check(ctx context.Context, key string, limit Limit) (*Result, error)

	// Reset clears the window for the given key.
	Reset(ctx context.Context, key string) error
}
