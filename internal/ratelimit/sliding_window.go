package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/GandRedZ/RedZ/internal/observability"
	"github.com/GandRedZ/RedZ/internal/store"
)

// Prometheus metrics for rate limit decisions
var (
	rateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Total number of rate limit decisions",
		},
		[]string{"outcome"},
	)

	rateLimitFailOpenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ratelimit_failopen_total",
			Help: "Total number of requests admitted because the store was unavailable",
		},
	)
)

// SlidingWindowLimiter implements Limiter using a sliding window log
// kept in the shared store. Every check is a single atomic store
// operation, so concurrent checks against the same key never admit
// more than the limit.
type SlidingWindowLimiter struct {
	store   store.Store
	logger  observability.Logger
	breaker *gobreaker.CircuitBreaker
	// warnLimiter throttles fail-open warnings so a store outage does
	// not flood the log.
	warnLimiter *rate.Limiter
	now         func() time.Time
}

// SlidingWindowOption is a functional option for the limiter.
type SlidingWindowOption func(*SlidingWindowLimiter)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) SlidingWindowOption {
	return func(l *SlidingWindowLimiter) {
		l.logger = logger
	}
}

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) SlidingWindowOption {
	return func(l *SlidingWindowLimiter) {
		l.now = now
	}
}

// NewSlidingWindowLimiter creates a new sliding window limiter backed
// by the given store.
func NewSlidingWindowLimiter(st store.Store, opts ...SlidingWindowOption) *SlidingWindowLimiter {
	l := &SlidingWindowLimiter{
		store:       st,
		logger:      observability.NopLogger(),
		warnLimiter: rate.NewLimiter(rate.Every(10*time.Second), 1),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(l)
	}

	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "ratelimit-store",
		Timeout: 5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			l.logger.Info("rate limit store circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})

	return l
}

// Check implements Limiter. The request is always recorded before the
// decision is made, so a denied request still counts against the
// window.
func (l *SlidingWindowLimiter) Check(ctx context.Context, key string, limit Limit) (*Result, error) {
	now := l.now()

	if !limit.Valid() {
		return &Result{
			Allowed:   true,
			Limit:     limit.MaxRequests,
			Remaining: limit.MaxRequests,
			ResetAt:   now.Add(limit.Window),
		}, nil
	}

	member := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString())

	sampleAny, err := l.breaker.Execute(func() (interface{}, error) {
		return l.store.SlidingWindow(ctx, key, limit.Window, now, member)
	})
	if err != nil {
		return l.failOpen(ctx, key, limit, now, err), nil
	}

	sample := sampleAny.(*store.WindowSample)
	return l.decide(sample, limit, now), nil
}

// decide turns a window sample into a rate limit decision.
func (l *SlidingWindowLimiter) decide(sample *store.WindowSample, limit Limit, now time.Time) *Result {
	allowed := sample.CountBefore < int64(limit.MaxRequests)

	remaining := int64(limit.MaxRequests) - sample.CountBefore - 1
	if remaining < 0 {
		remaining = 0
	}

	resetAt := time.UnixMilli(sample.OldestUnixMilli).Add(limit.Window)

	result := &Result{
		Allowed:   allowed,
		Limit:     limit.MaxRequests,
		Remaining: int(remaining),
		Total:     sample.CountBefore + 1,
		ResetAt:   resetAt,
	}

	if allowed {
		rateLimitDecisionsTotal.WithLabelValues("allowed").Inc()
	} else {
		rateLimitDecisionsTotal.WithLabelValues("denied").Inc()
		if retry := resetAt.Sub(now); retry > 0 {
			result.RetryAfter = retry
		} else {
			result.RetryAfter = time.Second
		}
	}

	return result
}

// failOpen admits a request that could not be checked against the
// store. The failure is logged and counted, never surfaced.
func (l *SlidingWindowLimiter) failOpen(ctx context.Context, key string, limit Limit, now time.Time, err error) *Result {
	rateLimitDecisionsTotal.WithLabelValues("fail_open").Inc()
	rateLimitFailOpenTotal.Inc()

	if l.warnLimiter.Allow() {
		l.logger.WithContext(ctx).Warn("rate limit store unavailable, failing open",
			observability.String("key", key),
			observability.Error(err),
		)
	}

	return &Result{
		Allowed:    true,
		Limit:      limit.MaxRequests,
		Remaining:  limit.MaxRequests,
		Total:      0,
		ResetAt:    now.Add(limit.Window),
		FailedOpen: true,
	}
}

// Reset implements Limiter.
func (l *SlidingWindowLimiter) Reset(ctx context.Context, key string) error {
	return l.store.Delete(ctx, key)
}
