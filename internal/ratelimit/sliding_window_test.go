package ratelimit

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GandRedZ/RedZ/internal/auth"
	"github.com/GandRedZ/RedZ/internal/store"
)

func newTestLimiter(t *testing.T, opts ...SlidingWindowOption) *SlidingWindowLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.NewRedisStoreFromClient(client, "test:")
	t.Cleanup(func() { _ = st.Close() })
	return NewSlidingWindowLimiter(st, opts...)
}

// TestCheck_SequentialWithinLimit verifies the basic admit/deny
// sequence: the limit admits exactly MaxRequests per window and the
// denied request still counts.
func TestCheck_SequentialWithinLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	limit := Limit{MaxRequests: 5, Window: time.Minute}

	for i := 0; i < 5; i++ {
		result, err := l.Check(ctx, "client", limit)
		require.NoError(t, err)

		assert.True(t, result.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 5, result.Limit)
		assert.Equal(t, 4-i, result.Remaining)
		assert.Equal(t, int64(i+1), result.Total)
	}

	result, err := l.Check(ctx, "client", limit)
	require.NoError(t, err)

	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, int64(6), result.Total)
	assert.Greater(t, result.RetryAfter, time.Duration(0))
	assert.False(t, result.ResetAt.IsZero())
}

// TestCheck_WindowElapses verifies that a fully elapsed window admits
// requests again.
func TestCheck_WindowElapses(t *testing.T) {
	now := time.Now()
	l := newTestLimiter(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	limit := Limit{MaxRequests: 2, Window: time.Second}

	for i := 0; i < 2; i++ {
		result, err := l.Check(ctx, "client", limit)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := l.Check(ctx, "client", limit)
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	// Advance past the window; the old entries no longer count.
	now = now.Add(limit.Window + 50*time.Millisecond)

	result, err = l.Check(ctx, "client", limit)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, int64(1), result.Total)
}

// TestCheck_IndependentKeys verifies that keys do not share windows.
func TestCheck_IndependentKeys(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	limit := Limit{MaxRequests: 1, Window: time.Minute}

	result, err := l.Check(ctx, "a", limit)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = l.Check(ctx, "a", limit)
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	result, err = l.Check(ctx, "b", limit)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

// TestCheck_ConcurrentNoOverAdmission verifies that concurrent checks
// against one key never admit more than the limit.
func TestCheck_ConcurrentNoOverAdmission(t *testing.T) {
	l := newTestLimiter(t)
	limit := Limit{MaxRequests: 10, Window: time.Minute}

	const workers = 40
	var wg sync.WaitGroup
	results := make([]*Result, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := l.Check(context.Background(), "shared", limit)
			assert.NoError(t, err)
			results[i] = result
		}(i)
	}
	wg.Wait()

	allowed := 0
	for _, r := range results {
		if r.Allowed {
			allowed++
		}
	}
	assert.Equal(t, limit.MaxRequests, allowed)
}

// TestCheck_InvalidLimitAllowsAll verifies that a zero limit is
// treated as unlimited.
func TestCheck_InvalidLimitAllowsAll(t *testing.T) {
	l := newTestLimiter(t)

	result, err := l.Check(context.Background(), "client", Limit{})
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

// failingStore implements store.Store and fails every operation.
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (f *failingStore) SlidingWindow(context.Context, string, time.Duration, time.Time, string) (*store.WindowSample, error) {
	return nil, errStoreDown
}
func (f *failingStore) SetEx(context.Context, string, string, time.Duration) error {
	return errStoreDown
}
func (f *failingStore) Get(context.Context, string) (string, error)  { return "", errStoreDown }
func (f *failingStore) Exists(context.Context, string) (bool, error) { return false, errStoreDown }
func (f *failingStore) Delete(context.Context, string) error         { return errStoreDown }
func (f *failingStore) Ping(context.Context) error                   { return errStoreDown }
func (f *failingStore) Close() error                                 { return nil }

// TestCheck_FailsOpenOnStoreError verifies that a broken store admits
// requests instead of rejecting them, and never surfaces the error.
func TestCheck_FailsOpenOnStoreError(t *testing.T) {
	l := NewSlidingWindowLimiter(&failingStore{})
	limit := Limit{MaxRequests: 5, Window: time.Minute}

	// Repeated failures, including after the breaker opens, all fail
	// open.
	for i := 0; i < 10; i++ {
		result, err := l.Check(context.Background(), "client", limit)
		require.NoError(t, err)

		assert.True(t, result.Allowed)
		assert.True(t, result.FailedOpen)
		assert.Equal(t, 5, result.Remaining)
		assert.Equal(t, int64(0), result.Total)
	}
}

// TestReset_ClearsWindow verifies that Reset empties a key's window.
func TestReset_ClearsWindow(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	limit := Limit{MaxRequests: 1, Window: time.Minute}

	result, err := l.Check(ctx, "client", limit)
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = l.Check(ctx, "client", limit)
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	require.NoError(t, l.Reset(ctx, "client"))

	result, err = l.Check(ctx, "client", limit)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

// TestKeyFor covers the key derivation for authenticated and
// anonymous callers.
func TestKeyFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/documents", nil)
	r.RemoteAddr = "10.1.2.3:4567"

	assert.Equal(t, "rl:ip:10.1.2.3:GET:/v1/documents", KeyFor(r, nil))

	p := &auth.Principal{Subject: "user-42"}
	assert.Equal(t, "rl:sub:user-42:GET:/v1/documents", KeyFor(r, p))
}

// TestGetClientIP covers proxy header precedence.
func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{
			name:    "x-forwarded-for first hop",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"},
			remote:  "10.0.0.2:1234",
			want:    "203.0.113.9",
		},
		{
			name:    "x-real-ip",
			headers: map[string]string{"X-Real-IP": "203.0.113.7"},
			remote:  "10.0.0.2:1234",
			want:    "203.0.113.7",
		},
		{
			name:   "remote addr",
			remote: "192.0.2.4:9999",
			want:   "192.0.2.4",
		},
		{
			name:   "ipv6 remote addr",
			remote: "[2001:db8::1]:443",
			want:   "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(r))
		})
	}
}
