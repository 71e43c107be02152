package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Prometheus metrics for Redis store operations
var (
	redisStoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_store_operations_total",
			Help: "Total number of Redis store operations",
		},
		[]string{"operation", "status"},
	)

	redisStoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_store_operation_duration_seconds",
			Help:    "Duration of Redis store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	redisStoreConnectionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_store_connection_retries_total",
			Help: "Total number of Redis connection retry attempts",
		},
	)

	redisStoreConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_store_connection_errors_total",
			Help: "Total number of Redis connection errors",
		},
	)
)

// slidingWindowScript prunes, counts, records and refreshes in one
// atomic round trip.
// KEYS[1] = window key
// ARGV[1] = window start (unix ms, inclusive prune bound)
// ARGV[2] = now (unix ms)
// ARGV[3] = member for the current request
// ARGV[4] = key TTL in ms
var slidingWindowScript = redis.NewScript(`
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
	local count = redis.call('ZCARD', KEYS[1])
	redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
	local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
	local oldestScore = ARGV[2]
	if oldest[2] then
		oldestScore = oldest[2]
	end
	return {count, tostring(oldestScore)}
`)

// RedisStore implements Store using Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
	closed bool
	mu     sync.Mutex
}

// RedisConfig holds configuration for the Redis store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string

	// Connection pool settings
	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// InitialBackoff is the initial backoff duration for connection retries.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration for connection retries.
	MaxBackoff time.Duration

	// ConnectionRetries is the number of connection retry attempts.
	ConnectionRetries int

	// Logger for the Redis store.
	Logger *zap.Logger
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:           "localhost:6379",
		Password:          "",
		DB:                0,
		Prefix:            "redz:",
		PoolSize:          10,
		MinIdleConns:      2,
		MaxRetries:        3,
		DialTimeout:       5 * time.Second,
		ReadTimeout:       3 * time.Second,
		WriteTimeout:      3 * time.Second,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		ConnectionRetries: 5,
	}
}

// NewRedisStore creates a new Redis store with the given configuration.
// Uses exponential backoff with decorrelated jitter for connection
// retries to prevent thundering herd problems.
func NewRedisStore(config *RedisConfig) (*RedisStore, error) {
	config, logger := normalizeRedisConfig(config)
	client := createRedisClient(config)
	connConfig := buildConnectionConfig(config)

	s, err := connectWithRetry(client, config, connConfig, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return s, nil
}

// NewLazyRedisStore creates a Redis store without requiring an
// initial connection. Operations fail until the backend becomes
// reachable; the client reconnects on its own.
func NewLazyRedisStore(config *RedisConfig) *RedisStore {
	config, logger := normalizeRedisConfig(config)
	return &RedisStore{
		client: createRedisClient(config),
		prefix: config.Prefix,
		logger: logger,
	}
}

// NewRedisStoreFromClient wraps an existing client, primarily for tests.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: zap.NewNop(),
	}
}

// redisConnectionConfig holds normalized connection retry settings.
type redisConnectionConfig struct {
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	totalTimeout   time.Duration
}

// normalizeRedisConfig ensures config has all required defaults.
func normalizeRedisConfig(config *RedisConfig) (*RedisConfig, *zap.Logger) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return config, logger
}

// createRedisClient creates a new Redis client with the given configuration.
func createRedisClient(config *RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})
}

// buildConnectionConfig creates normalized connection retry settings.
func buildConnectionConfig(config *RedisConfig) *redisConnectionConfig {
	maxRetries := config.ConnectionRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	initialBackoff := config.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = 100 * time.Millisecond
	}

	maxBackoff := config.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 10 * time.Second
	}

	totalTimeout := time.Duration(maxRetries+1) * config.DialTimeout
	if totalTimeout > 2*time.Minute {
		totalTimeout = 2 * time.Minute
	}

	return &redisConnectionConfig{
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
		maxBackoff:     maxBackoff,
		totalTimeout:   totalTimeout,
	}
}

// connectWithRetry attempts to connect to Redis with exponential backoff.
func connectWithRetry(
	client *redis.Client,
	config *RedisConfig,
	connConfig *redisConnectionConfig,
	logger *zap.Logger,
) (*RedisStore, error) {
	backoff := newDecorrelatedJitterBackoff(connConfig.initialBackoff, connConfig.maxBackoff)

	overallCtx, overallCancel := context.WithTimeout(context.Background(), connConfig.totalTimeout)
	defer overallCancel()

	var lastErr error
	for attempt := 0; attempt <= connConfig.maxRetries; attempt++ {
		if err := overallCtx.Err(); err != nil {
			return nil, fmt.Errorf("connection timeout exceeded: %w", err)
		}

		if s := tryConnect(overallCtx, client, config, logger, attempt); s != nil {
			return s, nil
		}

		ctx, cancel := context.WithTimeout(overallCtx, config.DialTimeout)
		lastErr = client.Ping(ctx).Err()
		cancel()

		redisStoreConnectionErrors.Inc()

		if attempt >= connConfig.maxRetries {
			break
		}

		retryErr := waitForConnectionRetry(
			overallCtx, backoff, logger, config.Address, attempt, connConfig.maxRetries, lastErr,
		)
		if retryErr != nil {
			return nil, retryErr
		}
	}

	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", connConfig.maxRetries+1, lastErr)
}

// tryConnect attempts a single connection to Redis.
func tryConnect(
	ctx context.Context,
	client *redis.Client,
	config *RedisConfig,
	logger *zap.Logger,
	attempt int,
) *RedisStore {
	pingCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
	err := client.Ping(pingCtx).Err()
	cancel()

	if err != nil {
		return nil
	}

	if attempt > 0 {
		logger.Info("Redis connection established after retry",
			zap.String("address", config.Address),
			zap.Int("attempt", attempt+1),
		)
	}

	return &RedisStore{
		client: client,
		prefix: config.Prefix,
		logger: logger,
	}
}

// waitForConnectionRetry waits before the next connection attempt.
func waitForConnectionRetry(
	ctx context.Context,
	backoff *decorrelatedJitterBackoff,
	logger *zap.Logger,
	address string,
	attempt, maxRetries int,
	err error,
) error {
	wait := backoff.next(attempt)

	logger.Debug("Redis connection failed, retrying",
		zap.String("address", address),
		zap.Int("attempt", attempt+1),
		zap.Int("max_retries", maxRetries),
		zap.Duration("backoff", wait),
		zap.Error(err),
	)

	redisStoreConnectionRetries.Inc()

	select {
	case <-ctx.Done():
		return fmt.Errorf("connection timeout exceeded during backoff: %w", ctx.Err())
	case <-time.After(wait):
		return nil
	}
}

// decorrelatedJitterBackoff implements AWS-style decorrelated jitter
// backoff for preventing thundering herd problems.
type decorrelatedJitterBackoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// newDecorrelatedJitterBackoff creates a new decorrelated jitter backoff.
func newDecorrelatedJitterBackoff(initial, maxDuration time.Duration) *decorrelatedJitterBackoff {
	return &decorrelatedJitterBackoff{
		initial: initial,
		max:     maxDuration,
		current: initial,
	}
}

// next returns the next backoff duration using decorrelated jitter.
// Formula: sleep = min(cap, random_between(base, sleep * 3))
func (b *decorrelatedJitterBackoff) next(attempt int) time.Duration {
	if attempt == 0 {
		b.current = b.initial
		return b.current
	}

	minBackoff := float64(b.initial)
	maxBackoff := float64(b.current) * 3

	//nolint:gosec // weak random is acceptable for jitter
	backoff := minBackoff + float64(time.Now().UnixNano()%1000)/1000.0*(maxBackoff-minBackoff)

	if backoff > float64(b.max) {
		backoff = float64(b.max)
	}

	b.current = time.Duration(backoff)
	return b.current
}

// prefixKey adds the prefix to the key.
func (s *RedisStore) prefixKey(key string) string {
	return s.prefix + key
}

// SlidingWindow implements Store using a Lua script for atomicity.
func (s *RedisStore) SlidingWindow(
	ctx context.Context,
	key string,
	window time.Duration,
	now time.Time,
	member string,
) (*WindowSample, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error before sliding window: %w", err)
	}

	nowMs := now.UnixMilli()
	windowStart := nowMs - window.Milliseconds()
	ttlMs := window.Milliseconds()
	if ttlMs < 1 {
		ttlMs = 1
	}

	result, err := slidingWindowScript.Run(
		ctx, s.client,
		[]string{s.prefixKey(key)},
		windowStart, nowMs, member, ttlMs,
	).Result()

	duration := time.Since(start)
	redisStoreOperationDuration.WithLabelValues("sliding_window").Observe(duration.Seconds())

	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("sliding_window", "error").Inc()
		return nil, fmt.Errorf("redis script error: %w", err)
	}

	sample, err := parseWindowSample(result)
	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("sliding_window", "error").Inc()
		return nil, err
	}

	redisStoreOperationsTotal.WithLabelValues("sliding_window", "success").Inc()
	return sample, nil
}

// parseWindowSample decodes the {count, oldestScore} reply of the
// sliding window script.
func parseWindowSample(result interface{}) (*WindowSample, error) {
	reply, ok := result.([]interface{})
	if !ok || len(reply) != 2 {
		return nil, fmt.Errorf("unexpected script reply: %v", result)
	}

	count, ok := reply[0].(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected count type in script reply: %T", reply[0])
	}

	var oldest int64
	switch v := reply[1].(type) {
	case int64:
		oldest = v
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse oldest score %q: %w", v, err)
		}
		oldest = parsed
	default:
		return nil, fmt.Errorf("unexpected oldest score type in script reply: %T", reply[1])
	}

	return &WindowSample{CountBefore: count, OldestUnixMilli: oldest}, nil
}

// SetEx implements Store.
func (s *RedisStore) SetEx(ctx context.Context, key, value string, expiration time.Duration) error {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error before redis set: %w", err)
	}

	err := s.client.Set(ctx, s.prefixKey(key), value, expiration).Err()

	duration := time.Since(start)
	redisStoreOperationDuration.WithLabelValues("set").Observe(duration.Seconds())

	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("set", "error").Inc()
		return fmt.Errorf("redis set error: %w", err)
	}

	redisStoreOperationsTotal.WithLabelValues("set", "success").Inc()
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context error before redis get: %w", err)
	}

	val, err := s.client.Get(ctx, s.prefixKey(key)).Result()

	duration := time.Since(start)
	redisStoreOperationDuration.WithLabelValues("get").Observe(duration.Seconds())

	if err == redis.Nil {
		redisStoreOperationsTotal.WithLabelValues("get", "not_found").Inc()
		return "", &ErrKeyNotFound{Key: key}
	}
	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("get", "error").Inc()
		return "", fmt.Errorf("redis get error: %w", err)
	}

	redisStoreOperationsTotal.WithLabelValues("get", "success").Inc()
	return val, nil
}

// Exists implements Store.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("context error before redis exists: %w", err)
	}

	n, err := s.client.Exists(ctx, s.prefixKey(key)).Result()

	duration := time.Since(start)
	redisStoreOperationDuration.WithLabelValues("exists").Observe(duration.Seconds())

	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("exists", "error").Inc()
		return false, fmt.Errorf("redis exists error: %w", err)
	}

	redisStoreOperationsTotal.WithLabelValues("exists", "success").Inc()
	return n > 0, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error before redis del: %w", err)
	}

	err := s.client.Del(ctx, s.prefixKey(key)).Err()

	duration := time.Since(start)
	redisStoreOperationDuration.WithLabelValues("delete").Observe(duration.Seconds())

	if err != nil {
		redisStoreOperationsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("redis del error: %w", err)
	}

	redisStoreOperationsTotal.WithLabelValues("delete", "success").Inc()
	return nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
