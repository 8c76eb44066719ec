package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/researchlab/deepresearch/internal/acquire"
	"github.com/researchlab/deepresearch/internal/metrics"
)

// DefaultTTL bounds how long cached run data survives in Redis.
const DefaultTTL = 24 * time.Hour

// RedisCache is a Manager backend on Redis, for deployments where runs
// resume on a different host than the one that started them.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(addr, password string, ttl time.Duration, logger *zap.Logger) (*RedisCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisCache{client: client, ttl: ttl, logger: logger}, nil
}

// NewRedisCacheWithClient wraps an existing client; used in tests.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func markerKey(runID string) string { return "deepresearch:marker:" + runID }
func fetchKey(runID string) string  { return "deepresearch:fetch:" + runID }

// Get returns the stage marker for a run.
func (r *RedisCache) Get(ctx context.Context, runID string) (*Entry, error) {
	data, err := r.client.Get(ctx, markerKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheMisses.WithLabelValues("redis").Inc()
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cache marker: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parse cache marker: %w", err)
	}
	metrics.CacheHits.WithLabelValues("redis").Inc()
	return &entry, nil
}

// Put persists the last-completed-stage marker with the configured TTL.
func (r *RedisCache) Put(ctx context.Context, runID, stage string, artifacts map[string]string) error {
	entry := Entry{
		RunID:     runID,
		Stage:     stage,
		CachedAt:  time.Now().UTC(),
		Artifacts: artifacts,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache marker: %w", err)
	}
	if err := r.client.Set(ctx, markerKey(runID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("set cache marker: %w", err)
	}
	return nil
}

// SaveFetchResults stores fetched documents for the run.
func (r *RedisCache) SaveFetchResults(ctx context.Context, runID string, docs []acquire.Document) error {
	payload := fetchPayload{
		RunID:    runID,
		CachedAt: time.Now().UTC(),
		Results:  docs,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal fetch cache: %w", err)
	}
	if err := r.client.Set(ctx, fetchKey(runID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("set fetch cache: %w", err)
	}
	r.logger.Debug("Cached fetch results",
		zap.String("run_id", runID),
		zap.Int("documents", len(docs)),
	)
	return nil
}

// LoadFetchResults returns cached documents for the run.
func (r *RedisCache) LoadFetchResults(ctx context.Context, runID string) ([]acquire.Document, error) {
	data, err := r.client.Get(ctx, fetchKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheMisses.WithLabelValues("redis").Inc()
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get fetch cache: %w", err)
	}
	var payload fetchPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse fetch cache: %w", err)
	}
	metrics.CacheHits.WithLabelValues("redis").Inc()
	return payload.Results, nil
}

// Delete removes the run's cached marker and fetch results.
func (r *RedisCache) Delete(ctx context.Context, runID string) error {
	if err := r.client.Del(ctx, markerKey(runID), fetchKey(runID)).Err(); err != nil {
		return fmt.Errorf("delete cache keys: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
