package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/intent-router/internal/domain"
)

const redisKeyPrefix = "intent:result:"

// Redis is the shared tier-2 cache. All errors are logged and reported as
// misses so cache backend trouble never fails a classification.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps an existing client with the result-cache key schema and TTL.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Get fetches the entry for key. Missing keys and transport errors both
// report a miss.
func (r *Redis) Get(ctx context.Context, key string) (domain.ClassificationResult, bool) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) {
			slog.Warn("shared cache get failed, treating as miss",
				slog.String("key", key), slog.Any("error", err))
		}
		return domain.ClassificationResult{}, false
	}
	var res domain.ClassificationResult
	if err := json.Unmarshal(data, &res); err != nil {
		slog.Warn("shared cache entry corrupt, treating as miss",
			slog.String("key", key), slog.Any("error", err))
		return domain.ClassificationResult{}, false
	}
	return res, true
}

// Put stores res under key with the configured TTL; failures are logged only.
func (r *Redis) Put(ctx context.Context, key string, res domain.ClassificationResult) {
	data, err := json.Marshal(res)
	if err != nil {
		slog.Warn("shared cache marshal failed", slog.Any("error", err))
		return
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, data, r.ttl).Err(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("shared cache put failed",
			slog.String("key", key), slog.Any("error", err))
	}
}

// Delete removes the entry for key; failures are logged only.
func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("shared cache delete failed",
			slog.String("key", key), slog.Any("error", err))
	}
}

// Ping reports shared cache reachability for readiness checks.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
