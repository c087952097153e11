package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"statement-converter/internal/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// incrementScript runs the check-and-increment inside Redis so concurrent callers are
// serialised. Window expiry is delegated to the key TTL.
// Returns {allowed, count, ttl_ms}.
var incrementScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
	return {0, current, redis.call('PTTL', KEYS[1])}
end
local n = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if n == 1 or ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
	ttl = tonumber(ARGV[2])
end
return {1, n, ttl}
`)

// RedisQuotaStore shares counters between instances through Redis.
type RedisQuotaStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedisQuotaStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisQuotaStore {
	if prefix == "" {
		prefix = "usage:"
	}
	return &RedisQuotaStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (r *RedisQuotaStore) Increment(ctx context.Context, identifier string, limit int, window time.Duration, now time.Time) (models.UsageRecord, bool, error) {
	res, err := incrementScript.Run(ctx, r.client, []string{r.prefix + identifier}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return models.UsageRecord{}, false, fmt.Errorf("%w: increment usage: %w", ErrStoreUnavailable, err)
	}
	if len(res) != 3 {
		return models.UsageRecord{}, false, fmt.Errorf("%w: unexpected script reply %v", ErrStoreUnavailable, res)
	}

	rec := models.UsageRecord{
		Identifier: identifier,
		Count:      int(res[1]),
		ResetAt:    now.Add(time.Duration(max(res[2], 0)) * time.Millisecond),
	}
	return rec, res[0] == 1, nil
}

func (r *RedisQuotaStore) Peek(ctx context.Context, identifier string, now time.Time) (models.UsageRecord, bool, error) {
	key := r.prefix + identifier

	pipe := r.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	_, err := pipe.Exec(ctx)
	if errors.Is(err, redis.Nil) {
		return models.UsageRecord{}, false, nil
	}
	if err != nil {
		return models.UsageRecord{}, false, fmt.Errorf("%w: read usage: %w", ErrStoreUnavailable, err)
	}

	count, err := getCmd.Int()
	if err != nil {
		return models.UsageRecord{}, false, fmt.Errorf("%w: decode usage: %w", ErrStoreUnavailable, err)
	}
	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}

	return models.UsageRecord{Identifier: identifier, Count: count, ResetAt: now.Add(ttl)}, true, nil
}

func (r *RedisQuotaStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (r *RedisQuotaStore) Close() error {
	return r.client.Close()
}
