package ratelimiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	rediskit "github.com/dmitrymomot/sagakit/pkg/redis"
)

// tokenBucketScript refills and consumes a bucket atomically.
// KEYS[1] = bucket hash
// ARGV[1] = capacity, ARGV[2] = refill rate, ARGV[3] = refill interval (ms),
// ARGV[4] = cost, ARGV[5] = now (unix ms)
// Returns {remaining, last_refill_ms}.
var tokenBucketScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local now = tonumber(ARGV[5])

local state = redis.call("HMGET", KEYS[1], "tokens", "last_refill")
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if not tokens or not last then
    tokens = capacity
    last = now
end

local intervals = math.floor((now - last) / interval)
if intervals > 0 then
    local cap = math.floor(capacity / rate) + 1
    if intervals > cap then
        intervals = cap
    end
    tokens = math.min(tokens + intervals * rate, capacity)
    last = now
end

tokens = tokens - cost
redis.call("HSET", KEYS[1], "tokens", tokens, "last_refill", last)
redis.call("PEXPIRE", KEYS[1], interval * (math.floor(capacity / rate) + 2))

return {tokens, last}
`)

// RedisStore shares buckets between processes. A bucket key expires once it
// would be full again, so idle keys clean themselves up.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

type RedisStoreOption func(*RedisStore)

// WithRedisKeyPrefix sets the key namespace. Default "sagakit".
func WithRedisKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "sagakit", now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(k string) string {
	return rediskit.Key(s.prefix, "ratelimit", k)
}

func (s *RedisStore) ConsumeTokens(ctx context.Context, key string, tokens int, cfg Config) (int, time.Time, error) {
	res, err := tokenBucketScript.Run(ctx, s.client, []string{s.key(key)},
		cfg.Capacity, cfg.RefillRate, cfg.RefillInterval.Milliseconds(), tokens, s.now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("consume tokens for %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrUnexpectedReply, res)
	}

	return int(res[0]), time.UnixMilli(res[1]).Add(cfg.RefillInterval), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
