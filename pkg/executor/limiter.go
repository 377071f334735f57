package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// LimitPolicy bounds request throughput per actor.
type LimitPolicy struct {
	RPM   int // sustained requests per minute
	Burst int // instantaneous burst capacity
}

// LimiterStore checks and updates rate-limit state for an actor.
type LimiterStore interface {
	Allow(ctx context.Context, actorID string, policy LimitPolicy, cost int) (bool, error)
}

// MemoryLimiterStore keeps one token bucket per actor in process memory.
type MemoryLimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewMemoryLimiterStore creates an empty in-memory limiter store.
func NewMemoryLimiterStore() *MemoryLimiterStore {
	return &MemoryLimiterStore{limiters: make(map[string]*rate.Limiter)}
}

// Allow implements LimiterStore.
func (s *MemoryLimiterStore) Allow(_ context.Context, actorID string, policy LimitPolicy, cost int) (bool, error) {
	s.mu.Lock()
	lim, ok := s.limiters[actorID]
	if !ok {
		perSecond := rate.Limit(float64(policy.RPM) / 60.0)
		if perSecond <= 0 {
			perSecond = 1
		}
		burst := policy.Burst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(perSecond, burst)
		s.limiters[actorID] = lim
	}
	s.mu.Unlock()
	return lim.AllowN(time.Now(), cost), nil
}

// redisTokenBucketScript runs the token bucket algorithm atomically in Redis.
// KEYS[1] = bucket key, ARGV = refill rate, capacity, cost, now (seconds).
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tokens}
`)

// RedisLimiterStore implements LimiterStore using Redis, so limits hold
// across executor replicas.
type RedisLimiterStore struct {
	client *redis.Client
}

// NewRedisLimiterStore creates a store backed by the Redis at addr.
func NewRedisLimiterStore(addr, password string, db int) *RedisLimiterStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisLimiterStore{client: rdb}
}

// bucketKeyPrefix namespaces limiter state so the executor can share a Redis
// with other services (brain, event stores) without key collisions.
const bucketKeyPrefix = "agentpay:ratelimit:"

// Allow implements LimiterStore via the atomic Lua script.
func (s *RedisLimiterStore) Allow(ctx context.Context, actorID string, policy LimitPolicy, cost int) (bool, error) {
	key := bucketKeyPrefix + actorID

	perSecond := float64(policy.RPM) / 60.0
	if perSecond <= 0 {
		perSecond = 1.0
	}
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisTokenBucketScript.Run(ctx, s.client, []string{key}, perSecond, policy.Burst, cost, now).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: run bucket script: %w", err)
	}

	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("ratelimit: unexpected script result %v", res)
	}

	allowedVal, _ := results[0].(int64)
	return allowedVal == 1, nil
}
