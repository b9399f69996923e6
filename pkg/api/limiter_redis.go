package api

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenBucketScript runs the token bucket algorithm atomically in
// Redis so every serving node draws from the same bucket per client.
// KEYS[1] = bucket key, ARGV[1] = refill rate (tokens/second),
// ARGV[2] = capacity, ARGV[3] = cost, ARGV[4] = current unix time.
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

return allowed
`)

// RedisLimiterStore implements LimiterStore on a shared Redis bucket.
type RedisLimiterStore struct {
	client *redis.Client
	rps    float64
	burst  int
}

// NewRedisLimiterStore creates a Redis-backed limiter store.
func NewRedisLimiterStore(addr string, rps, burst int) *RedisLimiterStore {
	return &RedisLimiterStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		rps:    float64(rps),
		burst:  burst,
	}
}

func (s *RedisLimiterStore) Allow(r *http.Request, key string) (bool, error) {
	now := float64(time.Now().UnixMicro()) / 1e6
	res, err := redisTokenBucketScript.Run(r.Context(), s.client,
		[]string{"rate_limit:" + key}, s.rps, s.burst, 1, now).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Close releases the Redis connection.
func (s *RedisLimiterStore) Close() error {
	return s.client.Close()
}
