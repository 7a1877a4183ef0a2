package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	acquireScript = redis.NewScript(`
for _, key in ipairs(KEYS) do
	if redis.call("EXISTS", key) == 1 then
		return 0
	end
end
for _, key in ipairs(KEYS) do
	redis.call("SET", key, ARGV[1], "PX", ARGV[2])
end
return 1
`)

	releaseScript = redis.NewScript(`
local released = 0
for _, key in ipairs(KEYS) do
	if redis.call("GET", key) == ARGV[1] then
		redis.call("DEL", key)
		released = released + 1
	end
end
return released
`)

	extendScript = redis.NewScript(`
for _, key in ipairs(KEYS) do
	if redis.call("GET", key) ~= ARGV[1] then
		return 0
	end
end
for _, key in ipairs(KEYS) do
	redis.call("PEXPIRE", key, ARGV[2])
end
return 1
`)

	heldScript = redis.NewScript(`
for _, key in ipairs(KEYS) do
	if redis.call("GET", key) ~= ARGV[1] then
		return 0
	end
end
return 1
`)
)

// RedisBackend keeps leases as Redis keys whose value is the owner token.
// All keys of one lease must hash to the same slot on a cluster.
type RedisBackend struct {
	client redis.UniversalClient
}

func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Acquire(ctx context.Context, keys []string, token string, ttl time.Duration) (bool, error) {
	n, err := acquireScript.Run(ctx, b.client, keys, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (b *RedisBackend) Release(ctx context.Context, keys []string, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, b.client, keys, token).Int()
	if err != nil {
		return false, err
	}
	return n == len(keys), nil
}

func (b *RedisBackend) Extend(ctx context.Context, keys []string, token string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, b.client, keys, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (b *RedisBackend) IsHeld(ctx context.Context, keys []string, token string) (bool, error) {
	n, err := heldScript.Run(ctx, b.client, keys, token).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
