package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "storeledger:idem:"

// pendingValue marks a reserved key whose result is not stored yet. Stored results
// are JSON documents and never equal it.
const pendingValue = "\x00pending"

// releaseScript deletes the key only while it still holds the pending marker.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisReplayCache struct {
	client *redis.Client
}

func NewRedisReplayCache(addr string, password string, db int) *RedisReplayCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReplayCache{client: client}
}

func (c *RedisReplayCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReplayCache) Close() error {
	return c.client.Close()
}

func (c *RedisReplayCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if string(val) == pendingValue {
		return nil, false, nil
	}
	return val, true, nil
}

func (c *RedisReplayCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if len(value) == 0 {
		return nil
	}
	return c.client.Set(ctx, keyPrefix+key, value, ttl).Err()
}

func (c *RedisReplayCache) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, keyPrefix+key, pendingValue, ttl).Result()
}

func (c *RedisReplayCache) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, c.client, []string{keyPrefix + key}, pendingValue).Err()
}
