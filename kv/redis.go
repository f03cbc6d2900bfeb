package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const getDelScript = `
local value = redis.call("GET", KEYS[1])
if value then
  redis.call("DEL", KEYS[1])
end
return value
`

const deleteIfEqualsScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const incrWithTTLScript = `
local count = redis.call("INCR", KEYS[1])
local ttl = tonumber(ARGV[1])
if count == 1 and ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return count
`

var (
	getDelLua         = redis.NewScript(getDelScript)
	deleteIfEqualsLua = redis.NewScript(deleteIfEqualsScript)
	incrWithTTLLua    = redis.NewScript(incrWithTTLScript)
)

// RedisStore is a [Store] backed by Redis. Multi-step primitives run as Lua
// scripts so each one is a single atomic round trip.
type RedisStore struct {
	redis     redis.UniversalClient
	opTimeout time.Duration
}

// NewRedisStore wraps a Redis client. opTimeout bounds every call; zero selects
// [DefaultOpTimeout].
func NewRedisStore(client redis.UniversalClient, opTimeout time.Duration) *RedisStore {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &RedisStore{redis: client, opTimeout: opTimeout}
}

func (s *RedisStore) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Get returns the stored value or [ErrNotFound].
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	return data, nil
}

// Set writes value with ttl. A non-positive ttl stores the key without expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	if err := s.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// SetNX writes value only when key is absent and reports whether it did.
func (s *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	ok, err := s.redis.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

// GetDel atomically reads and deletes key. Exactly one of any number of
// concurrent callers observes the value.
func (s *RedisStore) GetDel(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	value, err := getDelLua.Run(ctx, s.redis, []string{key}).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	return []byte(value), nil
}

// DeleteIfEquals deletes key only when its current value equals value.
func (s *RedisStore) DeleteIfEquals(ctx context.Context, key string, value []byte) (bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	deleted, err := deleteIfEqualsLua.Run(ctx, s.redis, []string{key}, value).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return deleted == 1, nil
}

// Del removes keys. Missing keys are not an error.
func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// Exists reports whether key is present.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	n, err := s.redis.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// Incr increments key and arms ttl when the increment created it
// (fixed-window semantics).
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	count, err := incrWithTTLLua.Run(ctx, s.redis, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return count, nil
}

// Ping checks backend reachability.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if err := s.redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
