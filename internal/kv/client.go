// Package kv wraps a Redis-shaped key/value store: string SETNX with TTL,
// sorted sets, hash maps, pub/sub, and Lua-style atomic eval. It is the one
// process-wide connection every other component (lock, idempotency,
// availability, trending, fan-out) builds on.
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is a thin façade over *redis.Client. Callers depend on this type,
// not on go-redis directly, so the lock/idempotency/trending packages stay
// testable against miniredis without leaking go-redis specifics everywhere.
type Client struct {
	rdb *redis.Client
}

// Options configures the underlying connection pool.
type Options struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
}

// New dials a Redis-compatible endpoint and verifies connectivity with PING.
func New(ctx context.Context, opts Options) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		MaxRetries:   opts.MaxRetries,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("kv: connect to %s: %w", opts.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// NewFromRedis wraps an already-constructed *redis.Client — used by tests
// to point this package at a miniredis instance.
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Raw exposes the underlying client for components (pub/sub duplication,
// pipelines) that need operations this façade doesn't cover.
func (c *Client) Raw() *redis.Client { return c.rdb }

func (c *Client) Close() error { return c.rdb.Close() }

// SetNX sets key to value with ttl only if key does not already exist.
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Get returns the string at key, or ("", redis.Nil) if absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// Set unconditionally sets key to value with ttl (ttl=0 means no expiry).
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Del removes one or more keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// Exists reports how many of the given keys exist.
func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return c.rdb.Exists(ctx, keys...).Result()
}

// ZAdd adds member to the sorted set at key with score, replacing any
// prior score. Callers wanting an increment use ZIncrBy instead.
func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// ZIncrBy increments member's score in the sorted set at key by delta,
// creating both if absent, and returns the new score.
func (c *Client) ZIncrBy(ctx context.Context, key string, delta float64, member string) (float64, error) {
	return c.rdb.ZIncrBy(ctx, key, delta, member).Result()
}

// ZRem removes member from the sorted set at key.
func (c *Client) ZRem(ctx context.Context, key, member string) error {
	return c.rdb.ZRem(ctx, key, member).Err()
}

// ZRevRangeWithScores returns the top `count` members by descending score.
func (c *Client) ZRevRangeWithScores(ctx context.Context, key string, count int64) ([]redis.Z, error) {
	return c.rdb.ZRevRangeWithScores(ctx, key, 0, count-1).Result()
}

// ZRangeByScore returns members scored within [min, max] (Redis score syntax).
func (c *Client) ZRangeByScore(ctx context.Context, key, min, max string) ([]string, error) {
	return c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: min, Max: max}).Result()
}

// ZUnionStore merges the sorted sets at srcKeys into dstKey, summing scores,
// and sets dstTTL on the result — callers DEL it themselves when done if
// dstTTL is short-lived scratch space.
func (c *Client) ZUnionStore(ctx context.Context, dstKey string, dstTTL time.Duration, srcKeys ...string) error {
	if err := c.rdb.ZUnionStore(ctx, dstKey, &redis.ZStore{Keys: srcKeys}).Err(); err != nil {
		return err
	}
	if dstTTL > 0 {
		return c.rdb.Expire(ctx, dstKey, dstTTL).Err()
	}
	return nil
}

// Expire sets a TTL on an existing key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

// HIncrBy increments field in the hash at key by delta.
func (c *Client) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return c.rdb.HIncrBy(ctx, key, field, delta).Result()
}

// HGetAll returns every field/value pair in the hash at key.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

// IncrWithExpire increments key and, only on first creation (result == 1),
// sets ttl — the standard INCR+EXPIRE rate-limit counter pattern.
func (c *Client) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Publish fire-and-forgets a message on channel.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.rdb.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a dedicated connection for channel — go-redis's PubSub
// type already holds a connection separate from the RPC pool, matching the
// "publisher and subscriber are duplicated clients" design.
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}

// IsNil reports whether err is the go-redis sentinel for "key absent" —
// callers use this instead of importing go-redis to compare against redis.Nil.
func IsNil(err error) bool { return err == redis.Nil }

// compareAndDelete is the Lua script backing lock release: delete the key
// only if its value still equals the caller's owner token.
const compareAndDeleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`

// compareAndPExpire is the Lua script backing lock extension: reset the
// key's TTL only if its value still equals the caller's owner token.
const compareAndPExpireScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
  return 0
end
`

// CompareAndDelete runs compareAndDeleteScript and reports whether the key
// was actually deleted (true) or the token no longer matched (false).
func (c *Client) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	res, err := c.rdb.Eval(ctx, compareAndDeleteScript, []string{key}, token).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// CompareAndPExpire runs compareAndPExpireScript and reports whether the
// TTL was actually reset.
func (c *Client) CompareAndPExpire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	res, err := c.rdb.Eval(ctx, compareAndPExpireScript, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
