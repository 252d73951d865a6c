// Package redisstore wraps Redis client operations used by the cache manager.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(o *redis.Options) { o.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// MGet returns a map of found keys to their values
func (c *Client) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	start := time.Now()
	if len(keys) == 0 {
		observability.ObserveCacheOp("mget", nil, time.Since(start).Seconds())
		return map[string][]byte{}, nil
	}

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	observability.ObserveCacheOp("mget", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis MGET %d keys: %w", len(keys), err)
	}

	out := make(map[string][]byte, len(vals))
	for i, v := range vals {
		switch t := v.(type) {
		case nil:
			continue // missing key
		case string:
			out[keys[i]] = []byte(t)
		case []byte:
			out[keys[i]] = t
		default:
			out[keys[i]] = fmt.Append(nil, t)
		}
	}
	return out, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Set(ctx, key, val, ttl).Err()
	observability.ObserveCacheOp("set", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	observability.ObserveCacheOp("del", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

// Tx runs fn inside MULTI/EXEC so the queued commands apply atomically.
func (c *Client) Tx(ctx context.Context, op string, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	start := time.Now()
	cmds, err := c.rdb.TxPipelined(ctx, fn)
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	observability.ObserveCacheOp(op, err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis %s (tx): %w", op, err)
	}
	return cmds, nil
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	start := time.Now()
	out, err := c.rdb.SMembers(ctx, key).Result()
	observability.ObserveCacheOp("smembers", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS %q: %w", key, err)
	}
	return out, nil
}

func (c *Client) SIsMember(ctx context.Context, key, member string) (bool, error) {
	start := time.Now()
	ok, err := c.rdb.SIsMember(ctx, key, member).Result()
	observability.ObserveCacheOp("sismember", err, time.Since(start).Seconds())
	if err != nil {
		return false, fmt.Errorf("redis SISMEMBER %q: %w", key, err)
	}
	return ok, nil
}

// ScanDel deletes every key matching pattern in batches and returns the
// number of keys removed. Deleting nothing is not an error.
func (c *Client) ScanDel(ctx context.Context, pattern string, batch int64) (int64, error) {
	if batch <= 0 {
		batch = 500
	}
	start := time.Now()
	var (
		cursor  uint64
		removed int64
	)
	for {
		ks, next, err := c.rdb.Scan(ctx, cursor, pattern, batch).Result()
		if err != nil {
			observability.ObserveCacheOp("scandel", err, time.Since(start).Seconds())
			return removed, fmt.Errorf("redis SCAN %q: %w", pattern, err)
		}
		if len(ks) > 0 {
			n, err := c.rdb.Unlink(ctx, ks...).Result()
			if err != nil {
				observability.ObserveCacheOp("scandel", err, time.Since(start).Seconds())
				return removed, fmt.Errorf("redis UNLINK %d keys: %w", len(ks), err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	observability.ObserveCacheOp("scandel", nil, time.Since(start).Seconds())
	return removed, nil
}

// Count returns the number of keys matching pattern.
func (c *Client) Count(ctx context.Context, pattern string) (int64, error) {
	start := time.Now()
	var (
		cursor uint64
		total  int64
	)
	for {
		ks, next, err := c.rdb.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			observability.ObserveCacheOp("scan", err, time.Since(start).Seconds())
			return 0, fmt.Errorf("redis SCAN %q: %w", pattern, err)
		}
		total += int64(len(ks))
		cursor = next
		if cursor == 0 {
			break
		}
	}
	observability.ObserveCacheOp("scan", nil, time.Since(start).Seconds())
	return total, nil
}

// unlockScript deletes KEYS[1] only while it still holds ARGV[1].
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// extendScript resets the ttl of KEYS[1] only while it still holds ARGV[1].
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// SetNX sets key to val with a ttl unless it already exists.
func (c *Client) SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := c.rdb.SetNX(ctx, key, val, ttl).Result()
	observability.ObserveCacheOp("setnx", err, time.Since(start).Seconds())
	if err != nil {
		return false, fmt.Errorf("redis SET NX %q: %w", key, err)
	}
	return ok, nil
}

// DelIfEqual deletes key when its value is val and reports whether it did.
func (c *Client) DelIfEqual(ctx context.Context, key, val string) (bool, error) {
	start := time.Now()
	n, err := unlockScript.Run(ctx, c.rdb, []string{key}, val).Int64()
	observability.ObserveCacheOp("delifequal", err, time.Since(start).Seconds())
	if err != nil {
		return false, fmt.Errorf("redis compare-and-delete %q: %w", key, err)
	}
	return n == 1, nil
}

// ExpireIfEqual resets the ttl of key when its value is val and reports
// whether it did.
func (c *Client) ExpireIfEqual(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	start := time.Now()
	n, err := extendScript.Run(ctx, c.rdb, []string{key}, val, ttl.Milliseconds()).Int64()
	observability.ObserveCacheOp("expireifequal", err, time.Since(start).Seconds())
	if err != nil {
		return false, fmt.Errorf("redis compare-and-expire %q: %w", key, err)
	}
	return n == 1, nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
