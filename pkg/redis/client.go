// Package redis provides a thin wrapper around go-redis/v9 exposing the hash,
// sorted-set and key-expiry primitives the prefix index is built on. Multi-key
// sorted-set writes run inside MULTI/EXEC so a member lands in every set or in
// none. Connection failures surface as errors.ErrStoreUnavailable.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client.
type Client struct {
	rdb      *redis.Client
	embedded *embedded
}

// NewClient creates a Redis client and verifies the connection with a PING.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: dialTimeout,
	})
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, apperrors.Unavailable("redis ping", err)
	}
	return &Client{rdb: rdb}, nil
}

// HSet stores value under field of the hash at key.
func (c *Client) HSet(ctx context.Context, key, field string, value []byte) error {
	return wrap("hset", c.rdb.HSet(ctx, key, field, value).Err())
}

// HMGet returns the values of fields in the hash at key, in request order.
// Missing fields yield nil entries.
func (c *Client) HMGet(ctx context.Context, key string, fields ...string) ([][]byte, error) {
	vals, err := c.rdb.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, wrap("hmget", err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		switch s := v.(type) {
		case nil:
		case string:
			out[i] = []byte(s)
		default:
			return nil, fmt.Errorf("redis hmget: unexpected reply type %T for field %s", v, fields[i])
		}
	}
	return out, nil
}

// HLen returns the number of fields in the hash at key, 0 when it is absent.
func (c *Client) HLen(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.HLen(ctx, key).Result()
	if err != nil {
		return 0, wrap("hlen", err)
	}
	return n, nil
}

// Del deletes one or more keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return wrap("del", c.rdb.Del(ctx, keys...).Err())
}

// ZAddNX adds member with score 0 to every sorted set in keys, leaving the
// score untouched where the member is already present.
func (c *Client) ZAddNX(ctx context.Context, member string, keys ...string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.ZAddNX(ctx, key, redis.Z{Score: 0, Member: member})
		}
		return nil
	})
	return wrap("zadd nx", err)
}

// ZIncrBy increments member's score by delta in every sorted set in keys,
// creating the member with score delta where it is absent.
func (c *Client) ZIncrBy(ctx context.Context, member string, delta float64, keys ...string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.ZIncrBy(ctx, key, delta, member)
		}
		return nil
	})
	return wrap("zincrby", err)
}

// ZRem removes member from every sorted set in keys.
func (c *Client) ZRem(ctx context.Context, member string, keys ...string) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.ZRem(ctx, key, member)
		}
		return nil
	})
	return wrap("zrem", err)
}

// ZScore returns member's score in the sorted set at key. The boolean is
// false when the member or the key does not exist.
func (c *Client) ZScore(ctx context.Context, key, member string) (float64, bool, error) {
	score, err := c.rdb.ZScore(ctx, key, member).Result()
	if IsNilError(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrap("zscore", err)
	}
	return score, true, nil
}

// ZInterStore stores the intersection of the sorted sets in keys at dest,
// summing scores, and returns the cardinality of the result.
func (c *Client) ZInterStore(ctx context.Context, dest string, keys []string) (int64, error) {
	n, err := c.rdb.ZInterStore(ctx, dest, &redis.ZStore{
		Keys:      keys,
		Aggregate: "SUM",
	}).Result()
	if err != nil {
		return 0, wrap("zinterstore", err)
	}
	return n, nil
}

// Expire sets a time-to-live on key. A missing key is not an error.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return wrap("expire", c.rdb.Expire(ctx, key, ttl).Err())
}

// ZRevRange returns every member of the sorted set at key, highest score
// first.
func (c *Client) ZRevRange(ctx context.Context, key string) ([]string, error) {
	members, err := c.rdb.ZRevRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, wrap("zrevrange", err)
	}
	return members, nil
}

// FlushByPattern scans for keys matching the glob pattern and deletes them,
// returning the number of keys removed.
func (c *Client) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, wrap("del "+iter.Val(), err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, wrap("scan "+pattern, err)
	}
	return deleted, nil
}

// IsNilError reports whether err is a Redis nil (key-not-found) error.
func IsNilError(err error) bool {
	return errors.Is(err, redis.Nil)
}

// Close closes the underlying Redis connection, and stops the server when the
// Client was created by NewEmbedded.
func (c *Client) Close() error {
	err := c.rdb.Close()
	if c.embedded != nil {
		c.embedded.close()
	}
	return err
}

// Ping sends a PING to Redis and returns any error.
func (c *Client) Ping(ctx context.Context) error {
	return wrap("ping", c.rdb.Ping(ctx).Err())
}

// wrap classifies err: server replies and context cancellation keep their
// identity, anything else is a connectivity failure.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("redis %s: %w", op, err)
	}
	return apperrors.Unavailable("redis "+op, err)
}
