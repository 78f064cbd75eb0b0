package search

import (
	"context"
	"time"
)

// RecordStore keeps serialized records in a single hash, one field per id.
type RecordStore interface {
	HSet(ctx context.Context, key, field string, value []byte) error
	// HMGet returns one entry per field, nil where the field is absent.
	HMGet(ctx context.Context, key string, fields ...string) ([][]byte, error)
	Del(ctx context.Context, keys ...string) error
}

// ScoredSetStore provides named sorted sets. The multi-key writes apply to
// every listed set atomically.
type ScoredSetStore interface {
	// ZAddNX adds member with score 0 where absent; existing scores are kept.
	ZAddNX(ctx context.Context, member string, keys ...string) error
	// ZIncrBy adds delta to member's score, creating it with score delta.
	ZIncrBy(ctx context.Context, member string, delta float64, keys ...string) error
	ZRem(ctx context.Context, member string, keys ...string) error
	// ZInterStore writes the intersection of keys to dest with summed scores
	// and returns its cardinality.
	ZInterStore(ctx context.Context, dest string, keys []string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// ZRevRange returns all members, highest score first.
	ZRevRange(ctx context.Context, key string) ([]string, error)
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Store is a backend providing both collaborators, such as a Redis client.
type Store interface {
	RecordStore
	ScoredSetStore
}
