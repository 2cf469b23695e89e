package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultIndexKey holds the sorted-set index of every key written through
// the store. Redis SCAN gives no ordering guarantees, so List walks this
// index with ZRANGEBYLEX instead to keep pagination deterministic.
const defaultIndexKey = "kv:index"

// Redis implements Store on top of a Redis server. Values are plain string
// keys with native TTLs; key ordering for List comes from a lexicographic
// sorted-set index maintained on every Put and Delete.
//
// Index members for expired values are pruned lazily during List, since
// sorted-set members cannot carry their own TTL.
type Redis struct {
	client   redis.UniversalClient
	indexKey string
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithIndexKey overrides the sorted-set key used for the listing index.
// Useful when several stores share one Redis database.
func WithIndexKey(key string) RedisOption {
	return func(r *Redis) {
		if key != "" {
			r.indexKey = key
		}
	}
}

// NewRedis creates a Redis-backed store using the provided client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client, indexKey: defaultIndexKey}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv: redis get %q: %w", key, err)
	}
	return value, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, value, ttl)
		pipe.ZAdd(ctx, r.indexKey, redis.Z{Score: 0, Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("kv: redis put %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, r.indexKey, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("kv: redis delete %q: %w", key, err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, prefix, cursor string, limit int) (Page, error) {
	if limit <= 0 {
		return Page{}, nil
	}
	if cursor != "" && !strings.HasPrefix(cursor, prefix) {
		return Page{}, ErrInvalidCursor
	}

	// Exclusive lower bound resumes after the cursor; otherwise start at the
	// prefix itself. The upper bound caps the range at the prefix family.
	min := "[" + prefix
	if cursor != "" {
		min = "(" + cursor
	}
	max := "[" + prefix + "\xff"

	page := Page{}
	// Fetch one key beyond the page to learn whether more entries remain.
	for len(page.Entries) <= limit {
		want := limit + 1 - len(page.Entries)
		keys, err := r.client.ZRangeByLex(ctx, r.indexKey, &redis.ZRangeBy{
			Min:   min,
			Max:   max,
			Count: int64(want),
		}).Result()
		if err != nil {
			return Page{}, fmt.Errorf("kv: redis list %q: %w", prefix, err)
		}
		if len(keys) == 0 {
			break
		}
		min = "(" + keys[len(keys)-1]

		values, err := r.client.MGet(ctx, keys...).Result()
		if err != nil {
			return Page{}, fmt.Errorf("kv: redis list %q: %w", prefix, err)
		}

		var stale []any
		for i, key := range keys {
			raw, ok := values[i].(string)
			if !ok {
				// Value expired; drop the orphaned index member.
				stale = append(stale, key)
				continue
			}
			page.Entries = append(page.Entries, Entry{Key: key, Value: []byte(raw)})
		}
		if len(stale) > 0 {
			if err := r.client.ZRem(ctx, r.indexKey, stale...).Err(); err != nil {
				return Page{}, fmt.Errorf("kv: redis list %q: %w", prefix, err)
			}
		}

		if len(keys) < want {
			break
		}
	}

	if len(page.Entries) > limit {
		page.Entries = page.Entries[:limit]
		page.Cursor = page.Entries[limit-1].Key
	}

	return page, nil
}
