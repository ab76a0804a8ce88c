package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps entries as JSON strings. Retention is the Redis expiry;
// it must be well above the cache TTL for stale reads to work, and zero
// keeps records forever.
type RedisStore struct {
	client    redis.Cmdable
	prefix    string
	retention time.Duration
	closer    func() error
}

func NewRedisStore(client redis.Cmdable, prefix string, retention time.Duration) *RedisStore {
	s := &RedisStore{client: client, prefix: prefix, retention: retention}
	if c, ok := client.(interface{ Close() error }); ok {
		s.closer = c.Close
	}
	return s
}

func (r *RedisStore) Load(ctx context.Context, key string) (Entry, bool, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, false, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	if e.Key != key {
		return Entry{}, false, fmt.Errorf("%w: %s: key mismatch", ErrCorrupt, key)
	}
	return e, true, nil
}

func (r *RedisStore) Save(ctx context.Context, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Key, err)
	}
	if err := r.client.Set(ctx, r.prefix+e.Key, string(b), r.retention).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", e.Key, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
