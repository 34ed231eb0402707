package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultScanCount is the SCAN batch hint used when listing keys.
	DefaultScanCount = 500

	// multiRemoveBatch bounds the number of keys passed to a single DEL.
	multiRemoveBatch = 500
)

// Redis implements Store on top of a Redis server.
// Redis replies "OOM command not allowed" once maxmemory is reached with a
// noeviction policy; those replies are classified as ErrCapacityExceeded.
type Redis struct {
	client    redis.UniversalClient
	scanMatch string
	scanCount int64
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithScanMatch restricts AllKeys to keys matching a Redis glob pattern.
// Useful when the database is shared with unrelated consumers.
func WithScanMatch(pattern string) RedisOption {
	return func(r *Redis) {
		r.scanMatch = pattern
	}
}

// WithScanCount sets the SCAN batch hint.
func WithScanCount(count int64) RedisOption {
	return func(r *Redis) {
		r.scanCount = count
	}
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client:    client,
		scanMatch: "*",
		scanCount: DefaultScanCount,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis parses a redis:// URL, connects and verifies the connection.
func DialRedis(ctx context.Context, redisURL string, opts ...RedisOption) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opt)
	// check redis connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return NewRedis(client, opts...), nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// GetItem retrieves the value stored at key.
func (r *Redis) GetItem(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", ClassifyCapacity("get", err)
	}
	return v, nil
}

// SetItem stores value at key without expiry.
func (r *Redis) SetItem(ctx context.Context, key, value string) error {
	return ClassifyCapacity("set", r.client.Set(ctx, key, value, 0).Err())
}

// RemoveItem deletes key.
func (r *Redis) RemoveItem(ctx context.Context, key string) error {
	return ClassifyCapacity("remove", r.client.Del(ctx, key).Err())
}

// AllKeys iterates the keyspace with SCAN.
func (r *Redis) AllKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.scanMatch, r.scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, ClassifyCapacity("list", fmt.Errorf("scanning keys: %w", err))
	}
	return keys, nil
}

// MultiRemove deletes keys in pipelined DEL batches.
func (r *Redis) MultiRemove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for start := 0; start < len(keys); start += multiRemoveBatch {
			end := min(start+multiRemoveBatch, len(keys))
			pipe.Del(ctx, keys[start:end]...)
		}
		return nil
	})
	return ClassifyCapacity("remove", err)
}

// ItemSize returns the length of the string stored at key.
func (r *Redis) ItemSize(ctx context.Context, key string) (int64, error) {
	n, err := r.client.StrLen(ctx, key).Result()
	if err != nil {
		return 0, ClassifyCapacity("size", err)
	}
	if n == 0 {
		exists, err := r.client.Exists(ctx, key).Result()
		if err != nil {
			return 0, err
		}
		if exists == 0 {
			return 0, ErrNotFound
		}
	}
	return n, nil
}

// Compile-time interface checks
var (
	_ Store          = (*Redis)(nil)
	_ SizeAwareStore = (*Redis)(nil)
)
