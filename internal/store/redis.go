package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var errClosed = errors.New("backend closed")

// RedisBackend stores records as plain Redis strings under a key prefix.
type RedisBackend struct {
	client    *redis.Client
	prefix    string
	opTimeout time.Duration
	scanCount int64
}

type RedisConfig struct {
	Prefix    string
	OpTimeout time.Duration
}

// NewRedisBackend creates a Redis-backed store. The client is owned by the
// caller unless Close is called.
func NewRedisBackend(client *redis.Client, config RedisConfig) *RedisBackend {
	return &RedisBackend{
		client:    client,
		prefix:    config.Prefix,
		opTimeout: config.OpTimeout,
		scanCount: 100,
	}
}

// key builds the final Redis key with prefix.
func (r *RedisBackend) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

func (r *RedisBackend) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opTimeout > 0 {
		return context.WithTimeout(ctx, r.opTimeout)
	}
	return context.WithCancel(ctx)
}

// Get returns (nil, false, nil) for a missing key; any Redis failure is
// wrapped in ErrBackendUnavailable.
func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	res, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Key does not exist, a clean miss.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("redis get", err)
	}
	return res, true, nil
}

// Set writes without expiry; staleness is decided by the cache, not Redis.
func (r *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return unavailable("redis set", err)
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return unavailable("redis del", err)
	}
	return nil
}

// Keys walks the keyspace with SCAN so large stores do not block Redis.
func (r *RedisBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()

	full := r.key(prefix)
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, full+"*", r.scanCount).Result()
		if err != nil {
			return nil, unavailable("redis scan", err)
		}
		for _, k := range batch {
			if r.prefix != "" {
				k = strings.TrimPrefix(k, r.prefix+":")
			}
			keys = append(keys, k)
		}
		if next == 0 {
			break
		}
		cursor = next
	}

	sort.Strings(keys)
	return dedupSorted(keys), nil
}

// Ping checks if Redis connection is healthy.
func (r *RedisBackend) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("redis ping", err)
	}
	return nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

// SCAN may return a key more than once.
func dedupSorted(keys []string) []string {
	if len(keys) < 2 {
		return keys
	}
	out := keys[:1]
	for _, k := range keys[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}
