package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

type Config struct {
	Backend    string        // "memory", "redis" or "sqlite"
	RedisAddr  string
	Prefix     string        // Redis key prefix
	SQLitePath string
	OpTimeout  time.Duration // per-operation timeout for remote/disk backends
}

// Open builds the configured backend wrapped with logging and metrics.
// Redis is pinged so a misconfiguration fails fast.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Backend {
	case BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		rb := NewRedisBackend(client, RedisConfig{
			Prefix:    cfg.Prefix,
			OpTimeout: cfg.OpTimeout,
		})
		if err := rb.Ping(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return NewLoggingBackend(rb, BackendRedis), nil

	case BackendSQLite:
		sb, err := OpenSQLite(SQLiteConfig{
			Path:      cfg.SQLitePath,
			OpTimeout: cfg.OpTimeout,
		})
		if err != nil {
			return nil, err
		}
		return NewLoggingBackend(sb, BackendSQLite), nil

	case BackendMemory, "":
		return NewLoggingBackend(NewMemoryBackend(), BackendMemory), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
