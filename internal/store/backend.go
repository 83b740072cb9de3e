package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrBackendUnavailable marks any failed read, write or scan against a
// durable backend. Callers treat it as "absent" for reads and "dropped" for
// writes.
var ErrBackendUnavailable = errors.New("backend unavailable")

// Backend is a durable key/value store holding serialized cache records.
// Implemented by the memory backend (tests, dev), Redis and SQLite.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists every stored key starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, op, err)
}
