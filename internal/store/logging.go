package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"contextcache/internal/fingerprint"
	"contextcache/internal/metrics"
	"contextcache/pkg/logging/logging"
)

// LoggingBackend wraps a Backend with debug logging and latency metrics.
type LoggingBackend struct {
	inner Backend
	name  string
}

// NewLoggingBackend returns a backend that logs and records metrics under
// the given backend name.
func NewLoggingBackend(inner Backend, name string) Backend {
	return &LoggingBackend{inner: inner, name: name}
}

func (b *LoggingBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := b.inner.Get(ctx, key)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	b.record(ctx, "get", key, result, start, err, zap.Int("bytes", len(value)))
	return value, ok, err
}

func (b *LoggingBackend) Set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := b.inner.Set(ctx, key, value)
	b.record(ctx, "set", key, resultOf(err), start, err, zap.Int("bytes", len(value)))
	return err
}

func (b *LoggingBackend) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := b.inner.Delete(ctx, key)
	b.record(ctx, "delete", key, resultOf(err), start, err)
	return err
}

func (b *LoggingBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := b.inner.Keys(ctx, prefix)
	b.record(ctx, "keys", prefix, resultOf(err), start, err, zap.Int("count", len(keys)))
	return keys, err
}

func (b *LoggingBackend) Close() error {
	return b.inner.Close()
}

func (b *LoggingBackend) record(ctx context.Context, op, key, result string, start time.Time, err error, extra ...zap.Field) {
	elapsed := time.Since(start)
	metrics.BackendLatencySeconds.WithLabelValues(b.name, op, result).Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("backend", b.name),
		zap.String("op", op),
		zap.String("record_key", key),
		zap.String("result", result),
		zap.Float64("latency_ms", float64(elapsed.Microseconds())/1000.0),
	}
	if k, ok := fingerprint.ParseKey(trimRecordPrefix(key)); ok {
		fields = append(fields,
			zap.String("skill_level", string(k.SkillLevel)),
			zap.Int("scripts_bucket", k.ScriptsBucket),
			zap.String("time_of_day", string(k.TimeOfDay)),
		)
	}
	fields = append(fields, extra...)

	logger := logging.L(ctx)
	if err != nil {
		logger.Warn("backend_"+op, append(fields, zap.Error(err))...)
		return
	}
	logger.Debug("backend_"+op, fields...)
}

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Record keys look like "<namespace>:<fingerprint>".
func trimRecordPrefix(key string) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == ':' {
			return key[i+1:]
		}
	}
	return key
}
