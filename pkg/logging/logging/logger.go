package logging

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey int

const loggerKey ctxKey = iota

var (
	defaultLogger     *zap.Logger
	defaultLoggerOnce sync.Once
)

// Options controls logger construction. NewLogger fills it from the
// CONTEXTCACHE_ENV and LOG_LEVEL environment variables.
type Options struct {
	Development bool
	Level       string
}

func optionsFromEnv() Options {
	env := os.Getenv("CONTEXTCACHE_ENV")
	return Options{
		Development: env == "dev" || env == "development",
		Level:       os.Getenv("LOG_LEVEL"),
	}
}

// New builds a zap logger: JSON production config by default, coloured
// console output in development.
func New(opts Options) (*zap.Logger, error) {
	var config zap.Config
	if opts.Development {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.DisableCaller = false
	}

	if opts.Level != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(opts.Level)); err == nil {
			config.Level = zap.NewAtomicLevelAt(level)
		}
	}

	return config.Build()
}

// NewLogger builds a logger from the environment and exits on failure.
func NewLogger() *zap.Logger {
	logger, err := New(optionsFromEnv())
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to create logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	return logger
}

// DefaultLogger returns the process-wide logger.
func DefaultLogger() *zap.Logger {
	defaultLoggerOnce.Do(func() {
		defaultLogger = NewLogger()
	})
	return defaultLogger
}

// WithLogger attaches a logger to ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger attached to ctx, or the default logger.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return DefaultLogger()
	}
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return DefaultLogger()
}

// Attached returns the logger explicitly attached to ctx, if any.
func Attached(ctx context.Context) (*zap.Logger, bool) {
	if ctx == nil {
		return nil, false
	}
	logger, ok := ctx.Value(loggerKey).(*zap.Logger)
	return logger, ok && logger != nil
}

func L(ctx context.Context) *zap.Logger {
	return FromContext(ctx)
}

// WithFields adds structured fields to the logger in context.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(fields...))
}
