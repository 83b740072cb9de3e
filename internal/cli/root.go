package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"contextcache/internal/cache"
	"contextcache/internal/config"
	"contextcache/internal/store"
	"contextcache/pkg/logging/logging"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	a := &app{logger: logger}

	root := &cobra.Command{
		Use:   "contextcache",
		Short: "Contextual message cache",
		Long: "contextcache serves and maintains a cache of personalised messages keyed by user context.\n" +
			"Configuration comes from --config and CONTEXTCACHE_* environment variables.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file")

	root.AddCommand(newServeCmd(a))
	root.AddCommand(newCleanupCmd(a))
	root.AddCommand(newStatsCmd(a))
	return root
}

func Execute() error {
	logger := logging.DefaultLogger()
	defer func() { _ = logger.Sync() }()

	return newRootCmd(logger).ExecuteContext(context.Background())
}

// openCache opens the configured backend and the cache over it. The returned
// func closes both.
func (a *app) openCache(ctx context.Context) (*cache.Cache, func(context.Context) error, error) {
	ctx = logging.WithLogger(ctx, a.logger)

	backend, err := store.Open(ctx, a.cfg.StoreOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	c, err := cache.Open(ctx, backend, a.cfg.CacheOptions(), a.logger)
	if err != nil {
		_ = backend.Close()
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}

	closeAll := func(ctx context.Context) error {
		cerr := c.Close(ctx)
		if err := backend.Close(); err != nil && cerr == nil {
			cerr = err
		}
		return cerr
	}
	return c, closeAll, nil
}
