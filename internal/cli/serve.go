package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"contextcache/internal/generator"
	"contextcache/internal/handlers"
	"contextcache/internal/httpserver"
	"contextcache/internal/metrics"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the cleanup scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	logger := a.logger
	cfg := a.cfg

	metrics.Register()

	logger.Info("loaded config",
		zap.String("addr", cfg.Server.Addr),
		zap.String("store_backend", cfg.Store.Backend),
		zap.Int("max_entries", cfg.Cache.MaxEntries),
		zap.Duration("cleanup_interval", cfg.Cache.CleanupInterval),
		zap.Bool("generator", cfg.Generator.BaseURL != ""),
	)

	c, closeCache, err := a.openCache(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := closeCache(closeCtx); err != nil {
			logger.Error("cache close error", zap.Error(err))
		}
	}()

	var gen generator.Generator
	if gcfg, ok := cfg.GeneratorOptions(); ok {
		gen, err = generator.NewClient(gcfg, logger)
		if err != nil {
			return err
		}
		defer gen.Close()
	} else {
		logger.Warn("generator not configured, misses are answered with 404")
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, httpserver.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	},
		handlers.NewMessageHandler(c, gen),
		handlers.NewCacheHandler(c),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	c.StartCleanup()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", zap.Error(err))
		return err
	}
	logger.Info("server shutdown complete")
	return nil
}
