package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"contextcache/internal/handlers"
	"contextcache/internal/metrics"
	"contextcache/internal/middleware"
)

type Options struct {
	RequestTimeout time.Duration // default: 15s
	MaxBodyBytes   int64         // default: 512 KB
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 15 * time.Second
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 512 * 1024
	}
	return o
}

func SetupRouter(
	r *chi.Mux,
	baseLogger *zap.Logger,
	opts Options,
	messageHandler *handlers.MessageHandler,
	cacheHandler *handlers.CacheHandler,
) {
	opts = opts.withDefaults()

	r.Use(metrics.Middleware)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.Timeout(opts.RequestTimeout))
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages/resolve", messageHandler.Resolve)
		r.Put("/messages", messageHandler.Store)

		r.Get("/cache/stats", cacheHandler.Stats)
		r.Post("/cache/cleanup", cacheHandler.Cleanup)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
