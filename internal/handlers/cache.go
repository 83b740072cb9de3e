package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"contextcache/internal/cache"
	"contextcache/pkg/logging/logging"
	"contextcache/pkg/types"
)

// CacheAdmin is the diagnostic surface of the cache.
type CacheAdmin interface {
	Statistics(ctx context.Context) types.Statistics
	RunCleanup(ctx context.Context) cache.CleanupReport
}

type CacheHandler struct {
	Cache CacheAdmin
}

func NewCacheHandler(c CacheAdmin) *CacheHandler {
	return &CacheHandler{Cache: c}
}

// Stats handles GET /v1/cache/stats.
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Cache.Statistics(r.Context()))
}

// Cleanup handles POST /v1/cache/cleanup by running one pass inline.
func (h *CacheHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	report := h.Cache.RunCleanup(r.Context())
	logging.L(r.Context()).Info("cleanup requested",
		zap.Int("evicted", report.Evicted),
		zap.Int("stale", report.Stale),
	)
	writeJSON(w, http.StatusOK, report)
}
