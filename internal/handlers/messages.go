package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"contextcache/internal/fingerprint"
	"contextcache/internal/generator"
	"contextcache/pkg/logging/logging"
	"contextcache/pkg/types"
)

// MessageCache is the part of the cache the message endpoints need.
type MessageCache interface {
	Get(ctx context.Context, uc types.UserContext) (*types.Message, bool)
	Set(ctx context.Context, uc types.UserContext, msg types.Message)
}

// MessageHandler serves /v1/messages. Generator may be nil, in which case a
// cache miss is answered with 404.
type MessageHandler struct {
	Cache     MessageCache
	Generator generator.Generator
}

func NewMessageHandler(c MessageCache, g generator.Generator) *MessageHandler {
	return &MessageHandler{Cache: c, Generator: g}
}

// Resolve handles POST /v1/messages/resolve: cached message if any, else a
// freshly generated one that is stored before it is returned.
func (h *MessageHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var req types.ResolveRequest
	if status, err := decodeJSON(r, &req); err != nil {
		logging.L(ctx).Warn("invalid request", zap.Error(err))
		writeError(w, status, "invalid_request", err)
		return
	}
	uc := req.Context
	key, err := fingerprint.Of(uc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_context", err)
		return
	}
	ctx = logging.WithFields(ctx, zap.String("fingerprint", key))
	logger := logging.L(ctx)

	lookupStart := time.Now()
	msg, hit := h.Cache.Get(ctx, uc)
	lookupLatency := time.Since(lookupStart)

	if hit {
		logger.Info("cache_decision",
			zap.Bool("cache_hit", true),
			zap.Duration("cache_lookup_latency", lookupLatency),
			zap.Duration("total_latency", time.Since(start)),
		)
		writeJSON(w, http.StatusOK, types.ResolveResponse{Message: *msg, CacheHit: true})
		return
	}

	if h.Generator == nil {
		writeError(w, http.StatusNotFound, "not_cached", nil)
		return
	}

	genStart := time.Now()
	generated, err := h.Generator.Generate(ctx, uc)
	genLatency := time.Since(genStart)
	if err != nil {
		logger.Warn("generate_failed", zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, "generator_timeout", nil)
			return
		}
		writeError(w, http.StatusBadGateway, "generator_error", err)
		return
	}

	h.Cache.Set(ctx, uc, *generated)

	logger.Info("cache_decision",
		zap.Bool("cache_hit", false),
		zap.Duration("cache_lookup_latency", lookupLatency),
		zap.Duration("generator_latency", genLatency),
		zap.Duration("total_latency", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, types.ResolveResponse{Message: *generated, CacheHit: false})
}

// Store handles PUT /v1/messages: the caller supplies the message for a
// context.
func (h *MessageHandler) Store(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req types.StoreRequest
	if status, err := decodeJSON(r, &req); err != nil {
		logging.L(ctx).Warn("invalid request", zap.Error(err))
		writeError(w, status, "invalid_request", err)
		return
	}
	if err := fingerprint.Validate(req.Context); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_context", err)
		return
	}
	if len(req.Message.Content) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_message", errors.New("message content is required"))
		return
	}

	h.Cache.Set(ctx, req.Context, req.Message)
	w.WriteHeader(http.StatusNoContent)
}
