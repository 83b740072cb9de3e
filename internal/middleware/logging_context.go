package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"contextcache/pkg/logging/logging"
)

// LoggingContext attaches a request-scoped logger to the context and logs
// one line per finished request.
func LoggingContext(baseLogger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqLogger := baseLogger.With(
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			if reqID := chimw.GetReqID(r.Context()); reqID != "" {
				reqLogger = reqLogger.With(zap.String("request_id", reqID))
			}
			// RealIP has already rewritten RemoteAddr
			if r.RemoteAddr != "" {
				reqLogger = reqLogger.With(zap.String("remote_ip", r.RemoteAddr))
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(logging.WithLogger(r.Context(), reqLogger)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			reqLogger.Info("request completed",
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Float64("latency_ms", float64(time.Since(start).Microseconds())/1000.0),
			)
		})
	}
}
