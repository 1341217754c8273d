package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/wakala/hedger/internal/logger"
)

// requestLogger tags each request with an id and a logger carrying it, then
// logs the outcome. A caller-supplied X-Request-Id is kept.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(middleware.RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
			r.Header.Set(middleware.RequestIDHeader, requestID)
		}
		w.Header().Set(middleware.RequestIDHeader, requestID)

		l := logger.L.With(slog.String("requestID", requestID))
		ctx := logger.ToContext(r.Context(), l)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))

		l.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String())
	})
}
