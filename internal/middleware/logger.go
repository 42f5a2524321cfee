package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	// LoggerContextKey is the context key for storing the request-scoped logger
	LoggerContextKey contextKey = "logger"
)

// WithRequestLogger injects a request-scoped logger into the context.
// The logger carries request metadata so downstream log lines can be
// correlated. Place after RequestID in the chain.
func WithRequestLogger(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			builder := base.With().
				Str("method", r.Method).
				Str("path", r.URL.Path)

			if requestID := GetRequestID(r.Context()); requestID != "" {
				builder = builder.Str("request_id", requestID)
			}

			logger := builder.Logger()
			ctx := context.WithValue(r.Context(), LoggerContextKey, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetLogger retrieves the request-scoped logger from the context.
// Falls back to a disabled logger so callers never nil-check.
func GetLogger(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// AccessLog logs one line per request with status and duration.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		logger := GetLogger(r.Context())
		logger.Info().
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
