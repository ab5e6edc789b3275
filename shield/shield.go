// Package shield holds the HTTP middleware applied in front of the API:
// security headers, request body limits, request tracing, per-client rate
// limiting and HEAD handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(shield.Options{}) {
//		r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type contextKey string

const (
	loggerKey  contextKey = "shield_logger"
	traceIDKey contextKey = "shield_trace_id"
)

// Options tunes APIStack.
type Options struct {
	// MaxBody caps request bodies on write methods. Default 1 MiB.
	MaxBody int64
	// RateLimit is the sustained request rate allowed per client on
	// RateLimitPrefixes. Zero disables rate limiting.
	RateLimit         float64
	RateBurst         int
	RateLimitPrefixes []string
	Logger            *slog.Logger
}

// APIStack returns the middleware chain in application order:
// HeadToGet, SecurityHeaders, MaxBody, TraceID, then the optional
// rate limiter.
func APIStack(opts Options) []func(http.Handler) http.Handler {
	if opts.MaxBody <= 0 {
		opts.MaxBody = 1 << 20
	}
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(opts.MaxBody),
		TraceID(opts.Logger),
	}
	if opts.RateLimit > 0 {
		rl := NewRateLimiter(opts.RateLimit, opts.RateBurst, 10*time.Minute, opts.RateLimitPrefixes...)
		stack = append(stack, rl.Middleware)
	}
	return stack
}

// GetLogger returns the per-request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// GetTraceID returns the request's trace ID, empty outside a request.
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}
