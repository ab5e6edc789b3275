// Package connectivity wraps outbound calls (LLM endpoints, messaging APIs)
// in composable middleware: timeout, retry, circuit breaking and fallback.
//
// Every call is a Handler taking and returning raw bytes, so the same chain
// serves JSON APIs and form-encoded ones.
package connectivity

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

// Handler performs one outbound call.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// HandlerMiddleware wraps a Handler without changing its signature.
type HandlerMiddleware func(next Handler) Handler

// Chain composes middlewares left-to-right: the first one is the outermost
// wrapper.
//
//	call := Chain(WithTimeout(30*time.Second), WithRetry(2, time.Second, log))(base)
func Chain(mws ...HandlerMiddleware) HandlerMiddleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging logs every call with its duration under the given name.
func Logging(name string, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, payload)
			dur := time.Since(start)
			if err != nil {
				logger.WarnContext(ctx, "call failed",
					"call", name,
					"duration_ms", dur.Milliseconds(),
					"error", err)
			} else {
				logger.DebugContext(ctx, "call ok",
					"call", name,
					"duration_ms", dur.Milliseconds(),
					"response_bytes", len(resp))
			}
			return resp, err
		}
	}
}

// Recovery converts a panic in a downstream handler into *ErrPanic.
func Recovery(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "handler panic recovered",
						"panic", r,
						"stack", string(debug.Stack()))
					resp, err = nil, &ErrPanic{Value: r}
				}
			}()
			return next(ctx, payload)
		}
	}
}

// WithTimeout bounds each call to d. A zero d disables the bound.
func WithTimeout(d time.Duration) HandlerMiddleware {
	return func(next Handler) Handler {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, payload)
		}
	}
}
