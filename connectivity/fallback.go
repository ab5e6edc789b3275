package connectivity

import (
	"context"
	"log/slog"
)

// WithFallback sends the call to secondary when the wrapped handler fails.
// A nil secondary leaves the chain unchanged. Cancellation of the caller's
// context is returned as is.
func WithFallback(secondary Handler, name string, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		if secondary == nil {
			return next
		}
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			resp, err := next(ctx, payload)
			if err == nil {
				return resp, nil
			}
			if ctx.Err() != nil {
				return nil, err
			}
			if logger != nil {
				logger.WarnContext(ctx, "primary failed, using secondary",
					"call", name,
					"primary_error", err)
			}
			return secondary(ctx, payload)
		}
	}
}
