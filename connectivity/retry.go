package connectivity

import (
	"context"
	"log/slog"
	"time"
)

// WithRetry retries failed calls with exponential backoff starting at
// baseBackoff. Only errors for which Retryable is true are retried, and
// cancellation of ctx stops the loop. logger may be nil.
func WithRetry(maxRetries int, baseBackoff time.Duration, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			var lastErr error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				resp, err := next(ctx, payload)
				if err == nil {
					return resp, nil
				}
				lastErr = err
				if ctx.Err() != nil || !Retryable(err) || attempt == maxRetries {
					break
				}

				wait := baseBackoff << uint(attempt)
				if logger != nil {
					logger.WarnContext(ctx, "retrying call",
						"attempt", attempt+1,
						"max_retries", maxRetries,
						"backoff_ms", wait.Milliseconds(),
						"error", err)
				}
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					return nil, lastErr
				case <-t.C:
				}
			}
			return nil, lastErr
		}
	}
}
