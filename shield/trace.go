package shield

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/riskwatch/idgen"
)

var newTraceID = idgen.NanoID(8)

// TraceID tags each request with a short random ID, echoed in the
// X-Trace-ID header and carried by a per-request logger.
func TraceID(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lg := base
			if lg == nil {
				lg = slog.Default()
			}
			id := newTraceID()
			w.Header().Set("X-Trace-ID", id)

			lg = lg.With("trace_id", id, "method", r.Method, "path", r.URL.Path)
			ctx := context.WithValue(r.Context(), traceIDKey, id)
			ctx = context.WithValue(ctx, loggerKey, lg)

			start := time.Now()
			next.ServeHTTP(w, r.WithContext(ctx))
			lg.Debug("request", "remote_addr", ExtractIP(r), "duration", time.Since(start))
		})
	}
}
