package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/frahmantamala/purchase-approval/pkg/logger"
)

const TraceHeader = "X-Trace-ID"

// RequestID tags the request context logger with a trace id, taken from the
// caller when present, and echoes it back.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx := logger.With(r.Context(), "trace_id", traceID)
		w.Header().Set(TraceHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
