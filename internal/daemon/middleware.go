package daemon

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"tenk/internal/logging"
)

const requestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(p []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(p)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// requestLogger tags every request with a correlation id, recovers panics,
// and logs the outcome.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(requestIDHeader))
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)
			ctx := logging.WithRequestID(r.Context(), id)
			r = r.WithContext(ctx)

			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			defer func() {
				if p := recover(); p != nil {
					logging.WithContext(ctx, logger).Error("http handler panic",
						logging.Any("panic", p),
						logging.String("method", r.Method),
						logging.String("path", r.URL.Path),
					)
					if rec.status == 0 {
						writeJSONError(rec, http.StatusInternalServerError, "internal error", "internal")
					}
					return
				}
				status := rec.status
				if status == 0 {
					status = http.StatusOK
				}
				attrs := []slog.Attr{
					logging.String("method", r.Method),
					logging.String("path", r.URL.Path),
					logging.Int("status", status),
					logging.Int("bytes", rec.bytes),
					logging.Duration("elapsed", time.Since(start)),
				}
				reqLogger := logging.WithContext(ctx, logger)
				if status >= http.StatusInternalServerError {
					reqLogger.Warn("http request failed", logging.Args(attrs...)...)
					return
				}
				reqLogger.Debug("http request", logging.Args(attrs...)...)
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
