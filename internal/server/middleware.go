package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/54b3r/docqa-go/internal/logging"
)

// requestLogger is an [http.Handler] middleware that:
//  1. Generates a unique request_id for every inbound request.
//  2. Injects a child [*slog.Logger] carrying that ID into the request context.
//  3. Logs method, path, status code, and latency on completion and records
//     them in the HTTP metrics.
func requestLogger(base *slog.Logger, m *serverMetrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := newRequestID()

		log := base.With(
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)

		ctx := logging.WithLogger(r.Context(), log)
		r = r.WithContext(ctx)

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)

		if m != nil {
			handler := r.Pattern
			if handler == "" {
				handler = "unmatched"
			}
			m.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
			m.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(elapsed.Seconds())
		}

		log.Info("request",
			slog.Int("status", rw.status),
			slog.Duration("duration", elapsed),
		)
	})
}

// recoverer turns a handler panic into a logged 500 with a JSON error body.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logging.FromContext(r.Context()).Error("handler panic",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			writeJSONError(w, fmt.Sprintf("Server error: %v", rec), http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps [http.ResponseWriter] to capture the status code
// written by the handler so the middleware can log it.
type responseWriter struct {
	http.ResponseWriter
	// status is the HTTP status code sent to the client.
	status int
}

// WriteHeader captures the status code before delegating to the underlying writer.
func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets [http.ResponseController] reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// newRequestID returns an 8-byte cryptographically random hex string.
// Falls back to a zero-filled ID on the (impossible in practice) error path.
func newRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "0000000000000000"
	}
	return hex.EncodeToString(b)
}
