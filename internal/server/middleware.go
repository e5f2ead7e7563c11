package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/DevjeetSahu/agriquery-go/internal/logging"
)

// annotations carries the domain facts a handler learns while serving a
// request — which intent the query resolved to, which workflow it touched,
// whether a degraded fallback produced the answer. requestLogger seeds an
// empty set into the context and folds the populated fields into the
// completion log line, so one log entry per request tells the whole story.
//
// A request is handled by a single goroutine, so no locking is needed.
type annotations struct {
	// intent is the resolved routing label, when the request classified one.
	intent string
	// workflowID is the workflow the request created or operated on.
	workflowID string
	// degraded marks answers produced through a fallback path.
	degraded bool
}

// annotationsKey is the context key for the per-request annotations.
type annotationsKey struct{}

// annotate returns the request's annotation set. Outside a requestLogger-
// wrapped handler it returns a throwaway set so callers never nil-check.
func annotate(ctx context.Context) *annotations {
	if a, ok := ctx.Value(annotationsKey{}).(*annotations); ok && a != nil {
		return a
	}
	return &annotations{}
}

// requestLogger is an [http.Handler] middleware that:
//  1. Generates a unique request_id for every inbound request.
//  2. Injects a child [*slog.Logger] carrying that ID into the request context.
//  3. Seeds an annotation set that handlers fill with domain facts.
//  4. Logs method, path, status, latency, and the annotations on completion.
func requestLogger(base *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := newRequestID()

		log := base.With(
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)

		ann := &annotations{}
		ctx := logging.WithLogger(r.Context(), log)
		ctx = context.WithValue(ctx, annotationsKey{}, ann)
		r = r.WithContext(ctx)

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)

		attrs := []slog.Attr{
			slog.Int("status", rw.status),
			slog.Duration("duration", elapsed),
		}
		if ann.intent != "" {
			attrs = append(attrs, slog.String("intent", ann.intent))
		}
		if ann.workflowID != "" {
			attrs = append(attrs, slog.String("workflow_id", ann.workflowID))
		}
		if ann.degraded {
			attrs = append(attrs, slog.Bool("degraded", true))
		}

		log.LogAttrs(r.Context(), slog.LevelInfo, "request", attrs...)
	})
}

// responseWriter wraps [http.ResponseWriter] to capture the status code
// written by the handler so the middleware can log and meter it.
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

// newRequestID returns 8 cryptographically random bytes as a 16-character
// hex string.
// Falls back to a zero-filled ID on the (impossible in practice) error path.
func newRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "0000000000000000"
	}
	return hex.EncodeToString(b)
}
