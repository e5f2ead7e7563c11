package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestLogger_EmitsAnnotations(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ann := annotate(r.Context())
		ann.intent = "market_price"
		ann.workflowID = "wf-42"
		ann.degraded = true
		w.WriteHeader(http.StatusOK)
	})

	h := requestLogger(log, inner)
	req := httptest.NewRequest(http.MethodPost, "/api/query", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{
		`"intent":"market_price"`,
		`"workflow_id":"wf-42"`,
		`"degraded":true`,
		`"request_id"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("completion log missing %s — got: %s", want, out)
		}
	}
}

func TestRequestLogger_OmitsEmptyAnnotations(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	h := requestLogger(log, okHandler)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, unwanted := range []string{`"intent"`, `"workflow_id"`, `"degraded"`} {
		if strings.Contains(out, unwanted) {
			t.Errorf("completion log carries empty annotation %s — got: %s", unwanted, out)
		}
	}
}

func TestAnnotate_OutsideMiddlewareIsSafe(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	// Must not panic and must be writable.
	annotate(req.Context()).intent = "general"
}
