package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClassifyRoute(t *testing.T) {
	t.Parallel()

	cases := []struct {
		method string
		path   string
		want   routeClass
	}{
		{http.MethodPost, "/api/query", classGenerate},
		{http.MethodPost, "/api/workflows/wf-1/subtasks/0", classGenerate},
		{http.MethodPost, "/api/workflows/wf-1/summary", classGenerate},
		{http.MethodGet, "/api/workflows/wf-1", classRead},
		{http.MethodGet, "/api/history", classRead},
		{http.MethodGet, "/api/health", classRead},
		{http.MethodPost, "/api/rebuild", classRebuild},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if got := classifyRoute(req); got != tc.want {
			t.Errorf("%s %s: got %s, want %s", tc.method, tc.path, got, tc.want)
		}
	}
}

// TestRateLimit_AllowsUnderLimit verifies that requests within the burst
// capacity are passed through to the downstream handler.
func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(100, 5, slog.Default())
	defer stop()

	h := rl.middleware(okHandler)

	for i := range 5 {
		req := httptest.NewRequest(http.MethodPost, "/api/query", nil)
		req.RemoteAddr = "127.0.0.1:12345"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, w.Code)
		}
	}
}

// TestRateLimit_BlocksOverLimit verifies that requests exceeding the burst
// capacity receive 429 Too Many Requests.
func TestRateLimit_BlocksOverLimit(t *testing.T) {
	t.Parallel()

	// burst=2, rps=0.001 — third request must be rejected immediately.
	rl, stop := newRateLimiter(0.001, 2, slog.Default())
	defer stop()

	h := rl.middleware(okHandler)

	got429 := false
	for range 10 {
		req := httptest.NewRequest(http.MethodPost, "/api/query", nil)
		req.RemoteAddr = "10.0.0.1:9999"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			got429 = true
			break
		}
	}
	if !got429 {
		t.Error("expected at least one 429 response, got none")
	}
}

// TestRateLimit_RetryAfterHeader verifies that 429 responses include a
// Retry-After header.
func TestRateLimit_RetryAfterHeader(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, slog.Default())
	defer stop()

	h := rl.middleware(okHandler)

	// First request consumes the single burst token.
	req := httptest.NewRequest(http.MethodPost, "/api/query", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	h.ServeHTTP(httptest.NewRecorder(), req)

	// Second request must be rejected with Retry-After.
	req = httptest.NewRequest(http.MethodPost, "/api/query", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status: %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

// TestRateLimit_PerIPIsolation verifies one IP exhausting its bucket does not
// affect another.
func TestRateLimit_PerIPIsolation(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, slog.Default())
	defer stop()

	h := rl.middleware(okHandler)

	// Exhaust IP A.
	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/query", nil)
		req.RemoteAddr = "10.0.0.3:1"
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	// IP B is unaffected.
	req := httptest.NewRequest(http.MethodPost, "/api/query", nil)
	req.RemoteAddr = "10.0.0.4:1"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("independent IP blocked: %d", w.Code)
	}
}

// TestRateLimit_ReadClassSurvivesGenerateExhaustion verifies that burning
// the generate bucket leaves status polling (read class) unaffected, so a
// client driving a workflow can still watch its progress.
func TestRateLimit_ReadClassSurvivesGenerateExhaustion(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, slog.Default())
	defer stop()

	h := rl.middleware(okHandler)

	// Exhaust the generate bucket for this IP.
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/api/query", nil)
		req.RemoteAddr = "10.0.0.5:1"
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	// Status reads still pass.
	req := httptest.NewRequest(http.MethodGet, "/api/workflows/wf-1", nil)
	req.RemoteAddr = "10.0.0.5:1"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("read class throttled by generate exhaustion: %d", w.Code)
	}
}

// TestRateLimit_RebuildGatedHard verifies the rebuild class rejects rapid
// repeats regardless of a generous generate-class configuration.
func TestRateLimit_RebuildGatedHard(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(1000, 1000, slog.Default())
	defer stop()

	h := rl.middleware(okHandler)

	got429 := false
	for range rebuildBurst + 2 {
		req := httptest.NewRequest(http.MethodPost, "/api/rebuild", nil)
		req.RemoteAddr = "10.0.0.6:1"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			got429 = true
		}
	}
	if !got429 {
		t.Error("rebuild class not gated despite generous generate limits")
	}
}
