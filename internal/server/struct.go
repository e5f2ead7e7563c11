package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/DevjeetSahu/agriquery-go/internal/engine"
	"github.com/DevjeetSahu/agriquery-go/internal/history"
	"github.com/DevjeetSahu/agriquery-go/internal/workflow"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Must cover the slowest workflow subtask (LLM-bound).
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained generate-class request rate allowed per IP
	// (requests/second) — the endpoints that hold an LLM call. Cheap reads
	// run at a multiple of this and rebuilds are fixed-gated; see
	// ratelimit.go. Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous generate-class burst per IP.
	// Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
}

// core is the interface handlers call into. *engine.Engine satisfies it;
// tests inject a fake.
type core interface {
	Answer(ctx context.Context, query string, topK int) (*engine.AnswerOutput, error)
	WorkflowExecute(ctx context.Context, id string, index int) (workflow.SubtaskResult, error)
	WorkflowSummary(ctx context.Context, id string) (string, error)
	WorkflowStatus(id string) (*workflow.Snapshot, error)
	RebuildIndex(ctx context.Context, name string) ([]string, error)
}

// Server is the HTTP server that wraps the query-answering engine.
type Server struct {
	// engine is the callable core surface.
	engine core
	// history serves GET /api/history; nil disables the endpoint.
	history history.Store
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments for this instance.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	// Query is the user's natural language question.
	Query string `json:"query"`
	// TopK overrides the retrieval budget. Zero selects the default.
	TopK int `json:"top_k,omitempty"`
}

// summaryResponse is the JSON response for POST /api/workflows/{id}/summary.
type summaryResponse struct {
	// Summary is the workflow synthesis.
	Summary string `json:"summary"`
	// Completed is always true on success.
	Completed bool `json:"completed"`
}

// rebuildRequest is the JSON body for POST /api/rebuild.
type rebuildRequest struct {
	// Collection restricts the rebuild to one collection. Empty rebuilds all.
	Collection string `json:"collection,omitempty"`
}

// rebuildResponse is the JSON response for POST /api/rebuild.
type rebuildResponse struct {
	// CollectionsRebuilt lists the rebuilt collection names, sorted.
	CollectionsRebuilt []string `json:"collections_rebuilt"`
}

// errorResponse is the JSON error envelope. Internal detail is stripped —
// only the taxonomy kind and a safe message cross the API boundary.
type errorResponse struct {
	// Error is the taxonomy kind (e.g. "not_found", "out_of_order").
	Error string `json:"error"`
	// Message is a human-readable description safe for end users.
	Message string `json:"message"`
}
