package server

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/DevjeetSahu/agriquery-go/internal/logging"
)

// routeClass partitions endpoints by what they cost the backends. A farmer
// refreshing a workflow status page is cheap; every generate-class request
// fans out to the embedder, the vector store, and an LLM; a rebuild
// re-embeds whole reference datasets.
type routeClass string

const (
	// classGenerate covers /api/query and the workflow execute/summary
	// endpoints — each request holds an LLM call.
	classGenerate routeClass = "generate"
	// classRead covers status, history, and probe endpoints.
	classRead routeClass = "read"
	// classRebuild covers /api/rebuild, which re-embeds entire datasets.
	classRebuild routeClass = "rebuild"
)

// Default per-class token-bucket parameters. The generate class is the knob
// operators tune (Config.RateLimit/RateBurst); the others derive from it.
const (
	// defaultRateLimit is the generate-class requests/second per IP.
	defaultRateLimit = 10
	// defaultRateBurst is the generate-class burst per IP.
	defaultRateBurst = 20

	// readMultiplier scales the generate-class limit up for cheap reads.
	readMultiplier = 4

	// rebuildRPS and rebuildBurst gate dataset rebuilds hard: one every few
	// seconds is already generous for an operation that re-embeds every
	// document in a collection.
	rebuildRPS   = 0.2
	rebuildBurst = 2
)

// classLimit holds the token-bucket parameters for one route class.
type classLimit struct {
	// rps is the sustained request rate per IP for this class.
	rps rate.Limit
	// burst is the maximum instantaneous burst per IP for this class.
	burst int
}

// classifyRoute maps a request to its cost class.
func classifyRoute(r *http.Request) routeClass {
	path := r.URL.Path
	switch {
	case path == "/api/rebuild":
		return classRebuild
	case path == "/api/query":
		return classGenerate
	case strings.HasPrefix(path, "/api/workflows/") && r.Method == http.MethodPost:
		// Subtask execution and summary synthesis both hold an LLM call.
		return classGenerate
	default:
		return classRead
	}
}

// ipLimiter holds one (IP, class) token bucket and the last time it was
// seen, used to evict stale entries from the limiter map.
type ipLimiter struct {
	// limiter is the per-IP-per-class token bucket.
	limiter *rate.Limiter
	// lastSeen is updated on every request for eviction.
	lastSeen time.Time
}

// rateLimiter is an HTTP middleware enforcing per-IP token buckets whose
// parameters depend on the route's cost class. Stale entries are evicted
// every minute to bound memory usage.
type rateLimiter struct {
	// mu protects the limiters map.
	mu sync.Mutex
	// limiters maps "ip|class" to its bucket state.
	limiters map[string]*ipLimiter
	// limits holds the per-class bucket parameters.
	limits map[routeClass]classLimit
	// log is the structured logger for rate-limit events.
	log *slog.Logger
}

// newRateLimiter constructs a rateLimiter and starts the background eviction
// goroutine. The goroutine exits when the returned stop function is called.
// generateRPS and generateBurst parameterize the generate class; the read
// class runs at readMultiplier times that, and rebuilds are fixed-gated.
func newRateLimiter(generateRPS float64, generateBurst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		limiters: make(map[string]*ipLimiter),
		limits: map[routeClass]classLimit{
			classGenerate: {rps: rate.Limit(generateRPS), burst: generateBurst},
			classRead:     {rps: rate.Limit(generateRPS * readMultiplier), burst: generateBurst * readMultiplier},
			classRebuild:  {rps: rebuildRPS, burst: rebuildBurst},
		},
		log: log,
	}

	stopCh := make(chan struct{})
	go rl.evictLoop(stopCh)

	return rl, func() { close(stopCh) }
}

// getLimiter returns the bucket for the given IP and class, creating one if
// it does not already exist.
func (rl *rateLimiter) getLimiter(ip string, class routeClass) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := ip + "|" + string(class)
	entry, ok := rl.limiters[key]
	if !ok {
		lim := rl.limits[class]
		entry = &ipLimiter{limiter: rate.NewLimiter(lim.rps, lim.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// evictLoop removes entries that have not been seen for more than 5 minutes.
// It runs in a background goroutine and exits when stopCh is closed.
func (rl *rateLimiter) evictLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			rl.evict()
		}
	}
}

// evict removes stale entries older than 5 minutes.
func (rl *rateLimiter) evict() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-5 * time.Minute)
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// middleware returns an http.Handler that enforces the class-appropriate
// limit before delegating to next. Requests that exceed their class limit
// receive 429 Too Many Requests with a Retry-After header and a structured
// WARN log entry naming the class.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		class := classifyRoute(r)
		limiter := rl.getLimiter(ip, class)

		if !limiter.Allow() {
			log := logging.FromContext(r.Context())
			log.Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
				slog.String("class", string(class)),
			)
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the remote IP from the request, stripping the port.
// It does not trust X-Forwarded-For since this server is local-only.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	// RemoteAddr is "host:port" for TCP connections.
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}
