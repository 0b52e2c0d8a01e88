package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/54b3r/docqa-go/internal/logging"
)

const (
	// defaultRateLimit is the number of requests per second allowed per IP on
	// rate-limited endpoints when no explicit limit is configured.
	defaultRateLimit = 10

	// defaultRateBurst is the maximum burst size per IP when no explicit
	// burst is configured.
	defaultRateBurst = 20

	// limiterIdle is how long an IP's bucket is kept after its last request.
	limiterIdle = 5 * time.Minute
)

// rateLimiter is an HTTP middleware that enforces a per-IP token-bucket rate
// limit. Buckets live in a go-cache keyed by IP and expire after limiterIdle
// without requests, which bounds memory usage.
type rateLimiter struct {
	// mu serializes bucket creation so concurrent first requests share one.
	mu sync.Mutex
	// limiters maps remote IP to its *rate.Limiter.
	limiters *cache.Cache
	// rps is the sustained request rate allowed per IP (requests/second).
	rps rate.Limit
	// burst is the maximum instantaneous burst per IP.
	burst int
	// log is the structured logger for rate-limit events.
	log *slog.Logger
}

// newRateLimiter constructs a rateLimiter with the given per-IP token-bucket
// parameters.
func newRateLimiter(rps float64, burst int, log *slog.Logger) *rateLimiter {
	return &rateLimiter{
		limiters: cache.New(limiterIdle, time.Minute),
		rps:      rate.Limit(rps),
		burst:    burst,
		log:      log,
	}
}

// getLimiter returns the per-IP limiter for the given IP, creating one if it
// does not already exist, and refreshes its idle expiry.
func (rl *rateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters.Get(ip)
	if !ok {
		l = rate.NewLimiter(rl.rps, rl.burst)
	}
	rl.limiters.Set(ip, l, cache.DefaultExpiration)
	return l.(*rate.Limiter)
}

// middleware returns an http.Handler that enforces the rate limit before
// delegating to next. Requests that exceed the limit receive 429 Too Many
// Requests with a Retry-After header and a structured WARN log entry.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		limiter := rl.getLimiter(ip)

		res := limiter.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", retryAfter(delay))
			writeJSONError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// retryAfter renders d as whole seconds, at least 1 and at most an hour.
func retryAfter(d time.Duration) string {
	secs := math.Ceil(d.Seconds())
	secs = math.Max(1, math.Min(secs, 3600))
	return strconv.Itoa(int(secs))
}

// clientIP extracts the remote IP from the request, stripping the port.
// It does not trust X-Forwarded-For.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
