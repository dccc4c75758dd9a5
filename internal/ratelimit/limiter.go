// Package ratelimit throttles API callers with per-key token buckets
package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultMaxKeys = 10000

// KeyFunc extracts the caller key from a request
type KeyFunc func(r *http.Request) string

// KeyedLimiter keeps one token bucket per caller key
type KeyedLimiter struct {
	mu                sync.Mutex
	limiters          map[string]*rate.Limiter
	requestsPerSecond float64
	burst             int
	maxKeys           int
}

// NewKeyedLimiter creates a limiter. A non-positive rate disables limiting.
func NewKeyedLimiter(requestsPerSecond float64, burst int) *KeyedLimiter {
	if burst < 1 {
		burst = 1
	}
	return &KeyedLimiter{
		limiters:          make(map[string]*rate.Limiter),
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		maxKeys:           defaultMaxKeys,
	}
}

// Enabled reports whether requests are limited at all
func (kl *KeyedLimiter) Enabled() bool {
	return kl.requestsPerSecond > 0
}

// Allow consumes a token for key and returns the tokens left
func (kl *KeyedLimiter) Allow(key string) (bool, int) {
	if !kl.Enabled() {
		return true, kl.burst
	}

	kl.mu.Lock()
	defer kl.mu.Unlock()

	// Bound memory: start over once too many callers have been seen
	if len(kl.limiters) >= kl.maxKeys {
		kl.limiters = make(map[string]*rate.Limiter)
	}

	limiter, ok := kl.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(kl.requestsPerSecond), kl.burst)
		kl.limiters[key] = limiter
	}

	allowed := limiter.Allow()
	remaining := int(limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}

// Middleware rejects callers over their limit with 429 and sets the
// X-RateLimit headers on every response.
func (kl *KeyedLimiter) Middleware(key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = RemoteIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !kl.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining := kl.Allow(key(r))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(kl.burst))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))

			if !allowed {
				FormatRateLimitError(w, 1)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RemoteIP keys requests by client address
func RemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// FormatRateLimitError writes a JSON 429 response
func FormatRateLimitError(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	errorMsg := fmt.Sprintf(`{"error":"rate limit exceeded","retry_after":%d}`, retryAfter)
	_, _ = w.Write([]byte(errorMsg))
}
