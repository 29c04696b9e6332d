package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TokenBucketLimiter is an in-memory token bucket per client key.
type TokenBucketLimiter struct {
	rate    float64
	burst   int
	idleTTL time.Duration
	clock   clockwork.Clock

	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	lastPrune time.Time
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucketLimiter allows rate requests per second with the given burst.
// A burst below one becomes twice the rate, rounded up.
func NewTokenBucketLimiter(rate float64, burst int, clock clockwork.Clock) *TokenBucketLimiter {
	if burst < 1 {
		burst = int(math.Ceil(rate * 2))
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenBucketLimiter{
		rate:      rate,
		burst:     burst,
		idleTTL:   5 * time.Minute,
		clock:     clock,
		buckets:   make(map[string]*tokenBucket),
		lastPrune: clock.Now(),
	}
}

// Allow takes a token for key.  remaining is the whole tokens left after the
// call; retryAfter is how long until the next token when denied.
func (l *TokenBucketLimiter) Allow(key string) (ok bool, remaining int, retryAfter time.Duration) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(now)

	b, exists := l.buckets[key]
	if !exists {
		b = &tokenBucket{tokens: float64(l.burst), lastRefill: now}
		l.buckets[key] = b
	}
	b.tokens = math.Min(float64(l.burst), b.tokens+now.Sub(b.lastRefill).Seconds()*l.rate)
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}
	wait := time.Duration((1 - b.tokens) / l.rate * float64(time.Second))
	return false, 0, wait
}

// Buckets returns the number of tracked clients.
func (l *TokenBucketLimiter) Buckets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *TokenBucketLimiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < l.idleTTL {
		return
	}
	for k, b := range l.buckets {
		if now.Sub(b.lastRefill) >= l.idleTTL {
			delete(l.buckets, k)
		}
	}
	l.lastPrune = now
}

// RateLimit rejects requests over the limiter's rate with 429.  Requests
// are keyed by client address; put chi's RealIP ahead of it behind a proxy.
func RateLimit(l *TokenBucketLimiter, skipPaths ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	limit := strconv.Itoa(l.burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			ok, remaining, retryAfter := l.Allow(clientKey(r))
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				secs := int(math.Ceil(retryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"code":"RATE_LIMITED","message":"rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
