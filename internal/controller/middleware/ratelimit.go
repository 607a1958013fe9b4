package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles requests per client address. The operator header is
// supplied by the caller, so it never selects the bucket.
type RateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	limiters  map[string]*cachedLimiter
	lastSweep time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithTTL sets how long an idle limiter is kept before it is evicted.
func WithTTL(ttl time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) { rl.ttl = ttl }
}

// NewRateLimiter allows rps requests per second with the given burst per
// caller. rps <= 0 disables limiting.
func NewRateLimiter(rps float64, burst int, opts ...RateLimiterOption) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		ttl:      5 * time.Minute,
		now:      time.Now,
		limiters: make(map[string]*cachedLimiter),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Middleware returns the HTTP middleware.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.limit > 0 && !rl.limiterFor(callerKey(r)).Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "Too Many Requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

// limiterFor returns the limiter of key and pushes its expiry out by ttl.
// Idle entries are swept at most once per ttl.
func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.ttl {
		rl.sweep(now)
	}

	cached, ok := rl.limiters[key]
	if !ok || !now.Before(cached.expiresAt) {
		cached = &cachedLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = cached
	}
	cached.expiresAt = now.Add(rl.ttl)
	return cached.limiter
}

// sweep drops expired limiters. Callers hold rl.mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for key, cached := range rl.limiters {
		if !now.Before(cached.expiresAt) {
			delete(rl.limiters, key)
		}
	}
	rl.lastSweep = now
}

func callerKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host
}
