package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/nova/pkg/utils"
)

// RateLimiterOptions configures RateLimiter.
type RateLimiterOptions struct {
	// Limit is the sustained requests per second per key.
	Limit rate.Limit
	// Burst is the largest burst allowed per key.
	Burst int
	// Expiry is how long an idle key's limiter is kept.
	Expiry time.Duration
	// KeyFunc extracts the limiting key, the client IP by default.
	KeyFunc func(*http.Request) string
}

// DefaultRateLimiterOptions limits each client IP to 2 rps with a burst of 5.
func DefaultRateLimiterOptions() RateLimiterOptions {
	return RateLimiterOptions{
		Limit:   2,
		Burst:   5,
		Expiry:  time.Hour,
		KeyFunc: clientIP,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps a token bucket per key.
type RateLimiter struct {
	opts RateLimiterOptions
	log  zerolog.Logger

	mu      sync.Mutex
	clients map[string]*limiterEntry

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter starts a limiter and its cleanup loop. Call Close to stop it.
func NewRateLimiter(log zerolog.Logger, opts RateLimiterOptions) *RateLimiter {
	defaults := DefaultRateLimiterOptions()
	if opts.Limit <= 0 {
		opts.Limit = defaults.Limit
	}
	if opts.Burst <= 0 {
		opts.Burst = defaults.Burst
	}
	if opts.Expiry <= 0 {
		opts.Expiry = defaults.Expiry
	}
	if opts.KeyFunc == nil {
		opts.KeyFunc = defaults.KeyFunc
	}

	rl := &RateLimiter{
		opts:    opts,
		log:     log.With().Str("component", "ratelimit").Logger(),
		clients: make(map[string]*limiterEntry),
		stop:    make(chan struct{}),
	}
	go rl.cleanupLoop(time.Minute)
	return rl
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.opts.KeyFunc(r)
		if !rl.limiter(key).Allow() {
			rl.log.Warn().
				Str("client", key).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			utils.RespondError(w, http.StatusTooManyRequests, "too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Close stops the cleanup loop.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.clients[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.opts.Limit, rl.opts.Burst)}
		rl.clients[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (rl *RateLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.sweep(time.Now())
		}
	}
}

func (rl *RateLimiter) sweep(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k, e := range rl.clients {
		if now.Sub(e.lastSeen) > rl.opts.Expiry {
			delete(rl.clients, k)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
