package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-client limits on the admin API.
type RateLimitConfig struct {
	Rate            rate.Limit    // sustained requests per second per client
	Burst           int           // requests a client may make at once
	CleanupInterval time.Duration // how often idle clients are forgotten
	MaxAge          time.Duration // idle time after which a client is forgotten
}

// DefaultRateLimitConfig returns the admin API limits: 10 requests/second
// with a burst of 20. Webhooks are not limited; the telephony provider
// posts from a shared pool of addresses.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(10),
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type clientBucket struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter keeps one token bucket per client address.
type IPRateLimiter struct {
	cfg    RateLimitConfig
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*clientBucket

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewIPRateLimiter creates a limiter and starts forgetting idle clients in
// the background. Call Stop to end that goroutine.
func NewIPRateLimiter(cfg RateLimitConfig, logger *slog.Logger) *IPRateLimiter {
	rl := &IPRateLimiter{
		cfg:     cfg,
		logger:  logger.With("subsystem", "ratelimit"),
		now:     time.Now,
		clients: make(map[string]*clientBucket),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Reserve takes a token for ip. When none is available it returns false
// and how long the client should wait before retrying.
func (rl *IPRateLimiter) Reserve(ip string) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	c, ok := rl.clients[ip]
	if !ok {
		c = &clientBucket{bucket: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	r := c.bucket.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Allow reports whether ip may make a request now.
func (rl *IPRateLimiter) Allow(ip string) bool {
	ok, _ := rl.Reserve(ip)
	return ok
}

// Clients returns the number of tracked client addresses.
func (rl *IPRateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Stop ends background cleanup. It is safe to call more than once.
func (rl *IPRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.forgetIdle()
		case <-rl.stopCh:
			return
		}
	}
}

// forgetIdle drops clients not seen for longer than MaxAge and returns how
// many were dropped.
func (rl *IPRateLimiter) forgetIdle() int {
	cutoff := rl.now().Add(-rl.cfg.MaxAge)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for ip, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
			removed++
		}
	}
	if removed > 0 {
		rl.logger.Debug("rate limiter forgot idle clients", "removed", removed, "remaining", len(rl.clients))
	}
	return removed
}

// RateLimit returns middleware answering 429 with a Retry-After header,
// in whole seconds, once a client exceeds its limit.
func RateLimit(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			ok, wait := limiter.Reserve(ip)
			if !ok {
				limiter.logger.Warn("rate limit exceeded", "ip", ip, "path", r.URL.Path, "retry_after", wait)
				w.Header().Set("Retry-After", retryAfter(wait))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(errorEnvelope{Error: "rate limit exceeded"}) //nolint:errcheck
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// retryAfter rounds wait up to whole seconds, at least 1.
func retryAfter(wait time.Duration) string {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// clientIP strips the port from RemoteAddr. chi's RealIP runs first, so
// behind a proxy this is the forwarded client address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
