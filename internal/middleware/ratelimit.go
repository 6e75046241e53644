package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/R3E-Network/user_service/internal/errors"
	"github.com/R3E-Network/user_service/internal/httputil"
	"github.com/R3E-Network/user_service/internal/logging"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per client, keyed by user ID when
// authenticated and by remote IP otherwise
type RateLimiter struct {
	clients map[string]*client
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	logger  *logging.Logger
	now     func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(requestsPerSecond int, burst int, logger *logging.Logger) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*client),
		rate:    rate.Limit(requestsPerSecond),
		burst:   burst,
		logger:  logger,
		now:     time.Now,
	}
}

// getLimiter returns the limiter for key, creating it on first use
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, exists := rl.clients[key]
	if !exists {
		c = &client{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = rl.now()
	return c.limiter
}

// Handler returns the rate limiting middleware handler. Authenticated
// requests are keyed by user ID, the rest by remote IP.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + clientIP(r)
		if userID := GetUserID(r.Context()); userID != "" {
			key = "user:" + userID
		}
		if rl.allow(w, r, key) {
			next.ServeHTTP(w, r)
		}
	})
}

// IPHandler limits by remote IP only. It goes in front of authentication so
// that requests with bad credentials are throttled too.
func (rl *RateLimiter) IPHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.allow(w, r, "ip:"+clientIP(r)) {
			next.ServeHTTP(w, r)
		}
	})
}

// allow consumes a token for key and writes the 429 envelope when none is
// left.
func (rl *RateLimiter) allow(w http.ResponseWriter, r *http.Request, key string) bool {
	if rl.getLimiter(key).Allow() {
		return true
	}

	rl.logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
		"key":    key,
		"path":   r.URL.Path,
		"method": r.Method,
	})

	w.Header().Set("Retry-After", "1")
	httputil.WriteServiceError(w, errors.RateLimitExceeded(int(rl.rate), "1s"))
	return false
}

// Cleanup removes limiters idle for longer than maxIdle
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxIdle)
	removed := 0
	for key, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
			removed++
		}
	}
	return removed
}

// Run cleans up idle limiters every interval until ctx is done
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rl.Cleanup(interval); n > 0 {
				rl.logger.WithField("removed", n).Debug("Rate limiter cleanup")
			}
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
