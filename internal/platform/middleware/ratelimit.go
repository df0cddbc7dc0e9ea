package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig sets the per-caller token refill rate and burst ceiling.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig allows short seed bursts while keeping a sustained
// feed to the rate one worker pool can absorb.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// caller is one client's token balance. Callers here are feed pipelines, a
// handful at most, so a single lock over the whole map is cheaper than
// per-entry locking.
type caller struct {
	tokens float64
	seen   time.Time
}

type limiter struct {
	mu      sync.Mutex
	callers map[string]*caller
	cfg     RateLimitConfig
}

// take refills key's balance for the elapsed time, then spends one token.
// When the balance is empty it returns the whole seconds until the next
// token instead.
func (l *limiter) take(key string) (ok bool, retryAfter int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cl, found := l.callers[key]
	if !found {
		cl = &caller{tokens: float64(l.cfg.BurstSize)}
		l.callers[key] = cl
	} else {
		cl.tokens += now.Sub(cl.seen).Seconds() * l.cfg.RequestsPerSecond
		if max := float64(l.cfg.BurstSize); cl.tokens > max {
			cl.tokens = max
		}
	}
	cl.seen = now

	if cl.tokens < 1 {
		if l.cfg.RequestsPerSecond <= 0 {
			return false, 1
		}
		return false, int((1-cl.tokens)/l.cfg.RequestsPerSecond) + 1
	}
	cl.tokens--
	return true, 0
}

// RateLimit throttles each client IP with a token bucket.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	lim := &limiter{callers: make(map[string]*caller), cfg: cfg}
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)

			ok, retryAfter := lim.take(c.RealIP())
			if !ok {
				h.Set("Retry-After", strconv.Itoa(retryAfter))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
