package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// RateLimitConfig holds the request budget applied to each client key.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig is the budget used when a deployment does not set
// its own limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 100, BurstSize: 200}
}

// bucket is a token bucket: level drains by one per request and refills
// continuously at rate, capped at burst.
type bucket struct {
	mu    sync.Mutex
	level float64
	burst float64
	rate  float64 // tokens per second
	last  time.Time
}

func newBucket(rate float64, burst int) *bucket {
	return &bucket{
		level: float64(burst),
		burst: float64(burst),
		rate:  rate,
		last:  time.Now(),
	}
}

// take spends one token when available, reporting the remaining whole
// tokens so the handler can expose the balance to the client.
func (b *bucket) take() (bool, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.level += now.Sub(b.last).Seconds() * b.rate
	if b.level > b.burst {
		b.level = b.burst
	}
	b.last = now

	if b.level < 1 {
		return false, 0
	}
	b.level--
	return true, int(b.level)
}

// retryAfter estimates whole seconds until the next token shows up.
func (b *bucket) retryAfter() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rate <= 0 {
		return 1
	}
	return int((1-b.level)/b.rate) + 1
}

type bucketMap struct {
	mu  sync.Mutex
	m   map[string]*bucket
	cfg RateLimitConfig
}

func newBucketMap(cfg RateLimitConfig) *bucketMap {
	return &bucketMap{m: make(map[string]*bucket), cfg: cfg}
}

func (bm *bucketMap) obtain(key string) *bucket {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	b, ok := bm.m[key]
	if !ok {
		b = newBucket(bm.cfg.RequestsPerSecond, bm.cfg.BurstSize)
		bm.m[key] = b
	}
	return b
}

// clientKey buckets authenticated traffic per tenant and source IP, so one
// clinic behind a shared proxy cannot starve another.
func clientKey(c echo.Context) string {
	ip := c.RealIP()
	if tenantID, ok := c.Get("jwt_tenant_id").(string); ok && tenantID != "" {
		return tenantID + ":" + ip
	}
	return ip
}

// RateLimit enforces a token-bucket budget per client. Responses carry
// X-RateLimit headers, and rejected requests get a Retry-After hint.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	buckets := newBucketMap(cfg)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			b := buckets.obtain(clientKey(c))
			ok, remaining := b.take()

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)
			if !ok {
				h.Set("Retry-After", strconv.Itoa(b.retryAfter()))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			return next(c)
		}
	}
}
