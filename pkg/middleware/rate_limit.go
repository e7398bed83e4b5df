package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/klaragautier/microservices/pkg/metrics"
	"golang.org/x/time/rate"
)

// limiterKey picks the bucket for a request: the authenticated username when
// AuthMiddleware ran earlier, otherwise the client IP.
func limiterKey(c *gin.Context) string {
	if u := Username(c); u != "" {
		return "user:" + u
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

// MemoryLimiter is an in-process token-bucket limiter with one bucket per key.
type MemoryLimiter struct {
	rps   float64
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewMemoryLimiter(rps float64, burst int) *MemoryLimiter {
	return &MemoryLimiter{rps: rps, burst: burst, buckets: map[string]*rate.Limiter{}}
}

func (m *MemoryLimiter) bucket(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	lim, ok := m.buckets[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(m.rps), m.burst)
		m.buckets[key] = lim
	}
	return lim
}

// Allow reports whether one more event for key fits in its bucket.
func (m *MemoryLimiter) Allow(key string) bool {
	return m.bucket(key).Allow()
}

// RateLimitMiddleware returns a Gin middleware enforcing a token-bucket per-key limit.
// rps = allowed events per second, burst = maximum tokens in bucket.
func RateLimitMiddleware(rps float64, burst int) gin.HandlerFunc {
	lim := NewMemoryLimiter(rps, burst)
	return func(c *gin.Context) {
		if !lim.Allow(limiterKey(c)) {
			c.Header("Retry-After", "1")
			metrics.RateLimitRejected.WithLabelValues("memory").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("memory").Inc()
		c.Next()
	}
}
