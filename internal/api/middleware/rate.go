package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/codehive/backend/internal/infrastructure/config"
)

// staleAfter is how long an idle client's limiter survives before eviction.
const staleAfter = 10 * time.Minute

// RateLimit limits HTTP requests per client IP. Stale limiters are evicted
// lazily so the map does not grow without bound.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		mu      sync.Mutex
		clients = make(map[string]*client)
		sweep   = time.Now()
	)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		now := time.Now()

		mu.Lock()
		if now.Sub(sweep) > staleAfter {
			for addr, cl := range clients {
				if now.Sub(cl.lastSeen) > staleAfter {
					delete(clients, addr)
				}
			}
			sweep = now
		}
		cl, exists := clients[ip]
		if !exists {
			cl = &client{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
			clients[ip] = cl
		}
		cl.lastSeen = now
		limiter := cl.limiter
		mu.Unlock()

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}
