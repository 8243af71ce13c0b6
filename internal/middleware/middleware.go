package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const maxTrackedClients = 10000

// RateLimiter enforces a minimum spacing between admission requests
// per client.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]time.Time
	limit   time.Duration
}

func NewRateLimiter(limit time.Duration) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]time.Time),
		limit:   limit,
	}
}

func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetHeader("X-Client-ID")
		if clientID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "X-Client-ID header required"})
			c.Abort()
			return
		}

		r.mu.Lock()
		now := time.Now()
		last, seen := r.clients[clientID]
		if seen && now.Sub(last) < r.limit {
			r.mu.Unlock()
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		if len(r.clients) >= maxTrackedClients {
			r.prune(now)
		}
		r.clients[clientID] = now
		r.mu.Unlock()

		c.Next()
	}
}

// prune drops entries old enough to be irrelevant; called with the
// lock held.
func (r *RateLimiter) prune(now time.Time) {
	for id, last := range r.clients {
		if now.Sub(last) > r.limit {
			delete(r.clients, id)
		}
	}
}
