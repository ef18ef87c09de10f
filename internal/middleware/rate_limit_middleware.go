package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/ramincsy/Sarafchi/internal/cache"
)

type RateLimitMiddleware struct {
	cache  cache.CacheService
	burst  *rate.Limiter
	config *RateLimitConfig
}

type RateLimitConfig struct {
	IPRequestsPerMinute int
	// Mutation endpoints get a tighter budget than reads.
	MutationRequestsPerMinute int
	BurstPerSecond            int
	WhitelistIPs              map[string]bool
	EnableIPLimiting          bool
}

func NewRateLimitMiddleware(cacheService cache.CacheService, config *RateLimitConfig) *RateLimitMiddleware {
	if config == nil {
		config = &RateLimitConfig{
			IPRequestsPerMinute:       120,
			MutationRequestsPerMinute: 30,
			BurstPerSecond:            50,
			WhitelistIPs:              make(map[string]bool),
			EnableIPLimiting:          true,
		}
	}
	return &RateLimitMiddleware{
		cache:  cacheService,
		burst:  rate.NewLimiter(rate.Limit(config.BurstPerSecond), config.BurstPerSecond),
		config: config,
	}
}

// BurstControl is an in-process limiter that sheds load before Redis is
// consulted. It protects the Redis counters themselves under a flood.
func (r *RateLimitMiddleware) BurstControl() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.burst.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Rate limit exceeded",
				"message": "Server is shedding load. Please retry shortly.",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// IPRateLimit applies a fixed-window per-IP limit backed by the shared
// Redis counters, with a lower window for mutations. Counter errors fail
// open.
func (r *RateLimitMiddleware) IPRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.config.EnableIPLimiting || r.cache == nil {
			c.Next()
			return
		}

		clientIP := c.ClientIP()
		if r.config.WhitelistIPs[clientIP] {
			c.Next()
			return
		}

		limit := r.config.IPRequestsPerMinute
		kind := "read"
		if c.Request.Method != http.MethodGet {
			limit = r.config.MutationRequestsPerMinute
			kind = "mutation"
		}

		ctx := c.Request.Context()
		key := fmt.Sprintf("ratelimit:%s:%s:%s", kind, clientIP, time.Now().Format("200601021504"))

		count, err := r.cache.Increment(ctx, key, time.Minute)
		if err != nil {
			c.Header("X-RateLimit-Error", err.Error())
			c.Next()
			return
		}

		remaining := int64(limit) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if count > int64(limit) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "IP rate limit exceeded",
				"message":     "Too many requests from this IP. Please try again later.",
				"retry_after": 60,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
