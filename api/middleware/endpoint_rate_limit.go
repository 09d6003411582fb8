package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
)

// OperationLimiter throttles fleet commands separately from the global
// request limit. Each operation keeps its own buckets, keyed by operator
// and by the group or server the command targets, so a burst against one
// group never blocks commands for another.
type OperationLimiter struct {
	limiters map[string]*RateLimiter
	mu       sync.Mutex
}

func NewOperationLimiter() *OperationLimiter {
	return &OperationLimiter{
		limiters: make(map[string]*RateLimiter),
	}
}

// Limit returns a handler allowing limit calls of operation per window and
// target. It must run after JWTAuth so the operator is known. Handlers for
// the same operation share their buckets.
func (ol *OperationLimiter) Limit(operation string, limit int, window time.Duration) gin.HandlerFunc {
	ol.mu.Lock()
	limiter, ok := ol.limiters[operation]
	if !ok {
		limiter = NewRateLimiter(limit, window)
		ol.limiters[operation] = limiter
	}
	ol.mu.Unlock()

	return func(c *gin.Context) {
		operator := GetUsername(c)
		if operator == "" {
			operator = c.ClientIP()
		}
		target := operationTarget(c)
		key := operator + "|" + target

		if !limiter.Allow(key) {
			logger.FromContext(c.Request.Context()).
				WithField("operation", operation).
				WithField("operator", operator).
				WithField("target", target).
				Warn("Operation rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many " + operation + " requests for " + target,
				"retry_after": limiter.RetryAfter(key).Seconds(),
			})
			return
		}

		c.Next()
	}
}

// operationTarget names the group or server a command acts on.
func operationTarget(c *gin.Context) string {
	if name := c.Param("name"); name != "" {
		return "group:" + name
	}
	if id := c.Param("id"); id != "" {
		return "server:" + id
	}
	return "fleet"
}

// AuthRateLimiter allows 5 login attempts per minute per IP.
func AuthRateLimiter() gin.HandlerFunc {
	limiter := NewRateLimiter(5, time.Minute)

	return func(c *gin.Context) {
		key := c.ClientIP()

		if !limiter.Allow(key) {
			logger.FromContext(c.Request.Context()).WithField("client_ip", key).Warn("Login rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "too many authentication attempts, please try again later",
				"retry_after": limiter.RetryAfter(key).Seconds(),
			})
			return
		}

		c.Next()
	}
}
