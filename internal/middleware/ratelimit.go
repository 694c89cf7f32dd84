package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"passgate/internal/ratelimit"
)

// RateLimit applies rule per client IP under the given scope. If the
// limiter's store is unavailable the request is let through.
func RateLimit(limiter ratelimit.Limiter, scope string, rule ratelimit.Rule, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := scope + ":" + c.ClientIP()
		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), key, rule)
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "Too many requests",
				"message": "Rate limit exceeded. Please try again later.",
			})
			return
		}
		c.Next()
	}
}
