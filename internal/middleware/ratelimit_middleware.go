package middleware

import (
	"net/http"
	"strconv"

	"sentinal-relay/internal/redis"
	"sentinal-relay/internal/services"
	"sentinal-relay/internal/transport/httpdto"
	"sentinal-relay/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CallRateLimitMiddleware limits call initiation per user.
// Should be applied to call initiation endpoints after auth middleware
func CallRateLimitMiddleware(limiter *redis.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		userID, ok := services.UserIDFromContext(c.Request.Context())
		if !ok {
			c.Next()
			return
		}

		result, err := limiter.AllowCall(c.Request.Context(), userID.String())
		if err != nil {
			// fail open; the limiter is advisory
			if l := logger.GetGlobalLogger(); l != nil {
				l.WithContext(c.Request.Context()).Warn("call rate limit check failed", zap.Error(err))
			}
			c.Next()
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("call rate limit exceeded", "RATE_LIMITED"))
			c.Abort()
			return
		}

		c.Next()
	}
}

// setRateLimitHeaders sets standard rate limit response headers
func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
