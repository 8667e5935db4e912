package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type checkFunc func(ctx context.Context, ip string) (*Result, error)

// EvaluateMiddleware rate limits the evaluation endpoint per client IP
func (rl *RateLimiter) EvaluateMiddleware() gin.HandlerFunc {
	return rl.middleware("evaluate", rl.AllowEvaluate)
}

// EventsMiddleware rate limits direct event ingestion per client IP
func (rl *RateLimiter) EventsMiddleware() gin.HandlerFunc {
	return rl.middleware("events", rl.AllowEvents)
}

func (rl *RateLimiter) middleware(endpoint string, check checkFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ip := c.ClientIP()

		result, err := check(ctx, ip)
		if err != nil {
			// A broken limiter must not take the endpoint down with it
			slog.Error("Rate limit check failed", "endpoint", endpoint, "ip", ip, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			if rl.metrics != nil {
				rl.metrics.IncrementRateLimitIPBlock()
				rl.metrics.IncrementRateLimitEndpoint(endpoint)
			}

			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"message":     fmt.Sprintf("You have exceeded the rate limit of %d requests per minute", result.Limit),
				"retry_after": int(result.RetryAfter.Seconds()),
				"reset_at":    result.ResetAt.Unix(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
