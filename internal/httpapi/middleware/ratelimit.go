package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

type AttemptCounter interface {
	LoginAttempt(ctx context.Context, ip string, window time.Duration) (int64, error)
}

// LoginRateLimit caps login attempts per client IP. Counter failures let
// the request through.
func LoginRateLimit(counter AttemptCounter, limit int, window time.Duration, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if counter == nil || limit <= 0 {
			c.Next()
			return
		}
		n, err := counter.LoginAttempt(c.Request.Context(), c.ClientIP(), window)
		if err != nil {
			logger.Warn("login rate limiter unavailable", "err", err)
			c.Next()
			return
		}
		if n > int64(limit) {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.String(http.StatusTooManyRequests, "Too many login attempts, try again later")
			c.Abort()
			return
		}
		c.Next()
	}
}
