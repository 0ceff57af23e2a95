package middleware

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/song-pt/TongAI/internal/common"
)

type Limiter interface {
	Allow(ctx context.Context, subject string, limit int) (bool, error)
}

// RateLimit caps requests per device per minute. A nil limiter disables it; limiter errors let the request through.
func RateLimit(l Limiter, perMinute int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || perMinute <= 0 {
			c.Next()
			return
		}
		subject := "ip:" + c.ClientIP()
		if id, ok := IdentityFromContext(c); ok {
			subject = "device:" + id.KeyCode + ":" + id.DeviceID
		}

		allowed, err := l.Allow(c.Request.Context(), subject, perMinute)
		if err != nil {
			log.Printf("rate limit check failed request_id=%s subject=%s err=%v", c.GetString(RequestIDKey), subject, err)
			c.Next()
			return
		}
		if !allowed {
			common.Fail(c, http.StatusTooManyRequests, 42901, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
