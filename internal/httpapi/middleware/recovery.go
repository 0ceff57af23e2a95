package middleware

import (
	"log"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/song-pt/TongAI/internal/common"
)

// Recovery answers a panic with the JSON envelope instead of gin's plain 500.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("panic recovered request_id=%s path=%s err=%v\n%s",
					c.GetString(RequestIDKey), c.Request.URL.Path, r, debug.Stack())
				common.Fail(c, http.StatusInternalServerError, 50000, "internal server error")
				c.Abort()
			}
		}()
		c.Next()
	}
}
