package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

type HTTPObserver interface {
	ObserveHTTP(method, route string, status int, d time.Duration)
}

func Metrics(o HTTPObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		o.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
