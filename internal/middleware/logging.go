// Package middleware holds the Gin middleware.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"cfdb/pkg/log"
)

// RequestLogger logs one structured line per request. It deliberately reads
// neither body: download responses stream gigabytes and must not be buffered.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		log.Infow("HTTP request",
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"bytesOut", c.Writer.Size(),
		)
	}
}
