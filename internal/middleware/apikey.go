package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"cfdb/pkg/log"
)

// APIKeyAuth guards the sync endpoints with the X-API-Key header. A missing
// server-side key is a deployment fault and is reported as such, never as an
// authentication failure.
func APIKeyAuth(configuredKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if configuredKey == "" {
			log.Errorf("[APIKeyAuth] sync API key is not configured")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sync API key is not configured"})
			return
		}
		presented := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(configuredKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		c.Next()
	}
}
