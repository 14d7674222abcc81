package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const DefaultAPIKeyHeader = "X-CUSTOMER-OS-API-KEY"

type APIKeyConfig struct {
	HeaderName string
	// Keys lists every accepted key. Several keys allow rotation without downtime.
	Keys []string
}

// APIKeyMiddleware rejects requests whose key header is missing or not one of the configured keys
func APIKeyMiddleware(config APIKeyConfig) gin.HandlerFunc {
	header := config.HeaderName
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(header))
		switch {
		case key == "":
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing API key"})
		case !acceptedKey(key, config.Keys):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
		default:
			c.Next()
		}
	}
}

func acceptedKey(key string, keys []string) bool {
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k != "" && subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
			return true
		}
	}
	return false
}
