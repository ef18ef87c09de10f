package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type SecurityMiddleware struct {
	config *SecurityConfig
}

type SecurityConfig struct {
	EnableSecurityHeaders bool
	MaxRequestSize        int64
	// APIKey guards mutation endpoints when set. Empty disables the check,
	// for local development.
	APIKey string
}

func NewSecurityMiddleware(config *SecurityConfig) *SecurityMiddleware {
	if config == nil {
		config = &SecurityConfig{
			EnableSecurityHeaders: true,
			MaxRequestSize:        10 * 1024 * 1024,
		}
	}
	return &SecurityMiddleware{config: config}
}

func (s *SecurityMiddleware) SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.config.EnableSecurityHeaders {
			c.Next()
			return
		}

		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		// Balance and proposal payloads are account data; keep them out of
		// shared caches.
		if strings.HasPrefix(c.Request.URL.Path, "/api/equilibrium") {
			c.Header("Cache-Control", "no-store")
		}
		c.Next()
	}
}

// RequestSizeLimit caps request bodies; receipt uploads set the practical
// ceiling.
func (s *SecurityMiddleware) RequestSizeLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > s.config.MaxRequestSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   "Request too large",
				"message": "Request body exceeds the allowed size",
			})
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxRequestSize)
		c.Next()
	}
}

// APIKeyGuard rejects mutations without the shared service key. Reads pass
// through unchecked.
func (s *SecurityMiddleware) APIKeyGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.config.APIKey == "" || c.Request.Method == http.MethodGet {
			c.Next()
			return
		}

		provided := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.config.APIKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Unauthorized",
				"message": "Missing or invalid API key",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
