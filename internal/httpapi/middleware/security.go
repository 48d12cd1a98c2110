// Package middleware – security response headers.
package middleware

import "github.com/gin-gonic/gin"

// SecurityHeaders sets a conservative header posture on every response.
// The agent serves localhost terminals over plain HTTP, so there is no
// HSTS here; POS responses carry money data, so caches are told to stand
// down.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		c.Next()
	}
}
