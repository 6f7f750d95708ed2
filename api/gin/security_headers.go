package oauthgin

import (
	"github.com/gin-gonic/gin"
	"github.com/pilab-dev/mcp-oauth/api"
)

// SecurityHeadersMiddleware adds common security headers to responses.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		for k, v := range api.SecurityHeaders {
			c.Header(k, v)
		}
		c.Next()
	}
}
