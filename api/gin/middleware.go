package oauthgin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pilab-dev/mcp-oauth/api"
	serrors "github.com/pilab-dev/mcp-oauth/errors"
	"github.com/pilab-dev/mcp-oauth/internal/metrics"
	"github.com/pilab-dev/mcp-oauth/internal/ratelimit"
	"github.com/rs/zerolog/log"
)

// CORSMiddleware adds the CORS headers to every response and answers
// preflight requests with 204.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		for k, v := range api.CORSHeaders {
			c.Header(k, v)
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimitMiddleware limits requests per client IP. A nil limiter lets
// everything through.
func RateLimitMiddleware(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retryAfter := limiter.Allow(c.ClientIP())
		if ok {
			c.Next()
			return
		}

		metrics.RateLimitedTotal.Inc()
		log.Warn().
			Str("ip", c.ClientIP()).
			Str("path", c.Request.URL.Path).
			Dur("retry_after", retryAfter).
			Msg("rate limit exceeded")

		c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, serrors.NewRateLimitExceeded())
	}
}
