package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	oauthecho "github.com/pilab-dev/mcp-oauth/api/echo"
	oauthgin "github.com/pilab-dev/mcp-oauth/api/gin"
	"github.com/pilab-dev/mcp-oauth/config"
	"github.com/pilab-dev/mcp-oauth/internal/ratelimit"
	"github.com/pilab-dev/mcp-oauth/log"
	"github.com/pilab-dev/mcp-oauth/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Dependencies are the components the HTTP server exposes.
type Dependencies struct {
	OAuth    *services.OAuthService
	Limiter  *ratelimit.Limiter
	Gatherer prometheus.Gatherer
	// Health checks the storage backend; nil means always healthy.
	Health func(ctx context.Context) error
}

// NewHTTPServer creates the HTTP server on the router selected by
// HTTP_ROUTER.
func NewHTTPServer(cfg *config.ServerConfig, appLogger log.Logger, deps Dependencies) *http.Server {
	var handler http.Handler
	if cfg.HTTPRouter == config.RouterEcho {
		handler = newEchoHandler(cfg, appLogger, deps)
	} else {
		handler = newGinHandler(cfg, appLogger, deps)
	}

	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func healthStatus(ctx context.Context, deps Dependencies) (int, map[string]string) {
	if deps.Health != nil {
		if err := deps.Health(ctx); err != nil {
			return http.StatusServiceUnavailable, map[string]string{"status": "unavailable"}
		}
	}

	return http.StatusOK, map[string]string{"status": "ok"}
}

func metricsHandler(deps Dependencies) http.Handler {
	if deps.Gatherer == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})
}

func requestFields(method, path string, status int, latency time.Duration, ip string) log.Fields {
	return log.Fields{
		"method":  method,
		"path":    path,
		"status":  status,
		"latency": latency.String(),
		"ip":      ip,
	}
}

func newGinHandler(cfg *config.ServerConfig, appLogger log.Logger, deps Dependencies) http.Handler {
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := requestFields(c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start), c.ClientIP())
		if len(c.Errors) > 0 {
			appLogger.Error(c.Request.Context(), c.Errors.String(), c.Errors.Last().Err, fields)
		} else {
			appLogger.Debug(c.Request.Context(), "HTTP request", fields)
		}
	})

	router.Use(otelgin.Middleware(cfg.OtelServiceName))

	oauthgin.NewOAuth2API(deps.OAuth, cfg.IssuerURL, deps.Limiter, appLogger).RegisterRoutes(router)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(healthStatus(c.Request.Context(), deps))
	})
	router.GET("/metrics", gin.WrapH(metricsHandler(deps)))

	return router
}

func newEchoHandler(cfg *config.ServerConfig, appLogger log.Logger, deps Dependencies) http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			fields := requestFields(c.Request().Method, c.Request().URL.Path, c.Response().Status, time.Since(start), c.RealIP())
			if err != nil {
				appLogger.Error(c.Request().Context(), "HTTP request failed", err, fields)
			} else {
				appLogger.Debug(c.Request().Context(), "HTTP request", fields)
			}

			return err
		}
	})

	oauthecho.NewOAuth2API(deps.OAuth, cfg.IssuerURL, deps.Limiter, appLogger).RegisterRoutes(e)

	e.GET("/healthz", func(c echo.Context) error {
		status, body := healthStatus(c.Request().Context(), deps)
		return c.JSON(status, body)
	})
	e.GET("/metrics", echo.WrapHandler(metricsHandler(deps)))

	return otelhttp.NewHandler(e, cfg.OtelServiceName)
}
