//nolint:varnamelen
package oauthecho

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pilab-dev/mcp-oauth/api"
	"github.com/pilab-dev/mcp-oauth/api/consent"
	serrors "github.com/pilab-dev/mcp-oauth/errors"
	"github.com/pilab-dev/mcp-oauth/internal/metrics"
	"github.com/pilab-dev/mcp-oauth/internal/ratelimit"
	applog "github.com/pilab-dev/mcp-oauth/log"
	"github.com/pilab-dev/mcp-oauth/services"
	"github.com/rs/zerolog/log"
)

// OAuth2API struct to hold dependencies.
type OAuth2API struct {
	service  *services.OAuthService
	metadata api.ServerMetadata
	limiter  *ratelimit.Limiter
	logger   applog.Logger
}

// NewOAuth2API initializes the OAuth2 API. limiter may be nil.
func NewOAuth2API(
	service *services.OAuthService,
	issuer string,
	limiter *ratelimit.Limiter,
	logger applog.Logger,
) *OAuth2API {
	return &OAuth2API{
		service:  service,
		metadata: api.NewServerMetadata(issuer),
		limiter:  limiter,
		logger:   logger,
	}
}

// RegisterRoutes registers the OAuth2 routes and the header middleware.
func (oa *OAuth2API) RegisterRoutes(e *echo.Echo) {
	e.Use(headersMiddleware)

	e.GET("/.well-known/oauth-authorization-server", oa.MetadataHandler)
	e.GET("/oauth2/authorize", oa.AuthorizeHandler)
	e.POST("/oauth2/authorize", oa.ConsentHandler)

	limit := oa.rateLimitMiddleware
	e.POST("/oauth2/token", oa.TokenHandler, limit)
	e.POST("/oauth2/revoke", oa.RevokeHandler, limit)
	e.POST("/oauth2/introspect", oa.IntrospectHandler, limit)

	for _, path := range []string{"/oauth2/token", "/oauth2/revoke", "/oauth2/introspect"} {
		e.Match([]string{http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete}, path, oa.methodNotAllowed(path))
	}
	e.Match([]string{http.MethodPut, http.MethodPatch, http.MethodDelete}, "/oauth2/authorize", oa.methodNotAllowed("/authorize"))
}

// headersMiddleware sets the CORS and security headers and answers
// preflight requests.
func headersMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Response().Header()
		for k, v := range api.CORSHeaders {
			h.Set(k, v)
		}
		for k, v := range api.SecurityHeaders {
			h.Set(k, v)
		}

		if c.Request().Method == http.MethodOptions {
			return c.NoContent(http.StatusNoContent)
		}

		return next(c)
	}
}

func (oa *OAuth2API) rateLimitMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ok, retryAfter := oa.limiter.Allow(c.RealIP())
		if ok {
			return next(c)
		}

		metrics.RateLimitedTotal.Inc()
		log.Warn().
			Str("ip", c.RealIP()).
			Str("path", c.Path()).
			Dur("retry_after", retryAfter).
			Msg("rate limit exceeded")

		c.Response().Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))

		return c.JSON(http.StatusTooManyRequests, serrors.NewRateLimitExceeded())
	}
}

func (oa *OAuth2API) writeError(c echo.Context, endpoint string, err error) error {
	oauthErr, ok := api.ResponseError(err)
	if !ok {
		oa.logger.Error(c.Request().Context(), "request failed", err, applog.Fields{
			"endpoint": endpoint,
			"method":   c.Request().Method,
		})
	}

	metrics.OAuthErrorsTotal.WithLabelValues(endpoint, oauthErr.Code).Inc()

	if oauthErr.Status == http.StatusUnauthorized {
		c.Response().Header().Set("WWW-Authenticate", `Basic realm="oauth2"`)
	}

	return c.JSON(oauthErr.Status, oauthErr)
}

func (oa *OAuth2API) methodNotAllowed(endpoint string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return oa.writeError(c, endpoint, serrors.NewMethodNotAllowed())
	}
}

// AuthorizeHandler validates the authorization request and renders the
// consent page.
func (oa *OAuth2API) AuthorizeHandler(c echo.Context) error {
	var req api.AuthorizeRequest
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &req); err != nil {
		return oa.writeError(c, "/authorize", serrors.NewInvalidRequest("malformed authorization request"))
	}

	page, err := oa.service.BeginAuthorization(c.Request().Context(), req)
	if err != nil {
		return oa.writeError(c, "/authorize", err)
	}

	html, err := consent.Render(page)
	if err != nil {
		return oa.writeError(c, "/authorize", err)
	}

	return c.HTMLBlob(http.StatusOK, html)
}

// ConsentHandler accepts the consent form and redirects to the client.
func (oa *OAuth2API) ConsentHandler(c echo.Context) error {
	var sub api.ConsentSubmission
	if err := c.Bind(&sub); err != nil {
		return oa.writeError(c, "/authorize", serrors.NewInvalidRequest("malformed consent submission"))
	}

	location, err := oa.service.IssueAuthorizationCode(c.Request().Context(), sub)
	if err != nil {
		return oa.writeError(c, "/authorize", err)
	}

	return c.Redirect(http.StatusFound, location)
}

// TokenHandler handles the token endpoint.
func (oa *OAuth2API) TokenHandler(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "no-store")
	c.Response().Header().Set("Pragma", "no-cache")

	var req api.TokenRequest
	if err := c.Bind(&req); err != nil {
		return oa.writeError(c, "/token", serrors.NewInvalidRequest("malformed token request"))
	}

	req.ClientID, req.ClientSecret = api.ClientCredentials(c.Request(), req.ClientID, req.ClientSecret)

	resp, err := oa.service.Token(c.Request().Context(), req)
	if err != nil {
		return oa.writeError(c, "/token", err)
	}

	return c.JSON(http.StatusOK, resp)
}

// RevokeHandler implements RFC 7009 token revocation.
func (oa *OAuth2API) RevokeHandler(c echo.Context) error {
	var req api.RevocationRequest
	if err := c.Bind(&req); err != nil {
		return oa.writeError(c, "/revoke", serrors.NewInvalidRequest("malformed revocation request"))
	}

	req.ClientID, req.ClientSecret = api.ClientCredentials(c.Request(), req.ClientID, req.ClientSecret)

	if err := oa.service.Revoke(c.Request().Context(), req); err != nil {
		return oa.writeError(c, "/revoke", err)
	}

	return c.JSON(http.StatusOK, map[string]any{})
}

// IntrospectHandler implements RFC 7662 token introspection.
func (oa *OAuth2API) IntrospectHandler(c echo.Context) error {
	c.Response().Header().Set("Cache-Control", "no-store")

	var req api.RevocationRequest
	if err := c.Bind(&req); err != nil {
		return oa.writeError(c, "/introspect", serrors.NewInvalidRequest("malformed introspection request"))
	}

	req.ClientID, req.ClientSecret = api.ClientCredentials(c.Request(), req.ClientID, req.ClientSecret)

	resp, err := oa.service.Introspect(c.Request().Context(), req)
	if err != nil {
		return oa.writeError(c, "/introspect", err)
	}

	return c.JSON(http.StatusOK, resp)
}

// MetadataHandler serves the RFC 8414 metadata document.
func (oa *OAuth2API) MetadataHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, oa.metadata)
}
