//nolint:wrapcheck
package oauthgin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pilab-dev/mcp-oauth/api"
	"github.com/pilab-dev/mcp-oauth/api/consent"
	serrors "github.com/pilab-dev/mcp-oauth/errors"
	"github.com/pilab-dev/mcp-oauth/internal/metrics"
	"github.com/pilab-dev/mcp-oauth/internal/ratelimit"
	applog "github.com/pilab-dev/mcp-oauth/log"
	"github.com/pilab-dev/mcp-oauth/services"
)

// OAuth2API exposes the authorization server over gin.
type OAuth2API struct {
	service  *services.OAuthService
	metadata api.ServerMetadata
	limiter  *ratelimit.Limiter
	logger   applog.Logger
}

// NewOAuth2API creates a new OAuth2API. limiter may be nil.
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

// RegisterRoutes installs the CORS and security header middleware and the
// OAuth endpoints on e.
func (oa *OAuth2API) RegisterRoutes(e *gin.Engine) {
	e.Use(CORSMiddleware(), SecurityHeadersMiddleware())
	e.SetHTMLTemplate(consent.Template)

	e.GET("/.well-known/oauth-authorization-server", oa.MetadataHandler)

	oauth := e.Group("/oauth2")
	oauth.GET("/authorize", oa.AuthorizeHandler)
	oauth.POST("/authorize", oa.ConsentHandler)

	limited := oauth.Group("", RateLimitMiddleware(oa.limiter))
	limited.POST("/token", oa.TokenHandler)
	limited.POST("/revoke", oa.RevokeHandler)
	limited.POST("/introspect", oa.IntrospectHandler)

	notAllowed := map[string][]string{
		"/authorize":  {http.MethodPut, http.MethodPatch, http.MethodDelete},
		"/token":      {http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete},
		"/revoke":     {http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete},
		"/introspect": {http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete},
	}
	for path, methods := range notAllowed {
		for _, method := range methods {
			oauth.Handle(method, path, oa.methodNotAllowed(path))
		}
	}
}

func (oa *OAuth2API) writeError(c *gin.Context, endpoint string, err error) {
	oauthErr, ok := api.ResponseError(err)
	if !ok {
		oa.logger.Error(c.Request.Context(), "request failed", err, applog.Fields{
			"endpoint": endpoint,
			"method":   c.Request.Method,
		})
	}

	metrics.OAuthErrorsTotal.WithLabelValues(endpoint, oauthErr.Code).Inc()

	if oauthErr.Status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", `Basic realm="oauth2"`)
	}

	c.AbortWithStatusJSON(oauthErr.Status, oauthErr)
}

func (oa *OAuth2API) methodNotAllowed(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		oa.writeError(c, endpoint, serrors.NewMethodNotAllowed())
	}
}

// AuthorizeHandler validates an authorization request and renders the
// consent page.
func (oa *OAuth2API) AuthorizeHandler(c *gin.Context) {
	var req api.AuthorizeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		oa.writeError(c, "/authorize", serrors.NewInvalidRequest("malformed authorization request"))
		return
	}

	page, err := oa.service.BeginAuthorization(c.Request.Context(), req)
	if err != nil {
		oa.writeError(c, "/authorize", err)
		return
	}

	c.HTML(http.StatusOK, consent.Name, page)
}

// ConsentHandler accepts the consent form and redirects back to the client
// with an authorization code.
func (oa *OAuth2API) ConsentHandler(c *gin.Context) {
	var sub api.ConsentSubmission
	if err := c.ShouldBind(&sub); err != nil {
		oa.writeError(c, "/authorize", serrors.NewInvalidRequest("malformed consent submission"))
		return
	}

	location, err := oa.service.IssueAuthorizationCode(c.Request.Context(), sub)
	if err != nil {
		oa.writeError(c, "/authorize", err)
		return
	}

	c.Redirect(http.StatusFound, location)
}

// TokenHandler handles the authorization_code and refresh_token grants.
func (oa *OAuth2API) TokenHandler(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")

	var req api.TokenRequest
	if err := c.ShouldBind(&req); err != nil {
		oa.writeError(c, "/token", serrors.NewInvalidRequest("malformed token request"))
		return
	}

	req.ClientID, req.ClientSecret = api.ClientCredentials(c.Request, req.ClientID, req.ClientSecret)

	resp, err := oa.service.Token(c.Request.Context(), req)
	if err != nil {
		oa.writeError(c, "/token", err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RevokeHandler implements RFC 7009 token revocation.
func (oa *OAuth2API) RevokeHandler(c *gin.Context) {
	var req api.RevocationRequest
	if err := c.ShouldBind(&req); err != nil {
		oa.writeError(c, "/revoke", serrors.NewInvalidRequest("malformed revocation request"))
		return
	}

	req.ClientID, req.ClientSecret = api.ClientCredentials(c.Request, req.ClientID, req.ClientSecret)

	if err := oa.service.Revoke(c.Request.Context(), req); err != nil {
		oa.writeError(c, "/revoke", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{})
}

// IntrospectHandler implements RFC 7662 token introspection.
func (oa *OAuth2API) IntrospectHandler(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	var req api.RevocationRequest
	if err := c.ShouldBind(&req); err != nil {
		oa.writeError(c, "/introspect", serrors.NewInvalidRequest("malformed introspection request"))
		return
	}

	req.ClientID, req.ClientSecret = api.ClientCredentials(c.Request, req.ClientID, req.ClientSecret)

	resp, err := oa.service.Introspect(c.Request.Context(), req)
	if err != nil {
		oa.writeError(c, "/introspect", err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// MetadataHandler serves the RFC 8414 metadata document.
func (oa *OAuth2API) MetadataHandler(c *gin.Context) {
	c.JSON(http.StatusOK, oa.metadata)
}
