package api

import (
	"errors"
	"net/http"
	"net/url"

	serrors "github.com/pilab-dev/mcp-oauth/errors"
)

// ClientCredentials returns the client credentials of a request. Credentials
// in the body win; otherwise HTTP Basic is used, with both parts
// form-urlencoded as RFC 6749 section 2.3.1 requires.
func ClientCredentials(r *http.Request, bodyID, bodySecret string) (string, string) {
	if bodyID != "" || bodySecret != "" {
		return bodyID, bodySecret
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return "", ""
	}

	if decoded, err := url.QueryUnescape(user); err == nil {
		user = decoded
	}
	if decoded, err := url.QueryUnescape(pass); err == nil {
		pass = decoded
	}

	return user, pass
}

// ResponseError maps err onto the error reported to the caller. The second
// result is false when err is not a protocol error and must be logged; the
// caller then gets a generic server_error.
func ResponseError(err error) (*serrors.OAuth2Error, bool) {
	var oauthErr *serrors.OAuth2Error
	if errors.As(err, &oauthErr) {
		return oauthErr, true
	}

	return serrors.NewServerError("internal server error"), false
}

// CORS headers sent on every response.
var CORSHeaders = map[string]string{
	"Access-Control-Allow-Origin":      "*",
	"Access-Control-Allow-Credentials": "true",
	"Access-Control-Allow-Methods":     "GET, POST, OPTIONS",
	"Access-Control-Allow-Headers":     "Authorization, Content-Type",
}

// Security headers sent on every response. The consent page uses an inline
// style and its form redirects to the client, so form-action stays open.
var SecurityHeaders = map[string]string{
	"Content-Security-Policy":   "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'none'; base-uri 'none'",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	"X-Content-Type-Options":    "nosniff",
	"X-Frame-Options":           "DENY",
	"Referrer-Policy":           "no-referrer",
}
