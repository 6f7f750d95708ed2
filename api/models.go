//nolint:tagliatelle
package api

const (
	TokenTypeAccessToken  = "access_token"
	TokenTypeRefreshToken = "refresh_token"
	TokenTypeBearer       = "Bearer"
)

// AuthorizeRequest carries the parameters of an authorization request, read
// from the query on GET and echoed back through the consent form on POST.
type AuthorizeRequest struct {
	ResponseType        string `form:"response_type"         json:"response_type"         query:"response_type"`
	ClientID            string `form:"client_id"             json:"client_id"             query:"client_id"`
	RedirectURI         string `form:"redirect_uri"          json:"redirect_uri"          query:"redirect_uri"`
	State               string `form:"state"                 json:"state"                 query:"state"`
	Scope               string `form:"scope"                 json:"scope"                 query:"scope"`
	CodeChallenge       string `form:"code_challenge"        json:"code_challenge"        query:"code_challenge"`
	CodeChallengeMethod string `form:"code_challenge_method" json:"code_challenge_method" query:"code_challenge_method"`
}

// ConsentSubmission is the POST body of the consent form.
type ConsentSubmission struct {
	AuthorizeRequest

	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

// TokenRequest is the body of a token endpoint request.
type TokenRequest struct {
	GrantType    string `form:"grant_type"    json:"grant_type"`
	ClientID     string `form:"client_id"     json:"client_id"`
	ClientSecret string `form:"client_secret" json:"client_secret"`
	Code         string `form:"code"          json:"code"`
	RedirectURI  string `form:"redirect_uri"  json:"redirect_uri"`
	CodeVerifier string `form:"code_verifier" json:"code_verifier"`
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
}

// RevocationRequest is the body of a revocation (RFC 7009) or introspection
// (RFC 7662) request.
type RevocationRequest struct {
	Token         string `form:"token"           json:"token"`
	TokenTypeHint string `form:"token_type_hint" json:"token_type_hint"`
	ClientID      string `form:"client_id"       json:"client_id"`
	ClientSecret  string `form:"client_secret"   json:"client_secret"`
}

// TokenResponse represents an OAuth 2.0 token response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// IntrospectionResponse represents the RFC 7662 introspection response.
// When a token is inactive only the "active" field is returned.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
}

// ConsentPage is everything needed to render the consent step.
type ConsentPage struct {
	ClientName string
	Scopes     []string
	Request    AuthorizeRequest
}

// ServerMetadata is the RFC 8414 authorization server metadata document.
type ServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	RevocationEndpointAuthMethods     []string `json:"revocation_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	IntrospectionEndpointAuthMethods  []string `json:"introspection_endpoint_auth_methods_supported"`
}

// NewServerMetadata builds the metadata document for the given issuer URL.
func NewServerMetadata(issuer string) ServerMetadata {
	authMethods := []string{"client_secret_post", "client_secret_basic"}

	return ServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + "/oauth2/authorize",
		TokenEndpoint:                     issuer + "/oauth2/token",
		RevocationEndpoint:                issuer + "/oauth2/revoke",
		IntrospectionEndpoint:             issuer + "/oauth2/introspect",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{string(GrantTypeAuthorizationCode), string(GrantTypeRefreshToken)},
		TokenEndpointAuthMethodsSupported: authMethods,
		RevocationEndpointAuthMethods:     authMethods,
		CodeChallengeMethodsSupported:     []string{"S256", "plain"},
		IntrospectionEndpointAuthMethods:  authMethods,
	}
}
