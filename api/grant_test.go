package api_test

import (
	"testing"

	"github.com/pilab-dev/mcp-oauth/api"
	serrors "github.com/pilab-dev/mcp-oauth/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireOAuthError(t *testing.T, err error, code string) {
	t.Helper()

	var oauthErr *serrors.OAuth2Error
	require.ErrorAs(t, err, &oauthErr)
	assert.Equal(t, code, oauthErr.Code)
}

func TestParseGrant_AuthorizationCode(t *testing.T) {
	grant, err := api.ParseGrant(api.TokenRequest{
		GrantType:    "authorization_code",
		Code:         "c",
		RedirectURI:  "https://app/cb",
		CodeVerifier: "v",
	})
	require.NoError(t, err)

	assert.Equal(t, api.AuthorizationCodeGrant{Code: "c", RedirectURI: "https://app/cb", CodeVerifier: "v"}, grant)
}

func TestParseGrant_AuthorizationCodeMissingParams(t *testing.T) {
	for _, req := range []api.TokenRequest{
		{GrantType: "authorization_code", RedirectURI: "r", CodeVerifier: "v"},
		{GrantType: "authorization_code", Code: "c", CodeVerifier: "v"},
		{GrantType: "authorization_code", Code: "c", RedirectURI: "r"},
	} {
		_, err := api.ParseGrant(req)
		requireOAuthError(t, err, serrors.InvalidRequest)
	}
}

func TestParseGrant_RefreshToken(t *testing.T) {
	grant, err := api.ParseGrant(api.TokenRequest{GrantType: "refresh_token", RefreshToken: "rt"})
	require.NoError(t, err)
	assert.Equal(t, api.RefreshTokenGrant{RefreshToken: "rt"}, grant)

	_, err = api.ParseGrant(api.TokenRequest{GrantType: "refresh_token"})
	requireOAuthError(t, err, serrors.InvalidRequest)
}

func TestParseGrant_Unsupported(t *testing.T) {
	for _, gt := range []string{"", "password", "client_credentials", "AUTHORIZATION_CODE"} {
		_, err := api.ParseGrant(api.TokenRequest{GrantType: gt, Code: "c", RedirectURI: "r", CodeVerifier: "v"})
		requireOAuthError(t, err, serrors.UnsupportedGrantType)
	}
}

func TestParseTokenTypeHint(t *testing.T) {
	hint, err := api.ParseTokenTypeHint("")
	require.NoError(t, err)
	assert.Equal(t, api.HintNone, hint)

	hint, err = api.ParseTokenTypeHint("access_token")
	require.NoError(t, err)
	assert.Equal(t, api.HintAccessToken, hint)

	hint, err = api.ParseTokenTypeHint("refresh_token")
	require.NoError(t, err)
	assert.Equal(t, api.HintRefreshToken, hint)

	_, err = api.ParseTokenTypeHint("id_token")
	requireOAuthError(t, err, serrors.UnsupportedTokenType)
}

func TestNewServerMetadata(t *testing.T) {
	md := api.NewServerMetadata("https://auth.example.com")

	assert.Equal(t, "https://auth.example.com/oauth2/token", md.TokenEndpoint)
	assert.Equal(t, []string{"code"}, md.ResponseTypesSupported)
	assert.ElementsMatch(t, []string{"authorization_code", "refresh_token"}, md.GrantTypesSupported)
}
