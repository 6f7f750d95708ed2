package api

import (
	serrors "github.com/pilab-dev/mcp-oauth/errors"
)

// GrantType enumeration for OAuth2 grant types.
type GrantType string

const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeRefreshToken      GrantType = "refresh_token"
)

// Grant is the closed set of grants the token endpoint accepts. The only
// implementations are AuthorizationCodeGrant and RefreshTokenGrant.
type Grant interface {
	grantType() GrantType
}

// AuthorizationCodeGrant redeems an authorization code with its PKCE verifier.
type AuthorizationCodeGrant struct {
	Code         string
	RedirectURI  string
	CodeVerifier string
}

// RefreshTokenGrant exchanges a refresh token for a new access token.
type RefreshTokenGrant struct {
	RefreshToken string
}

func (AuthorizationCodeGrant) grantType() GrantType { return GrantTypeAuthorizationCode }
func (RefreshTokenGrant) grantType() GrantType      { return GrantTypeRefreshToken }

// ParseGrant maps a token request onto its grant. Unknown grant types yield
// unsupported_grant_type; missing grant parameters yield invalid_request.
func ParseGrant(req TokenRequest) (Grant, error) {
	switch GrantType(req.GrantType) {
	case GrantTypeAuthorizationCode:
		if req.Code == "" || req.RedirectURI == "" || req.CodeVerifier == "" {
			return nil, serrors.NewInvalidRequest("code, redirect_uri and code_verifier are required")
		}

		return AuthorizationCodeGrant{
			Code:         req.Code,
			RedirectURI:  req.RedirectURI,
			CodeVerifier: req.CodeVerifier,
		}, nil
	case GrantTypeRefreshToken:
		if req.RefreshToken == "" {
			return nil, serrors.NewInvalidRequest("refresh_token is required")
		}

		return RefreshTokenGrant{RefreshToken: req.RefreshToken}, nil
	default:
		return nil, serrors.NewUnsupportedGrantType()
	}
}

// TokenTypeHint is the closed set of revocation/introspection hints.
type TokenTypeHint int

const (
	// HintNone means no hint was given: access token first, then refresh token.
	HintNone TokenTypeHint = iota
	HintAccessToken
	HintRefreshToken
)

// ParseTokenTypeHint maps token_type_hint onto its variant. Unknown hints are
// reported as unsupported_token_type.
func ParseTokenTypeHint(hint string) (TokenTypeHint, error) {
	switch hint {
	case "":
		return HintNone, nil
	case TokenTypeAccessToken:
		return HintAccessToken, nil
	case TokenTypeRefreshToken:
		return HintRefreshToken, nil
	default:
		return HintNone, serrors.NewUnsupportedTokenType()
	}
}
