package errors

import (
	"fmt"
	"net/http"
)

// OAuth2Error represents a standardized OAuth 2.0 error
type OAuth2Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`

	// Status is the HTTP status the error is reported with.
	Status int `json:"-"`
}

func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// WithStatus returns a copy of the error reported with a different HTTP status.
func (e *OAuth2Error) WithStatus(status int) *OAuth2Error {
	cp := *e
	cp.Status = status

	return &cp
}

// Standard OAuth2 error codes (RFC 6749, RFC 7009, RFC 7636)
const (
	InvalidRequest          = "invalid_request"
	InvalidClient           = "invalid_client"
	InvalidGrant            = "invalid_grant"
	UnsupportedGrantType    = "unsupported_grant_type"
	UnsupportedResponseType = "unsupported_response_type"
	UnsupportedTokenType    = "unsupported_token_type"
	MethodNotAllowed        = "method_not_allowed"
	ServerError             = "server_error"
)

// Common error constructors
func NewInvalidRequest(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidRequest,
		Description: description,
		Status:      http.StatusBadRequest,
	}
}

// NewInvalidClient reports failed client authentication. The token and
// revocation endpoints answer 401; the authorization endpoint downgrades it
// to 400 with WithStatus.
func NewInvalidClient(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidClient,
		Description: description,
		Status:      http.StatusUnauthorized,
	}
}

func NewInvalidGrant(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidGrant,
		Description: description,
		Status:      http.StatusBadRequest,
	}
}

func NewServerError(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        ServerError,
		Description: description,
		Status:      http.StatusInternalServerError,
	}
}

// PKCE specific errors
func NewPKCERequired() *OAuth2Error {
	return NewInvalidRequest("code_challenge and code_challenge_method are required")
}

func NewInvalidPKCEMethod() *OAuth2Error {
	return NewInvalidRequest("code_challenge_method must be S256 or plain")
}

func NewUnsupportedGrantType() *OAuth2Error {
	return &OAuth2Error{
		Code:        UnsupportedGrantType,
		Description: "The authorization grant type is not supported",
		Status:      http.StatusBadRequest,
	}
}

func NewUnsupportedResponseType() *OAuth2Error {
	return &OAuth2Error{
		Code:        UnsupportedResponseType,
		Description: "Only response_type=code is supported",
		Status:      http.StatusBadRequest,
	}
}

func NewUnsupportedTokenType() *OAuth2Error {
	return &OAuth2Error{
		Code:        UnsupportedTokenType,
		Description: "token_type_hint must be access_token or refresh_token",
		Status:      http.StatusBadRequest,
	}
}

func NewMethodNotAllowed() *OAuth2Error {
	return &OAuth2Error{
		Code:        MethodNotAllowed,
		Description: "The request method is not allowed for this endpoint",
		Status:      http.StatusMethodNotAllowed,
	}
}

// RateLimitExceeded is not an RFC 6749 code; it is only sent with 429.
const RateLimitExceeded = "rate_limit_exceeded"

func NewRateLimitExceeded() *OAuth2Error {
	return &OAuth2Error{
		Code:        RateLimitExceeded,
		Description: "Too many requests, try again later",
		Status:      http.StatusTooManyRequests,
	}
}
