package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pilab-dev/mcp-oauth/api"
	"github.com/pilab-dev/mcp-oauth/domain"
	serrors "github.com/pilab-dev/mcp-oauth/errors"
	"github.com/pilab-dev/mcp-oauth/internal/audit"
	"github.com/pilab-dev/mcp-oauth/internal/metrics"
	applog "github.com/pilab-dev/mcp-oauth/log"
	"github.com/pilab-dev/mcp-oauth/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultAuthCodeTTL    = 600 * time.Second
	DefaultAccessTokenTTL = 3600 * time.Second

	auditService = "oauth"
)

// OAuthService implements the authorization, token, revocation and
// introspection flows on top of a client registry and an authorization store.
type OAuthService struct {
	clients domain.ClientRegistry
	authz   domain.AuthorizationStore
	hasher  SecretHasher
	logger  applog.Logger

	authCodeTTL    time.Duration
	accessTokenTTL time.Duration
	defaultScope   string
	now            func() time.Time
}

// OAuthOption customizes an OAuthService.
type OAuthOption func(*OAuthService)

// WithAuthCodeTTL sets the lifetime of authorization codes.
func WithAuthCodeTTL(ttl time.Duration) OAuthOption {
	return func(s *OAuthService) { s.authCodeTTL = ttl }
}

// WithAccessTokenTTL sets the lifetime of access tokens.
func WithAccessTokenTTL(ttl time.Duration) OAuthOption {
	return func(s *OAuthService) { s.accessTokenTTL = ttl }
}

// WithDefaultScope sets the scope granted when no requested scope is allowed.
func WithDefaultScope(scope string) OAuthOption {
	return func(s *OAuthService) { s.defaultScope = scope }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) OAuthOption {
	return func(s *OAuthService) { s.now = now }
}

// NewOAuthService creates a new instance of the OAuthService.
func NewOAuthService(
	clients domain.ClientRegistry,
	authz domain.AuthorizationStore,
	hasher SecretHasher,
	logger applog.Logger,
	opts ...OAuthOption,
) *OAuthService {
	s := &OAuthService{
		clients:        clients,
		authz:          authz,
		hasher:         hasher,
		logger:         logger,
		authCodeTTL:    DefaultAuthCodeTTL,
		accessTokenTTL: DefaultAccessTokenTTL,
		defaultScope:   DefaultScope,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// AccessTokenTTL is the lifetime reported as expires_in.
func (s *OAuthService) AccessTokenTTL() time.Duration {
	return s.accessTokenTTL
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracing.Tracer.Start(ctx, "OAuthService."+name)
}

// endSpan records err on the span. Protocol errors are expected outcomes and
// are only annotated; anything else marks the span failed.
func endSpan(span trace.Span, err error) {
	defer span.End()

	if err == nil {
		return
	}

	var oauthErr *serrors.OAuth2Error
	if errors.As(err, &oauthErr) {
		span.SetAttributes(attribute.String("oauth.error", oauthErr.Code))
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// validateAuthorizeRequest performs the checks shared by consent rendering
// and consent submission. invalid_client is reported with 400 here since the
// client never authenticated on this endpoint.
func (s *OAuthService) validateAuthorizeRequest(ctx context.Context, req api.AuthorizeRequest) (*domain.Client, error) {
	if req.ResponseType != "code" {
		return nil, serrors.NewUnsupportedResponseType()
	}

	if req.CodeChallenge == "" || req.CodeChallengeMethod == "" {
		return nil, serrors.NewPKCERequired()
	}

	if _, ok := ParseChallengeMethod(req.CodeChallengeMethod); !ok {
		return nil, serrors.NewInvalidPKCEMethod()
	}

	if req.ClientID == "" {
		return nil, serrors.NewInvalidClient("client_id is required").WithStatus(http.StatusBadRequest)
	}

	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, serrors.NewInvalidClient("unknown client").WithStatus(http.StatusBadRequest)
		}

		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	if !client.HasRedirectURI(req.RedirectURI) {
		return nil, serrors.NewInvalidRequest("redirect_uri is not registered for this client")
	}

	return client, nil
}

// BeginAuthorization validates an authorization request and returns the
// consent page to render. No code is issued.
func (s *OAuthService) BeginAuthorization(ctx context.Context, req api.AuthorizeRequest) (page *api.ConsentPage, err error) {
	ctx, span := startSpan(ctx, "BeginAuthorization")
	span.SetAttributes(attribute.String("oauth.client_id", req.ClientID))
	defer func() { endSpan(span, err) }()

	client, err := s.validateAuthorizeRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	return &api.ConsentPage{
		ClientName: client.Name,
		Scopes:     filterScopes(req.Scope, client.AllowedScopes, s.defaultScope),
		Request:    req,
	}, nil
}

// IssueAuthorizationCode handles a consent submission: it re-validates the
// request, stores a code-phase record and returns the redirect location
// carrying code and state.
func (s *OAuthService) IssueAuthorizationCode(ctx context.Context, sub api.ConsentSubmission) (location string, err error) {
	ctx, span := startSpan(ctx, "IssueAuthorizationCode")
	span.SetAttributes(attribute.String("oauth.client_id", sub.ClientID))
	defer func() { endSpan(span, err) }()

	if sub.Username == "" || sub.Password == "" {
		return "", serrors.NewInvalidRequest("username and password are required")
	}

	client, err := s.validateAuthorizeRequest(ctx, sub.AuthorizeRequest)
	if err != nil {
		return "", err
	}

	redirect, err := url.Parse(sub.RedirectURI)
	if err != nil {
		return "", serrors.NewInvalidRequest("redirect_uri is malformed")
	}

	code, err := generateAuthorizationCode()
	if err != nil {
		return "", err
	}

	now := s.now()
	record := &domain.AuthorizationRecord{
		ID:                  newRecordID(),
		Code:                code,
		ClientID:            client.ID,
		UserID:              sub.Username,
		Scope:               strings.Join(filterScopes(sub.Scope, client.AllowedScopes, s.defaultScope), " "),
		RedirectURI:         sub.RedirectURI,
		CodeChallenge:       sub.CodeChallenge,
		CodeChallengeMethod: sub.CodeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.authCodeTTL),
	}

	if err := s.authz.SaveAuthorization(ctx, record); err != nil {
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}

	metrics.AuthorizationCodesIssuedTotal.Inc()
	audit.Log(auditService, audit.ActionCodeIssued, client.ID, sub.Username, record.ID, true, nil)
	s.logger.Info(ctx, "authorization code issued", applog.Fields{
		"client_id": client.ID,
		"record_id": record.ID,
	})

	query := redirect.Query()
	query.Set("code", code)
	if sub.State != "" {
		query.Set("state", sub.State)
	}
	redirect.RawQuery = query.Encode()

	return redirect.String(), nil
}

// authenticateClient resolves the client and checks its secret. Every
// failure is reported as invalid_client without saying which part failed.
func (s *OAuthService) authenticateClient(ctx context.Context, clientID, clientSecret string) (*domain.Client, error) {
	if clientID == "" || clientSecret == "" {
		metrics.ClientAuthFailuresTotal.Inc()
		return nil, serrors.NewInvalidClient("client authentication failed")
	}

	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.ClientAuthFailuresTotal.Inc()
			audit.Log(auditService, audit.ActionClientAuth, clientID, "", "", false, err)

			return nil, serrors.NewInvalidClient("client authentication failed")
		}

		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	if err := s.hasher.Verify(client.SecretHash, clientSecret); err != nil {
		metrics.ClientAuthFailuresTotal.Inc()
		audit.Log(auditService, audit.ActionClientAuth, clientID, "", "", false, err)

		return nil, serrors.NewInvalidClient("client authentication failed")
	}

	return client, nil
}

// Token authenticates the client and dispatches on the grant type.
func (s *OAuthService) Token(ctx context.Context, req api.TokenRequest) (resp *api.TokenResponse, err error) {
	ctx, span := startSpan(ctx, "Token")
	span.SetAttributes(
		attribute.String("oauth.client_id", req.ClientID),
		attribute.String("oauth.grant_type", req.GrantType),
	)
	defer func() { endSpan(span, err) }()

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}

	grant, err := api.ParseGrant(req)
	if err != nil {
		return nil, err
	}

	switch g := grant.(type) {
	case api.AuthorizationCodeGrant:
		return s.exchangeAuthorizationCode(ctx, client, g)
	case api.RefreshTokenGrant:
		return s.exchangeRefreshToken(ctx, client, g)
	default:
		return nil, serrors.NewUnsupportedGrantType()
	}
}

func (s *OAuthService) exchangeAuthorizationCode(
	ctx context.Context,
	client *domain.Client,
	g api.AuthorizationCodeGrant,
) (*api.TokenResponse, error) {
	codeRecord, err := s.authz.FindAuthorization(ctx, domain.IndexCode, g.Code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, serrors.NewInvalidGrant("invalid authorization code")
		}

		return nil, fmt.Errorf("failed to find authorization code: %w", err)
	}

	if codeRecord.ClientID != client.ID {
		return nil, serrors.NewInvalidGrant("authorization code was issued to another client")
	}

	if codeRecord.RedirectURI != g.RedirectURI {
		return nil, serrors.NewInvalidGrant("redirect_uri does not match")
	}

	if !VerifyPKCE(g.CodeVerifier, codeRecord.CodeChallengeMethod, codeRecord.CodeChallenge) {
		return nil, serrors.NewInvalidGrant("code_verifier does not match code_challenge")
	}

	// Only one of several concurrent redemptions gets past this point.
	if err := s.authz.ConsumeAuthorizationCode(ctx, codeRecord.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, serrors.NewInvalidGrant("authorization code has already been used")
		}

		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	refreshToken, err := generateRefreshToken()
	if err != nil {
		return nil, err
	}

	tokenRecord, err := s.issueAccessToken(ctx, client.ID, codeRecord.UserID, codeRecord.Scope, refreshToken)
	if err != nil {
		return nil, err
	}

	metrics.TokensIssuedTotal.WithLabelValues(string(api.GrantTypeAuthorizationCode)).Inc()
	audit.Log(auditService, audit.ActionTokenIssued, client.ID, tokenRecord.UserID, tokenRecord.ID, true, nil)

	return &api.TokenResponse{
		AccessToken:  tokenRecord.AccessToken,
		TokenType:    api.TokenTypeBearer,
		ExpiresIn:    int(s.accessTokenTTL.Seconds()),
		RefreshToken: tokenRecord.RefreshToken,
		Scope:        tokenRecord.Scope,
	}, nil
}

// exchangeRefreshToken issues a new access token for the same session. The
// refresh token is not rotated and is left out of the response.
func (s *OAuthService) exchangeRefreshToken(
	ctx context.Context,
	client *domain.Client,
	g api.RefreshTokenGrant,
) (*api.TokenResponse, error) {
	previous, err := s.authz.FindAuthorization(ctx, domain.IndexRefreshToken, g.RefreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, serrors.NewInvalidGrant("invalid refresh token")
		}

		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}

	if previous.ClientID != client.ID {
		return nil, serrors.NewInvalidGrant("refresh token was issued to another client")
	}

	tokenRecord, err := s.issueAccessToken(ctx, client.ID, previous.UserID, previous.Scope, previous.RefreshToken)
	if err != nil {
		return nil, err
	}

	metrics.TokensIssuedTotal.WithLabelValues(string(api.GrantTypeRefreshToken)).Inc()
	audit.Log(auditService, audit.ActionTokenRefresh, client.ID, tokenRecord.UserID, tokenRecord.ID, true, nil)

	return &api.TokenResponse{
		AccessToken: tokenRecord.AccessToken,
		TokenType:   api.TokenTypeBearer,
		ExpiresIn:   int(s.accessTokenTTL.Seconds()),
		Scope:       tokenRecord.Scope,
	}, nil
}

func (s *OAuthService) issueAccessToken(
	ctx context.Context,
	clientID, userID, scope, refreshToken string,
) (*domain.AuthorizationRecord, error) {
	accessToken, err := generateAccessToken()
	if err != nil {
		return nil, err
	}

	now := s.now()
	record := &domain.AuthorizationRecord{
		ID:           newRecordID(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ClientID:     clientID,
		UserID:       userID,
		Scope:        scope,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.accessTokenTTL),
	}

	if err := s.authz.SaveAuthorization(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to save token record: %w", err)
	}

	s.logger.Info(ctx, "access token issued", applog.Fields{
		"client_id": clientID,
		"record_id": record.ID,
	})

	return record, nil
}

// resolveToken finds the record a presented token belongs to, following the
// hint. It reports which index matched.
func (s *OAuthService) resolveToken(
	ctx context.Context,
	token string,
	hint api.TokenTypeHint,
) (*domain.AuthorizationRecord, domain.LookupIndex, error) {
	var order []domain.LookupIndex
	switch hint {
	case api.HintAccessToken:
		order = []domain.LookupIndex{domain.IndexAccessToken}
	case api.HintRefreshToken:
		order = []domain.LookupIndex{domain.IndexRefreshToken}
	case api.HintNone:
		order = []domain.LookupIndex{domain.IndexAccessToken, domain.IndexRefreshToken}
	}

	for _, index := range order {
		record, err := s.authz.FindAuthorization(ctx, index, token)
		if err == nil {
			return record, index, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, "", fmt.Errorf("failed to find token by %s: %w", index, err)
		}
	}

	return nil, "", domain.ErrNotFound
}

func (s *OAuthService) authenticateTokenRequest(
	ctx context.Context,
	req api.RevocationRequest,
) (*domain.Client, api.TokenTypeHint, error) {
	if req.Token == "" || req.ClientID == "" {
		return nil, api.HintNone, serrors.NewInvalidRequest("token and client_id are required")
	}

	client, err := s.authenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, api.HintNone, err
	}

	hint, err := api.ParseTokenTypeHint(req.TokenTypeHint)
	if err != nil {
		return nil, api.HintNone, err
	}

	return client, hint, nil
}

// Revoke invalidates a token (RFC 7009). Unknown tokens and tokens of other
// clients succeed silently. Revoking by refresh token ends every record of
// that refresh session.
func (s *OAuthService) Revoke(ctx context.Context, req api.RevocationRequest) (err error) {
	ctx, span := startSpan(ctx, "Revoke")
	span.SetAttributes(attribute.String("oauth.client_id", req.ClientID))
	defer func() { endSpan(span, err) }()

	client, hint, err := s.authenticateTokenRequest(ctx, req)
	if err != nil {
		return err
	}

	record, index, err := s.resolveToken(ctx, req.Token, hint)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}

		return err
	}

	if record.ClientID != client.ID {
		s.logger.Warn(ctx, "revocation of a token owned by another client ignored", applog.Fields{
			"client_id": client.ID,
			"record_id": record.ID,
		})

		return nil
	}

	removed := 1
	if index == domain.IndexRefreshToken {
		removed, err = s.authz.DeleteByRefreshToken(ctx, record.RefreshToken)
	} else {
		err = s.authz.DeleteAuthorization(ctx, record.ID)
	}
	if err != nil {
		audit.Log(auditService, audit.ActionTokenRevoked, client.ID, record.UserID, record.ID, false, err)
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	metrics.TokensRevokedTotal.Add(float64(removed))
	audit.Log(auditService, audit.ActionTokenRevoked, client.ID, record.UserID, record.ID, true, nil)
	s.logger.Info(ctx, "token revoked", applog.Fields{
		"client_id": client.ID,
		"record_id": record.ID,
		"index":     string(index),
		"removed":   removed,
	})

	return nil
}

// Introspect reports whether a token is active (RFC 7662). Tokens that are
// unknown, expired, revoked or owned by another client are inactive.
func (s *OAuthService) Introspect(ctx context.Context, req api.RevocationRequest) (resp *api.IntrospectionResponse, err error) {
	ctx, span := startSpan(ctx, "Introspect")
	span.SetAttributes(attribute.String("oauth.client_id", req.ClientID))
	defer func() { endSpan(span, err) }()

	client, hint, err := s.authenticateTokenRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	record, index, err := s.resolveToken(ctx, req.Token, hint)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &api.IntrospectionResponse{Active: false}, nil
		}

		return nil, err
	}

	if record.ClientID != client.ID {
		return &api.IntrospectionResponse{Active: false}, nil
	}

	tokenType := api.TokenTypeBearer
	if index == domain.IndexRefreshToken {
		tokenType = api.TokenTypeRefreshToken
	}

	return &api.IntrospectionResponse{
		Active:    true,
		Scope:     record.Scope,
		ClientID:  record.ClientID,
		Username:  record.UserID,
		TokenType: tokenType,
		Exp:       record.ExpiresAt.Unix(),
		Iat:       record.CreatedAt.Unix(),
	}, nil
}
