package services_test

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/pilab-dev/mcp-oauth/api"
	"github.com/pilab-dev/mcp-oauth/cache"
	"github.com/pilab-dev/mcp-oauth/domain"
	serrors "github.com/pilab-dev/mcp-oauth/errors"
	"github.com/pilab-dev/mcp-oauth/internal/auth"
	applog "github.com/pilab-dev/mcp-oauth/log"
	"github.com/pilab-dev/mcp-oauth/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	testRedirect = "https://app/cb"
)

type fixture struct {
	svc     *services.OAuthService
	clients *cache.MemoryClientStore
	authz   *cache.MemoryAuthorizationStore
	now     time.Time
}

func registerClient(t *testing.T, store domain.ClientStore, id, secret string, scopes ...string) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, store.CreateClient(context.Background(), &domain.Client{
		ID:            id,
		SecretHash:    string(hash),
		Name:          "Client " + id,
		RedirectURIs:  []string{testRedirect},
		AllowedScopes: scopes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clients: cache.NewMemoryClientStore(),
		authz:   cache.NewMemoryAuthorizationStore(),
		now:     time.Now().Truncate(time.Second),
	}
	t.Cleanup(func() { _ = f.authz.Close() })

	registerClient(t, f.clients, "c1", "s1", "read", "write")
	registerClient(t, f.clients, "c2", "s2", "read")

	f.svc = services.NewOAuthService(
		f.clients,
		f.authz,
		auth.NewBcryptSecretHasher(bcrypt.MinCost),
		applog.NewNop(),
		services.WithClock(func() time.Time { return f.now }),
	)

	return f
}

func authorizeRequest() api.AuthorizeRequest {
	return api.AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            "c1",
		RedirectURI:         testRedirect,
		State:               "xyz",
		Scope:               "read write admin",
		CodeChallenge:       services.S256Challenge(testVerifier),
		CodeChallengeMethod: "S256",
	}
}

// issueCode runs the consent submission and returns the code from the redirect.
func (f *fixture) issueCode(t *testing.T, req api.AuthorizeRequest) string {
	t.Helper()

	location, err := f.svc.IssueAuthorizationCode(context.Background(), api.ConsentSubmission{
		AuthorizeRequest: req,
		Username:         "alice",
		Password:         "pw",
	})
	require.NoError(t, err)

	u, err := url.Parse(location)
	require.NoError(t, err)

	code := u.Query().Get("code")
	require.NotEmpty(t, code)

	return code
}

func codeExchange(code string) api.TokenRequest {
	return api.TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     "c1",
		ClientSecret: "s1",
		Code:         code,
		RedirectURI:  testRedirect,
		CodeVerifier: testVerifier,
	}
}

func requireOAuthError(t *testing.T, err error, code string, status int) {
	t.Helper()

	var oauthErr *serrors.OAuth2Error
	require.ErrorAs(t, err, &oauthErr)
	assert.Equal(t, code, oauthErr.Code)
	assert.Equal(t, status, oauthErr.Status)
}

func TestBeginAuthorization_RendersConsent(t *testing.T) {
	f := newFixture(t)

	page, err := f.svc.BeginAuthorization(context.Background(), authorizeRequest())
	require.NoError(t, err)

	assert.Equal(t, "Client c1", page.ClientName)
	assert.Equal(t, []string{"read", "write"}, page.Scopes)
	assert.Equal(t, authorizeRequest(), page.Request)
	assert.Zero(t, f.authz.Count(), "no code may be issued before consent")
}

func TestBeginAuthorization_Rejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*api.AuthorizeRequest)
		code   string
		status int
	}{
		{"wrong response_type", func(r *api.AuthorizeRequest) { r.ResponseType = "token" }, serrors.UnsupportedResponseType, 400},
		{"missing challenge", func(r *api.AuthorizeRequest) { r.CodeChallenge = "" }, serrors.InvalidRequest, 400},
		{"missing method", func(r *api.AuthorizeRequest) { r.CodeChallengeMethod = "" }, serrors.InvalidRequest, 400},
		{"unknown method", func(r *api.AuthorizeRequest) { r.CodeChallengeMethod = "S512" }, serrors.InvalidRequest, 400},
		{"unknown client", func(r *api.AuthorizeRequest) { r.ClientID = "nope" }, serrors.InvalidClient, 400},
		{"unregistered redirect", func(r *api.AuthorizeRequest) { r.RedirectURI = "https://evil/cb" }, serrors.InvalidRequest, 400},
		{"redirect with trailing slash", func(r *api.AuthorizeRequest) { r.RedirectURI = testRedirect + "/" }, serrors.InvalidRequest, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := authorizeRequest()
			tt.mutate(&req)

			_, err := f.svc.BeginAuthorization(context.Background(), req)
			requireOAuthError(t, err, tt.code, tt.status)
		})
	}
}

func TestIssueAuthorizationCode_RedirectAndRecord(t *testing.T) {
	f := newFixture(t)

	location, err := f.svc.IssueAuthorizationCode(context.Background(), api.ConsentSubmission{
		AuthorizeRequest: authorizeRequest(),
		Username:         "alice",
		Password:         "pw",
	})
	require.NoError(t, err)

	u, err := url.Parse(location)
	require.NoError(t, err)
	assert.Equal(t, "https", u.Scheme)
	assert.Equal(t, "app", u.Host)
	assert.Equal(t, "/cb", u.Path)
	assert.Equal(t, "xyz", u.Query().Get("state"))

	code := u.Query().Get("code")
	assert.Len(t, code, 64)

	record, err := f.authz.FindAuthorization(context.Background(), domain.IndexCode, code)
	require.NoError(t, err)
	assert.Equal(t, "c1", record.ClientID)
	assert.Equal(t, "alice", record.UserID)
	assert.Equal(t, "read write", record.Scope)
	assert.Equal(t, testRedirect, record.RedirectURI)
	assert.Equal(t, "S256", record.CodeChallengeMethod)
	assert.Equal(t, f.now.Add(600*time.Second), record.ExpiresAt)
}

func TestIssueAuthorizationCode_OmitsEmptyState(t *testing.T) {
	f := newFixture(t)
	req := authorizeRequest()
	req.State = ""

	location, err := f.svc.IssueAuthorizationCode(context.Background(), api.ConsentSubmission{
		AuthorizeRequest: req, Username: "alice", Password: "pw",
	})
	require.NoError(t, err)

	u, err := url.Parse(location)
	require.NoError(t, err)
	assert.False(t, u.Query().Has("state"))
}

func TestIssueAuthorizationCode_RequiresCredentials(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.IssueAuthorizationCode(context.Background(), api.ConsentSubmission{
		AuthorizeRequest: authorizeRequest(),
		Username:         "alice",
	})
	requireOAuthError(t, err, serrors.InvalidRequest, 400)
}

func TestIssueAuthorizationCode_RevalidatesRedirect(t *testing.T) {
	f := newFixture(t)
	req := authorizeRequest()
	req.RedirectURI = "https://evil/cb"

	_, err := f.svc.IssueAuthorizationCode(context.Background(), api.ConsentSubmission{
		AuthorizeRequest: req, Username: "alice", Password: "pw",
	})
	requireOAuthError(t, err, serrors.InvalidRequest, 400)
	assert.Zero(t, f.authz.Count())
}

func TestToken_AuthorizationCodeExchange(t *testing.T) {
	f := newFixture(t)
	code := f.issueCode(t, authorizeRequest())

	resp, err := f.svc.Token(context.Background(), codeExchange(code))
	require.NoError(t, err)

	assert.Len(t, resp.AccessToken, 64)
	assert.Len(t, resp.RefreshToken, 80)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, 3600, resp.ExpiresIn)
	assert.Equal(t, "read write", resp.Scope)

	record, err := f.authz.FindAuthorization(context.Background(), domain.IndexAccessToken, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseToken, record.Phase())
	assert.Equal(t, "alice", record.UserID)
	assert.Equal(t, f.now.Add(time.Hour), record.ExpiresAt)
}

func TestToken_PlainPKCE(t *testing.T) {
	f := newFixture(t)
	req := authorizeRequest()
	req.CodeChallenge = "plain-verifier"
	req.CodeChallengeMethod = "plain"
	code := f.issueCode(t, req)

	exchange := codeExchange(code)
	exchange.CodeVerifier = "plain-verifier"

	_, err := f.svc.Token(context.Background(), exchange)
	require.NoError(t, err)
}

func TestToken_CodeReplayRejected(t *testing.T) {
	f := newFixture(t)
	code := f.issueCode(t, authorizeRequest())

	_, err := f.svc.Token(context.Background(), codeExchange(code))
	require.NoError(t, err)

	_, err = f.svc.Token(context.Background(), codeExchange(code))
	requireOAuthError(t, err, serrors.InvalidGrant, 400)
}

func TestToken_CodeExchangeRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*api.TokenRequest)
		code   string
		status int
	}{
		{"wrong secret", func(r *api.TokenRequest) { r.ClientSecret = "nope" }, serrors.InvalidClient, 401},
		{"unknown client", func(r *api.TokenRequest) { r.ClientID = "ghost" }, serrors.InvalidClient, 401},
		{"missing secret", func(r *api.TokenRequest) { r.ClientSecret = "" }, serrors.InvalidClient, 401},
		{"other client's code", func(r *api.TokenRequest) { r.ClientID, r.ClientSecret = "c2", "s2" }, serrors.InvalidGrant, 400},
		{"redirect mismatch", func(r *api.TokenRequest) { r.RedirectURI = "https://app/other" }, serrors.InvalidGrant, 400},
		{"verifier mismatch", func(r *api.TokenRequest) { r.CodeVerifier = "wrong" }, serrors.InvalidGrant, 400},
		{"unknown code", func(r *api.TokenRequest) { r.Code = "deadbeef" }, serrors.InvalidGrant, 400},
		{"missing verifier", func(r *api.TokenRequest) { r.CodeVerifier = "" }, serrors.InvalidRequest, 400},
		{"unsupported grant", func(r *api.TokenRequest) { r.GrantType = "password" }, serrors.UnsupportedGrantType, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := codeExchange(f.issueCode(t, authorizeRequest()))
			tt.mutate(&req)

			_, err := f.svc.Token(context.Background(), req)
			requireOAuthError(t, err, tt.code, tt.status)
		})
	}
}

func TestToken_ClientAuthPrecedesGrantDispatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Token(context.Background(), api.TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     "c1",
		ClientSecret: "wrong",
	})
	requireOAuthError(t, err, serrors.InvalidClient, 401)
}

func TestToken_RefreshReusesRefreshToken(t *testing.T) {
	f := newFixture(t)
	first, err := f.svc.Token(context.Background(), codeExchange(f.issueCode(t, authorizeRequest())))
	require.NoError(t, err)

	f.now = f.now.Add(time.Minute)

	refreshed, err := f.svc.Token(context.Background(), api.TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     "c1",
		ClientSecret: "s1",
		RefreshToken: first.RefreshToken,
	})
	require.NoError(t, err)

	assert.NotEqual(t, first.AccessToken, refreshed.AccessToken)
	assert.Empty(t, refreshed.RefreshToken)
	assert.Equal(t, first.Scope, refreshed.Scope)
	assert.Equal(t, 3600, refreshed.ExpiresIn)

	record, err := f.authz.FindAuthorization(context.Background(), domain.IndexRefreshToken, first.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, refreshed.AccessToken, record.AccessToken, "newest record wins the refresh lookup")

	_, err = f.svc.Token(context.Background(), api.TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     "c1",
		ClientSecret: "s1",
		RefreshToken: first.RefreshToken,
	})
	require.NoError(t, err, "refresh tokens are not rotated")
}

func TestToken_RefreshRejections(t *testing.T) {
	f := newFixture(t)
	first, err := f.svc.Token(context.Background(), codeExchange(f.issueCode(t, authorizeRequest())))
	require.NoError(t, err)

	_, err = f.svc.Token(context.Background(), api.TokenRequest{
		GrantType: "refresh_token", ClientID: "c2", ClientSecret: "s2", RefreshToken: first.RefreshToken,
	})
	requireOAuthError(t, err, serrors.InvalidGrant, 400)

	_, err = f.svc.Token(context.Background(), api.TokenRequest{
		GrantType: "refresh_token", ClientID: "c1", ClientSecret: "s1", RefreshToken: "unknown",
	})
	requireOAuthError(t, err, serrors.InvalidGrant, 400)
}

func (f *fixture) tokens(t *testing.T) *api.TokenResponse {
	t.Helper()

	resp, err := f.svc.Token(context.Background(), codeExchange(f.issueCode(t, authorizeRequest())))
	require.NoError(t, err)

	return resp
}

func (f *fixture) introspect(t *testing.T, token string) *api.IntrospectionResponse {
	t.Helper()

	resp, err := f.svc.Introspect(context.Background(), api.RevocationRequest{
		Token: token, ClientID: "c1", ClientSecret: "s1",
	})
	require.NoError(t, err)

	return resp
}

func TestRevoke_AccessToken(t *testing.T) {
	f := newFixture(t)
	tokens := f.tokens(t)

	require.NoError(t, f.svc.Revoke(context.Background(), api.RevocationRequest{
		Token: tokens.AccessToken, TokenTypeHint: "access_token", ClientID: "c1", ClientSecret: "s1",
	}))

	assert.False(t, f.introspect(t, tokens.AccessToken).Active)
}

func TestRevoke_RefreshTokenEndsSession(t *testing.T) {
	f := newFixture(t)
	tokens := f.tokens(t)

	refreshed, err := f.svc.Token(context.Background(), api.TokenRequest{
		GrantType: "refresh_token", ClientID: "c1", ClientSecret: "s1", RefreshToken: tokens.RefreshToken,
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Revoke(context.Background(), api.RevocationRequest{
		Token: tokens.RefreshToken, ClientID: "c1", ClientSecret: "s1",
	}))

	assert.False(t, f.introspect(t, tokens.AccessToken).Active)
	assert.False(t, f.introspect(t, refreshed.AccessToken).Active)
	assert.False(t, f.introspect(t, tokens.RefreshToken).Active)
}

func TestRevoke_SilentCases(t *testing.T) {
	f := newFixture(t)
	tokens := f.tokens(t)

	require.NoError(t, f.svc.Revoke(context.Background(), api.RevocationRequest{
		Token: "unknown", ClientID: "c1", ClientSecret: "s1",
	}))

	require.NoError(t, f.svc.Revoke(context.Background(), api.RevocationRequest{
		Token: tokens.AccessToken, ClientID: "c2", ClientSecret: "s2",
	}))
	assert.True(t, f.introspect(t, tokens.AccessToken).Active, "other clients cannot revoke")

	require.NoError(t, f.svc.Revoke(context.Background(), api.RevocationRequest{
		Token: tokens.AccessToken, TokenTypeHint: "refresh_token", ClientID: "c1", ClientSecret: "s1",
	}))
	assert.True(t, f.introspect(t, tokens.AccessToken).Active, "hint restricts the lookup")
}

func TestRevoke_Rejections(t *testing.T) {
	f := newFixture(t)

	err := f.svc.Revoke(context.Background(), api.RevocationRequest{ClientID: "c1", ClientSecret: "s1"})
	requireOAuthError(t, err, serrors.InvalidRequest, 400)

	err = f.svc.Revoke(context.Background(), api.RevocationRequest{Token: "t", ClientSecret: "s1"})
	requireOAuthError(t, err, serrors.InvalidRequest, 400)

	err = f.svc.Revoke(context.Background(), api.RevocationRequest{Token: "t", ClientID: "c1", ClientSecret: "bad"})
	requireOAuthError(t, err, serrors.InvalidClient, 401)

	err = f.svc.Revoke(context.Background(), api.RevocationRequest{
		Token: "t", TokenTypeHint: "id_token", ClientID: "c1", ClientSecret: "s1",
	})
	requireOAuthError(t, err, serrors.UnsupportedTokenType, 400)
}

func TestIntrospect_ActiveToken(t *testing.T) {
	f := newFixture(t)
	tokens := f.tokens(t)

	resp := f.introspect(t, tokens.AccessToken)
	assert.True(t, resp.Active)
	assert.Equal(t, "read write", resp.Scope)
	assert.Equal(t, "c1", resp.ClientID)
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, f.now.Add(time.Hour).Unix(), resp.Exp)
	assert.Equal(t, f.now.Unix(), resp.Iat)

	resp = f.introspect(t, tokens.RefreshToken)
	assert.True(t, resp.Active)
	assert.Equal(t, "refresh_token", resp.TokenType)

	foreign, err := f.svc.Introspect(context.Background(), api.RevocationRequest{
		Token: tokens.AccessToken, ClientID: "c2", ClientSecret: "s2",
	})
	require.NoError(t, err)
	assert.Equal(t, &api.IntrospectionResponse{Active: false}, foreign)
}

// failingStore is an AuthorizationStore whose every call is scripted.
type failingStore struct {
	mock.Mock
}

func (m *failingStore) SaveAuthorization(ctx context.Context, r *domain.AuthorizationRecord) error {
	return m.Called(ctx, r).Error(0)
}

func (m *failingStore) GetAuthorization(ctx context.Context, id string) (*domain.AuthorizationRecord, error) {
	args := m.Called(ctx, id)
	rec, _ := args.Get(0).(*domain.AuthorizationRecord)

	return rec, args.Error(1)
}

func (m *failingStore) FindAuthorization(
	ctx context.Context,
	index domain.LookupIndex,
	value string,
) (*domain.AuthorizationRecord, error) {
	args := m.Called(ctx, index, value)
	rec, _ := args.Get(0).(*domain.AuthorizationRecord)

	return rec, args.Error(1)
}

func (m *failingStore) ConsumeAuthorizationCode(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *failingStore) DeleteAuthorization(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *failingStore) DeleteByRefreshToken(ctx context.Context, rt string) (int, error) {
	args := m.Called(ctx, rt)

	return args.Int(0), args.Error(1)
}

func TestToken_StoreFailureIsNotAnOAuthError(t *testing.T) {
	clients := cache.NewMemoryClientStore()
	registerClient(t, clients, "c1", "s1", "read")

	errDown := errors.New("store unavailable")
	store := new(failingStore)
	store.On("FindAuthorization", mock.Anything, domain.IndexCode, "abc").Return(nil, errDown)

	svc := services.NewOAuthService(clients, store, auth.NewBcryptSecretHasher(bcrypt.MinCost), applog.NewNop())

	_, err := svc.Token(context.Background(), api.TokenRequest{
		GrantType: "authorization_code", ClientID: "c1", ClientSecret: "s1",
		Code: "abc", RedirectURI: testRedirect, CodeVerifier: testVerifier,
	})
	require.ErrorIs(t, err, errDown)

	var oauthErr *serrors.OAuth2Error
	assert.False(t, errors.As(err, &oauthErr))
	store.AssertExpectations(t)
}

func TestRevoke_StoreFailureOnDelete(t *testing.T) {
	clients := cache.NewMemoryClientStore()
	registerClient(t, clients, "c1", "s1", "read")

	errDown := errors.New("store unavailable")
	store := new(failingStore)
	store.On("FindAuthorization", mock.Anything, domain.IndexAccessToken, "tok").
		Return(&domain.AuthorizationRecord{ID: "r1", AccessToken: "tok", ClientID: "c1"}, nil)
	store.On("DeleteAuthorization", mock.Anything, "r1").Return(errDown)

	svc := services.NewOAuthService(clients, store, auth.NewBcryptSecretHasher(bcrypt.MinCost), applog.NewNop())

	err := svc.Revoke(context.Background(), api.RevocationRequest{Token: "tok", ClientID: "c1", ClientSecret: "s1"})
	require.ErrorIs(t, err, errDown)
	store.AssertExpectations(t)
}

// The scenario walks a client through authorize, token and revoke, then checks
// that a resource server introspecting the revoked token sees it inactive.
func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := authorizeRequest()
	req.State = ""
	req.Scope = ""

	page, err := f.svc.BeginAuthorization(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, page.Scopes)

	code := f.issueCode(t, req)

	tokens, err := f.svc.Token(ctx, codeExchange(code))
	require.NoError(t, err)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	assert.Equal(t, "default", tokens.Scope)

	assert.True(t, f.introspect(t, tokens.AccessToken).Active)

	require.NoError(t, f.svc.Revoke(ctx, api.RevocationRequest{
		Token: tokens.AccessToken, ClientID: "c1", ClientSecret: "s1",
	}))

	assert.False(t, f.introspect(t, tokens.AccessToken).Active)
}
