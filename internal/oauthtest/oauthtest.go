// Package oauthtest builds an OAuthService over memory stores for HTTP
// adapter tests.
package oauthtest

import (
	"context"
	"testing"
	"time"

	"github.com/pilab-dev/mcp-oauth/cache"
	"github.com/pilab-dev/mcp-oauth/domain"
	"github.com/pilab-dev/mcp-oauth/internal/auth"
	applog "github.com/pilab-dev/mcp-oauth/log"
	"github.com/pilab-dev/mcp-oauth/services"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	Issuer      = "https://auth.example.com"
	RedirectURI = "https://app/cb"
	// Verifier is the RFC 7636 appendix B code verifier.
	Verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
)

// NewService returns a service with two clients registered:
// c1/s1 allowed "read write" and c2/s2 allowed "read".
func NewService(t *testing.T) *services.OAuthService {
	t.Helper()

	clients := cache.NewMemoryClientStore()
	authz := cache.NewMemoryAuthorizationStore()
	t.Cleanup(func() { _ = authz.Close() })

	register(t, clients, "c1", "s1", "read", "write")
	register(t, clients, "c2", "s2", "read")

	return services.NewOAuthService(clients, authz, auth.NewBcryptSecretHasher(bcrypt.MinCost), applog.NewNop())
}

func register(t *testing.T, store domain.ClientStore, id, secret string, scopes ...string) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, store.CreateClient(context.Background(), &domain.Client{
		ID:            id,
		SecretHash:    string(hash),
		Name:          "Client " + id,
		RedirectURIs:  []string{RedirectURI},
		AllowedScopes: scopes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
}

// Challenge is the S256 challenge of Verifier.
func Challenge() string {
	return services.S256Challenge(Verifier)
}
