package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/pilab-dev/mcp-oauth/config"
	"github.com/pilab-dev/mcp-oauth/internal/oauthtest"
	"github.com/pilab-dev/mcp-oauth/internal/server"
	applog "github.com/pilab-dev/mcp-oauth/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// TestStandardClientFlow drives the server with golang.org/x/oauth2 the way
// a third-party client would.
func TestStandardClientFlow(t *testing.T) {
	for _, router := range []string{config.RouterGin, config.RouterEcho} {
		t.Run(router, func(t *testing.T) {
			srv := server.NewHTTPServer(testConfig(router), applog.NewNop(), server.Dependencies{
				OAuth: oauthtest.NewService(t),
			})
			ts := httptest.NewServer(srv.Handler)
			t.Cleanup(ts.Close)

			ctx := context.Background()
			conf := &oauth2.Config{
				ClientID:     "c1",
				ClientSecret: "s1",
				RedirectURL:  oauthtest.RedirectURI,
				Scopes:       []string{"read"},
				Endpoint: oauth2.Endpoint{
					AuthURL:   ts.URL + "/oauth2/authorize",
					TokenURL:  ts.URL + "/oauth2/token",
					AuthStyle: oauth2.AuthStyleInHeader,
				},
			}

			verifier := oauth2.GenerateVerifier()
			authURL := conf.AuthCodeURL("state-1", oauth2.S256ChallengeOption(verifier))

			resp, err := http.Get(authURL)
			require.NoError(t, err)
			_ = resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)

			parsed, err := url.Parse(authURL)
			require.NoError(t, err)
			form := parsed.Query()
			form.Set("username", "alice")
			form.Set("password", "pw")

			noRedirect := &http.Client{
				CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
			}
			resp, err = noRedirect.PostForm(ts.URL+"/oauth2/authorize", form)
			require.NoError(t, err)
			_ = resp.Body.Close()
			require.Equal(t, http.StatusFound, resp.StatusCode)

			location, err := url.Parse(resp.Header.Get("Location"))
			require.NoError(t, err)
			assert.Equal(t, "state-1", location.Query().Get("state"))

			tok, err := conf.Exchange(ctx, location.Query().Get("code"), oauth2.VerifierOption(verifier))
			require.NoError(t, err)
			assert.Equal(t, "Bearer", tok.TokenType)
			assert.NotEmpty(t, tok.RefreshToken)
			assert.Equal(t, "read", tok.Extra("scope"))
			assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)

			// Unknown codes are rejected.
			_, err = conf.Exchange(ctx, "unknown-code", oauth2.VerifierOption(verifier))
			var retrieveErr *oauth2.RetrieveError
			require.ErrorAs(t, err, &retrieveErr)
			assert.Equal(t, "invalid_grant", retrieveErr.ErrorCode)

			expired := *tok
			expired.Expiry = time.Now().Add(-time.Minute)

			refreshed, err := conf.TokenSource(ctx, &expired).Token()
			require.NoError(t, err)
			assert.NotEqual(t, tok.AccessToken, refreshed.AccessToken)
			assert.Equal(t, tok.RefreshToken, refreshed.RefreshToken)
		})
	}
}
