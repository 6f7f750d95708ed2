package consent_test

import (
	"testing"

	"github.com/pilab-dev/mcp-oauth/api"
	"github.com/pilab-dev/mcp-oauth/api/consent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_CarriesParameters(t *testing.T) {
	page := &api.ConsentPage{
		ClientName: "Demo App",
		Scopes:     []string{"read", "write"},
		Request: api.AuthorizeRequest{
			ClientID:            "c1",
			RedirectURI:         "https://app/cb",
			State:               "xyz",
			Scope:               "read write",
			CodeChallenge:       "challenge",
			CodeChallengeMethod: "S256",
		},
	}

	out, err := consent.Render(page)
	require.NoError(t, err)

	html := string(out)
	assert.Contains(t, html, "Demo App is requesting access")
	assert.Contains(t, html, `name="client_id" value="c1"`)
	assert.Contains(t, html, `name="redirect_uri" value="https://app/cb"`)
	assert.Contains(t, html, `name="state" value="xyz"`)
	assert.Contains(t, html, `name="scope" value="read write"`)
	assert.Contains(t, html, `name="code_challenge" value="challenge"`)
	assert.Contains(t, html, `name="code_challenge_method" value="S256"`)
	assert.Contains(t, html, `<div class="scope-item">write</div>`)
}

func TestRender_EscapesInput(t *testing.T) {
	page := &api.ConsentPage{
		ClientName: `<script>alert(1)</script>`,
		Request:    api.AuthorizeRequest{State: `"><script>`},
	}

	out, err := consent.Render(page)
	require.NoError(t, err)

	assert.NotContains(t, string(out), "<script>alert(1)</script>")
	assert.NotContains(t, string(out), `value=""><script>"`)
}
